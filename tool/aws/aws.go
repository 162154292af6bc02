// Package aws exposes AWS management capabilities (S3 buckets, EC2
// instances) as tool families routed by the "aws_s3_" and "aws_ec2_" name
// prefixes. Service clients are hidden behind minimal per-service interfaces
// so tests can substitute fakes.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cloudchat/cloudchat/tool"
)

// Clients bundles the AWS service clients backing the tool families.
type Clients struct {
	S3        S3API
	S3Presign S3Presigner
	EC2       EC2API
}

// NewClients loads the default AWS configuration (environment, shared config,
// instance role) for the given region and constructs the service clients.
func NewClients(ctx context.Context, region string) (*Clients, error) {
	var optFns []func(*config.LoadOptions) error
	if region != "" {
		optFns = append(optFns, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("aws: load default config: %w", err)
	}
	s3Client := s3.NewFromConfig(cfg)
	return &Clients{
		S3:        s3Client,
		S3Presign: s3.NewPresignClient(s3Client),
		EC2:       ec2.NewFromConfig(cfg),
	}, nil
}

// Families returns the S3 and EC2 tool families in routing order.
func Families(c *Clients) []*tool.Family {
	return []*tool.Family{
		NewEC2Family(c.EC2),
		NewS3Family(c.S3, c.S3Presign),
	}
}

// ok wraps a successful tool payload in the ok/error result shape shared by
// every AWS tool.
func ok(payload map[string]any) map[string]any {
	result := map[string]any{"ok": true}
	for k, v := range payload {
		result[k] = v
	}
	return result
}

func strArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	v, ok := args[key].(bool)
	return ok && v
}

// intArg reads a numeric argument. JSON decoding delivers numbers as float64.
func intArg(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}
