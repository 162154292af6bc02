package aws

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cloudchat/cloudchat/tool"
)

// defaultPresignExpiry bounds presigned URLs when the caller names no expiry.
const defaultPresignExpiry = 900 * time.Second

// defaultListMaxKeys caps one object listing page.
const defaultListMaxKeys = int32(1000)

// S3API is the minimal S3 surface required by the bucket and object tools.
// Defined here for testability.
type S3API interface {
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	ListBuckets(ctx context.Context, in *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	DeleteBucket(ctx context.Context, in *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutBucketVersioning(ctx context.Context, in *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Presigner is the presigning surface backing the presign tools, satisfied
// by s3.PresignClient.
type S3Presigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignPutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// NewS3Family builds the "aws_s3_" tool family over the given API and presigner.
func NewS3Family(api S3API, presigner S3Presigner) *tool.Family {
	return tool.NewFamily("s3", "aws_s3_",
		createBucketTool(api),
		listBucketsTool(api),
		deleteBucketTool(api),
		setVersioningTool(api),
		putObjectTool(api),
		getObjectBase64Tool(api),
		listObjectsTool(api),
		deleteObjectTool(api),
		copyObjectTool(api),
		headObjectTool(api),
		presignGetTool(presigner),
		presignPutTool(presigner),
	)
}

func createBucketTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_create_bucket",
		"Create an S3 bucket. Region must match client region.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":             map[string]any{"type": "string", "description": "Bucket name"},
				"versioning_enabled": map[string]any{"type": "boolean", "description": "Enable versioning (optional)"},
			},
			"required": []string{"bucket"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket := strings.TrimSpace(strArg(args, "bucket"))
			if bucket == "" {
				return nil, fmt.Errorf("bucket name is required")
			}
			if _, err := api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket}); err != nil {
				return nil, fmt.Errorf("create bucket: %w", err)
			}
			versioning := boolArg(args, "versioning_enabled")
			if versioning {
				if err := putVersioning(ctx, api, bucket, s3types.BucketVersioningStatusEnabled); err != nil {
					return nil, err
				}
			}
			return ok(map[string]any{"bucket": bucket, "versioning": versioning}), nil
		},
	)
}

func listBucketsTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_list_buckets",
		"List S3 buckets.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(ctx context.Context, args map[string]any) (any, error) {
			resp, err := api.ListBuckets(ctx, &s3.ListBucketsInput{})
			if err != nil {
				return nil, fmt.Errorf("list buckets: %w", err)
			}
			buckets := make([]map[string]any, 0, len(resp.Buckets))
			for _, b := range resp.Buckets {
				entry := map[string]any{}
				if b.Name != nil {
					entry["name"] = *b.Name
				}
				if b.CreationDate != nil {
					entry["created"] = b.CreationDate.UTC().Format(time.RFC3339)
				}
				buckets = append(buckets, entry)
			}
			return ok(map[string]any{"buckets": buckets, "count": len(buckets)}), nil
		},
	)
}

func deleteBucketTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_delete_bucket",
		"Delete an empty S3 bucket.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket": map[string]any{"type": "string", "description": "Bucket name"},
			},
			"required": []string{"bucket"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket := strings.TrimSpace(strArg(args, "bucket"))
			if bucket == "" {
				return nil, fmt.Errorf("bucket name is required")
			}
			if _, err := api.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: &bucket}); err != nil {
				return nil, fmt.Errorf("delete bucket: %w", err)
			}
			return ok(map[string]any{"bucket": bucket, "deleted": true}), nil
		},
	)
}

func setVersioningTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_set_versioning",
		"Enable or suspend bucket versioning. Status: ENABLED or SUSPENDED.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket": map[string]any{"type": "string", "description": "Bucket name"},
				"status": map[string]any{"type": "string", "description": "ENABLED or SUSPENDED"},
			},
			"required": []string{"bucket", "status"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket := strings.TrimSpace(strArg(args, "bucket"))
			status := strings.ToUpper(strings.TrimSpace(strArg(args, "status")))
			if bucket == "" || status == "" {
				return nil, fmt.Errorf("bucket and status are required")
			}
			if status != string(s3types.BucketVersioningStatusEnabled) && status != string(s3types.BucketVersioningStatusSuspended) {
				return nil, fmt.Errorf("invalid versioning status %q", status)
			}
			if err := putVersioning(ctx, api, bucket, s3types.BucketVersioningStatus(status)); err != nil {
				return nil, err
			}
			return ok(map[string]any{"bucket": bucket, "status": status}), nil
		},
	)
}

func putObjectTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_put_object",
		"Upload a text object to an S3 bucket.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":       map[string]any{"type": "string", "description": "Bucket name"},
				"key":          map[string]any{"type": "string", "description": "Object key"},
				"body":         map[string]any{"type": "string", "description": "Object content"},
				"content_type": map[string]any{"type": "string", "description": "Content type (optional)"},
			},
			"required": []string{"bucket", "key", "body"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket, key, err := bucketKeyArgs(args)
			if err != nil {
				return nil, err
			}
			body := strArg(args, "body")
			in := &s3.PutObjectInput{
				Bucket: &bucket,
				Key:    &key,
				Body:   strings.NewReader(body),
			}
			if ct := strings.TrimSpace(strArg(args, "content_type")); ct != "" {
				in.ContentType = &ct
			}
			resp, err := api.PutObject(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("put object: %w", err)
			}
			result := map[string]any{"bucket": bucket, "key": key, "size": len(body)}
			if resp.ETag != nil {
				result["etag"] = *resp.ETag
			}
			if resp.VersionId != nil {
				result["version_id"] = *resp.VersionId
			}
			return ok(result), nil
		},
	)
}

func getObjectBase64Tool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_get_object_base64",
		"Download an S3 object and return its content base64 encoded.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":     map[string]any{"type": "string", "description": "Bucket name"},
				"key":        map[string]any{"type": "string", "description": "Object key"},
				"version_id": map[string]any{"type": "string", "description": "Object version (optional)"},
			},
			"required": []string{"bucket", "key"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket, key, err := bucketKeyArgs(args)
			if err != nil {
				return nil, err
			}
			in := &s3.GetObjectInput{Bucket: &bucket, Key: &key}
			if v := strings.TrimSpace(strArg(args, "version_id")); v != "" {
				in.VersionId = &v
			}
			resp, err := api.GetObject(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("get object: %w", err)
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read object body: %w", err)
			}
			result := map[string]any{
				"bucket":      bucket,
				"key":         key,
				"size":        len(data),
				"body_base64": base64.StdEncoding.EncodeToString(data),
			}
			if resp.ContentType != nil {
				result["content_type"] = *resp.ContentType
			}
			return ok(result), nil
		},
	)
}

func listObjectsTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_list_objects",
		"List objects in an S3 bucket, optionally under a prefix. Paginated by continuation token.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":   map[string]any{"type": "string", "description": "Bucket name"},
				"prefix":   map[string]any{"type": "string", "description": "Key prefix (optional)"},
				"token":    map[string]any{"type": "string", "description": "Continuation token from a previous page (optional)"},
				"max_keys": map[string]any{"type": "integer", "description": "Page size, defaults to 1000 (optional)"},
			},
			"required": []string{"bucket"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket := strings.TrimSpace(strArg(args, "bucket"))
			if bucket == "" {
				return nil, fmt.Errorf("bucket name is required")
			}
			maxKeys := defaultListMaxKeys
			if v, present := intArg(args, "max_keys"); present && v > 0 {
				maxKeys = int32(v)
			}
			in := &s3.ListObjectsV2Input{
				Bucket:  &bucket,
				MaxKeys: aws.Int32(maxKeys),
			}
			prefix := strings.TrimSpace(strArg(args, "prefix"))
			if prefix != "" {
				in.Prefix = &prefix
			}
			if token := strings.TrimSpace(strArg(args, "token")); token != "" {
				in.ContinuationToken = &token
			}
			resp, err := api.ListObjectsV2(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("list objects: %w", err)
			}

			objects := make([]map[string]any, 0, len(resp.Contents))
			for _, obj := range resp.Contents {
				entry := map[string]any{}
				if obj.Key != nil {
					entry["key"] = *obj.Key
				}
				if obj.Size != nil {
					entry["size"] = *obj.Size
				}
				if obj.LastModified != nil {
					entry["last_modified"] = obj.LastModified.UTC().Format(time.RFC3339)
				}
				if obj.ETag != nil {
					entry["etag"] = *obj.ETag
				}
				if obj.StorageClass != "" {
					entry["storage_class"] = string(obj.StorageClass)
				}
				objects = append(objects, entry)
			}

			result := map[string]any{
				"bucket":       bucket,
				"prefix":       prefix,
				"objects":      objects,
				"count":        len(objects),
				"is_truncated": resp.IsTruncated != nil && *resp.IsTruncated,
			}
			if resp.NextContinuationToken != nil {
				result["next_token"] = *resp.NextContinuationToken
			}
			return ok(result), nil
		},
	)
}

func deleteObjectTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_delete_object",
		"Delete an object (or one of its versions) from an S3 bucket.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":     map[string]any{"type": "string", "description": "Bucket name"},
				"key":        map[string]any{"type": "string", "description": "Object key"},
				"version_id": map[string]any{"type": "string", "description": "Object version (optional)"},
			},
			"required": []string{"bucket", "key"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket, key, err := bucketKeyArgs(args)
			if err != nil {
				return nil, err
			}
			in := &s3.DeleteObjectInput{Bucket: &bucket, Key: &key}
			versionID := strings.TrimSpace(strArg(args, "version_id"))
			if versionID != "" {
				in.VersionId = &versionID
			}
			if _, err := api.DeleteObject(ctx, in); err != nil {
				return nil, fmt.Errorf("delete object: %w", err)
			}
			result := map[string]any{"bucket": bucket, "key": key, "deleted": true}
			if versionID != "" {
				result["version_id"] = versionID
			}
			return ok(result), nil
		},
	)
}

func copyObjectTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_copy_object",
		"Copy an object between S3 buckets or keys.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source_bucket":      map[string]any{"type": "string", "description": "Source bucket"},
				"source_key":         map[string]any{"type": "string", "description": "Source key"},
				"destination_bucket": map[string]any{"type": "string", "description": "Destination bucket"},
				"destination_key":    map[string]any{"type": "string", "description": "Destination key"},
				"source_version_id":  map[string]any{"type": "string", "description": "Source object version (optional)"},
			},
			"required": []string{"source_bucket", "source_key", "destination_bucket", "destination_key"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			srcBucket := strings.TrimSpace(strArg(args, "source_bucket"))
			srcKey := strings.TrimSpace(strArg(args, "source_key"))
			dstBucket := strings.TrimSpace(strArg(args, "destination_bucket"))
			dstKey := strings.TrimSpace(strArg(args, "destination_key"))
			if srcBucket == "" || srcKey == "" || dstBucket == "" || dstKey == "" {
				return nil, fmt.Errorf("source and destination bucket and key are required")
			}
			copySource := srcBucket + "/" + srcKey
			if v := strings.TrimSpace(strArg(args, "source_version_id")); v != "" {
				copySource += "?versionId=" + v
			}
			if _, err := api.CopyObject(ctx, &s3.CopyObjectInput{
				Bucket:     &dstBucket,
				Key:        &dstKey,
				CopySource: &copySource,
			}); err != nil {
				return nil, fmt.Errorf("copy object: %w", err)
			}
			return ok(map[string]any{
				"source_bucket":      srcBucket,
				"source_key":         srcKey,
				"destination_bucket": dstBucket,
				"destination_key":    dstKey,
			}), nil
		},
	)
}

func headObjectTool(api S3API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_head_object",
		"Fetch object metadata (content type, size, etag) without downloading the body.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":     map[string]any{"type": "string", "description": "Bucket name"},
				"key":        map[string]any{"type": "string", "description": "Object key"},
				"version_id": map[string]any{"type": "string", "description": "Object version (optional)"},
			},
			"required": []string{"bucket", "key"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket, key, err := bucketKeyArgs(args)
			if err != nil {
				return nil, err
			}
			in := &s3.HeadObjectInput{Bucket: &bucket, Key: &key}
			if v := strings.TrimSpace(strArg(args, "version_id")); v != "" {
				in.VersionId = &v
			}
			resp, err := api.HeadObject(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("head object: %w", err)
			}
			result := map[string]any{"bucket": bucket, "key": key}
			if resp.ContentType != nil {
				result["content_type"] = *resp.ContentType
			}
			if resp.ContentLength != nil {
				result["content_length"] = *resp.ContentLength
			}
			if resp.ETag != nil {
				result["etag"] = *resp.ETag
			}
			if resp.VersionId != nil {
				result["version_id"] = *resp.VersionId
			}
			if len(resp.Metadata) > 0 {
				result["metadata"] = resp.Metadata
			}
			return ok(result), nil
		},
	)
}

func presignGetTool(presigner S3Presigner) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_presign_get",
		"Create a presigned download URL for an S3 object.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":         map[string]any{"type": "string", "description": "Bucket name"},
				"key":            map[string]any{"type": "string", "description": "Object key"},
				"expiry_seconds": map[string]any{"type": "integer", "description": "URL lifetime, defaults to 900 (optional)"},
			},
			"required": []string{"bucket", "key"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket, key, err := bucketKeyArgs(args)
			if err != nil {
				return nil, err
			}
			expiry := presignExpiry(args)
			req, err := presigner.PresignGetObject(ctx,
				&s3.GetObjectInput{Bucket: &bucket, Key: &key},
				func(po *s3.PresignOptions) { po.Expires = expiry },
			)
			if err != nil {
				return nil, fmt.Errorf("presign get: %w", err)
			}
			return ok(map[string]any{
				"bucket":         bucket,
				"key":            key,
				"url":            req.URL,
				"method":         req.Method,
				"expiry_seconds": int(expiry / time.Second),
			}), nil
		},
	)
}

func presignPutTool(presigner S3Presigner) tool.Tool {
	return tool.NewFunctionTool(
		"aws_s3_presign_put",
		"Create a presigned upload URL for an S3 object.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"bucket":         map[string]any{"type": "string", "description": "Bucket name"},
				"key":            map[string]any{"type": "string", "description": "Object key"},
				"content_type":   map[string]any{"type": "string", "description": "Content type the upload must use (optional)"},
				"expiry_seconds": map[string]any{"type": "integer", "description": "URL lifetime, defaults to 900 (optional)"},
			},
			"required": []string{"bucket", "key"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			bucket, key, err := bucketKeyArgs(args)
			if err != nil {
				return nil, err
			}
			in := &s3.PutObjectInput{Bucket: &bucket, Key: &key}
			if ct := strings.TrimSpace(strArg(args, "content_type")); ct != "" {
				in.ContentType = &ct
			}
			expiry := presignExpiry(args)
			req, err := presigner.PresignPutObject(ctx, in,
				func(po *s3.PresignOptions) { po.Expires = expiry },
			)
			if err != nil {
				return nil, fmt.Errorf("presign put: %w", err)
			}
			headers := map[string]any{}
			for name, values := range req.SignedHeader {
				if len(values) > 0 {
					headers[name] = values[0]
				}
			}
			return ok(map[string]any{
				"bucket":         bucket,
				"key":            key,
				"url":            req.URL,
				"method":         req.Method,
				"headers":        headers,
				"expiry_seconds": int(expiry / time.Second),
			}), nil
		},
	)
}

func bucketKeyArgs(args map[string]any) (string, string, error) {
	bucket := strings.TrimSpace(strArg(args, "bucket"))
	key := strings.TrimSpace(strArg(args, "key"))
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("bucket and key are required")
	}
	return bucket, key, nil
}

func presignExpiry(args map[string]any) time.Duration {
	if v, present := intArg(args, "expiry_seconds"); present && v > 0 {
		return time.Duration(v) * time.Second
	}
	return defaultPresignExpiry
}

func putVersioning(ctx context.Context, api S3API, bucket string, status s3types.BucketVersioningStatus) error {
	_, err := api.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
		Bucket: &bucket,
		VersioningConfiguration: &s3types.VersioningConfiguration{
			Status: status,
		},
	})
	if err != nil {
		return fmt.Errorf("set versioning: %w", err)
	}
	return nil
}
