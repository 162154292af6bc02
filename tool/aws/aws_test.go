package aws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchat/cloudchat/tool"
)

type fakeS3 struct {
	createIn      *s3.CreateBucketInput
	deleteIn      *s3.DeleteBucketInput
	versioningIn  *s3.PutBucketVersioningInput
	putIn         *s3.PutObjectInput
	getIn         *s3.GetObjectInput
	listObjectsIn *s3.ListObjectsV2Input
	deleteObjIn   *s3.DeleteObjectInput
	copyIn        *s3.CopyObjectInput
	headIn        *s3.HeadObjectInput
	listOut       *s3.ListBucketsOutput
	listObjsOut   *s3.ListObjectsV2Output
	getBody       string
	err           error
}

func (f *fakeS3) CreateBucket(_ context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.createIn = in
	return &s3.CreateBucketOutput{}, f.err
}

func (f *fakeS3) ListBuckets(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.listOut == nil {
		return &s3.ListBucketsOutput{}, f.err
	}
	return f.listOut, f.err
}

func (f *fakeS3) DeleteBucket(_ context.Context, in *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	f.deleteIn = in
	return &s3.DeleteBucketOutput{}, f.err
}

func (f *fakeS3) PutBucketVersioning(_ context.Context, in *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	f.versioningIn = in
	return &s3.PutBucketVersioningOutput{}, f.err
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.putIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{ETag: awssdk.String(`"etag-1"`)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.getIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(strings.NewReader(f.getBody)),
		ContentType: awssdk.String("text/plain"),
	}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.listObjectsIn = in
	if f.err != nil {
		return nil, f.err
	}
	if f.listObjsOut == nil {
		return &s3.ListObjectsV2Output{}, nil
	}
	return f.listObjsOut, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleteObjIn = in
	return &s3.DeleteObjectOutput{}, f.err
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	f.copyIn = in
	return &s3.CopyObjectOutput{}, f.err
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.headIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadObjectOutput{
		ContentType:   awssdk.String("application/json"),
		ContentLength: awssdk.Int64(42),
		ETag:          awssdk.String(`"etag-head"`),
	}, nil
}

type fakePresigner struct {
	getIn     *s3.GetObjectInput
	putIn     *s3.PutObjectInput
	getExpiry time.Duration
	putExpiry time.Duration
	err       error
}

func (f *fakePresigner) PresignGetObject(_ context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.getIn = in
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.getExpiry = opts.Expires
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{URL: "https://example.com/get", Method: "GET"}, nil
}

func (f *fakePresigner) PresignPutObject(_ context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	f.putIn = in
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	f.putExpiry = opts.Expires
	if f.err != nil {
		return nil, f.err
	}
	return &v4.PresignedHTTPRequest{
		URL:          "https://example.com/put",
		Method:       "PUT",
		SignedHeader: map[string][]string{"Content-Type": {"text/plain"}},
	}, nil
}

type fakeEC2 struct {
	runIn       *ec2.RunInstancesInput
	describeIn  *ec2.DescribeInstancesInput
	stopIn      *ec2.StopInstancesInput
	rebootIn    *ec2.RebootInstancesInput
	tagsIn      *ec2.CreateTagsInput
	describeOut []*ec2.DescribeInstancesOutput
	describeIdx int
	err         error
}

func (f *fakeEC2) RunInstances(_ context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.RunInstancesOutput{
		Instances: []ec2types.Instance{{
			InstanceId:   awssdk.String("i-0123456789abcdef0"),
			ImageId:      in.ImageId,
			InstanceType: in.InstanceType,
			State:        &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
		}},
	}, nil
}

func (f *fakeEC2) DescribeInstances(_ context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.describeIn = in
	if f.err != nil {
		return nil, f.err
	}
	if f.describeIdx >= len(f.describeOut) {
		return &ec2.DescribeInstancesOutput{}, nil
	}
	out := f.describeOut[f.describeIdx]
	f.describeIdx++
	return out, nil
}

func (f *fakeEC2) StartInstances(_ context.Context, in *ec2.StartInstancesInput, _ ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.StartInstancesOutput{
		StartingInstances: []ec2types.InstanceStateChange{{
			InstanceId:    awssdk.String(in.InstanceIds[0]),
			PreviousState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopped},
			CurrentState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNamePending},
		}},
	}, nil
}

func (f *fakeEC2) StopInstances(_ context.Context, in *ec2.StopInstancesInput, _ ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error) {
	f.stopIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.StopInstancesOutput{
		StoppingInstances: []ec2types.InstanceStateChange{{
			InstanceId:    awssdk.String(in.InstanceIds[0]),
			PreviousState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameRunning},
			CurrentState:  &ec2types.InstanceState{Name: ec2types.InstanceStateNameStopping},
		}},
	}, nil
}

func (f *fakeEC2) RebootInstances(_ context.Context, in *ec2.RebootInstancesInput, _ ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error) {
	f.rebootIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.RebootInstancesOutput{}, nil
}

func (f *fakeEC2) CreateTags(_ context.Context, in *ec2.CreateTagsInput, _ ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	f.tagsIn = in
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.CreateTagsOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &ec2.TerminateInstancesOutput{
		TerminatingInstances: []ec2types.InstanceStateChange{{
			InstanceId:   awssdk.String(in.InstanceIds[0]),
			CurrentState: &ec2types.InstanceState{Name: ec2types.InstanceStateNameShuttingDown},
		}},
	}, nil
}

func mustCall(t *testing.T, tl tool.Tool, args map[string]any) map[string]any {
	t.Helper()
	result, err := tl.Call(context.Background(), args)
	require.NoError(t, err)
	payload, ok := result.(map[string]any)
	require.True(t, ok)
	return payload
}

func TestS3CreateBucket(t *testing.T) {
	t.Run("plain bucket", func(t *testing.T) {
		api := &fakeS3{}
		result := mustCall(t, createBucketTool(api), map[string]any{"bucket": "reports"})

		require.NotNil(t, api.createIn)
		assert.Equal(t, "reports", *api.createIn.Bucket)
		assert.Nil(t, api.versioningIn)
		assert.Equal(t, true, result["ok"])
		assert.Equal(t, false, result["versioning"])
	})

	t.Run("with versioning", func(t *testing.T) {
		api := &fakeS3{}
		result := mustCall(t, createBucketTool(api), map[string]any{
			"bucket":             "reports",
			"versioning_enabled": true,
		})

		require.NotNil(t, api.versioningIn)
		assert.Equal(t, s3types.BucketVersioningStatusEnabled, api.versioningIn.VersioningConfiguration.Status)
		assert.Equal(t, true, result["versioning"])
	})

	t.Run("blank name rejected", func(t *testing.T) {
		api := &fakeS3{}
		_, err := createBucketTool(api).Call(context.Background(), map[string]any{"bucket": "  "})
		require.Error(t, err)
		assert.Nil(t, api.createIn)
	})

	t.Run("api error surfaces", func(t *testing.T) {
		api := &fakeS3{err: errors.New("access denied")}
		_, err := createBucketTool(api).Call(context.Background(), map[string]any{"bucket": "reports"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "access denied")
	})
}

func TestS3ListBuckets(t *testing.T) {
	api := &fakeS3{
		listOut: &s3.ListBucketsOutput{Buckets: []s3types.Bucket{
			{Name: awssdk.String("alpha")},
			{Name: awssdk.String("beta")},
		}},
	}
	result := mustCall(t, listBucketsTool(api), map[string]any{})
	assert.Equal(t, 2, result["count"])
}

func TestS3SetVersioning(t *testing.T) {
	t.Run("lowercase status normalized", func(t *testing.T) {
		api := &fakeS3{}
		result := mustCall(t, setVersioningTool(api), map[string]any{
			"bucket": "reports",
			"status": "suspended",
		})
		require.NotNil(t, api.versioningIn)
		assert.Equal(t, s3types.BucketVersioningStatusSuspended, api.versioningIn.VersioningConfiguration.Status)
		assert.Equal(t, "SUSPENDED", result["status"])
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		api := &fakeS3{}
		_, err := setVersioningTool(api).Call(context.Background(), map[string]any{
			"bucket": "reports",
			"status": "PAUSED",
		})
		require.Error(t, err)
		assert.Nil(t, api.versioningIn)
	})
}

func TestS3PutObject(t *testing.T) {
	api := &fakeS3{}
	result := mustCall(t, putObjectTool(api), map[string]any{
		"bucket":       "media",
		"key":          "notes/today.txt",
		"body":         "hello",
		"content_type": "text/plain",
	})

	require.NotNil(t, api.putIn)
	assert.Equal(t, "media", *api.putIn.Bucket)
	assert.Equal(t, "notes/today.txt", *api.putIn.Key)
	require.NotNil(t, api.putIn.ContentType)
	assert.Equal(t, "text/plain", *api.putIn.ContentType)
	assert.Equal(t, 5, result["size"])
	assert.Equal(t, `"etag-1"`, result["etag"])
}

func TestS3GetObjectBase64(t *testing.T) {
	api := &fakeS3{getBody: "hello world"}
	result := mustCall(t, getObjectBase64Tool(api), map[string]any{
		"bucket": "media",
		"key":    "notes/today.txt",
	})

	require.NotNil(t, api.getIn)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello world")), result["body_base64"])
	assert.Equal(t, 11, result["size"])
	assert.Equal(t, "text/plain", result["content_type"])
}

func TestS3ListObjects(t *testing.T) {
	t.Run("page with continuation", func(t *testing.T) {
		now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		api := &fakeS3{listObjsOut: &s3.ListObjectsV2Output{
			Contents: []s3types.Object{{
				Key:          awssdk.String("logs/a.txt"),
				Size:         awssdk.Int64(128),
				LastModified: &now,
			}},
			IsTruncated:           awssdk.Bool(true),
			NextContinuationToken: awssdk.String("tok-2"),
		}}

		result := mustCall(t, listObjectsTool(api), map[string]any{
			"bucket": "media",
			"prefix": "logs/",
		})

		require.NotNil(t, api.listObjectsIn)
		assert.Equal(t, "logs/", *api.listObjectsIn.Prefix)
		assert.Equal(t, defaultListMaxKeys, *api.listObjectsIn.MaxKeys)
		assert.Equal(t, 1, result["count"])
		assert.Equal(t, true, result["is_truncated"])
		assert.Equal(t, "tok-2", result["next_token"])
	})

	t.Run("max_keys applied", func(t *testing.T) {
		api := &fakeS3{}
		mustCall(t, listObjectsTool(api), map[string]any{
			"bucket":   "media",
			"max_keys": float64(25),
		})
		assert.Equal(t, int32(25), *api.listObjectsIn.MaxKeys)
	})
}

func TestS3DeleteObject(t *testing.T) {
	api := &fakeS3{}
	result := mustCall(t, deleteObjectTool(api), map[string]any{
		"bucket":     "media",
		"key":        "old.txt",
		"version_id": "v7",
	})

	require.NotNil(t, api.deleteObjIn)
	assert.Equal(t, "v7", *api.deleteObjIn.VersionId)
	assert.Equal(t, true, result["deleted"])
}

func TestS3CopyObject(t *testing.T) {
	t.Run("copy source composed", func(t *testing.T) {
		api := &fakeS3{}
		mustCall(t, copyObjectTool(api), map[string]any{
			"source_bucket":      "media",
			"source_key":         "a.txt",
			"destination_bucket": "archive",
			"destination_key":    "a-copy.txt",
			"source_version_id":  "v3",
		})

		require.NotNil(t, api.copyIn)
		assert.Equal(t, "archive", *api.copyIn.Bucket)
		assert.Equal(t, "a-copy.txt", *api.copyIn.Key)
		assert.Equal(t, "media/a.txt?versionId=v3", *api.copyIn.CopySource)
	})

	t.Run("missing destination rejected", func(t *testing.T) {
		api := &fakeS3{}
		_, err := copyObjectTool(api).Call(context.Background(), map[string]any{
			"source_bucket":      "media",
			"source_key":         "a.txt",
			"destination_bucket": "archive",
			"destination_key":    " ",
		})
		require.Error(t, err)
		assert.Nil(t, api.copyIn)
	})
}

func TestS3HeadObject(t *testing.T) {
	api := &fakeS3{}
	result := mustCall(t, headObjectTool(api), map[string]any{
		"bucket": "media",
		"key":    "report.json",
	})

	require.NotNil(t, api.headIn)
	assert.Equal(t, "application/json", result["content_type"])
	assert.Equal(t, int64(42), result["content_length"])
}

func TestS3PresignGet(t *testing.T) {
	t.Run("default expiry", func(t *testing.T) {
		p := &fakePresigner{}
		result := mustCall(t, presignGetTool(p), map[string]any{
			"bucket": "media",
			"key":    "a.txt",
		})

		assert.Equal(t, defaultPresignExpiry, p.getExpiry)
		assert.Equal(t, "https://example.com/get", result["url"])
		assert.Equal(t, "GET", result["method"])
		assert.Equal(t, 900, result["expiry_seconds"])
	})

	t.Run("custom expiry", func(t *testing.T) {
		p := &fakePresigner{}
		mustCall(t, presignGetTool(p), map[string]any{
			"bucket":         "media",
			"key":            "a.txt",
			"expiry_seconds": float64(60),
		})
		assert.Equal(t, time.Minute, p.getExpiry)
	})
}

func TestS3PresignPut(t *testing.T) {
	p := &fakePresigner{}
	result := mustCall(t, presignPutTool(p), map[string]any{
		"bucket":       "media",
		"key":          "upload.bin",
		"content_type": "text/plain",
	})

	require.NotNil(t, p.putIn)
	require.NotNil(t, p.putIn.ContentType)
	assert.Equal(t, "text/plain", *p.putIn.ContentType)
	assert.Equal(t, "PUT", result["method"])
	headers, ok := result["headers"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "text/plain", headers["Content-Type"])
}

func TestEC2Create(t *testing.T) {
	t.Run("defaults applied", func(t *testing.T) {
		api := &fakeEC2{}
		result := mustCall(t, createInstanceTool(api), map[string]any{})

		require.NotNil(t, api.runIn)
		assert.Equal(t, defaultAMI, *api.runIn.ImageId)
		assert.Equal(t, defaultInstanceType, api.runIn.InstanceType)
		assert.Equal(t, "i-0123456789abcdef0", result["instance_id"])
	})

	t.Run("name becomes tag", func(t *testing.T) {
		api := &fakeEC2{}
		mustCall(t, createInstanceTool(api), map[string]any{"name": "web-1"})

		require.Len(t, api.runIn.TagSpecifications, 1)
		assert.Equal(t, "web-1", *api.runIn.TagSpecifications[0].Tags[0].Value)
	})
}

func TestEC2List(t *testing.T) {
	t.Run("follows pagination", func(t *testing.T) {
		api := &fakeEC2{describeOut: []*ec2.DescribeInstancesOutput{
			{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
					{InstanceId: awssdk.String("i-1")},
				}}},
				NextToken: awssdk.String("page2"),
			},
			{
				Reservations: []ec2types.Reservation{{Instances: []ec2types.Instance{
					{InstanceId: awssdk.String("i-2")},
				}}},
			},
		}}
		result := mustCall(t, listInstancesTool(api), map[string]any{})
		assert.Equal(t, 2, result["count"])
	})

	t.Run("state filter applied", func(t *testing.T) {
		api := &fakeEC2{}
		mustCall(t, listInstancesTool(api), map[string]any{"state": "Running"})

		require.Len(t, api.describeIn.Filters, 1)
		assert.Equal(t, []string{"running"}, api.describeIn.Filters[0].Values)
	})
}

func TestEC2Stop(t *testing.T) {
	api := &fakeEC2{}
	result := mustCall(t, stopInstanceTool(api), map[string]any{
		"instance_id": "i-1",
		"force":       true,
	})

	require.NotNil(t, api.stopIn.Force)
	assert.True(t, *api.stopIn.Force)
	assert.Equal(t, "stopping", result["current_state"])
}

func TestEC2Reboot(t *testing.T) {
	api := &fakeEC2{}
	result := mustCall(t, rebootInstanceTool(api), map[string]any{"instance_id": "i-1"})

	require.NotNil(t, api.rebootIn)
	assert.Equal(t, []string{"i-1"}, api.rebootIn.InstanceIds)
	assert.Equal(t, true, result["ok"])
}

func TestEC2Tag(t *testing.T) {
	t.Run("tag created", func(t *testing.T) {
		api := &fakeEC2{}
		mustCall(t, tagInstanceTool(api), map[string]any{
			"instance_id": "i-1",
			"key":         "env",
			"value":       "staging",
		})

		require.NotNil(t, api.tagsIn)
		assert.Equal(t, []string{"i-1"}, api.tagsIn.Resources)
		require.Len(t, api.tagsIn.Tags, 1)
		assert.Equal(t, "env", *api.tagsIn.Tags[0].Key)
		assert.Equal(t, "staging", *api.tagsIn.Tags[0].Value)
	})

	t.Run("blank value rejected", func(t *testing.T) {
		api := &fakeEC2{}
		_, err := tagInstanceTool(api).Call(context.Background(), map[string]any{
			"instance_id": "i-1",
			"key":         "env",
			"value":       " ",
		})
		require.Error(t, err)
		assert.Nil(t, api.tagsIn)
	})
}

func TestEC2Rename(t *testing.T) {
	api := &fakeEC2{}
	result := mustCall(t, renameInstanceTool(api), map[string]any{
		"instance_id": "i-1",
		"name":        "web-2",
	})

	require.NotNil(t, api.tagsIn)
	require.Len(t, api.tagsIn.Tags, 1)
	assert.Equal(t, "Name", *api.tagsIn.Tags[0].Key)
	assert.Equal(t, "web-2", *api.tagsIn.Tags[0].Value)
	assert.Equal(t, "web-2", result["name"])
}

func TestEC2DescribeNotFound(t *testing.T) {
	api := &fakeEC2{}
	_, err := describeInstanceTool(api).Call(context.Background(), map[string]any{"instance_id": "i-missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestFamiliesRoutingOrder(t *testing.T) {
	clients := &Clients{S3: &fakeS3{}, S3Presign: &fakePresigner{}, EC2: &fakeEC2{}}
	families := Families(clients)
	require.Len(t, families, 2)
	assert.Equal(t, "aws_ec2_", families[0].Prefix())
	assert.Equal(t, "aws_s3_", families[1].Prefix())
}

func TestDispatchThroughFamilies(t *testing.T) {
	clients := &Clients{S3: &fakeS3{}, S3Presign: &fakePresigner{}, EC2: &fakeEC2{}}
	d := tool.NewDispatcher(Families(clients))

	raw := d.Dispatch(context.Background(), "aws_ec2_create", `{"name":"db-1"}`)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	assert.Equal(t, true, payload["ok"])
	assert.Equal(t, "i-0123456789abcdef0", payload["instance_id"])
}
