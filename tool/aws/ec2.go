package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/cloudchat/cloudchat/tool"
)

// defaultAMI is the Amazon Linux 2023 image used when the caller does not
// name one.
const defaultAMI = "ami-0c101f26f147fa7fd"

const defaultInstanceType = ec2types.InstanceTypeT3Micro

// EC2API is the minimal EC2 surface required by the instance tools.
type EC2API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	StartInstances(ctx context.Context, in *ec2.StartInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StartInstancesOutput, error)
	StopInstances(ctx context.Context, in *ec2.StopInstancesInput, optFns ...func(*ec2.Options)) (*ec2.StopInstancesOutput, error)
	RebootInstances(ctx context.Context, in *ec2.RebootInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RebootInstancesOutput, error)
	TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// NewEC2Family builds the "aws_ec2_" tool family over the given API.
func NewEC2Family(api EC2API) *tool.Family {
	return tool.NewFamily("ec2", "aws_ec2_",
		createInstanceTool(api),
		listInstancesTool(api),
		describeInstanceTool(api),
		startInstanceTool(api),
		stopInstanceTool(api),
		rebootInstanceTool(api),
		terminateInstanceTool(api),
		tagInstanceTool(api),
		renameInstanceTool(api),
	)
}

func createInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_create",
		"Launch an EC2 instance. Defaults to a t3.micro Amazon Linux instance when image or type are omitted.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":          map[string]any{"type": "string", "description": "Name tag for the instance (optional)"},
				"image_id":      map[string]any{"type": "string", "description": "AMI id (optional)"},
				"instance_type": map[string]any{"type": "string", "description": "Instance type, e.g. t3.micro (optional)"},
			},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			imageID := strings.TrimSpace(strArg(args, "image_id"))
			if imageID == "" {
				imageID = defaultAMI
			}
			instanceType := defaultInstanceType
			if v := strings.TrimSpace(strArg(args, "instance_type")); v != "" {
				instanceType = ec2types.InstanceType(v)
			}

			in := &ec2.RunInstancesInput{
				ImageId:      aws.String(imageID),
				InstanceType: instanceType,
				MinCount:     aws.Int32(1),
				MaxCount:     aws.Int32(1),
			}
			if name := strings.TrimSpace(strArg(args, "name")); name != "" {
				in.TagSpecifications = []ec2types.TagSpecification{{
					ResourceType: ec2types.ResourceTypeInstance,
					Tags: []ec2types.Tag{{
						Key:   aws.String("Name"),
						Value: aws.String(name),
					}},
				}}
			}

			resp, err := api.RunInstances(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("launch instance: %w", err)
			}
			if len(resp.Instances) == 0 {
				return nil, fmt.Errorf("launch instance: no instance returned")
			}
			return ok(instanceSummary(resp.Instances[0])), nil
		},
	)
}

func listInstancesTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_list",
		"List EC2 instances, optionally filtered by state (pending, running, stopped, terminated).",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"state": map[string]any{"type": "string", "description": "Instance state filter (optional)"},
			},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			in := &ec2.DescribeInstancesInput{}
			if state := strings.TrimSpace(strArg(args, "state")); state != "" {
				in.Filters = []ec2types.Filter{{
					Name:   aws.String("instance-state-name"),
					Values: []string{strings.ToLower(state)},
				}}
			}

			var instances []map[string]any
			for {
				resp, err := api.DescribeInstances(ctx, in)
				if err != nil {
					return nil, fmt.Errorf("list instances: %w", err)
				}
				for _, r := range resp.Reservations {
					for _, inst := range r.Instances {
						instances = append(instances, instanceSummary(inst))
					}
				}
				if resp.NextToken == nil {
					break
				}
				in.NextToken = resp.NextToken
			}
			return ok(map[string]any{"instances": instances, "count": len(instances)}), nil
		},
	)
}

func describeInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_describe",
		"Describe a single EC2 instance by id.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
			},
			"required": []string{"instance_id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			resp, err := api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
				InstanceIds: []string{id},
			})
			if err != nil {
				return nil, fmt.Errorf("describe instance: %w", err)
			}
			for _, r := range resp.Reservations {
				for _, inst := range r.Instances {
					return ok(instanceSummary(inst)), nil
				}
			}
			return nil, fmt.Errorf("instance %q not found", id)
		},
	)
}

func startInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_start",
		"Start a stopped EC2 instance.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
			},
			"required": []string{"instance_id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			resp, err := api.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id}})
			if err != nil {
				return nil, fmt.Errorf("start instance: %w", err)
			}
			return ok(stateChanges(id, resp.StartingInstances)), nil
		},
	)
}

func stopInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_stop",
		"Stop a running EC2 instance. Set force to stop without a clean shutdown.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
				"force":       map[string]any{"type": "boolean", "description": "Force stop (optional)"},
			},
			"required": []string{"instance_id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			in := &ec2.StopInstancesInput{InstanceIds: []string{id}}
			if boolArg(args, "force") {
				in.Force = aws.Bool(true)
			}
			resp, err := api.StopInstances(ctx, in)
			if err != nil {
				return nil, fmt.Errorf("stop instance: %w", err)
			}
			return ok(stateChanges(id, resp.StoppingInstances)), nil
		},
	)
}

func rebootInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_reboot",
		"Reboot a running EC2 instance.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
			},
			"required": []string{"instance_id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			// RebootInstances reports no state change; success means the
			// reboot request was accepted.
			if _, err := api.RebootInstances(ctx, &ec2.RebootInstancesInput{InstanceIds: []string{id}}); err != nil {
				return nil, fmt.Errorf("reboot instance: %w", err)
			}
			return ok(map[string]any{"instance_id": id, "message": "Reboot initiated"}), nil
		},
	)
}

func terminateInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_terminate",
		"Terminate an EC2 instance. Termination cannot be undone.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
			},
			"required": []string{"instance_id"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			resp, err := api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}})
			if err != nil {
				return nil, fmt.Errorf("terminate instance: %w", err)
			}
			return ok(stateChanges(id, resp.TerminatingInstances)), nil
		},
	)
}

func tagInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_tag",
		"Add or update a tag on an EC2 instance.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
				"key":         map[string]any{"type": "string", "description": "Tag key"},
				"value":       map[string]any{"type": "string", "description": "Tag value"},
			},
			"required": []string{"instance_id", "key", "value"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			key := strings.TrimSpace(strArg(args, "key"))
			value := strings.TrimSpace(strArg(args, "value"))
			if key == "" {
				return nil, fmt.Errorf("tag key is required")
			}
			if value == "" {
				return nil, fmt.Errorf("tag value is required")
			}
			if err := putTag(ctx, api, id, key, value); err != nil {
				return nil, err
			}
			return ok(map[string]any{"instance_id": id, "tags": map[string]any{key: value}}), nil
		},
	)
}

func renameInstanceTool(api EC2API) tool.Tool {
	return tool.NewFunctionTool(
		"aws_ec2_rename",
		"Rename an EC2 instance by setting its Name tag.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"instance_id": map[string]any{"type": "string", "description": "Instance id"},
				"name":        map[string]any{"type": "string", "description": "New name"},
			},
			"required": []string{"instance_id", "name"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			id, err := requiredInstanceID(args)
			if err != nil {
				return nil, err
			}
			name := strings.TrimSpace(strArg(args, "name"))
			if name == "" {
				return nil, fmt.Errorf("name is required")
			}
			if err := putTag(ctx, api, id, "Name", name); err != nil {
				return nil, err
			}
			return ok(map[string]any{"instance_id": id, "name": name}), nil
		},
	)
}

func putTag(ctx context.Context, api EC2API, id, key, value string) error {
	_, err := api.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags: []ec2types.Tag{{
			Key:   aws.String(key),
			Value: aws.String(value),
		}},
	})
	if err != nil {
		return fmt.Errorf("tag instance: %w", err)
	}
	return nil
}

func requiredInstanceID(args map[string]any) (string, error) {
	id := strings.TrimSpace(strArg(args, "instance_id"))
	if id == "" {
		return "", fmt.Errorf("instance_id is required")
	}
	return id, nil
}

func instanceSummary(inst ec2types.Instance) map[string]any {
	summary := map[string]any{}
	if inst.InstanceId != nil {
		summary["instance_id"] = *inst.InstanceId
	}
	if inst.ImageId != nil {
		summary["image_id"] = *inst.ImageId
	}
	summary["instance_type"] = string(inst.InstanceType)
	if inst.State != nil {
		summary["state"] = string(inst.State.Name)
	}
	if inst.PublicIpAddress != nil {
		summary["public_ip"] = *inst.PublicIpAddress
	}
	if inst.PrivateIpAddress != nil {
		summary["private_ip"] = *inst.PrivateIpAddress
	}
	for _, tag := range inst.Tags {
		if tag.Key != nil && *tag.Key == "Name" && tag.Value != nil {
			summary["name"] = *tag.Value
		}
	}
	return summary
}

func stateChanges(id string, changes []ec2types.InstanceStateChange) map[string]any {
	result := map[string]any{"instance_id": id}
	for _, c := range changes {
		if c.InstanceId == nil || *c.InstanceId != id {
			continue
		}
		if c.PreviousState != nil {
			result["previous_state"] = string(c.PreviousState.Name)
		}
		if c.CurrentState != nil {
			result["current_state"] = string(c.CurrentState.Name)
		}
	}
	return result
}
