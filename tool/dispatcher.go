package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudchat/cloudchat/logging"
	"github.com/cloudchat/cloudchat/model"
)

// Family groups the tools owned by one capability provider under a shared
// tool-name prefix (for example "aws_s3_" or "aws_ec2_"). Routing picks the
// first registered family whose prefix matches the requested tool name.
type Family struct {
	name   string
	prefix string
	tools  map[string]Tool
	order  []string
}

// NewFamily constructs a Family routing tool names that start with prefix.
func NewFamily(name, prefix string, tools ...Tool) *Family {
	f := &Family{name: name, prefix: prefix, tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		f.tools[t.Name()] = t
		f.order = append(f.order, t.Name())
	}
	return f
}

// Name returns the family's human readable name.
func (f *Family) Name() string { return f.name }

// Prefix returns the tool-name prefix owned by this family.
func (f *Family) Prefix() string { return f.prefix }

// Lookup returns the named tool if this family owns it.
func (f *Family) Lookup(name string) (Tool, bool) {
	t, ok := f.tools[name]
	return t, ok
}

// failureResult is the structured payload returned for every dispatch
// failure so the model can observe and react to it.
type failureResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// DispatcherOptions holds configuration overrides for NewDispatcher.
type DispatcherOptions struct {
	Logger logging.Logger
}

// Dispatcher routes a requested tool name to the owning capability family,
// executes it, and returns a textual result. Dispatch never fails across the
// boundary: malformed arguments, unknown tools and capability errors are all
// converted into {"ok":false,"error":...} results fed back to the model.
type Dispatcher struct {
	families []*Family
	logger   logging.Logger
}

// NewDispatcher constructs a Dispatcher over the given families, in routing order.
func NewDispatcher(families []*Family, optFns ...func(o *DispatcherOptions)) *Dispatcher {
	opts := DispatcherOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Dispatcher{families: families, logger: opts.Logger}
}

// Register appends a family to the routing order.
func (d *Dispatcher) Register(f *Family) { d.families = append(d.families, f) }

// Definitions exposes every registered tool to the model, in registration order.
func (d *Dispatcher) Definitions() []model.ToolDefinition {
	var defs []model.ToolDefinition
	for _, f := range d.families {
		for _, name := range f.order {
			t := f.tools[name]
			defs = append(defs, model.ToolDefinition{
				Type: "function",
				Function: model.FunctionDefinition{
					Name:        t.Name(),
					Description: t.Description(),
					Parameters:  t.Parameters(),
				},
			})
		}
	}
	return defs
}

// Dispatch executes the named tool with the serialized arguments and returns
// the textual result. A tool name matching no registered family prefix is an
// explicit structured failure rather than a fallback to an arbitrary family.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName, argumentsJSON string) string {
	family := d.route(toolName)
	if family == nil {
		d.logger.Warn("dispatch.no_family", "tool", toolName)
		return failure("no capability family registered for tool %q", toolName)
	}

	t, ok := family.Lookup(toolName)
	if !ok {
		d.logger.Warn("dispatch.unknown_tool", "tool", toolName, "family", family.Name())
		return failure("unknown tool %q in family %q", toolName, family.Name())
	}

	args := map[string]any{}
	if strings.TrimSpace(argumentsJSON) != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return failure("invalid tool arguments: %v", err)
		}
	}

	start := time.Now()
	result, err := t.Call(ctx, args)
	d.logger.Info("dispatch.executed",
		"tool", toolName, "family", family.Name(),
		"duration_ms", time.Since(start).Milliseconds(), "error", err != nil)
	if err != nil {
		return failure("%v", err)
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return failure("tool %q returned an unserializable result: %v", toolName, err)
	}
	return string(payload)
}

func (d *Dispatcher) route(toolName string) *Family {
	for _, f := range d.families {
		if strings.HasPrefix(toolName, f.prefix) {
			return f
		}
	}
	return nil
}

func failure(format string, args ...any) string {
	payload, err := json.Marshal(failureResult{OK: false, Error: fmt.Sprintf(format, args...)})
	if err != nil {
		return `{"ok":false,"error":"internal dispatch failure"}`
	}
	return string(payload)
}
