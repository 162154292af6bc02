// Package tool implements the function calling subsystem: the Tool contract,
// a schema-validating FunctionTool adapter, and the Dispatcher that routes a
// model-requested tool name to the owning capability family and converts
// every failure into a structured textual result.
package tool

import (
	"context"
	"fmt"

	"github.com/cloudchat/cloudchat/internal/util"
)

// Tool defines an executable capability exposed to the model.
//
// Implementations should provide descriptive snake_case names, a minimal
// JSON schema for parameters, and graceful error handling. Call receives
// already-decoded arguments; returned values must be JSON-serializable.
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case).
	Name() string

	// Description is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool. Errors are converted to structured failure
	// results by the Dispatcher; they never cross the session boundary.
	Call(ctx context.Context, args map[string]any) (any, error)
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}
