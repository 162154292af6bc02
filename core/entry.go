package core

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a history entry.
type Role string

const (
	// RoleUser marks an entry containing a caller-supplied prompt message.
	RoleUser Role = "user"
	// RoleAssistant marks an entry containing model output. Assistant entries
	// are created empty-or-partial and grow append-only while streaming.
	RoleAssistant Role = "assistant"
	// RoleTool marks an entry containing the textual result of a tool call.
	RoleTool Role = "tool"
	// RoleSystem exists only transiently in the in-memory prompt assembly as
	// the first history element. It is never persisted.
	RoleSystem Role = "system"
)

// Entry is the unit of persisted conversation history. Exactly one Entry
// exists per TurnID at any time; for assistant turns the Text field
// accumulates streaming fragments durably, keyed by TurnID, until the turn
// completes.
type Entry struct {
	ConversationID string    `json:"conversation_id"`
	Username       string    `json:"username,omitempty"`
	Title          string    `json:"title,omitempty"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	ToolID         string    `json:"tool_id,omitempty"`
	ToolName       string    `json:"tool_name,omitempty"`
	ToolArguments  string    `json:"tool_arguments,omitempty"`
	ToolResponse   string    `json:"tool_response,omitempty"`
	ToolRequests   string    `json:"tool_requests,omitempty"`
	TurnID         string    `json:"turn_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Conversation pairs a conversation id with its title. The id is assigned on
// the first turn and immutable thereafter; the title is resolved once and
// only changes through an explicit rename.
type Conversation struct {
	ConversationID string `json:"conversation_id"`
	Title          string `json:"title"`
}

// ToolInvocation tracks one model-requested tool call from the first partial
// argument fragment to the completed result. Arguments may hold invalid JSON
// while the call is still assembling; Response is set exactly once when
// dispatch finishes and the value is never mutated afterwards.
type ToolInvocation struct {
	ToolID    string `json:"tool_id"`
	ToolName  string `json:"tool_name"`
	Arguments string `json:"arguments"`
	Response  string `json:"response,omitempty"`
}

// NewID returns a fresh UUID string. Used for conversation ids and for the
// per-model-call turn ids that key incremental persistence.
func NewID() string { return uuid.NewString() }
