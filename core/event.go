package core

// EventType discriminates wire events streamed to callers.
type EventType string

const (
	// EventConversationDetail announces the resolved conversation id and
	// title. Exactly one is emitted, first, per prompt call.
	EventConversationDetail EventType = "conversation_detail_metadata"
	// EventMessage carries one partial text fragment of the assistant turn.
	// Callers accumulate fragments client-side.
	EventMessage EventType = "message"
	// EventToolCalling reports a pending (completed=false, advisory) or
	// finished (completed=true) tool invocation.
	EventToolCalling EventType = "toolCalling"
	// EventError is the single terminal event emitted on unrecoverable
	// transport or model failure.
	EventError EventType = "error"
)

// Event is the discriminated message sent to the caller describing streaming
// progress. JSON field names match the wire contract consumed by existing
// clients; unused fields are omitted per event kind.
type Event struct {
	Type EventType `json:"type"`

	// message and error payload.
	Message string `json:"message,omitempty"`

	// conversation_detail_metadata payload.
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title,omitempty"`

	// toolCalling payload.
	ToolID       string `json:"toolId,omitempty"`
	ToolName     string `json:"toolName,omitempty"`
	Arguments    string `json:"arguments,omitempty"`
	ToolResponse string `json:"toolResponse,omitempty"`
	Completed    *bool  `json:"completed,omitempty"`
}

// NewMessageEvent wraps one partial text fragment.
func NewMessageEvent(fragment string) Event {
	return Event{Type: EventMessage, Message: fragment}
}

// NewConversationDetailEvent announces conversation id and resolved title.
func NewConversationDetailEvent(conversationID, title string) Event {
	return Event{Type: EventConversationDetail, ConversationID: conversationID, Title: title}
}

// NewToolCallingEvent renders a tool invocation. A pending event carries the
// possibly-incomplete arguments observed so far; a completed event adds the
// tool response.
func NewToolCallingEvent(inv ToolInvocation, completed bool) Event {
	return Event{
		Type:         EventToolCalling,
		ToolID:       inv.ToolID,
		ToolName:     inv.ToolName,
		Arguments:    inv.Arguments,
		ToolResponse: inv.Response,
		Completed:    boolPtr(completed),
	}
}

// NewErrorEvent signals an unrecoverable session failure to the caller.
func NewErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// IsTerminal reports whether no further events follow this one.
func (e Event) IsTerminal() bool { return e.Type == EventError }

func boolPtr(b bool) *bool { return &b }
