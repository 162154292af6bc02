package core

import "context"

// MemoryStore is the durable ordered log of conversation entries. It is the
// single source of truth once a streaming session ends or crashes; sessions
// only ever append to it or accumulate text under a turn id.
//
// Implementations must allow persistence writes to interleave with concurrent
// reads of the same conversation; a read observing the partial text of a
// not-yet-complete turn is accepted behavior.
type MemoryStore interface {
	// AppendOrUpdate inserts a new Entry, or, if an Entry already exists for
	// entry.TurnID, appends entry.Text to the stored text and merges any
	// non-empty tool metadata fields. The read-modify-write is atomic per
	// TurnID so streaming fragments accumulate durably in delivery order.
	AppendOrUpdate(ctx context.Context, entry Entry) error

	// ExistsForTurn reports whether an Entry has been stored for turnID.
	ExistsForTurn(ctx context.Context, turnID string) (bool, error)

	// EntriesForConversation returns a page of entries ordered by timestamp,
	// ascending when ascending is true and descending otherwise.
	EntriesForConversation(ctx context.Context, conversationID string, offset, limit int, ascending bool) ([]Entry, error)

	// ConversationsForUser returns the user's conversations grouped by
	// conversation id, most recently active first.
	ConversationsForUser(ctx context.Context, username string, offset, limit int) ([]Conversation, error)

	// DeleteConversation removes every Entry belonging to the conversation.
	DeleteConversation(ctx context.Context, conversationID string) error
}
