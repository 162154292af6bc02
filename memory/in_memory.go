// Package memory provides core.MemoryStore implementations. InMemoryStore is
// the process-local default; the sqlite subpackage persists across restarts.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloudchat/cloudchat/core"
)

// InMemoryStore keeps the conversation log in process memory. Entries are
// held in insertion order; a turn-id index supports the accumulate-on-update
// path used while streaming.
//
// Concurrency: protected by RWMutex. Reads during a streaming turn observe
// the text accumulated so far.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []core.Entry
	seq     []int64 // insertion counter, tie-breaker for equal timestamps
	byTurn  map[string]int
	nextSeq int64
}

// NewInMemoryStore creates an empty in-memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{byTurn: make(map[string]int)}
}

// AppendOrUpdate inserts the entry, or, when an entry already exists for the
// same turn id, appends the text fragment and merges non-empty tool fields.
func (m *InMemoryStore) AppendOrUpdate(_ context.Context, entry core.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if idx, exists := m.byTurn[entry.TurnID]; exists {
		stored := &m.entries[idx]
		stored.Text += entry.Text
		mergeToolFields(stored, entry)
		return nil
	}

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.byTurn[entry.TurnID] = len(m.entries)
	m.entries = append(m.entries, entry)
	m.seq = append(m.seq, m.nextSeq)
	m.nextSeq++
	return nil
}

func mergeToolFields(stored *core.Entry, update core.Entry) {
	if update.ToolID != "" {
		stored.ToolID = update.ToolID
	}
	if update.ToolName != "" {
		stored.ToolName = update.ToolName
	}
	if update.ToolArguments != "" {
		stored.ToolArguments = update.ToolArguments
	}
	if update.ToolResponse != "" {
		stored.ToolResponse = update.ToolResponse
	}
	if update.ToolRequests != "" {
		stored.ToolRequests = update.ToolRequests
	}
	if update.Title != "" {
		stored.Title = update.Title
	}
}

// ExistsForTurn reports whether an entry has been stored for turnID.
func (m *InMemoryStore) ExistsForTurn(_ context.Context, turnID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.byTurn[turnID]
	return exists, nil
}

// EntriesForConversation returns a page of the conversation's entries ordered
// by creation time.
func (m *InMemoryStore) EntriesForConversation(_ context.Context, conversationID string, offset, limit int, ascending bool) ([]core.Entry, error) {
	type indexed struct {
		entry core.Entry
		seq   int64
	}
	m.mu.RLock()
	var matched []indexed
	for i, e := range m.entries {
		if e.ConversationID == conversationID {
			matched = append(matched, indexed{entry: e, seq: m.seq[i]})
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		before := a.seq < b.seq
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			before = a.entry.CreatedAt.Before(b.entry.CreatedAt)
		}
		if ascending {
			return before
		}
		return !before
	})
	entries := make([]core.Entry, len(matched))
	for i, it := range matched {
		entries[i] = it.entry
	}
	return page(entries, offset, limit), nil
}

// ConversationsForUser groups the user's entries by conversation id and
// returns a page ordered by most recent activity.
func (m *InMemoryStore) ConversationsForUser(_ context.Context, username string, offset, limit int) ([]core.Conversation, error) {
	m.mu.RLock()
	type summary struct {
		conv   core.Conversation
		latest time.Time
	}
	grouped := make(map[string]*summary)
	for _, e := range m.entries {
		if e.Username != username {
			continue
		}
		s, exists := grouped[e.ConversationID]
		if !exists {
			s = &summary{conv: core.Conversation{ConversationID: e.ConversationID}}
			grouped[e.ConversationID] = s
		}
		if e.Title != "" {
			s.conv.Title = e.Title
		}
		if e.CreatedAt.After(s.latest) {
			s.latest = e.CreatedAt
		}
	}
	m.mu.RUnlock()

	summaries := make([]*summary, 0, len(grouped))
	for _, s := range grouped {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].latest.After(summaries[j].latest)
	})

	conversations := make([]core.Conversation, len(summaries))
	for i, s := range summaries {
		conversations[i] = s.conv
	}
	return page(conversations, offset, limit), nil
}

// DeleteConversation removes every entry of the conversation and rebuilds the
// turn index.
func (m *InMemoryStore) DeleteConversation(_ context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	keptSeq := m.seq[:0]
	for i, e := range m.entries {
		if e.ConversationID != conversationID {
			kept = append(kept, e)
			keptSeq = append(keptSeq, m.seq[i])
		}
	}
	m.entries = kept
	m.seq = keptSeq

	m.byTurn = make(map[string]int, len(m.entries))
	for i, e := range m.entries {
		m.byTurn[e.TurnID] = i
	}
	return nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]T, end-offset)
	copy(out, items[offset:end])
	return out
}

var _ core.MemoryStore = (*InMemoryStore)(nil)
