package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudchat/cloudchat/core"
)

func entryAt(conversationID, turnID string, role core.Role, text string, ts time.Time) core.Entry {
	return core.Entry{
		ConversationID: conversationID,
		Role:           role,
		Text:           text,
		TurnID:         turnID,
		CreatedAt:      ts,
	}
}

func TestAppendOrUpdateAccumulatesFragments(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Now()

	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c1", "t1", core.RoleAssistant, "Hel", base)))
	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c1", "t1", core.RoleAssistant, "lo ", base)))
	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c1", "t1", core.RoleAssistant, "world", base)))

	entries, err := store.EntriesForConversation(ctx, "c1", 0, 0, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Hello world", entries[0].Text)
	assert.Equal(t, core.RoleAssistant, entries[0].Role)
}

func TestAppendOrUpdateMergesToolMetadata(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first := entryAt("c1", "t1", core.RoleAssistant, "thinking", time.Now())
	require.NoError(t, store.AppendOrUpdate(ctx, first))

	update := core.Entry{TurnID: "t1", ToolRequests: `[{"tool_name":"aws_s3_list_buckets"}]`}
	require.NoError(t, store.AppendOrUpdate(ctx, update))

	entries, err := store.EntriesForConversation(ctx, "c1", 0, 0, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "thinking", entries[0].Text)
	assert.Equal(t, `[{"tool_name":"aws_s3_list_buckets"}]`, entries[0].ToolRequests)
}

func TestExistsForTurn(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	exists, err := store.ExistsForTurn(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c1", "t1", core.RoleUser, "hi", time.Now())))

	exists, err = store.ExistsForTurn(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEntriesForConversationOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Now()

	for i, turn := range []string{"t1", "t2", "t3", "t4"} {
		e := entryAt("c1", turn, core.RoleUser, turn, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, store.AppendOrUpdate(ctx, e))
	}
	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c2", "x1", core.RoleUser, "other", base)))

	descending, err := store.EntriesForConversation(ctx, "c1", 0, 2, false)
	require.NoError(t, err)
	require.Len(t, descending, 2)
	assert.Equal(t, "t4", descending[0].Text)
	assert.Equal(t, "t3", descending[1].Text)

	ascending, err := store.EntriesForConversation(ctx, "c1", 1, 2, true)
	require.NoError(t, err)
	require.Len(t, ascending, 2)
	assert.Equal(t, "t2", ascending[0].Text)
	assert.Equal(t, "t3", ascending[1].Text)
}

func TestConversationsForUser(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Now()

	older := entryAt("c1", "t1", core.RoleUser, "first", base)
	older.Username = "alice"
	older.Title = "First chat"
	require.NoError(t, store.AppendOrUpdate(ctx, older))

	newer := entryAt("c2", "t2", core.RoleUser, "second", base.Add(time.Minute))
	newer.Username = "alice"
	newer.Title = "Second chat"
	require.NoError(t, store.AppendOrUpdate(ctx, newer))

	foreign := entryAt("c3", "t3", core.RoleUser, "not hers", base)
	foreign.Username = "bob"
	require.NoError(t, store.AppendOrUpdate(ctx, foreign))

	conversations, err := store.ConversationsForUser(ctx, "alice", 0, 10)
	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "c2", conversations[0].ConversationID)
	assert.Equal(t, "Second chat", conversations[0].Title)
	assert.Equal(t, "c1", conversations[1].ConversationID)
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Now()

	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c1", "t1", core.RoleUser, "hi", base)))
	require.NoError(t, store.AppendOrUpdate(ctx, entryAt("c2", "t2", core.RoleUser, "keep", base)))

	require.NoError(t, store.DeleteConversation(ctx, "c1"))

	entries, err := store.EntriesForConversation(ctx, "c1", 0, 0, true)
	require.NoError(t, err)
	assert.Empty(t, entries)

	exists, err := store.ExistsForTurn(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, exists)

	// surviving conversation keeps a usable turn index
	require.NoError(t, store.AppendOrUpdate(ctx, core.Entry{TurnID: "t2", Text: " going"}))
	entries, err = store.EntriesForConversation(ctx, "c2", 0, 0, true)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep going", entries[0].Text)
}
