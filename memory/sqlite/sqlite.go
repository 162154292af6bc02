// Package sqlite persists conversation history in a SQLite database so chats
// survive process restarts.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	// SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/cloudchat/cloudchat/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_memory (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	username TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	role TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	tool_id TEXT NOT NULL DEFAULT '',
	tool_name TEXT NOT NULL DEFAULT '',
	tool_arguments TEXT NOT NULL DEFAULT '',
	tool_response TEXT NOT NULL DEFAULT '',
	tool_requests TEXT NOT NULL DEFAULT '',
	turn_id TEXT NOT NULL UNIQUE,
	created_ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_memory_conversation ON chat_memory (conversation_id, created_ts);
CREATE INDEX IF NOT EXISTS idx_chat_memory_username ON chat_memory (username, created_ts);
`

// Store is a SQLite backed core.MemoryStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the database at dsn and prepares the
// schema. The caller owns the returned store and must Close it.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", dsn, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent streaming updates.
	db.SetMaxOpenConns(1)
	store, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an existing database handle and prepares the schema.
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: prepare schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// AppendOrUpdate inserts the entry, or, when a row already exists for the
// same turn id, concatenates the text fragment and overwrites tool metadata
// fields that arrive non-empty. Update and insert run in one transaction so
// fragments accumulate atomically per turn.
func (s *Store) AppendOrUpdate(ctx context.Context, entry core.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE chat_memory SET
			text = text || ?,
			tool_id = CASE WHEN ? = '' THEN tool_id ELSE ? END,
			tool_name = CASE WHEN ? = '' THEN tool_name ELSE ? END,
			tool_arguments = CASE WHEN ? = '' THEN tool_arguments ELSE ? END,
			tool_response = CASE WHEN ? = '' THEN tool_response ELSE ? END,
			tool_requests = CASE WHEN ? = '' THEN tool_requests ELSE ? END,
			title = CASE WHEN ? = '' THEN title ELSE ? END
		WHERE turn_id = ?`,
		entry.Text,
		entry.ToolID, entry.ToolID,
		entry.ToolName, entry.ToolName,
		entry.ToolArguments, entry.ToolArguments,
		entry.ToolResponse, entry.ToolResponse,
		entry.ToolRequests, entry.ToolRequests,
		entry.Title, entry.Title,
		entry.TurnID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update turn: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}

	if affected == 0 {
		createdAt := entry.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chat_memory
				(conversation_id, username, title, role, text, tool_id, tool_name, tool_arguments, tool_response, tool_requests, turn_id, created_ts)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ConversationID, entry.Username, entry.Title, string(entry.Role), entry.Text,
			entry.ToolID, entry.ToolName, entry.ToolArguments, entry.ToolResponse, entry.ToolRequests,
			entry.TurnID, createdAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert turn: %w", err)
		}
	}

	return tx.Commit()
}

// ExistsForTurn reports whether a row has been stored for turnID.
func (s *Store) ExistsForTurn(ctx context.Context, turnID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM chat_memory WHERE turn_id = ? LIMIT 1`, turnID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: exists: %w", err)
	}
	return true, nil
}

// EntriesForConversation returns a page of the conversation's entries ordered
// by creation time.
func (s *Store) EntriesForConversation(ctx context.Context, conversationID string, offset, limit int, ascending bool) ([]core.Entry, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	if limit <= 0 {
		limit = -1 // no LIMIT in SQLite terms
	}
	query := fmt.Sprintf(`
		SELECT conversation_id, username, title, role, text, tool_id, tool_name, tool_arguments, tool_response, tool_requests, turn_id, created_ts
		FROM chat_memory
		WHERE conversation_id = ?
		ORDER BY created_ts %s, id %s
		LIMIT ? OFFSET ?`, order, order)

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query entries: %w", err)
	}
	defer rows.Close()

	var entries []core.Entry
	for rows.Next() {
		var e core.Entry
		var role string
		var createdTS int64
		if err := rows.Scan(
			&e.ConversationID, &e.Username, &e.Title, &role, &e.Text,
			&e.ToolID, &e.ToolName, &e.ToolArguments, &e.ToolResponse, &e.ToolRequests,
			&e.TurnID, &createdTS,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan entry: %w", err)
		}
		e.Role = core.Role(role)
		e.CreatedAt = time.Unix(0, createdTS)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate entries: %w", err)
	}
	return entries, nil
}

// ConversationsForUser returns the user's conversations, most recently active
// first. The title is taken from the latest row carrying one.
func (s *Store) ConversationsForUser(ctx context.Context, username string, offset, limit int) ([]core.Conversation, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT conversation_id,
		       COALESCE((
		           SELECT title FROM chat_memory t
		           WHERE t.conversation_id = c.conversation_id AND t.title != ''
		           ORDER BY t.created_ts DESC LIMIT 1
		       ), '') AS title
		FROM chat_memory c
		WHERE username = ?
		GROUP BY conversation_id
		ORDER BY MAX(created_ts) DESC
		LIMIT ? OFFSET ?`,
		username, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query conversations: %w", err)
	}
	defer rows.Close()

	var conversations []core.Conversation
	for rows.Next() {
		var c core.Conversation
		if err := rows.Scan(&c.ConversationID, &c.Title); err != nil {
			return nil, fmt.Errorf("sqlite: scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate conversations: %w", err)
	}
	return conversations, nil
}

// DeleteConversation removes every row of the conversation.
func (s *Store) DeleteConversation(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_memory WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("sqlite: delete conversation: %w", err)
	}
	return nil
}

var _ core.MemoryStore = (*Store)(nil)
