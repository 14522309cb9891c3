package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/helsingborg-stad/fai-chat/messages"
	"github.com/helsingborg-stad/fai-chat/pkg/uuidx"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	assistant_id TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id               TEXT PRIMARY KEY,
	conversation_id  TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	seq              INTEGER NOT NULL,
	role             TEXT NOT NULL,
	content          TEXT NOT NULL DEFAULT '',
	reasoning        TEXT NOT NULL DEFAULT '',
	tool_call_id     TEXT NOT NULL DEFAULT '',
	tool_calls       TEXT NOT NULL DEFAULT '',
	context_override TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);
`

// SQLite is the durable Store. One engine process owns the database file;
// per-conversation write serialization happens in the chat layer.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (and if needed initializes) the database at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Create(ctx context.Context, ownerID, assistantID, title string) (*Conversation, error) {
	conv := &Conversation{
		ID:          uuidx.New(),
		OwnerID:     ownerID,
		AssistantID: assistantID,
		Title:       title,
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, owner_id, assistant_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		conv.ID.String(), ownerID, assistantID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLite) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv := &Conversation{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_id, assistant_id, title FROM conversations WHERE id = ?`, id.String(),
	).Scan(&conv.OwnerID, &conv.AssistantID, &conv.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, reasoning, tool_call_id, tool_calls, context_override, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY seq`, id.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, rows.Err()
}

func (s *SQLite) List(ctx context.Context, ownerID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, assistant_id, title FROM conversations WHERE owner_id = ? ORDER BY created_at`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var conv Conversation
		var rawID string
		if err := rows.Scan(&rawID, &conv.AssistantID, &conv.Title); err != nil {
			return nil, err
		}
		if conv.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("corrupt conversation id %q: %w", rawID, err)
		}
		conv.OwnerID = ownerID
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *SQLite) AppendMessage(ctx context.Context, id uuid.UUID, msg messages.Message) error {
	toolCalls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := conversationExists(ctx, tx, id); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, seq, role, content, reasoning, tool_call_id, tool_calls, context_override, created_at)
		 SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?, ?, ? FROM messages WHERE conversation_id = ?`,
		msg.ID.String(), id.String(), string(msg.Role), msg.Content, msg.ReasoningContent,
		msg.ToolCallID, toolCalls, msg.ContextOverride, msg.Timestamp.String(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) ReplaceLastMessage(ctx context.Context, id uuid.UUID, msg messages.Message) error {
	toolCalls, err := encodeToolCalls(msg.ToolCalls)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := conversationExists(ctx, tx, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE messages
		 SET id = ?, role = ?, content = ?, reasoning = ?, tool_call_id = ?, tool_calls = ?, context_override = ?
		 WHERE conversation_id = ? AND seq = (SELECT MAX(seq) FROM messages WHERE conversation_id = ?)`,
		msg.ID.String(), string(msg.Role), msg.Content, msg.ReasoningContent,
		msg.ToolCallID, toolCalls, msg.ContextOverride, id.String(), id.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to replace tail message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrEmptyConversation
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) TruncateFrom(ctx context.Context, id uuid.UUID, messageID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := conversationExists(ctx, tx, id); err != nil {
		return err
	}

	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT seq FROM messages WHERE conversation_id = ? AND id = ?`,
		id.String(), messageID.String(),
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrMessageNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE conversation_id = ? AND seq >= ?`, id.String(), seq,
	); err != nil {
		return fmt.Errorf("failed to truncate conversation: %w", err)
	}
	if err := touch(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) SetTitle(ctx context.Context, id uuid.UUID, title string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE conversations SET title = ? WHERE id = ?`, title, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *SQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func conversationExists(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func touch(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id.String(),
	)
	return err
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeToolCalls(calls []messages.ToolCall) (string, error) {
	if len(calls) == 0 {
		return "", nil
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool calls: %w", err)
	}
	return string(b), nil
}

func scanMessage(rows *sql.Rows) (messages.Message, error) {
	var msg messages.Message
	var rawID, role, toolCalls, createdAt string
	if err := rows.Scan(&rawID, &role, &msg.Content, &msg.ReasoningContent,
		&msg.ToolCallID, &toolCalls, &msg.ContextOverride, &createdAt); err != nil {
		return msg, err
	}

	var err error
	if msg.ID, err = uuid.Parse(rawID); err != nil {
		return msg, fmt.Errorf("corrupt message id %q: %w", rawID, err)
	}
	msg.Role = messages.Role(role)
	if toolCalls != "" {
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return msg, fmt.Errorf("corrupt tool calls for message %s: %w", rawID, err)
		}
	}
	if createdAt != "" {
		if err := msg.Timestamp.UnmarshalText([]byte(createdAt)); err != nil {
			return msg, fmt.Errorf("corrupt timestamp for message %s: %w", rawID, err)
		}
	}
	return msg, nil
}
