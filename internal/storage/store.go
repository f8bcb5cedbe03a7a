// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations, messages, and users in a
// local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrMessageNotFound      = errors.New("message not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrUserExists           = errors.New("user already exists")
)

// StoreError wraps a database failure with the failing operation.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    username        TEXT NOT NULL UNIQUE,
    email           TEXT,
    default_preset  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT PRIMARY KEY,
    user_id     INTEGER NOT NULL DEFAULT 0,
    title       TEXT NOT NULL DEFAULT '',
    provider    TEXT NOT NULL DEFAULT '',
    model       TEXT NOT NULL DEFAULT '',
    preset      TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMP NOT NULL,
    updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    role            TEXT NOT NULL,
    content         TEXT NOT NULL,
    created_at      TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON messages(conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_conversations_user
    ON conversations(user_id, updated_at DESC);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// =============================================================================
// STORE
// =============================================================================

// Store is a SQLite-backed conversation store. Safe for concurrent use;
// database/sql serializes access to the underlying connection pool.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap("open", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, wrap("open", err)
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, wrap("open", fmt.Errorf("%s: %w", pragma, err))
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, wrap("open", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// =============================================================================
// USERS
// =============================================================================

// AddUser creates a user. The username must be unique.
func (s *Store) AddUser(ctx context.Context, username, email, defaultPreset string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, wrap("add user", errors.New("username is required"))
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, default_preset, created_at) VALUES (?, ?, ?, ?)`,
		username, email, defaultPreset, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, wrap("add user", ErrUserExists)
		}
		return nil, wrap("add user", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, wrap("add user", err)
	}

	return &model.User{
		ID:            id,
		Username:      username,
		Email:         email,
		DefaultPreset: defaultPreset,
		CreatedAt:     now,
	}, nil
}

// GetUserByID fetches a user by numeric ID.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, default_preset, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// GetUserByUsernameOrEmail fetches a user by either identifier.
func (s *Store) GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, email, default_preset, created_at FROM users
		 WHERE username = ? OR email = ?`, identifier, identifier)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.DefaultPreset, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get user", ErrUserNotFound)
	}
	if err != nil {
		return nil, wrap("get user", err)
	}
	return &u, nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// AddConversation persists a new conversation record.
func (s *Store) AddConversation(ctx context.Context, conv *model.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, title, provider, model, preset, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.UserID, conv.Title, conv.Provider, conv.Model, conv.Preset,
		conv.CreatedAt, conv.UpdatedAt)
	return wrap("add conversation", err)
}

// GetConversation fetches a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, provider, model, preset, created_at, updated_at
		 FROM conversations WHERE id = ?`, id)

	var c model.Conversation
	err := row.Scan(&c.ID, &c.UserID, &c.Title, &c.Provider, &c.Model, &c.Preset,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get conversation", ErrConversationNotFound)
	}
	if err != nil {
		return nil, wrap("get conversation", err)
	}
	return &c, nil
}

// GetConversations lists a user's conversations, most recently updated
// first. A non-positive limit returns all.
func (s *Store) GetConversations(ctx context.Context, userID int64, limit, offset int) ([]*model.Conversation, error) {
	query := `SELECT id, user_id, title, provider, model, preset, created_at, updated_at
		 FROM conversations WHERE user_id = ? ORDER BY updated_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
		if offset > 0 {
			query += " OFFSET ?"
			args = append(args, offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list conversations", err)
	}
	defer rows.Close()

	var out []*model.Conversation
	for rows.Next() {
		var c model.Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.Provider, &c.Model, &c.Preset,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, wrap("list conversations", err)
		}
		out = append(out, &c)
	}
	return out, wrap("list conversations", rows.Err())
}

// UpdateConversation updates a conversation's provider, model, preset,
// and title, bumping the updated timestamp.
func (s *Store) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, provider = ?, model = ?, preset = ?, updated_at = ?
		 WHERE id = ?`,
		conv.Title, conv.Provider, conv.Model, conv.Preset, conv.UpdatedAt, conv.ID)
	if err != nil {
		return wrap("update conversation", err)
	}
	return requireRow(res, "update conversation", ErrConversationNotFound)
}

// EditConversationTitle sets a conversation's title.
func (s *Store) EditConversationTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return wrap("edit title", err)
	}
	return requireRow(res, "edit title", ErrConversationNotFound)
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return wrap("delete conversation", err)
	}
	return requireRow(res, "delete conversation", ErrConversationNotFound)
}

// =============================================================================
// MESSAGES
// =============================================================================

// MessageQuery narrows a message fetch. The zero value returns the full
// ordered history.
type MessageQuery struct {
	// Limit keeps only the first N messages when positive.
	Limit int

	// TargetID truncates the history after the named message, inclusive.
	// The branch below the target is cut off.
	TargetID string
}

// AddMessage appends a message to a conversation and bumps the
// conversation's updated timestamp.
func (s *Store) AddMessage(ctx context.Context, msg *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("add message", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, msg.CreatedAt); err != nil {
		return wrap("add message", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), msg.ConversationID); err != nil {
		return wrap("add message", err)
	}
	return wrap("add message", tx.Commit())
}

// GetMessages fetches a conversation's messages in creation order,
// narrowed by the query.
func (s *Store) GetMessages(ctx context.Context, conversationID string, q MessageQuery) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, wrap("get messages", err)
	}
	defer rows.Close()

	var out []*model.Message
	for rows.Next() {
		var m model.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, wrap("get messages", err)
		}
		m.Role = model.Role(role)
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("get messages", err)
	}

	if q.TargetID != "" {
		cut := -1
		for i, m := range out {
			if m.ID == q.TargetID {
				cut = i
				break
			}
		}
		if cut < 0 {
			return nil, wrap("get messages", ErrMessageNotFound)
		}
		out = out[:cut+1]
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// LastMessage returns the newest message of a conversation, or
// ErrMessageNotFound when the conversation is empty.
func (s *Store) LastMessage(ctx context.Context, conversationID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC LIMIT 1`, conversationID)

	var m model.Message
	var role string
	err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("last message", ErrMessageNotFound)
	}
	if err != nil {
		return nil, wrap("last message", err)
	}
	m.Role = model.Role(role)
	return &m, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func requireRow(res sql.Result, op string, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return wrap(op, err)
	}
	if n == 0 {
		return wrap(op, notFound)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
