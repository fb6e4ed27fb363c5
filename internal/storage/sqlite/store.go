// Package sqlite is the SQLite implementation of the assistant stores.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage"
)

// Store is a SQLite implementation of storage.Store.
type Store struct {
	db *sqlx.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (and if needed creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set pragmas: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			model_used TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS usage_log (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			usage_type TEXT NOT NULL,
			model_used TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL,
			completion_tokens INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL,
			estimated INTEGER NOT NULL DEFAULT 0,
			message_id TEXT,
			document_id TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_user ON chats(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_log_user ON usage_log(user_id, entity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_log_type ON usage_log(usage_type)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) CreateChat(ctx context.Context, chat *storage.Chat) error {
	chat.CreatedAt = time.Now()
	chat.UpdatedAt = time.Now()

	query := `INSERT INTO chats (id, user_id, entity_id, title, created_at, updated_at)
	          VALUES (:id, :user_id, :entity_id, :title, :created_at, :updated_at)`

	if _, err := s.db.NamedExecContext(ctx, query, chat); err != nil {
		return fmt.Errorf("failed to create chat: %w", err)
	}
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*storage.Chat, error) {
	var chat storage.Chat
	err := s.db.GetContext(ctx, &chat, `SELECT * FROM chats WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chat %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return &chat, nil
}

func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE chats SET title = ?, updated_at = ? WHERE id = ?`, title, time.Now(), chatID)
	if err != nil {
		return fmt.Errorf("failed to update chat title: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("chat %s not found", chatID)
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *storage.Message) error {
	msg.CreatedAt = time.Now()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO messages (id, chat_id, role, content, model_used, created_at)
	          VALUES (:id, :chat_id, :role, :content, :model_used, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, time.Now(), msg.ChatID); err != nil {
		return fmt.Errorf("failed to update chat: %w", err)
	}

	return tx.Commit()
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]storage.Message, error) {
	var messages []storage.Message
	err := s.db.SelectContext(ctx, &messages,
		`SELECT * FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return messages, nil
}

func (s *Store) InsertUsage(ctx context.Context, entry *domain.UsageLogEntry) error {
	entry.CreatedAt = time.Now()

	query := `INSERT INTO usage_log
	          (id, user_id, entity_id, usage_type, model_used, prompt_tokens, completion_tokens, total_tokens, estimated, message_id, document_id, created_at)
	          VALUES (:id, :user_id, :entity_id, :usage_type, :model_used, :prompt_tokens, :completion_tokens, :total_tokens, :estimated, :message_id, :document_id, :created_at)`

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to insert usage entry: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
