// Package storage defines the persistence contracts the assistant core
// depends on. Any backing store satisfying these interfaces is acceptable;
// sqlite and in-memory implementations live in subpackages.
package storage

import (
	"context"
	"time"

	"github.com/expensio/assistant/internal/domain"
)

// Chat is one conversation scoped to a user within an entity.
type Chat struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	EntityID  string    `db:"entity_id"`
	Title     string    `db:"title"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Message is one persisted chat message. Content is the flattened text of
// the message; multipart prompts are persisted as their text rendering.
type Message struct {
	ID        string    `db:"id"`
	ChatID    string    `db:"chat_id"`
	Role      string    `db:"role"`
	Content   string    `db:"content"`
	ModelUsed string    `db:"model_used"`
	CreatedAt time.Time `db:"created_at"`
}

// ChatStore persists chats and their messages.
type ChatStore interface {
	CreateChat(ctx context.Context, chat *Chat) error
	GetChat(ctx context.Context, id string) (*Chat, error)
	UpdateChatTitle(ctx context.Context, chatID, title string) error
	InsertMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatID string) ([]Message, error)
}

// UsageStore persists usage log entries.
type UsageStore interface {
	InsertUsage(ctx context.Context, entry *domain.UsageLogEntry) error
}

// Store is the full persistence surface the assistant needs.
type Store interface {
	ChatStore
	UsageStore
	Close() error
}
