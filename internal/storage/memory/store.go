// Package memory is an in-memory implementation of the assistant stores,
// used in tests and for dev runs without a database file.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu       sync.RWMutex
	chats    map[string]*storage.Chat
	messages map[string][]storage.Message
	usage    []domain.UsageLogEntry
}

var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		chats:    make(map[string]*storage.Chat),
		messages: make(map[string][]storage.Message),
	}
}

func (s *Store) CreateChat(ctx context.Context, chat *storage.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chats[chat.ID]; exists {
		return fmt.Errorf("chat %s already exists", chat.ID)
	}

	chat.CreatedAt = time.Now()
	chat.UpdatedAt = time.Now()
	s.chats[chat.ID] = chat
	return nil
}

func (s *Store) GetChat(ctx context.Context, id string) (*storage.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.chats[id]
	if !exists {
		return nil, fmt.Errorf("chat %s not found", id)
	}
	return chat, nil
}

func (s *Store) UpdateChatTitle(ctx context.Context, chatID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.chats[chatID]
	if !exists {
		return fmt.Errorf("chat %s not found", chatID)
	}
	chat.Title = title
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg *storage.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.chats[msg.ChatID]
	if !exists {
		return fmt.Errorf("chat %s not found", msg.ChatID)
	}

	msg.CreatedAt = time.Now()
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], *msg)
	chat.UpdatedAt = time.Now()
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[chatID]
	out := make([]storage.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *Store) InsertUsage(ctx context.Context, entry *domain.UsageLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.CreatedAt = time.Now()
	s.usage = append(s.usage, *entry)
	return nil
}

// UsageEntries returns a copy of the recorded usage log, oldest first.
func (s *Store) UsageEntries() []domain.UsageLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.UsageLogEntry, len(s.usage))
	copy(out, s.usage)
	return out
}

func (s *Store) Close() error {
	return nil
}
