package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/expensio/assistant/internal/completion"
	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage"
	"github.com/expensio/assistant/internal/usage"
)

const (
	// titleMaxRunes is how much of the first user message becomes the chat
	// title before truncation.
	titleMaxRunes = 50

	// contextTTL is how long a fetched user context stays reusable.
	contextTTL = 5 * time.Minute
)

// ErrStreamInFlight is returned when a chat turn is requested while a
// previous one on the same service is still streaming.
var ErrStreamInFlight = errors.New("a response is already streaming")

type contextCache struct {
	value     string
	fetchedAt time.Time
}

// SendResult is the outcome of a completed chat turn.
type SendResult struct {
	MessageID string
	Content   string
	Usage     *domain.UsageRecord
}

// ChatService runs chat turns: it assembles the prompt from history and
// user context, streams the model response, and persists both sides of the
// exchange.
type ChatService struct {
	store     storage.ChatStore
	completer Completer
	contexts  ContextProvider
	recorder  *usage.Recorder
	logger    *slog.Logger

	mu        sync.Mutex
	streaming bool
	cache     contextCache
}

// NewChatService creates a chat service. contexts may be nil, in which case
// turns run with the behavioral policy alone.
func NewChatService(store storage.ChatStore, completer Completer, contexts ContextProvider, recorder *usage.Recorder, logger *slog.Logger) *ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatService{
		store:     store,
		completer: completer,
		contexts:  contexts,
		recorder:  recorder,
		logger:    logger,
	}
}

// IsStreaming reports whether a turn is currently in flight.
func (s *ChatService) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// Send runs one chat turn. Deltas are forwarded to onDelta as they arrive;
// the full assistant message is persisted once the stream completes. At most
// one turn may be in flight per service.
func (s *ChatService) Send(ctx context.Context, chatID, userID, entityID, content string, onDelta func(delta string)) (*SendResult, error) {
	if chatID == "" {
		return nil, domain.ErrNoActiveChat
	}

	s.mu.Lock()
	if s.streaming {
		s.mu.Unlock()
		return nil, ErrStreamInFlight
	}
	s.streaming = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.streaming = false
		s.mu.Unlock()
	}()

	history, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("loading chat history: %w", err)
	}
	firstMessage := len(history) == 0

	userMsg := &storage.Message{
		ID:      "msg_" + uuid.New().String(),
		ChatID:  chatID,
		Role:    domain.RoleUser,
		Content: content,
	}
	if err := s.store.InsertMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}

	if firstMessage {
		if err := s.store.UpdateChatTitle(ctx, chatID, deriveTitle(content)); err != nil {
			return nil, fmt.Errorf("setting chat title: %w", err)
		}
	}

	userContext, err := s.userContext(ctx, userID, entityID, firstMessage)
	if err != nil {
		return nil, fmt.Errorf("fetching user context: %w", err)
	}

	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.TextMessage(domain.RoleSystem, systemPrompt(userContext)))
	for _, m := range history {
		messages = append(messages, domain.TextMessage(m.Role, m.Content))
	}
	messages = append(messages, domain.TextMessage(domain.RoleUser, content))

	events, err := s.completer.Stream(ctx, messages, completion.Options{})
	if err != nil {
		return nil, err
	}

	reply, model, record, err := consume(events, onDelta)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = s.recorder.Estimate(model, messages, reply)
	}

	assistantMsg := &storage.Message{
		ID:        "msg_" + uuid.New().String(),
		ChatID:    chatID,
		Role:      domain.RoleAssistant,
		Content:   reply,
		ModelUsed: model,
	}
	if err := s.store.InsertMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("persisting assistant message: %w", err)
	}

	s.recorder.Record(ctx, usage.Entry{
		UserID:    userID,
		EntityID:  entityID,
		Type:      domain.UsageTypeChat,
		Usage:     record,
		MessageID: assistantMsg.ID,
	})

	return &SendResult{MessageID: assistantMsg.ID, Content: reply, Usage: record}, nil
}

// CreateChat starts a new untitled chat for the caller. The title is set
// from the first message later.
func (s *ChatService) CreateChat(ctx context.Context, userID, entityID string) (*storage.Chat, error) {
	chat := &storage.Chat{
		ID:       "chat_" + uuid.New().String(),
		UserID:   userID,
		EntityID: entityID,
		Title:    "New chat",
	}
	if err := s.store.CreateChat(ctx, chat); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

// History returns the persisted messages of a chat in insertion order.
func (s *ChatService) History(ctx context.Context, chatID string) ([]storage.Message, error) {
	if chatID == "" {
		return nil, domain.ErrNoActiveChat
	}
	return s.store.ListMessages(ctx, chatID)
}

// userContext returns the cached context when it is fresh enough, otherwise
// fetches a new one. The first message of a chat always fetches.
func (s *ChatService) userContext(ctx context.Context, userID, entityID string, firstMessage bool) (string, error) {
	if s.contexts == nil {
		return "", nil
	}

	s.mu.Lock()
	cached := s.cache
	s.mu.Unlock()

	if !firstMessage && !cached.fetchedAt.IsZero() && time.Since(cached.fetchedAt) < contextTTL {
		return cached.value, nil
	}

	value, err := s.contexts.UserContext(ctx, userID, entityID)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.cache = contextCache{value: value, fetchedAt: time.Now()}
	s.mu.Unlock()

	return value, nil
}

// consume drains a completion event stream, forwarding deltas and returning
// the accumulated reply together with the serving model and any reported
// usage.
func consume(events <-chan completion.Event, onDelta func(string)) (reply, model string, record *domain.UsageRecord, err error) {
	var sb strings.Builder
	for ev := range events {
		switch {
		case ev.Err != nil:
			return "", "", nil, ev.Err
		case ev.Done:
			model = ev.Model
			record = ev.Usage
		case ev.Delta != "":
			sb.WriteString(ev.Delta)
			if onDelta != nil {
				onDelta(ev.Delta)
			}
		}
	}
	return sb.String(), model, record, nil
}

func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes]) + "..."
}
