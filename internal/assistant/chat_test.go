package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/expensio/assistant/internal/completion"
	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage/memory"
	"github.com/expensio/assistant/internal/tokens"
	"github.com/expensio/assistant/internal/usage"
)

// fakeCompleter scripts completion streams for orchestration tests.
type fakeCompleter struct {
	mu          sync.Mutex
	streamCalls [][]domain.Message
	visionCalls [][]domain.Message

	streamDeltas []string
	streamUsage  *domain.UsageRecord
	streamErr    error

	visionDeltas []string
	visionUsage  *domain.UsageRecord
	visionErr    error
}

func eventsFrom(deltas []string, model string, u *domain.UsageRecord, err error) <-chan completion.Event {
	out := make(chan completion.Event)
	go func() {
		defer close(out)
		for _, d := range deltas {
			out <- completion.Event{Delta: d}
		}
		if err != nil {
			out <- completion.Event{Err: err}
			return
		}
		out <- completion.Event{Done: true, Model: model, Usage: u}
	}()
	return out
}

func (f *fakeCompleter) Stream(ctx context.Context, messages []domain.Message, opts completion.Options) (<-chan completion.Event, error) {
	f.mu.Lock()
	f.streamCalls = append(f.streamCalls, messages)
	f.mu.Unlock()
	return eventsFrom(f.streamDeltas, "fake-chat-model", f.streamUsage, f.streamErr), nil
}

func (f *fakeCompleter) StreamVision(ctx context.Context, messages []domain.Message, opts completion.Options) <-chan completion.Event {
	f.mu.Lock()
	f.visionCalls = append(f.visionCalls, messages)
	f.mu.Unlock()
	return eventsFrom(f.visionDeltas, "fake-vision-model", f.visionUsage, f.visionErr)
}

// countingProvider counts context fetches.
type countingProvider struct {
	mu    sync.Mutex
	calls int
	value string
}

func (p *countingProvider) UserContext(ctx context.Context, userID, entityID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.value, nil
}

func (p *countingProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newChatFixture(t *testing.T, completer *fakeCompleter, contexts ContextProvider) (*ChatService, *memory.Store, string) {
	t.Helper()

	store := memory.New()
	recorder := usage.NewRecorder(store, tokens.NewCounter(), nil)
	svc := NewChatService(store, completer, contexts, recorder, nil)

	chat, err := svc.CreateChat(context.Background(), "user_1", "entity_1")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	return svc, store, chat.ID
}

func TestChatService_Send_NoActiveChat(t *testing.T) {
	svc, _, _ := newChatFixture(t, &fakeCompleter{streamDeltas: []string{"hi"}}, nil)

	_, err := svc.Send(context.Background(), "", "user_1", "entity_1", "hello", nil)
	if !errors.Is(err, domain.ErrNoActiveChat) {
		t.Errorf("Send() error = %v, want ErrNoActiveChat", err)
	}
}

func TestChatService_Send_PersistsBothSidesInOrder(t *testing.T) {
	completer := &fakeCompleter{streamDeltas: []string{"You spent ", "$42."}}
	svc, store, chatID := newChatFixture(t, completer, nil)

	var deltas []string
	result, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "How much did I spend?",
		func(d string) { deltas = append(deltas, d) })
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if result.Content != "You spent $42." {
		t.Errorf("result content = %q, want the full reply", result.Content)
	}
	if strings.Join(deltas, "") != result.Content {
		t.Errorf("forwarded deltas = %q, want %q", strings.Join(deltas, ""), result.Content)
	}

	msgs, err := store.ListMessages(context.Background(), chatID)
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "How much did I spend?" {
		t.Errorf("first message = %+v, want the user message", msgs[0])
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "You spent $42." {
		t.Errorf("second message = %+v, want the assistant reply", msgs[1])
	}
	if msgs[1].ModelUsed != "fake-chat-model" {
		t.Errorf("ModelUsed = %q, want fake-chat-model", msgs[1].ModelUsed)
	}
}

func TestChatService_Send_TitleFromFirstMessage(t *testing.T) {
	completer := &fakeCompleter{streamDeltas: []string{"ok"}}
	svc, store, chatID := newChatFixture(t, completer, nil)

	long := strings.Repeat("spending question ", 10)
	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", long, nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	chat, err := store.GetChat(context.Background(), chatID)
	if err != nil {
		t.Fatalf("GetChat() error = %v", err)
	}
	want := string([]rune(long)[:50]) + "..."
	if chat.Title != want {
		t.Errorf("title = %q, want %q", chat.Title, want)
	}

	// A second message must not retitle the chat.
	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "and another thing", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	chat, _ = store.GetChat(context.Background(), chatID)
	if chat.Title != want {
		t.Errorf("title after second send = %q, want unchanged", chat.Title)
	}
}

func TestChatService_Send_PromptIncludesHistoryInOrder(t *testing.T) {
	completer := &fakeCompleter{streamDeltas: []string{"first reply"}}
	svc, _, chatID := newChatFixture(t, completer, nil)

	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "first question", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "second question", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(completer.streamCalls) != 2 {
		t.Fatalf("got %d stream calls, want 2", len(completer.streamCalls))
	}
	prompt := completer.streamCalls[1]

	wantRoles := []string{domain.RoleSystem, domain.RoleUser, domain.RoleAssistant, domain.RoleUser}
	if len(prompt) != len(wantRoles) {
		t.Fatalf("prompt has %d messages, want %d", len(prompt), len(wantRoles))
	}
	for i, role := range wantRoles {
		if prompt[i].Role != role {
			t.Errorf("prompt[%d].Role = %q, want %q", i, prompt[i].Role, role)
		}
	}
	if prompt[1].Content.String() != "first question" {
		t.Errorf("prompt[1] = %q, want the first question", prompt[1].Content.String())
	}
	if prompt[2].Content.String() != "first reply" {
		t.Errorf("prompt[2] = %q, want the first reply", prompt[2].Content.String())
	}
	if prompt[3].Content.String() != "second question" {
		t.Errorf("prompt[3] = %q, want the new question", prompt[3].Content.String())
	}
}

func TestChatService_Send_ContextCaching(t *testing.T) {
	provider := &countingProvider{value: "3 pending approvals"}
	completer := &fakeCompleter{streamDeltas: []string{"ok"}}
	svc, _, chatID := newChatFixture(t, completer, provider)

	// First message always fetches.
	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "first", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := provider.callCount(); got != 1 {
		t.Fatalf("context fetches after first send = %d, want 1", got)
	}

	// A follow-up within the TTL reuses the cached context.
	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "second", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := provider.callCount(); got != 1 {
		t.Errorf("context fetches after second send = %d, want 1", got)
	}

	system := completer.streamCalls[1][0].Content.String()
	if !strings.Contains(system, "3 pending approvals") {
		t.Errorf("system prompt does not carry the user context: %q", system)
	}

	// The first message of a fresh chat bypasses the cache.
	chat, err := svc.CreateChat(context.Background(), "user_1", "entity_1")
	if err != nil {
		t.Fatalf("CreateChat() error = %v", err)
	}
	if _, err := svc.Send(context.Background(), chat.ID, "user_1", "entity_1", "new chat", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got := provider.callCount(); got != 2 {
		t.Errorf("context fetches after new chat = %d, want 2", got)
	}
}

func TestChatService_Send_StreamErrorClearsInFlightFlag(t *testing.T) {
	completer := &fakeCompleter{streamErr: errors.New("upstream exploded")}
	svc, store, chatID := newChatFixture(t, completer, nil)

	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "hello", nil); err == nil {
		t.Fatal("Send() should surface the stream error")
	}
	if svc.IsStreaming() {
		t.Error("IsStreaming() = true after a failed send")
	}

	// No assistant message should have been persisted.
	msgs, _ := store.ListMessages(context.Background(), chatID)
	if len(msgs) != 1 {
		t.Errorf("got %d messages after failure, want only the user message", len(msgs))
	}

	// The service must accept the next turn.
	completer.streamErr = nil
	completer.streamDeltas = []string{"recovered"}
	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "retry", nil); err != nil {
		t.Errorf("Send() after recovery error = %v", err)
	}
}

func TestChatService_Send_RecordsEstimatedUsage(t *testing.T) {
	// Stream completes without a usage object; the recorder estimates one.
	completer := &fakeCompleter{streamDeltas: []string{"short answer"}}
	svc, store, chatID := newChatFixture(t, completer, nil)

	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "hello", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	entries := store.UsageEntries()
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	e := entries[0]
	if e.UsageType != domain.UsageTypeChat {
		t.Errorf("usage type = %q, want chat", e.UsageType)
	}
	if !e.Estimated {
		t.Error("usage entry should be marked estimated")
	}
	if e.TotalTokens <= 0 {
		t.Errorf("total tokens = %d, want > 0", e.TotalTokens)
	}
}

func TestChatService_Send_ReportedUsageRecordedVerbatim(t *testing.T) {
	completer := &fakeCompleter{
		streamDeltas: []string{"answer"},
		streamUsage: &domain.UsageRecord{
			ModelUsed: "fake-chat-model", PromptTokens: 11, CompletionTokens: 5, TotalTokens: 16,
		},
	}
	svc, store, chatID := newChatFixture(t, completer, nil)

	if _, err := svc.Send(context.Background(), chatID, "user_1", "entity_1", "hello", nil); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	entries := store.UsageEntries()
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	if entries[0].Estimated {
		t.Error("reported usage should not be marked estimated")
	}
	if entries[0].TotalTokens != 16 {
		t.Errorf("total tokens = %d, want 16", entries[0].TotalTokens)
	}
}
