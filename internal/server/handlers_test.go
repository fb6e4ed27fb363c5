package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/expensio/assistant/internal/assistant"
	"github.com/expensio/assistant/internal/completion"
	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage"
	"github.com/expensio/assistant/internal/storage/memory"
	"github.com/expensio/assistant/internal/tokens"
	"github.com/expensio/assistant/internal/usage"
)

type scriptedCompleter struct {
	deltas    []string
	visionErr error
}

func (s *scriptedCompleter) events(deltas []string, model string, err error) <-chan completion.Event {
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
		out <- completion.Event{Done: true, Model: model}
	}()
	return out
}

func (s *scriptedCompleter) Stream(ctx context.Context, messages []domain.Message, opts completion.Options) (<-chan completion.Event, error) {
	return s.events(s.deltas, "test-model", nil), nil
}

func (s *scriptedCompleter) StreamVision(ctx context.Context, messages []domain.Message, opts completion.Options) <-chan completion.Event {
	return s.events(nil, "test-vision-model", s.visionErr)
}

func newTestServer(t *testing.T, completer assistant.Completer) (*httptest.Server, *memory.Store) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	recorder := usage.NewRecorder(store, tokens.NewCounter(), logger)
	chats := assistant.NewChatService(store, completer, nil, recorder, logger)
	analyses := assistant.NewAnalyzeService(store, completer, recorder, logger)

	srv := New(0, logger)
	NewHandler(chats, analyses, logger).RegisterRoutes(srv.Router)

	ts := httptest.NewServer(srv.Router)
	t.Cleanup(ts.Close)
	return ts, store
}

func createChat(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/chats", nil)
	req.Header.Set("X-User-ID", "user_1")
	req.Header.Set("X-Entity-ID", "entity_1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /v1/chats error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /v1/chats status = %d, want 201", resp.StatusCode)
	}

	var chat struct {
		ID string `json:"ID"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		t.Fatalf("decoding chat: %v", err)
	}
	if chat.ID == "" {
		t.Fatal("created chat has no ID")
	}
	return chat.ID
}

func TestHandleHealth(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestHandleSend_StreamsSSE(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{deltas: []string{"Hello", " there"}})
	chatID := createChat(t, ts)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/chats/"+chatID+"/messages",
		strings.NewReader(`{"content":"hi"}`))
	req.Header.Set("X-User-ID", "user_1")
	req.Header.Set("X-Entity-ID", "entity_1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST messages error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	got := string(body)
	if !strings.Contains(got, `data: {"content":"Hello"}`) {
		t.Errorf("body missing first delta frame:\n%s", got)
	}
	if !strings.Contains(got, "event: done") {
		t.Errorf("body missing done frame:\n%s", got)
	}
	if !strings.Contains(got, "message_id") {
		t.Errorf("done frame missing message_id:\n%s", got)
	}
}

func TestHandleSend_RequiresIdentityHeaders(t *testing.T) {
	ts, _ := newTestServer(t, &scriptedCompleter{})

	resp, err := http.Post(ts.URL+"/v1/chats/chat_x/messages", "application/json",
		strings.NewReader(`{"content":"hi"}`))
	if err != nil {
		t.Fatalf("POST messages error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleAnalyze_EmitsWarningOnVisionFallback(t *testing.T) {
	completer := &scriptedCompleter{
		deltas:    []string{"Analyzed from text only."},
		visionErr: &domain.VisionError{Message: "unable to fetch image url"},
	}
	ts, _ := newTestServer(t, completer)
	chatID := createChat(t, ts)

	payload := `{"document_id":"doc_1","document_name":"receipt.jpg","file_url":"https://x/y.jpg","mime_type":"image/jpeg"}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/chats/"+chatID+"/documents/analyze",
		strings.NewReader(payload))
	req.Header.Set("X-User-ID", "user_1")
	req.Header.Set("X-Entity-ID", "entity_1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST analyze error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	got := string(body)
	if !strings.Contains(got, "event: warning") {
		t.Errorf("body missing warning frame:\n%s", got)
	}
	if !strings.Contains(got, "Analyzed from text only.") {
		t.Errorf("body missing text-only analysis content:\n%s", got)
	}
	if !strings.Contains(got, `"vision_fallback_used":true`) {
		t.Errorf("done frame missing fallback flag:\n%s", got)
	}
}

func TestHandleHistory(t *testing.T) {
	ts, store := newTestServer(t, &scriptedCompleter{})
	chatID := createChat(t, ts)

	seedUserMessage(t, store, chatID)

	resp, err := http.Get(ts.URL + "/v1/chats/" + chatID + "/messages")
	if err != nil {
		t.Fatalf("GET messages error = %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Messages []struct {
			Content string `json:"Content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decoding history: %v", err)
	}
	if len(out.Messages) != 1 || out.Messages[0].Content != "seeded" {
		t.Errorf("history = %+v, want the seeded message", out.Messages)
	}
}

func seedUserMessage(t *testing.T, store *memory.Store, chatID string) {
	t.Helper()
	err := store.InsertMessage(context.Background(), &storage.Message{
		ID:      "msg_seed",
		ChatID:  chatID,
		Role:    domain.RoleUser,
		Content: "seeded",
	})
	if err != nil {
		t.Fatalf("seeding message: %v", err)
	}
}
