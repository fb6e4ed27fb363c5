package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/expensio/assistant/internal/completion"
	"github.com/expensio/assistant/internal/docprompt"
	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage"
	"github.com/expensio/assistant/internal/stream"
	"github.com/expensio/assistant/internal/usage"
)

// analysisMinChunkSize is the sentence buffer threshold for analysis
// output. Analysis responses are long-form, so chunks are larger than the
// buffer default.
const analysisMinChunkSize = 150

// AnalyzeEvents are the optional callbacks invoked while an analysis
// streams. Either field may be nil.
type AnalyzeEvents struct {
	// OnChunk receives sentence-aligned output chunks.
	OnChunk func(chunk string)

	// OnVisionFallback fires once when the vision attempt has failed and the
	// text-only retry is about to start. Chunks delivered before this call
	// belong to the abandoned vision attempt.
	OnVisionFallback func()
}

// AnalyzeResult is the outcome of a completed document analysis.
type AnalyzeResult struct {
	MessageID string
	Content   string
	Usage     *domain.UsageRecord

	// VisionFallbackUsed is set when the vision attempt failed on image
	// processing and the analysis was retried text-only.
	VisionFallbackUsed bool
}

// AnalyzeService runs document analyses: it builds the analysis prompt,
// streams the response in sentence-aligned chunks, and degrades from a
// vision prompt to a text-only prompt when image processing fails.
type AnalyzeService struct {
	store     storage.ChatStore
	completer Completer
	recorder  *usage.Recorder
	logger    *slog.Logger

	mu        sync.Mutex
	analyzing bool
}

// NewAnalyzeService creates a document analysis service.
func NewAnalyzeService(store storage.ChatStore, completer Completer, recorder *usage.Recorder, logger *slog.Logger) *AnalyzeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalyzeService{
		store:     store,
		completer: completer,
		recorder:  recorder,
		logger:    logger,
	}
}

// IsAnalyzing reports whether an analysis is currently in flight.
func (s *AnalyzeService) IsAnalyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzing
}

// AnalyzeDocument runs one document analysis turn. Output is forwarded to
// events.OnChunk in sentence-aligned chunks; the full analysis is persisted as an
// assistant message once the stream completes. When the document has image
// content the vision model list is used first, and a vision-classified
// failure triggers a single text-only retry. At most one analysis may be in
// flight per service.
func (s *AnalyzeService) AnalyzeDocument(ctx context.Context, chatID, userID, entityID string, params domain.DocumentAnalysisParams, events AnalyzeEvents) (*AnalyzeResult, error) {
	if chatID == "" {
		return nil, domain.ErrNoActiveChat
	}

	s.mu.Lock()
	if s.analyzing {
		s.mu.Unlock()
		return nil, ErrStreamInFlight
	}
	s.analyzing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.analyzing = false
		s.mu.Unlock()
	}()

	result := &AnalyzeResult{}

	content, model, record, err := s.run(ctx, params, events.OnChunk)
	if err != nil {
		if !domain.IsVisionError(err) {
			return nil, err
		}

		s.logger.Warn("vision analysis failed, retrying text-only",
			slog.String("document_id", params.DocumentID),
			slog.String("error", err.Error()),
		)
		result.VisionFallbackUsed = true
		if events.OnVisionFallback != nil {
			events.OnVisionFallback()
		}

		content, model, record, err = s.run(ctx, params.WithoutImage(), events.OnChunk)
		if err != nil {
			return nil, err
		}
	}

	msg := &storage.Message{
		ID:        "msg_" + uuid.New().String(),
		ChatID:    chatID,
		Role:      domain.RoleAssistant,
		Content:   content,
		ModelUsed: model,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persisting analysis message: %w", err)
	}

	s.recorder.Record(ctx, usage.Entry{
		UserID:     userID,
		EntityID:   entityID,
		Type:       domain.UsageTypeDocumentAnalysis,
		Usage:      record,
		MessageID:  msg.ID,
		DocumentID: params.DocumentID,
	})

	result.MessageID = msg.ID
	result.Content = content
	result.Usage = record
	return result, nil
}

// run executes one analysis attempt end to end, re-chunking deltas through
// a fresh sentence buffer. Documents with image content go through the
// vision model list; everything else uses the chat list.
func (s *AnalyzeService) run(ctx context.Context, params domain.DocumentAnalysisParams, onChunk func(string)) (content, model string, record *domain.UsageRecord, err error) {
	messages := docprompt.Messages(params)

	emit := onChunk
	if emit == nil {
		emit = func(string) {}
	}
	buf := stream.New(analysisMinChunkSize, emit)

	var events <-chan completion.Event
	if params.HasImage() {
		events = s.completer.StreamVision(ctx, messages, completion.Options{})
	} else {
		events, err = s.completer.Stream(ctx, messages, completion.Options{})
		if err != nil {
			return "", "", nil, err
		}
	}

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
			buf.Add(ev.Delta)
		}
	}
	buf.Flush()

	content = sb.String()
	if record == nil {
		record = s.recorder.Estimate(model, messages, content)
	}
	return content, model, record, nil
}
