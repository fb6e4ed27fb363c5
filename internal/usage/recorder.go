// Package usage records token usage to the usage log on a best-effort
// basis. Recording is decoupled from the request lifecycle and must never
// fail an otherwise-successful chat or analysis turn.
package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/expensio/assistant/internal/domain"
	"github.com/expensio/assistant/internal/storage"
	"github.com/expensio/assistant/internal/tokens"
)

// persistTimeout bounds how long a usage insert may take once the request
// that produced it has already completed.
const persistTimeout = 5 * time.Second

// Entry describes one usage event to record.
type Entry struct {
	UserID     string
	EntityID   string
	Type       domain.UsageType
	Usage      *domain.UsageRecord
	MessageID  string
	DocumentID string
}

// Recorder writes usage log entries, estimating token counts locally when
// the API reported none.
type Recorder struct {
	store   storage.UsageStore
	counter *tokens.Counter
	logger  *slog.Logger
}

// NewRecorder creates a usage recorder.
func NewRecorder(store storage.UsageStore, counter *tokens.Counter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, counter: counter, logger: logger}
}

// Record persists one usage entry. Failures are logged and swallowed; a
// fresh context with a short timeout decouples the insert from the
// (possibly already cancelled) request context.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if r.store == nil || e.Usage == nil {
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	entry := &domain.UsageLogEntry{
		ID:               "usage_" + uuid.New().String(),
		UserID:           e.UserID,
		EntityID:         e.EntityID,
		UsageType:        e.Type,
		ModelUsed:        e.Usage.ModelUsed,
		PromptTokens:     e.Usage.PromptTokens,
		CompletionTokens: e.Usage.CompletionTokens,
		TotalTokens:      e.Usage.TotalTokens,
		Estimated:        e.Usage.Estimated,
		MessageID:        e.MessageID,
		DocumentID:       e.DocumentID,
	}

	if err := r.store.InsertUsage(persistCtx, entry); err != nil {
		r.logger.Error("failed to record usage",
			slog.String("user_id", e.UserID),
			slog.String("entity_id", e.EntityID),
			slog.String("usage_type", string(e.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// Estimate produces a local usage estimate for a completed request whose
// stream carried no usage object.
func (r *Recorder) Estimate(model string, messages []domain.Message, completion string) *domain.UsageRecord {
	if r.counter == nil {
		return nil
	}
	return r.counter.EstimateUsage(model, messages, completion)
}
