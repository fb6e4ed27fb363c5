// Package assistant orchestrates user-facing chat turns and document
// analysis runs: context retrieval, prompt assembly, streaming, and
// persistence of the results.
package assistant

import (
	"context"

	"github.com/expensio/assistant/internal/completion"
	"github.com/expensio/assistant/internal/domain"
)

// Completer is the completion surface the orchestrators depend on,
// implemented by the model-fallback client.
type Completer interface {
	Stream(ctx context.Context, messages []domain.Message, opts completion.Options) (<-chan completion.Event, error)
	StreamVision(ctx context.Context, messages []domain.Message, opts completion.Options) <-chan completion.Event
}

// ContextProvider returns a free-text summary of the caller's pending
// tasks, recent documents and aggregates, pre-scoped by the caller's role.
// The result is safe to cache for up to five minutes.
type ContextProvider interface {
	UserContext(ctx context.Context, userID, entityID string) (string, error)
}
