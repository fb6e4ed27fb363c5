// Package completion executes chat completion requests against a prioritized
// list of models, transparently retrying with the next model when the current
// one is unavailable.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/expensio/assistant/internal/api/completions"
	"github.com/expensio/assistant/internal/domain"
)

const (
	defaultTemperature float32 = 0.7
	defaultMaxTokens           = 2000
)

// Event is one element of a completion stream: a text fragment, the
// terminal done marker, or an error. Exactly one Done or Err event is the
// last event before the channel closes.
type Event struct {
	Delta string

	// Done marks successful stream completion. Model is the model that
	// served the stream; Usage is set only when the API reported one.
	Done  bool
	Model string
	Usage *domain.UsageRecord

	Err error
}

// Options control a single completion call.
type Options struct {
	// Model pins the call to one model; no fallback is attempted.
	Model       string
	Temperature float32 // default 0.7
	MaxTokens   int     // default 2000
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithLogger sets the logger used for fallback diagnostics.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAPIOptions passes options through to the underlying API client.
func WithAPIOptions(opts ...completions.ClientOption) ClientOption {
	return func(c *Client) {
		c.apiOpts = append(c.apiOpts, opts...)
	}
}

// Client is the model-fallback completion client.
type Client struct {
	api          *completions.Client
	chatModels   []string
	visionModels []string
	logger       *slog.Logger
	apiOpts      []completions.ClientOption
}

// New creates a fallback client over the given model priority lists.
// A missing API key is a fatal configuration error, raised here before any
// network call is possible.
func New(apiKey string, chatModels, visionModels []string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, domain.ErrMissingAPIKey
	}
	if len(chatModels) == 0 {
		return nil, errors.New("at least one chat model is required")
	}

	c := &Client{
		chatModels:   chatModels,
		visionModels: visionModels,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.api = completions.NewClient(apiKey, c.apiOpts...)
	return c, nil
}

// Stream opens a streaming completion against the chat model priority list
// and returns a channel of events. Fallback happens only while opening the
// request: a model-unavailable response or a transport failure moves on to
// the next model; any other HTTP error aborts the whole call. Once a stream
// is open, fragments are forwarded with no additional buffering.
func (c *Client) Stream(ctx context.Context, messages []domain.Message, opts Options) (<-chan Event, error) {
	models := c.candidates(opts, c.chatModels)

	for i, model := range models {
		stream, err := c.api.StreamChatCompletion(ctx, c.buildRequest(model, messages, opts))
		if err != nil {
			if c.shouldTryNext(err, i == len(models)-1) {
				continue
			}
			return nil, err
		}
		out := make(chan Event)
		go forward(stream, model, out)
		return out, nil
	}

	// Unreachable: shouldTryNext never skips the last model.
	return nil, fmt.Errorf("no completion models available")
}

// Complete executes a non-streaming completion with the same model-iteration
// and error-classification policy as Stream.
func (c *Client) Complete(ctx context.Context, messages []domain.Message, opts Options) (string, *domain.UsageRecord, error) {
	models := c.candidates(opts, c.chatModels)

	for i, model := range models {
		resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(model, messages, opts))
		if err != nil {
			if c.shouldTryNext(err, i == len(models)-1) {
				continue
			}
			return "", nil, err
		}
		if len(resp.Choices) == 0 {
			return "", nil, fmt.Errorf("completion response for model %s had no choices", model)
		}

		var usage *domain.UsageRecord
		if resp.Usage != nil {
			usage = usageRecord(model, resp.Usage)
		}
		return resp.Choices[0].Message.Content, usage, nil
	}

	return "", nil, fmt.Errorf("no completion models available")
}

// StreamVision opens a streaming completion against the vision model
// priority list. Unlike Stream, every error is classified: a vision-related
// failure stops the iteration immediately and surfaces as *domain.VisionError
// so the caller can degrade to a text-only prompt, while any other error
// moves on to the next model until the list is exhausted.
func (c *Client) StreamVision(ctx context.Context, messages []domain.Message, opts Options) <-chan Event {
	out := make(chan Event)
	models := c.candidates(opts, c.visionModels)

	go func() {
		defer close(out)

		var lastErr error
		for _, model := range models {
			stream, err := c.api.StreamChatCompletion(ctx, c.buildRequest(model, messages, opts))
			if err != nil {
				if IsVisionFailure(err.Error()) {
					out <- Event{Err: &domain.VisionError{Message: err.Error()}}
					return
				}
				c.logger.Warn("vision model failed, trying next",
					slog.String("model", model),
					slog.String("error", err.Error()),
				)
				lastErr = err
				continue
			}

			var usage *domain.UsageRecord
			failed := false
			for result := range stream {
				if result.Err != nil {
					if IsVisionFailure(result.Err.Error()) {
						out <- Event{Err: &domain.VisionError{Message: result.Err.Error()}}
						return
					}
					c.logger.Warn("vision stream failed, trying next",
						slog.String("model", model),
						slog.String("error", result.Err.Error()),
					)
					lastErr = result.Err
					failed = true
					break
				}
				if u := forwardChunk(result.Chunk, model, out); u != nil {
					usage = u
				}
			}
			if failed {
				continue
			}

			out <- Event{Done: true, Model: model, Usage: usage}
			return
		}

		if lastErr == nil {
			lastErr = errors.New("no vision models configured")
		}
		out <- Event{Err: lastErr}
	}()

	return out
}

func (c *Client) candidates(opts Options, fallback []string) []string {
	if opts.Model != "" {
		return []string{opts.Model}
	}
	return fallback
}

func (c *Client) buildRequest(model string, messages []domain.Message, opts Options) *completions.ChatCompletionRequest {
	msgs := make([]completions.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = completions.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	return &completions.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: &temperature,
		MaxTokens:   maxTokens,
	}
}

// shouldTryNext decides whether a failed attempt may fall through to the
// next model in the priority list. Model-unavailable responses and transport
// failures are recoverable unless this was the last model; any other API
// error aborts the call.
func (c *Client) shouldTryNext(err error, last bool) bool {
	if last {
		return false
	}

	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		if !modelUnavailable(apiErr) {
			return false
		}
		c.logger.Warn("model unavailable, trying next",
			slog.String("model", apiErr.Model),
			slog.Int("status", apiErr.StatusCode),
		)
		return true
	}

	// Transport-level failure (connection refused, DNS, etc.)
	c.logger.Warn("completion request failed, trying next model",
		slog.String("error", err.Error()),
	)
	return true
}

// modelUnavailable reports whether the API error indicates the model itself
// is gone rather than the request being bad.
func modelUnavailable(e *domain.APIError) bool {
	if e.StatusCode == 404 {
		return true
	}
	body := strings.ToLower(e.Body)
	return strings.Contains(body, "deprecated") || strings.Contains(body, "not found")
}

// forward relays decoded chunks as events, holding the usage record until
// the stream ends so the terminal Done event carries it. A later usage
// payload overwrites an earlier one.
func forward(stream <-chan completions.StreamResult, model string, out chan<- Event) {
	defer close(out)

	var usage *domain.UsageRecord
	for result := range stream {
		if result.Err != nil {
			out <- Event{Err: result.Err}
			return
		}
		if u := forwardChunk(result.Chunk, model, out); u != nil {
			usage = u
		}
	}

	out <- Event{Done: true, Model: model, Usage: usage}
}

// forwardChunk emits the chunk's content delta, if any, and returns a usage
// record when the chunk carries one.
func forwardChunk(chunk *completions.ChatCompletionChunk, model string, out chan<- Event) *domain.UsageRecord {
	if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
		out <- Event{Delta: chunk.Choices[0].Delta.Content}
	}
	if chunk.Usage != nil {
		return usageRecord(model, chunk.Usage)
	}
	return nil
}

func usageRecord(model string, u *completions.Usage) *domain.UsageRecord {
	return &domain.UsageRecord{
		ModelUsed:        model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}
