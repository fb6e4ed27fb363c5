// Package tokens provides local token counting for usage accounting when
// the completion API omits a usage object.
package tokens

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/expensio/assistant/internal/domain"
)

// charsPerToken is the estimator ratio used when no tokenizer encoding is
// available for a model.
const charsPerToken = 4.0

// Counter counts tokens with tiktoken where an encoding is known, falling
// back to a character-based estimate otherwise.
type Counter struct {
	mu         sync.RWMutex
	codecCache map[tokenizer.Encoding]tokenizer.Codec
}

// NewCounter creates a new counter.
func NewCounter() *Counter {
	return &Counter{
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

// modelEncoding maps a model identifier to a tokenizer encoding. Priority
// list entries are provider-prefixed ("openai/gpt-4o"), so match on the
// bare model segment.
func modelEncoding(model string) tokenizer.Encoding {
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"), strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.Cl100kBase
	default:
		// Most current models tokenize closest to o200k_base.
		return tokenizer.O200kBase
	}
}

func (c *Counter) codec(model string) (tokenizer.Codec, error) {
	encoding := modelEncoding(model)

	c.mu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.mu.RUnlock()
		return cached, nil
	}
	c.mu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.codecCache[encoding] = codec
	c.mu.Unlock()

	return codec, nil
}

// CountText counts tokens for a plain text string. Falls back to the
// character estimate if the tokenizer is unavailable.
func (c *Counter) CountText(model, text string) int {
	codec, err := c.codec(model)
	if err != nil {
		return int(float64(len(text)) / charsPerToken)
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return int(float64(len(text)) / charsPerToken)
	}
	return len(ids)
}

// EstimateUsage builds an estimated usage record for a completed request
// whose stream reported no usage object. The result is marked Estimated.
func (c *Counter) EstimateUsage(model string, messages []domain.Message, completion string) *domain.UsageRecord {
	prompt := 0
	for _, msg := range messages {
		// Per-message role and framing overhead.
		prompt += 4
		prompt += c.CountText(model, msg.Content.String())
	}

	completionTokens := c.CountText(model, completion)

	return &domain.UsageRecord{
		ModelUsed:        model,
		PromptTokens:     prompt,
		CompletionTokens: completionTokens,
		TotalTokens:      prompt + completionTokens,
		Estimated:        true,
	}
}
