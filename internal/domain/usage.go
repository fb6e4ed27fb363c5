package domain

import "time"

// Usage represents token usage as reported by the completion API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageRecord is token accounting for one completed request, tagged with
// the model that actually served it. Produced at most once per stream.
type UsageRecord struct {
	ModelUsed        string `json:"model_used"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`

	// Estimated is set when the API reported no usage and the counts were
	// derived from a local tokenizer instead.
	Estimated bool `json:"estimated,omitempty"`
}

// UsageType categorizes a usage log entry.
type UsageType string

const (
	UsageTypeChat             UsageType = "chat"
	UsageTypeDocumentAnalysis UsageType = "document_analysis"
)

// UsageLogEntry is one row of the usage log, keyed by user, entity and
// usage type for billing and telemetry.
type UsageLogEntry struct {
	ID               string    `json:"id" db:"id"`
	UserID           string    `json:"user_id" db:"user_id"`
	EntityID         string    `json:"entity_id" db:"entity_id"`
	UsageType        UsageType `json:"usage_type" db:"usage_type"`
	ModelUsed        string    `json:"model_used" db:"model_used"`
	PromptTokens     int       `json:"prompt_tokens" db:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens" db:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens" db:"total_tokens"`
	Estimated        bool      `json:"estimated" db:"estimated"`
	MessageID        string    `json:"message_id,omitempty" db:"message_id"`
	DocumentID       string    `json:"document_id,omitempty" db:"document_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}
