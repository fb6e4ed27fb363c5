package tokens

import (
	"testing"

	"github.com/tiktoken-go/tokenizer"

	"github.com/expensio/assistant/internal/domain"
)

func TestModelEncoding(t *testing.T) {
	tests := []struct {
		model string
		want  tokenizer.Encoding
	}{
		{"openai/gpt-4o", tokenizer.O200kBase},
		{"openai/gpt-4o-mini", tokenizer.O200kBase},
		{"gpt-4", tokenizer.Cl100kBase},
		{"openai/gpt-3.5-turbo", tokenizer.Cl100kBase},
		{"anthropic/claude-3-5-haiku", tokenizer.O200kBase},
		{"google/gemini-flash-1.5", tokenizer.O200kBase},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelEncoding(tt.model); got != tt.want {
				t.Errorf("modelEncoding(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestCounter_CountText(t *testing.T) {
	c := NewCounter()

	got := c.CountText("openai/gpt-4o", "Hello, how much did I spend on software last month?")
	if got <= 0 {
		t.Errorf("CountText() = %d, want > 0", got)
	}

	if c.CountText("openai/gpt-4o", "") != 0 {
		t.Error("CountText(\"\") should be 0")
	}
}

func TestCounter_EstimateUsage(t *testing.T) {
	c := NewCounter()

	messages := []domain.Message{
		domain.TextMessage(domain.RoleSystem, "You are a bookkeeping assistant."),
		domain.TextMessage(domain.RoleUser, "Summarize my March expenses."),
	}
	u := c.EstimateUsage("openai/gpt-4o-mini", messages, "You spent $1,240.50 in March.")

	if !u.Estimated {
		t.Error("EstimateUsage() record not marked estimated")
	}
	if u.ModelUsed != "openai/gpt-4o-mini" {
		t.Errorf("ModelUsed = %q, want the given model", u.ModelUsed)
	}
	if u.PromptTokens <= 0 || u.CompletionTokens <= 0 {
		t.Errorf("token counts = %d / %d, want > 0", u.PromptTokens, u.CompletionTokens)
	}
	if u.TotalTokens != u.PromptTokens+u.CompletionTokens {
		t.Errorf("TotalTokens = %d, want %d", u.TotalTokens, u.PromptTokens+u.CompletionTokens)
	}

	// Per-message overhead means two empty messages still cost tokens.
	empty := c.EstimateUsage("openai/gpt-4o-mini", []domain.Message{
		domain.TextMessage(domain.RoleUser, ""),
	}, "")
	if empty.PromptTokens != 4 {
		t.Errorf("empty message prompt tokens = %d, want 4", empty.PromptTokens)
	}
}
