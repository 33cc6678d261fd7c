// Package llm provides chat-completion clients for the providers a bot tier
// can select, plus the factory that builds and instruments them.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tier names used in bot configuration and token events.
const (
	TierHigh = "high"
	TierLow  = "low"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the input for a Complete call.
type Request struct {
	Messages []Message `json:"messages"`
	// Model overrides the client's configured model.
	Model           string   `json:"model,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxTokens       int      `json:"max_tokens,omitempty"`
	ReasoningEffort string   `json:"reasoning_effort,omitempty"`
}

// Usage is the normalized token consumption of one completion. InputTokens
// counts the full prompt including the cached portion; CachedInputTokens is
// the cached subset.
type Usage struct {
	InputTokens       int `json:"input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`
}

// Response is the result of a completion.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason"`
	// Usage is nil when the provider returned no usage block.
	Usage *Usage `json:"usage,omitempty"`
}

// Client is a chat-completion client bound to one provider account.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Name returns the provider identifier ("openai", "anthropic").
	Name() string
	// Model returns the configured model for this client.
	Model() string
}
