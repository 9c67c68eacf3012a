package driven

import "context"

// LLMService provides chat-completion access to the hosted language model.
type LLMService interface {
	// Complete sends a system prompt and a user message and returns the
	// model's text. Subject to token-per-minute quotas; adapters surface
	// those as domain.ErrQuotaExhausted.
	Complete(ctx context.Context, system, user string, opts CompleteOptions) (string, error)

	// Close releases resources.
	Close() error
}

// CompleteOptions configures a completion call.
type CompleteOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness. Grounded answering uses 0.
	Temperature float64
}
