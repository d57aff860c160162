package llm

import "context"

// CompletionRequest is a single prompt sent to the model provider.
type CompletionRequest struct {
	Model     string
	System    string
	User      string
	MaxTokens int
}

// Provider is the transport boundary to the model vendor. Implementations
// return the raw text of the model's reply; HTTP-level failures surface as
// *ProviderError so the client can classify them.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
