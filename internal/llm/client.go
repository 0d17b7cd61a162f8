package llm

import "context"

// Client abstracts the generative-AI completion service.
type Client interface {
	// Complete sends the question (with optional context) and returns the
	// completion text.
	Complete(ctx context.Context, contexto, pergunta string) (string, error)
	// Ping performs a minimal connectivity check.
	Ping(ctx context.Context) error
}
