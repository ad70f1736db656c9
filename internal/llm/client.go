package llm

import "context"

// Client is the single external capability the core depends on: one
// chat-style completion call. Network, quota and malformed-payload failures
// all surface as a plain error; every call site converts that error into its
// documented degraded fallback instead of propagating it.
type Client interface {
	Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error)
}

// ClientFunc adapts a function to the Client interface. Used by tests to
// script model replies.
type ClientFunc func(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error)

func (f ClientFunc) Complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	return f(ctx, system, user, temperature, maxTokens)
}
