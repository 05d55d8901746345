// Package reasoning provides the client for the external reasoning service
// that backs the assessment pipeline stages.
package reasoning

import "context"

// Message is one turn of a reasoning conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider completes a reasoning request and returns the raw model output.
// The pipeline validates the output against a per-stage schema; the provider
// makes no guarantees beyond returning text.
type Provider interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// Func adapts a function to the Provider interface. Used in tests.
type Func func(ctx context.Context, messages []Message) (string, error)

func (f Func) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}
