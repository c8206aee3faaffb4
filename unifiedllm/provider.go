package unifiedllm

import "context"

// ProviderAdapter is implemented by every model backend.
type ProviderAdapter interface {
	// Name returns the provider identifier ("gemini", "anthropic", "openai").
	Name() string

	// Stream opens a streamed call. The channel is closed after a finish or
	// error event. Errors opening the stream are returned directly so the
	// client can retry them.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}

// Closer is implemented by adapters that hold resources.
type Closer interface {
	Close() error
}

// send delivers ev unless ctx is done.
func send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
