package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// StreamMiddleware wraps opening a stream.
type StreamMiddleware func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error)

// Client routes requests to registered adapters by provider name.
type Client struct {
	providers       map[string]ProviderAdapter
	defaultProvider string
	streamMW        []StreamMiddleware
	retry           RetryPolicy
	mu              sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithProvider registers an adapter under name.
func WithProvider(name string, adapter ProviderAdapter) ClientOption {
	return func(c *Client) {
		c.providers[name] = adapter
	}
}

// WithDefaultProvider sets the provider used when a request names none.
func WithDefaultProvider(name string) ClientOption {
	return func(c *Client) {
		c.defaultProvider = name
	}
}

// WithStreamMiddleware appends stream middleware. The first registered runs
// outermost.
func WithStreamMiddleware(mw ...StreamMiddleware) ClientOption {
	return func(c *Client) {
		c.streamMW = append(c.streamMW, mw...)
	}
}

// WithRetryPolicy replaces the policy applied when a stream fails to open.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a Client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		providers: make(map[string]ProviderAdapter),
		retry:     DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.defaultProvider == "" && len(c.providers) == 1 {
		for name := range c.providers {
			c.defaultProvider = name
		}
	}
	return c
}

// RegisterProvider adds an adapter. The first one registered becomes the
// default.
func (c *Client) RegisterProvider(name string, adapter ProviderAdapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[name] = adapter
	if c.defaultProvider == "" {
		c.defaultProvider = name
	}
}

// Providers returns the registered provider names.
func (c *Client) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.providers))
	for name := range c.providers {
		names = append(names, name)
	}
	return names
}

// DefaultProvider returns the provider used for requests naming none.
func (c *Client) DefaultProvider() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultProvider
}

func (c *Client) resolveProvider(req Request) (ProviderAdapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name := req.Provider
	if name == "" && req.Model != "" {
		if info := GetModelInfo(req.Model); info != nil {
			if _, ok := c.providers[info.Provider]; ok {
				name = info.Provider
			}
		}
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: "no provider specified and no default provider configured",
		}}
	}

	adapter, ok := c.providers[name]
	if !ok {
		return nil, &ConfigurationError{SDKError: SDKError{
			Message: fmt.Sprintf("provider %q is not registered", name),
		}}
	}
	return adapter, nil
}

// Stream resolves the adapter and opens a stream through the middleware.
// Failures to open are retried per the client's policy; errors after the
// first event arrive on the channel and are never retried.
func (c *Client) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	adapter, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}
	if req.Provider == "" {
		req.Provider = adapter.Name()
	}
	if req.Model == "" {
		req.Model = DefaultModel(req.Provider)
	} else {
		req.Model = ResolveModel(req.Model)
	}

	handler := func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
		return Retry(ctx, c.retry, func(ctx context.Context) (<-chan StreamEvent, error) {
			return adapter.Stream(ctx, r)
		})
	}
	for i := len(c.streamMW) - 1; i >= 0; i-- {
		mw := c.streamMW[i]
		next := handler
		handler = func(ctx context.Context, r Request) (<-chan StreamEvent, error) {
			return mw(ctx, r, next)
		}
	}
	return handler(ctx, req)
}

// Close releases adapter resources.
func (c *Client) Close() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var errs []error
	for name, adapter := range c.providers {
		if closer, ok := adapter.(Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// LoggingMiddleware logs each stream's open, finish and failure.
func LoggingMiddleware(logger *slog.Logger) StreamMiddleware {
	return func(ctx context.Context, req Request, next func(context.Context, Request) (<-chan StreamEvent, error)) (<-chan StreamEvent, error) {
		start := time.Now()
		logger.Debug("model stream opening", "provider", req.Provider, "model", req.Model, "turns", len(req.Turns), "tools", len(req.Tools))
		in, err := next(ctx, req)
		if err != nil {
			logger.Warn("model stream failed to open", "provider", req.Provider, "model", req.Model, "error", err)
			return nil, err
		}
		out := make(chan StreamEvent)
		go func() {
			defer close(out)
			fragments := 0
			for ev := range in {
				fragments += len(ev.Fragments)
				switch ev.Type {
				case StreamFinish:
					attrs := []any{"provider", req.Provider, "fragments", fragments, "elapsed", time.Since(start)}
					if ev.Usage != nil {
						attrs = append(attrs, "input_tokens", ev.Usage.InputTokens, "output_tokens", ev.Usage.OutputTokens)
					}
					logger.Debug("model stream finished", attrs...)
				case StreamError:
					logger.Warn("model stream error", "provider", req.Provider, "error", ev.Error)
				}
				out <- ev
			}
		}()
		return out, nil
	}
}

// Environment variables read by NewClientFromEnv.
const (
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvGoogleKey    = "GOOGLE_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
)

// NewAdapter builds the adapter for a provider name. baseURL may be empty.
func NewAdapter(ctx context.Context, provider, apiKey, baseURL string) (ProviderAdapter, error) {
	switch provider {
	case ProviderGemini:
		return NewGeminiAdapter(ctx, apiKey, WithGeminiBaseURL(baseURL))
	case ProviderAnthropic:
		return NewAnthropicAdapter(apiKey, WithAnthropicBaseURL(baseURL))
	default:
		return NewGollmAdapter(provider, apiKey)
	}
}

// NewClientFromEnv registers an adapter for every provider whose API key is
// set, in the order gemini, anthropic, openai. The first becomes the default.
func NewClientFromEnv(ctx context.Context, opts ...ClientOption) *Client {
	c := NewClient(opts...)

	keys := []struct {
		provider string
		key      string
	}{
		{ProviderGemini, firstEnv(EnvGeminiKey, EnvGoogleKey)},
		{ProviderAnthropic, os.Getenv(EnvAnthropicKey)},
		{ProviderOpenAI, os.Getenv(EnvOpenAIKey)},
	}
	for _, k := range keys {
		if k.key == "" {
			continue
		}
		adapter, err := NewAdapter(ctx, k.provider, k.key, "")
		if err != nil {
			continue
		}
		c.RegisterProvider(k.provider, adapter)
	}
	return c
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
