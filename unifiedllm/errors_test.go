package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		kind      string
		retryable bool
	}{
		{400, "*unifiedllm.InvalidRequestError", false},
		{401, "*unifiedllm.AuthenticationError", false},
		{403, "*unifiedllm.AccessDeniedError", false},
		{404, "*unifiedllm.NotFoundError", false},
		{408, "*unifiedllm.RequestTimeoutError", true},
		{413, "*unifiedllm.ContextLengthError", false},
		{422, "*unifiedllm.InvalidRequestError", false},
		{429, "*unifiedllm.RateLimitError", true},
		{503, "*unifiedllm.ServerError", true},
		{529, "*unifiedllm.ServerError", true},
		{418, "*unifiedllm.ProviderError", false},
		{599, "*unifiedllm.ProviderError", true},
	}
	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, "upstream said no", ProviderGemini, nil, nil)
		if got := fmt.Sprintf("%T", err); got != tt.kind {
			t.Errorf("status %d: %s, want %s", tt.status, got, tt.kind)
		}
		if IsRetryable(err) != tt.retryable {
			t.Errorf("status %d: retryable = %v", tt.status, IsRetryable(err))
		}
	}
}

func TestIsRetryableZeroValues(t *testing.T) {
	final := []error{nil, &AuthenticationError{}, &ContentFilterError{}, &ConfigurationError{}, &AbortError{}, errors.New("unknown")}
	for _, err := range final {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%T) = true", err)
		}
	}
	transient := []error{&NetworkError{}, &RequestTimeoutError{}, &RateLimitError{}, &ServerError{}}
	for _, err := range transient {
		if !IsRetryable(err) {
			t.Errorf("IsRetryable(%T) = false", err)
		}
	}
}

func TestErrorMessages(t *testing.T) {
	cause := errors.New("read: connection reset by peer")
	err := ErrorFromStatusCode(429, "rate limit exceeded", ProviderAnthropic, cause, nil)
	msg := err.Error()
	if !strings.Contains(msg, "[anthropic]") || !strings.Contains(msg, "status=429") {
		t.Errorf("message = %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Error("provider error must unwrap to its cause")
	}
	if got := (&ProviderError{SDKError: SDKError{Message: "odd"}, Provider: "openai"}).Error(); got != "[openai] odd" {
		t.Errorf("message without status = %q", got)
	}
}

func TestIsRetryableWrapped(t *testing.T) {
	err := fmt.Errorf("open stream: %w", ErrorFromStatusCode(503, "overloaded", "gemini", nil, nil))
	if !IsRetryable(err) {
		t.Error("wrapped server error should be retryable")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
		check     func(error) bool
	}{
		{errors.New("status 429: RESOURCE_EXHAUSTED"), true, func(e error) bool { var x *RateLimitError; return errors.As(e, &x) }},
		{errors.New("401 Unauthorized"), false, func(e error) bool { var x *AuthenticationError; return errors.As(e, &x) }},
		{errors.New("dial tcp: connection refused"), true, func(e error) bool { var x *NetworkError; return errors.As(e, &x) }},
		{context.Canceled, false, func(e error) bool { var x *AbortError; return errors.As(e, &x) }},
		{context.DeadlineExceeded, true, func(e error) bool { var x *RequestTimeoutError; return errors.As(e, &x) }},
		{errors.New("something odd"), false, func(e error) bool { var x *ProviderError; return errors.As(e, &x) }},
	}
	for _, tt := range tests {
		got := classify("test", tt.err)
		if !tt.check(got) {
			t.Errorf("classify(%q) = %T", tt.err, got)
		}
		if IsRetryable(got) != tt.retryable {
			t.Errorf("classify(%q) retryable = %v", tt.err, IsRetryable(got))
		}
		if !errors.Is(got, tt.err) {
			t.Errorf("classify(%q) lost its cause", tt.err)
		}
	}
}
