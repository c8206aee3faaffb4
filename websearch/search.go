// Package websearch is the search, answer and fetch collaborator behind the
// web_ tools.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"
)

const (
	defaultCount   = 5
	maxCount       = 10
	requestTimeout = 30 * time.Second
	errorBodyChars = 200
)

// Query is a search request.
type Query struct {
	Text  string
	Count int
}

// Hit is one ranked search result.
type Hit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Answer is a direct answer with its sources.
type Answer struct {
	Text      string `json:"answer"`
	Citations []Hit  `json:"citations"`
}

// Provider is a web search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Hit, error)
}

// Answerer produces grounded answers.
type Answerer interface {
	Answer(ctx context.Context, question string) (Answer, error)
}

// clampCount keeps the requested result count within provider limits.
func clampCount(n int) int {
	if n <= 0 {
		return defaultCount
	}
	return min(n, maxCount)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// readResponse reads a provider response and turns non-2xx statuses into
// errors carrying the start of the body.
func readResponse(provider string, resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", provider, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s API returned %d: %s", provider, resp.StatusCode, truncate(string(body), errorBodyChars))
	}
	return body, nil
}
