package websearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const exaEndpoint = "https://api.exa.ai"

// ExaProvider searches and answers through the Exa API.
type ExaProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// ExaOption configures an ExaProvider.
type ExaOption func(*ExaProvider)

// WithExaBaseURL overrides the API endpoint.
func WithExaBaseURL(u string) ExaOption {
	return func(p *ExaProvider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithExaHTTPClient sets the HTTP client.
func WithExaHTTPClient(c *http.Client) ExaOption {
	return func(p *ExaProvider) { p.client = c }
}

// NewExaProvider creates an Exa-backed provider.
func NewExaProvider(apiKey string, opts ...ExaOption) *ExaProvider {
	p := &ExaProvider{
		apiKey:  apiKey,
		baseURL: exaEndpoint,
		client:  &http.Client{Timeout: requestTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *ExaProvider) Name() string { return "exa" }

func (p *ExaProvider) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("exa: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("exa: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("exa: request failed: %w", err)
	}
	data, err := readResponse("exa", resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("exa: parse response: %w", err)
	}
	return nil
}

func (p *ExaProvider) Search(ctx context.Context, q Query) ([]Hit, error) {
	payload := map[string]any{
		"query":      q.Text,
		"numResults": clampCount(q.Count),
		"type":       "auto",
		"contents": map[string]any{
			"text": map[string]any{"maxCharacters": 500},
		},
	}
	var resp struct {
		Results []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Text  string `json:"text"`
		} `json:"results"`
	}
	if err := p.post(ctx, "/search", payload, &resp); err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(resp.Results))
	for _, r := range resp.Results {
		hits = append(hits, Hit{Title: r.Title, URL: r.URL, Snippet: strings.TrimSpace(r.Text)})
	}
	return hits, nil
}

func (p *ExaProvider) Answer(ctx context.Context, question string) (Answer, error) {
	var resp struct {
		Answer    string `json:"answer"`
		Citations []struct {
			Title string `json:"title"`
			URL   string `json:"url"`
			Text  string `json:"text"`
		} `json:"citations"`
	}
	if err := p.post(ctx, "/answer", map[string]any{"query": question}, &resp); err != nil {
		return Answer{}, err
	}
	a := Answer{Text: resp.Answer, Citations: make([]Hit, 0, len(resp.Citations))}
	for _, c := range resp.Citations {
		a.Citations = append(a.Citations, Hit{Title: c.Title, URL: c.URL, Snippet: truncate(c.Text, 300)})
	}
	return a, nil
}
