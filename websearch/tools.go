package websearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/martinemde/mercury/tools"
)

// ErrNotConfigured is returned when no provider is available for a call.
var ErrNotConfigured = errors.New("web search is not configured")

// SearchData is the payload of a web_search call.
type SearchData struct {
	Query        string `json:"query"`
	Results      []Hit  `json:"results"`
	TotalResults int    `json:"totalResults"`
	Provider     string `json:"provider"`
}

// AnswerData is the payload of a web_answer call.
type AnswerData struct {
	Query     string `json:"query"`
	Answer    string `json:"answer"`
	Citations []Hit  `json:"citations"`
}

// Service binds search providers and a fetcher to the web tools. Providers
// are tried in order until one succeeds.
type Service struct {
	providers []Provider
	answerer  Answerer
	fetcher   *Fetcher
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithProviders sets the search providers in priority order.
func WithProviders(p ...Provider) ServiceOption {
	return func(s *Service) { s.providers = append(s.providers, p...) }
}

// WithAnswerer sets the backend for web_answer.
func WithAnswerer(a Answerer) ServiceOption {
	return func(s *Service) { s.answerer = a }
}

// WithFetcher sets the fetcher for web_fetch.
func WithFetcher(f *Fetcher) ServiceOption {
	return func(s *Service) { s.fetcher = f }
}

// WithLimiter throttles outbound calls.
func WithLimiter(l *rate.Limiter) ServiceOption {
	return func(s *Service) { s.limiter = l }
}

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service. A fetcher is always present.
func NewService(opts ...ServiceOption) *Service {
	s := &Service{logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.fetcher == nil {
		s.fetcher = NewFetcher(WithFetchLogger(s.logger))
	}
	return s
}

// Ready reports whether a search provider is configured.
func (s *Service) Ready() bool { return len(s.providers) > 0 }

// Register binds the web tools.
func (s *Service) Register(r *tools.Registry) {
	r.Register(tools.WebSearch, s.search)
	r.Register(tools.WebFetch, s.fetch)
	r.Register(tools.WebAnswer, s.answer)
}

func (s *Service) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// Search queries each provider in turn.
func (s *Service) Search(ctx context.Context, q Query) (SearchData, error) {
	if len(s.providers) == 0 {
		return SearchData{}, ErrNotConfigured
	}
	if err := s.wait(ctx); err != nil {
		return SearchData{}, err
	}
	var errs []error
	for _, p := range s.providers {
		hits, err := p.Search(ctx, q)
		if err != nil {
			s.logger.Warn("web search provider failed", "provider", p.Name(), "error", err)
			errs = append(errs, err)
			continue
		}
		return SearchData{Query: q.Text, Results: hits, TotalResults: len(hits), Provider: p.Name()}, nil
	}
	return SearchData{}, errors.Join(errs...)
}

func (s *Service) search(ctx context.Context, args tools.Args) tools.Result {
	query, err := args.Require("query")
	if err != nil {
		return tools.Fail(err.Error())
	}
	n, _ := args.Int("numResults")
	data, err := s.Search(ctx, Query{Text: query, Count: clampCount(n)})
	if err != nil {
		return tools.Failf("search failed: %v", err)
	}
	return tools.OK(data)
}

func (s *Service) fetch(ctx context.Context, args tools.Args) tools.Result {
	u, err := args.Require("url")
	if err != nil {
		return tools.Fail(err.Error())
	}
	if err := s.wait(ctx); err != nil {
		return tools.Fail(err.Error())
	}
	page, err := s.fetcher.Fetch(ctx, FetchRequest{
		URL:     u,
		Method:  args.StringOr("method", "GET"),
		Headers: args.StringMap("headers"),
		Body:    args.StringOr("body", ""),
	})
	if err != nil {
		return tools.Fail(err.Error())
	}
	if page.Status >= 400 {
		return tools.Result{Success: false, Data: page, Error: fmt.Sprintf("HTTP %d", page.Status)}
	}
	return tools.OK(page)
}

func (s *Service) answer(ctx context.Context, args tools.Args) tools.Result {
	query, err := args.Require("query")
	if err != nil {
		return tools.Fail(err.Error())
	}
	if s.answerer == nil {
		return tools.Fail(ErrNotConfigured.Error())
	}
	if err := s.wait(ctx); err != nil {
		return tools.Fail(err.Error())
	}
	a, err := s.answerer.Answer(ctx, query)
	if err != nil {
		return tools.Failf("answer failed: %v", err)
	}
	return tools.OK(AnswerData{Query: query, Answer: a.Text, Citations: a.Citations})
}
