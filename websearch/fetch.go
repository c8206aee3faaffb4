package websearch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	fetchUserAgent    = "Mozilla/5.0 (compatible; MercuryAgent/1.0)"
	defaultFetchLimit = 512 << 10
	maxRedirects      = 3
	defaultCacheSize  = 100
	defaultCacheTTL   = 15 * time.Minute
)

// ErrBlockedHost is returned when a fetch targets a loopback or private
// address.
var ErrBlockedHost = errors.New("blocked host")

// Page is the outcome of one HTTP fetch.
type Page struct {
	URL         string `json:"url"`
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Title       string `json:"title,omitempty"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// FetchRequest describes a fetch.
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// Fetcher retrieves web pages. GET responses are cached.
type Fetcher struct {
	client       *http.Client
	cache        *expirable.LRU[string, Page]
	limit        int64
	allowPrivate bool
	logger       *slog.Logger

	cacheEntries int
	cacheTTL     time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithBodyLimit caps the bytes read from a response body.
func WithBodyLimit(n int64) FetcherOption {
	return func(f *Fetcher) { f.limit = n }
}

// WithPrivateHosts permits fetching loopback and private addresses.
func WithPrivateHosts(allow bool) FetcherOption {
	return func(f *Fetcher) { f.allowPrivate = allow }
}

// WithCache sizes the GET response cache. Non-positive values keep the
// defaults.
func WithCache(entries int, ttl time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if entries > 0 {
			f.cacheEntries = entries
		}
		if ttl > 0 {
			f.cacheTTL = ttl
		}
	}
}

// WithFetchLogger sets the logger.
func WithFetchLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		limit:        defaultFetchLimit,
		logger:       slog.Default(),
		cacheEntries: defaultCacheSize,
		cacheTTL:     defaultCacheTTL,
	}
	for _, o := range opts {
		o(f)
	}
	f.cache = expirable.NewLRU[string, Page](f.cacheEntries, nil, f.cacheTTL)
	f.client = &http.Client{
		Timeout: requestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return f.checkHost(req.URL)
		},
	}
	return f
}

// Fetch performs the request and converts HTML bodies to text.
func (f *Fetcher) Fetch(ctx context.Context, fr FetchRequest) (Page, error) {
	method := strings.ToUpper(strings.TrimSpace(fr.Method))
	if method == "" {
		method = http.MethodGet
	}
	u, err := url.Parse(fr.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Page{}, fmt.Errorf("invalid url %q: only http and https are supported", fr.URL)
	}
	if err := f.checkHost(u); err != nil {
		return Page{}, err
	}

	cacheable := method == http.MethodGet && len(fr.Headers) == 0
	if cacheable {
		if p, ok := f.cache.Get(fr.URL); ok {
			f.logger.Debug("web fetch cache hit", "url", fr.URL)
			return p, nil
		}
	}

	var body io.Reader
	if fr.Body != "" {
		body = strings.NewReader(fr.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return Page{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)
	req.Header.Set("Accept", "text/html,application/json,text/plain;q=0.9,*/*;q=0.8")
	for k, v := range fr.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("fetch %s: %w", fr.URL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.limit+1))
	if err != nil {
		return Page{}, fmt.Errorf("read body: %w", err)
	}
	page := Page{
		URL:         resp.Request.URL.String(),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
	}
	if int64(len(raw)) > f.limit {
		raw = raw[:f.limit]
		page.Truncated = true
	}
	text := string(raw)
	if strings.Contains(page.ContentType, "html") {
		page.Title = pageTitle(text)
		text = htmlToText(text)
	}
	page.Content = text

	if cacheable && resp.StatusCode < 400 {
		f.cache.Add(fr.URL, page)
	}
	return page, nil
}

func (f *Fetcher) checkHost(u *url.URL) error {
	if f.allowPrivate {
		return nil
	}
	host := u.Hostname()
	if host == "localhost" || strings.HasSuffix(host, ".localhost") || host == "metadata.google.internal" {
		return fmt.Errorf("%w: %s", ErrBlockedHost, host)
	}
	ips := []net.IP{net.ParseIP(host)}
	if ips[0] == nil {
		resolved, err := net.LookupIP(host)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", host, err)
		}
		ips = resolved
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedHost, host, ip)
		}
	}
	return nil
}
