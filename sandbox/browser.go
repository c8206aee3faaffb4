package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// PageInfo describes the page after navigation.
type PageInfo struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Browser is the pointer and keyboard automation collaborator.
type Browser interface {
	Navigate(ctx context.Context, url string) (PageInfo, error)
	Click(ctx context.Context, x, y float64, button string, double bool) error
	Type(ctx context.Context, text string) error
	Press(ctx context.Context, key string) error
	Scroll(ctx context.Context, dx, dy float64) error
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	Close() error
}

// ErrBrowserUnavailable is returned when no browser is attached.
var ErrBrowserUnavailable = errors.New("browser not available")

// RodBrowser drives a local Chrome through the DevTools protocol. Chrome is
// launched on first use and keeps a single page.
type RodBrowser struct {
	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	headless bool
	logger   *slog.Logger
}

// RodOption configures a RodBrowser.
type RodOption func(*RodBrowser)

// WithHeadless sets headless mode.
func WithHeadless(h bool) RodOption {
	return func(b *RodBrowser) { b.headless = h }
}

// WithBrowserLogger sets the logger.
func WithBrowserLogger(l *slog.Logger) RodOption {
	return func(b *RodBrowser) { b.logger = l }
}

// NewRodBrowser creates a browser that launches lazily.
func NewRodBrowser(opts ...RodOption) *RodBrowser {
	b := &RodBrowser{headless: true, logger: slog.Default()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *RodBrowser) currentPage(ctx context.Context) (*rod.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		controlURL, err := launcher.New().
			Headless(b.headless).
			Set("disable-gpu").
			Set("no-first-run").
			Set("no-default-browser-check").
			Launch()
		if err != nil {
			return nil, fmt.Errorf("launch Chrome: %w", err)
		}
		b.logger.Info("Chrome launched", "cdp", controlURL, "headless", b.headless)

		br := rod.New().ControlURL(controlURL)
		if err := br.Connect(); err != nil {
			return nil, fmt.Errorf("connect to Chrome: %w", err)
		}
		b.browser = br
	}
	if b.page == nil {
		page, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
		if err != nil {
			return nil, fmt.Errorf("open page: %w", err)
		}
		b.page = page
	}
	return b.page.Context(ctx), nil
}

func (b *RodBrowser) Navigate(ctx context.Context, url string) (PageInfo, error) {
	page, err := b.currentPage(ctx)
	if err != nil {
		return PageInfo{}, err
	}
	if err := page.Navigate(url); err != nil {
		return PageInfo{}, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return PageInfo{}, fmt.Errorf("wait load: %w", err)
	}
	_ = page.WaitStable(300 * time.Millisecond)

	info := PageInfo{URL: url}
	if ti, err := page.Info(); err == nil && ti != nil {
		info.URL = ti.URL
		info.Title = ti.Title
	}
	return info, nil
}

func (b *RodBrowser) Click(ctx context.Context, x, y float64, button string, double bool) error {
	page, err := b.currentPage(ctx)
	if err != nil {
		return err
	}
	btn := proto.InputMouseButtonLeft
	switch button {
	case "right":
		btn = proto.InputMouseButtonRight
	case "middle":
		btn = proto.InputMouseButtonMiddle
	}
	clicks := 1
	if double {
		clicks = 2
	}
	if err := page.Mouse.MoveTo(proto.Point{X: x, Y: y}); err != nil {
		return fmt.Errorf("move pointer: %w", err)
	}
	return page.Mouse.Click(btn, clicks)
}

func (b *RodBrowser) Type(ctx context.Context, text string) error {
	page, err := b.currentPage(ctx)
	if err != nil {
		return err
	}
	return page.InsertText(text)
}

func (b *RodBrowser) Press(ctx context.Context, key string) error {
	page, err := b.currentPage(ctx)
	if err != nil {
		return err
	}
	return page.Keyboard.Press(mapKey(key))
}

func (b *RodBrowser) Scroll(ctx context.Context, dx, dy float64) error {
	page, err := b.currentPage(ctx)
	if err != nil {
		return err
	}
	return page.Mouse.Scroll(dx, dy, 1)
}

func (b *RodBrowser) Screenshot(ctx context.Context, fullPage bool) ([]byte, error) {
	page, err := b.currentPage(ctx)
	if err != nil {
		return nil, err
	}
	return page.Screenshot(fullPage, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (b *RodBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	b.page = nil
	return err
}

func mapKey(key string) input.Key {
	switch key {
	case "Enter":
		return input.Enter
	case "Tab":
		return input.Tab
	case "Escape":
		return input.Escape
	case "Backspace":
		return input.Backspace
	case "Delete":
		return input.Delete
	case "ArrowUp":
		return input.ArrowUp
	case "ArrowDown":
		return input.ArrowDown
	case "ArrowLeft":
		return input.ArrowLeft
	case "ArrowRight":
		return input.ArrowRight
	case "Home":
		return input.Home
	case "End":
		return input.End
	case "PageUp":
		return input.PageUp
	case "PageDown":
		return input.PageDown
	case "Space":
		return input.Space
	}
	if len(key) == 1 {
		return input.Key(key[0])
	}
	return input.Enter
}
