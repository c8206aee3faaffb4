package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// NotReadyMessage is returned by live dispatch while no backend is attached.
const NotReadyMessage = "System not ready. Sandbox is not connected."

// UnknownToolMessage is returned for names outside the catalogue.
const UnknownToolMessage = "unknown tool"

// Readiness reports whether the live collaborators can serve calls.
type Readiness interface {
	IsReady() bool
}

// ReadinessFunc adapts a function to Readiness.
type ReadinessFunc func() bool

func (f ReadinessFunc) IsReady() bool { return f() }

// Refresher receives the asynchronous refresh signal after a side effect.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Mode selects how the dispatcher treats a not-ready runtime.
type Mode string

const (
	// ModeAuto runs live when ready and falls back to the mock otherwise.
	ModeAuto Mode = "auto"
	// ModeMock always runs the mock executor.
	ModeMock Mode = "mock"
	// ModeLive always runs live and reports not-ready as a failure.
	ModeLive Mode = "live"
)

// ParseMode validates a mode string. Empty selects ModeAuto.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeMock, ModeLive:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown tool mode %q", s)
}

// Dispatcher routes tool calls to live or mock executors and normalizes every
// outcome to Result. It never returns an error and never panics.
type Dispatcher struct {
	live      *Registry
	mock      *Registry
	readiness Readiness
	refresher Refresher
	mode      Mode
	local     map[Name]bool
	limiters  map[Namespace]*rate.Limiter

	refreshTimeout time.Duration
	logger         *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMock sets the registry used when the runtime is not ready.
func WithMock(r *Registry) DispatcherOption {
	return func(d *Dispatcher) { d.mock = r }
}

// WithReadiness sets the readiness predicate checked on every call.
func WithReadiness(r Readiness) DispatcherOption {
	return func(d *Dispatcher) { d.readiness = r }
}

// WithRefresher sets the observer notified after successful side effects.
func WithRefresher(r Refresher) DispatcherOption {
	return func(d *Dispatcher) { d.refresher = r }
}

// WithMode sets the dispatch mode.
func WithMode(m Mode) DispatcherOption {
	return func(d *Dispatcher) { d.mode = m }
}

// WithLocalTools marks tools that hold in-process state and always run live,
// whatever the runtime readiness.
func WithLocalTools(names ...Name) DispatcherOption {
	return func(d *Dispatcher) {
		for _, n := range names {
			d.local[n] = true
		}
	}
}

// WithRateLimit throttles calls in one namespace.
func WithRateLimit(ns Namespace, l *rate.Limiter) DispatcherOption {
	return func(d *Dispatcher) { d.limiters[ns] = l }
}

// WithRefreshTimeout bounds each refresh signal.
func WithRefreshTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.refreshTimeout = t }
}

// WithDispatcherLogger sets the logger.
func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// NewDispatcher creates a Dispatcher over the live registry.
func NewDispatcher(live *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		live:           live,
		mode:           ModeAuto,
		local:          make(map[Name]bool),
		limiters:       make(map[Namespace]*rate.Limiter),
		refreshTimeout: 30 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.live == nil {
		d.live = NewRegistry()
	}
	return d
}

// Mode returns the configured dispatch mode.
func (d *Dispatcher) Mode() Mode { return d.mode }

// Execute runs one tool call.
func (d *Dispatcher) Execute(ctx context.Context, name string, raw json.RawMessage) Result {
	n, ok := ParseName(name)
	if !ok {
		d.logger.Warn("unknown tool requested", "tool", name)
		return Fail(UnknownToolMessage)
	}
	args, err := ParseArgs(raw)
	if err != nil {
		return Fail(err.Error())
	}

	exec, route, res := d.route(n)
	if exec == nil {
		return res
	}

	if l := d.limiters[n.Namespace()]; l != nil {
		if err := l.Wait(ctx); err != nil {
			return Failf("rate limit: %v", err)
		}
	}

	start := time.Now()
	result := d.invoke(ctx, n, exec, args)
	d.logger.Debug("tool executed",
		"tool", n,
		"route", route,
		"duration", time.Since(start),
		"success", !result.Failed(),
	)

	if route == "live" && !result.Failed() && n.HasSideEffects() {
		d.signalRefresh(ctx, n)
	}
	return result
}

// route picks the executor once for this call. A nil executor comes with
// the failure to return.
func (d *Dispatcher) route(n Name) (Executor, string, Result) {
	if d.local[n] {
		if exec := d.live.Lookup(n); exec != nil {
			return exec, "live", Result{}
		}
	}

	useLive := false
	switch d.mode {
	case ModeMock:
	case ModeLive:
		if !d.ready() {
			return nil, "live", Fail(NotReadyMessage)
		}
		useLive = true
	default:
		useLive = d.ready()
	}

	if useLive {
		if exec := d.live.Lookup(n); exec != nil {
			return exec, "live", Result{}
		}
		return nil, "live", Failf("tool not available: %s", n)
	}
	if d.mock != nil {
		if exec := d.mock.Lookup(n); exec != nil {
			return exec, "mock", Result{}
		}
	}
	return nil, "mock", Fail(NotReadyMessage)
}

func (d *Dispatcher) ready() bool {
	return d.readiness != nil && d.readiness.IsReady()
}

func (d *Dispatcher) invoke(ctx context.Context, n Name, exec Executor, args Args) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("tool panicked", "tool", n, "panic", r)
			result = Fail(fmt.Sprint(r))
		}
	}()
	return exec(ctx, args)
}

func (d *Dispatcher) signalRefresh(ctx context.Context, n Name) {
	if d.refresher == nil {
		return
	}
	refreshCtx := context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(refreshCtx, d.refreshTimeout)
		defer cancel()
		if err := d.refresher.Refresh(ctx); err != nil {
			d.logger.Warn("refresh after tool failed", "tool", n, "error", err)
		}
	}()
}
