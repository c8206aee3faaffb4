// Package toolset wires every catalogue tool to its live collaborator and
// builds the dispatcher the agent loop calls.
package toolset

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/martinemde/mercury/filetree"
	"github.com/martinemde/mercury/planner"
	"github.com/martinemde/mercury/sandbox"
	"github.com/martinemde/mercury/sourcecontrol"
	"github.com/martinemde/mercury/tools"
	"github.com/martinemde/mercury/websearch"
)

// Options tunes the dispatcher built by New.
type Options struct {
	Mode tools.Mode
	// Latency shapes mock executor delays. Nil means none.
	Latency tools.LatencyFunc
	// WebRate and WebBurst throttle web_ calls. Zero disables throttling.
	WebRate  rate.Limit
	WebBurst int
	// RefreshTimeout bounds each file-tree refresh. Zero means 30s.
	RefreshTimeout time.Duration
	Logger         *slog.Logger
}

// Toolset holds the collaborators behind the tools.
type Toolset struct {
	Runtime    *sandbox.Runtime
	Todos      *planner.Store
	Web        *websearch.Service
	GitHub     *sourcecontrol.GitHub
	Tree       *filetree.Tree
	Registry   *tools.Registry
	Dispatcher *tools.Dispatcher
}

// New binds all live executors and builds the dispatcher. The sandbox
// runtime's readiness is the one switch between live and mock for every
// tool except the planner to-dos, which hold in-process state and always run
// live.
func New(rt *sandbox.Runtime, todos *planner.Store, web *websearch.Service, gh *sourcecontrol.GitHub, opts Options) *Toolset {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reg := tools.NewRegistry()
	bindSandbox(reg, rt)
	todos.Register(reg)
	web.Register(reg)
	gh.Register(reg, rt)

	mode := opts.Mode
	if mode == "" {
		mode = tools.ModeAuto
	}

	local := append([]tools.Name(nil), planner.LocalTools...)

	tree := filetree.New(rt, filetree.WithLogger(logger))

	latency := opts.Latency
	if latency == nil {
		latency = tools.NoLatency
	}
	refreshTimeout := opts.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = 30 * time.Second
	}
	dopts := []tools.DispatcherOption{
		tools.WithMock(tools.NewMockRegistry(latency)),
		tools.WithReadiness(tools.ReadinessFunc(rt.IsReady)),
		tools.WithRefresher(tree),
		tools.WithMode(mode),
		tools.WithLocalTools(local...),
		tools.WithRefreshTimeout(refreshTimeout),
		tools.WithDispatcherLogger(logger),
	}
	if opts.WebRate > 0 {
		burst := opts.WebBurst
		if burst <= 0 {
			burst = 1
		}
		dopts = append(dopts, tools.WithRateLimit(tools.NamespaceWeb, rate.NewLimiter(opts.WebRate, burst)))
	}

	return &Toolset{
		Runtime:    rt,
		Todos:      todos,
		Web:        web,
		GitHub:     gh,
		Tree:       tree,
		Registry:   reg,
		Dispatcher: tools.NewDispatcher(reg, dopts...),
	}
}
