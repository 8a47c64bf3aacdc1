// Package worker runs the pg_web background worker: it opens the database
// session, listens on the configured port and drives the event loop from a
// latch wait until it is asked to stop or the host process goes away.
package worker

import (
	"context"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/marmos91/pgweb/internal/logger"
	"github.com/marmos91/pgweb/pkg/config"
	"github.com/marmos91/pgweb/pkg/eventloop"
	"github.com/marmos91/pgweb/pkg/guc"
	"github.com/marmos91/pgweb/pkg/host"
	"github.com/marmos91/pgweb/pkg/metrics"
	promexp "github.com/marmos91/pgweb/pkg/metrics/prometheus"
	"github.com/marmos91/pgweb/pkg/query"
	"github.com/marmos91/pgweb/pkg/router"
)

// DefaultName is the registered name of the web worker. It is the
// application_name of its database session and appears in the process
// title.
const DefaultName = "pg_web"

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// Config holds the worker parameters read once at startup.
type Config struct {
	Name string
	Web  config.WebConfig
}

// ConnectFunc opens the worker's database session.
type ConnectFunc func(ctx context.Context) (query.Session, error)

// Deps are the collaborators of a worker. Connect is required; the rest
// fall back to defaults when nil.
type Deps struct {
	// Proc receives fatal query results. Its exit hooks stop the listener
	// and close the session.
	Proc *host.Proc

	// Latch is the wait primitive. Run creates one when nil; pass one that
	// watches the host-death pipe to get host-death detection.
	Latch *host.Latch

	// Port is read once, when the listener starts.
	Port *guc.PortCell

	Connect ConnectFunc

	Metrics  *promexp.WorkerMetrics
	Registry *metrics.Registry

	// Reload runs on the worker goroutine after SIGHUP.
	Reload func()
}

// Worker is one incarnation of the web worker. It is not reusable: Run may
// be called once.
type Worker struct {
	cfg  Config
	deps Deps

	shutdown host.Flag
	reload   host.Flag
	routes   router.State

	state     atomic.Int32
	ready     chan struct{}
	addr      netip.AddrPort
	startedAt time.Time
}

// New returns a worker in the Starting state.
func New(cfg Config, deps Deps) *Worker {
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Web.Naptime <= 0 {
		cfg.Web.Naptime = config.DefaultNaptime
	}
	if deps.Proc == nil {
		deps.Proc = host.NewProc()
	}
	if deps.Port == nil {
		deps.Port = guc.NewPortCell()
	}
	return &Worker{cfg: cfg, deps: deps, ready: make(chan struct{})}
}

// State returns the current lifecycle state.
func (w *Worker) State() State { return State(w.state.Load()) }

// Ready is closed when the worker enters Listening.
func (w *Worker) Ready() <-chan struct{} { return w.ready }

// Addr is the listening address. Valid once Ready is closed.
func (w *Worker) Addr() netip.AddrPort { return w.addr }

// Counter exposes the /count state.
func (w *Worker) Counter() *router.Counter { return &w.routes.Counter }

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.deps.Metrics.SetWorkerState(s.String())
	logger.Debug("Worker state changed", logger.KeyWorker, w.cfg.Name, logger.State(s.String()))
}

// Run executes the lifecycle and returns the exit code: 0 after SIGTERM or
// ctx cancellation, 1 when the session cannot be opened, the port cannot be
// bound, or the host process died.
func (w *Worker) Run(ctx context.Context) int {
	w.startedAt = time.Now()
	w.setState(StateStarting)

	latch := w.deps.Latch
	if latch == nil {
		l, err := host.NewLatch()
		if err != nil {
			logger.Error("Could not create latch", logger.Err(err))
			return w.stop(ExitFailure)
		}
		defer func() { _ = l.Close() }()
		latch = l
	}

	bridge := host.NewSignalBridge(latch).
		Route(&w.shutdown, syscall.SIGTERM).
		Route(&w.reload, syscall.SIGHUP)
	bridge.Install()
	defer bridge.Stop()
	bridge.Unblock()

	stopWake := context.AfterFunc(ctx, latch.Set)
	defer stopWake()

	session, err := w.deps.Connect(ctx)
	if err != nil {
		logger.Error("Could not connect to database",
			logger.KeyWorker, w.cfg.Name, logger.Err(err))
		return w.stop(ExitFailure)
	}

	var (
		recorder   eventloop.MetricsRecorder
		routerOpts []router.Option
		queryOpts  []query.Option
	)
	if m := w.deps.Metrics; m != nil {
		recorder = m
		routerOpts = append(routerOpts, router.WithObserver(m))
		queryOpts = append(queryOpts, query.WithObserver(m))
	}

	exec := query.NewExecutor(session, w.deps.Proc, queryOpts...)
	closeSession := sync.OnceFunc(func() {
		if err := exec.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Error closing database session", logger.Err(err))
		}
	})
	defer closeSession()

	rt := router.New(router.DefaultRoutes(&w.routes, exec), routerOpts...)
	loop := eventloop.New(eventloop.Config{
		BindAddress:    w.cfg.Web.BindAddress,
		WriteTimeout:   w.cfg.Web.WriteTimeout,
		DrainTimeout:   w.cfg.Web.DrainTimeout,
		MaxRequestLine: w.cfg.Web.MaxRequestLine.Int(),
	}, rt, recorder)

	port, portStr := w.deps.Port.Get()
	if err := loop.Start(int(port)); err != nil {
		logger.Error("Could not start web server",
			logger.KeyWorker, w.cfg.Name, logger.KeyPort, portStr, logger.Err(err))
		closeSession()
		return w.stop(ExitFailure)
	}
	w.deps.Proc.OnExit(func() {
		loop.Stop()
		closeSession()
	})

	w.addr = loop.Addr()
	w.setState(StateListening)
	close(w.ready)

	code := w.listen(ctx, latch, loop, exec)

	w.setState(StateDraining)
	loop.Stop()
	closeSession()

	return w.stop(code)
}

// listen ticks the loop and sleeps on the latch until shutdown is
// requested or the host dies.
func (w *Worker) listen(ctx context.Context, latch *host.Latch, loop *eventloop.Loop, exec *query.Executor) int {
	const events = host.WaitLatchSet | host.WaitSocketReadable | host.WaitTimeout | host.WaitHostDeath

	// In-flight requests run to completion even when ctx is cancelled.
	tickCtx := context.WithoutCancel(ctx)

	for !w.shutdown.IsSet() && ctx.Err() == nil {
		loop.Tick(tickCtx)
		w.publishMetrics(exec)

		ev, err := latch.Wait(events, loop.WaitTimeout(w.cfg.Web.Naptime), loop.Sockets()...)
		if err != nil {
			logger.Error("Latch wait failed", logger.Err(err))
			return ExitFailure
		}
		latch.Reset()

		if ev.Has(host.WaitHostDeath) {
			logger.Error("Terminating web worker due to unexpected host process exit",
				logger.KeyWorker, w.cfg.Name)
			return ExitFailure
		}

		if w.reload.Consume() {
			logger.Info("Received SIGHUP, reloading configuration", logger.KeyWorker, w.cfg.Name)
			if w.deps.Reload != nil {
				w.deps.Reload()
			}
		}
	}

	if w.shutdown.IsSet() {
		logger.Info("Received SIGTERM, shutting down web worker", logger.KeyWorker, w.cfg.Name)
	}
	return ExitOK
}

func (w *Worker) publishMetrics(exec *query.Executor) {
	if w.deps.Registry == nil {
		return
	}
	snap := exec.Activity().Snapshot()
	w.deps.Metrics.SetActivity(snap.State.String(), snap.StateChange)
	w.deps.Metrics.SetCounterValue(w.routes.Counter.Value())

	if _, err := w.deps.Registry.MaybeFlush(); err != nil {
		logger.Warn("Could not export metrics", logger.Err(err))
	}
}

func (w *Worker) stop(code int) int {
	w.setState(StateStopped)
	if err := w.deps.Registry.Flush(); err != nil {
		logger.Warn("Could not export metrics", logger.Err(err))
	}
	logger.Info("Web worker stopped",
		logger.KeyWorker, w.cfg.Name,
		logger.ExitCode(code),
		"uptime", time.Since(w.startedAt).Round(time.Millisecond).String())
	return code
}
