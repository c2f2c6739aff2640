package sapi

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cryguy/sapi/internal/core"
)

// Mode selects the engine's startup/shutdown sequencing. It is fixed for
// the lifetime of an Engine.
type Mode int

const (
	// ModeCLI runs each call with a full engine init/execute/teardown
	// cycle and keeps no state between calls.
	ModeCLI Mode = iota

	// ModeWeb initializes the engine once; each Execute call re-runs
	// request startup/shutdown around the script.
	ModeWeb

	// ModeWorker initializes the engine once per process and once per
	// worker thread; each worker parses its script once and serves many
	// requests through the blocking handshake.
	ModeWorker
)

var (
	// ErrEngineStartup wraps guest engine or bridge initialization
	// failures. Distinct from script-level failures, which surface as
	// exit statuses, never as errors.
	ErrEngineStartup = errors.New("sapi: engine startup failed")

	// ErrNotWorkerMode is returned by worker-only operations on an
	// engine configured for another mode.
	ErrNotWorkerMode = errors.New("sapi: engine is not in worker mode")

	// ErrWorkerMode is returned by Execute on a worker-mode engine;
	// requests go through a Worker there.
	ErrWorkerMode = errors.New("sapi: execute requests through a Worker in worker mode")
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithSettings supplies INI-style "key=value" engine entries, one per
// line, applied to the guest engine after startup.
func WithSettings(entries string) Option {
	return func(e *Engine) { e.settings = parseSettings(entries) }
}

// Engine drives a guest scripting engine through one of the three
// execution modes. The backend is selected at build time (QuickJS by
// default, V8 with -tags v8).
type Engine struct {
	mode     Mode
	cfg      EngineConfig
	log      *zap.Logger
	settings []core.Setting

	mu      sync.Mutex
	started bool
	backend core.EngineBackend
	host    *hostAdapter

	globalOnce sync.Once
	globalErr  error

	workers []*Worker
}

// New creates an Engine for the given mode. Nothing is initialized until
// Init, Execute, or StartWorker.
func New(mode Mode, cfg EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		mode: mode,
		cfg:  cfg,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the engine's fixed execution mode.
func (e *Engine) Mode() Mode { return e.mode }

// Init starts the engine for web mode (and the process-wide state for
// worker mode). Idempotent, and safe to retry after a failure: a failed
// attempt leaves no partial state behind. CLI mode has nothing to
// initialize.
func (e *Engine) Init() error {
	switch e.mode {
	case ModeCLI:
		return nil
	case ModeWorker:
		return e.GlobalInit()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return nil
	}

	backend := newBackend(e.cfg.options(e.settings))
	if err := backend.Startup(); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineStartup, err)
	}
	e.backend = backend
	e.host = newHostAdapter(e.log)
	e.started = true
	e.log.Info("engine started", zap.String("backend", backend.Version().Engine))
	return nil
}

// GlobalInit performs the once-per-process engine initialization required
// before worker threads start. Idempotent; the host must call it (or
// StartWorker, which calls it) before spawning workers.
func (e *Engine) GlobalInit() error {
	if e.mode != ModeWorker {
		return ErrNotWorkerMode
	}
	e.globalOnce.Do(func() {
		if err := globalStartup(); err != nil {
			e.globalErr = fmt.Errorf("%w: %w", ErrEngineStartup, err)
		}
	})
	return e.globalErr
}

// Execute runs one request in web or CLI mode and returns the script's
// exit status. Script-level failures are absorbed into the status; the
// error is reserved for startup and contract violations.
func (e *Engine) Execute(ctx *RequestContext) (int, error) {
	switch e.mode {
	case ModeWorker:
		return 0, ErrWorkerMode
	case ModeCLI:
		return e.executeOnce(ctx)
	}

	if err := e.Init(); err != nil {
		return 0, err
	}

	// One engine instance, thread-affined: calls are serialized.
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx.beginExecution(e.cfg)
	release, err := e.host.slot.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	return e.backend.Execute(e.host, ctx.ScriptFilename)
}

// executeOnce is the CLI-mode request path: a fresh engine instance per
// call, torn down before returning.
func (e *Engine) executeOnce(ctx *RequestContext) (int, error) {
	backend := newBackend(e.cfg.options(e.settings))
	if err := backend.Startup(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrEngineStartup, err)
	}
	defer backend.Shutdown()

	host := newHostAdapter(e.log)
	ctx.beginExecution(e.cfg)
	release, err := host.slot.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	return backend.Execute(host, ctx.ScriptFilename)
}

// StartWorker spawns one worker thread: per-thread engine startup, one
// parse of the worker script, then the serving loop. It returns once the
// worker is ready to accept requests.
func (e *Engine) StartWorker(scriptPath, docRoot string) (*Worker, error) {
	if e.mode != ModeWorker {
		return nil, ErrNotWorkerMode
	}
	if err := e.GlobalInit(); err != nil {
		return nil, err
	}

	w := &Worker{
		hs:      newHandshake(),
		host:    newHostAdapter(e.log),
		backend: newBackend(e.cfg.options(e.settings)),
		cfg:     e.cfg,
		log:     e.log,
		script:  scriptPath,
		docRoot: docRoot,
		exited:  make(chan struct{}),
	}

	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEngineStartup, err)
	}

	e.mu.Lock()
	e.workers = append(e.workers, w)
	e.mu.Unlock()
	return w, nil
}

// Shutdown tears the engine down: web mode releases the engine instance,
// worker mode signals every worker and waits for their threads to exit.
// Idempotent.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	workers := e.workers
	e.workers = nil
	if e.started {
		e.backend.Shutdown()
		e.backend = nil
		e.host = nil
		e.started = false
	}
	e.mu.Unlock()

	for _, w := range workers {
		w.Close()
	}
	for _, w := range workers {
		w.Wait()
	}
	if len(workers) > 0 {
		e.log.Info("all workers stopped", zap.Int("count", len(workers)))
	}
}

// Version describes the guest engine build linked into this binary.
func Version() core.VersionInfo {
	return backendVersion()
}
