package sapi

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cryguy/sapi/internal/core"
)

var (
	// ErrRequestPending means SetPendingRequest was called while a prior
	// request on the same worker had not completed. The handshake is
	// strictly one-outstanding-request-per-worker; queueing belongs to a
	// scheduler above this layer.
	ErrRequestPending = errors.New("sapi: request already pending on worker")

	// ErrWorkerClosed means the worker has been shut down or its serving
	// loop has exited.
	ErrWorkerClosed = errors.New("sapi: worker is closed")
)

// workerPhase tracks where a worker thread is in its serving cycle.
type workerPhase int32

const (
	phaseIdle workerPhase = iota
	phaseAwaiting
	phaseServing
	phaseTerminated
)

// handshake is the single-slot rendezvous between the host and one worker
// thread. The worker blocks in next — the only suspension point in the
// bridge — until the host hands over a request or closes the quit
// channel. Completion flows back on done; inflight enforces the
// one-outstanding-request contract.
type handshake struct {
	requests chan *RequestContext
	done     chan int
	quit     chan struct{}
	quitOnce sync.Once
	inflight atomic.Bool
	phase    atomic.Int32
}

func newHandshake() *handshake {
	return &handshake{
		requests: make(chan *RequestContext, 1),
		done:     make(chan int, 1),
		quit:     make(chan struct{}),
	}
}

// dispatch hands a request to the worker. It never blocks: the inflight
// guard guarantees the slot is free, so the buffered send succeeds
// immediately and wakes the waiting worker.
func (h *handshake) dispatch(ctx *RequestContext) error {
	if !h.inflight.CompareAndSwap(false, true) {
		return ErrRequestPending
	}
	// Checked before the send: with the buffered slot free, a combined
	// select would pick between the two ready cases at random and let a
	// dispatch slip through after close.
	select {
	case <-h.quit:
		h.inflight.Store(false)
		return ErrWorkerClosed
	default:
	}
	select {
	case h.requests <- ctx:
		return nil
	case <-h.quit:
		h.inflight.Store(false)
		return ErrWorkerClosed
	}
}

// awaitDone blocks until the worker signals completion of the dispatched
// request, returning its exit status.
func (h *handshake) awaitDone(exited <-chan struct{}) (int, error) {
	select {
	case status := <-h.done:
		h.inflight.Store(false)
		return status, nil
	case <-exited:
		// The loop may have finished the request just before exiting.
		select {
		case status := <-h.done:
			h.inflight.Store(false)
			return status, nil
		default:
			return 0, ErrWorkerClosed
		}
	}
}

// next is the worker-side wait primitive. The calling thread sleeps until
// a request arrives or shutdown is signaled; it never busy-polls.
func (h *handshake) next() (*RequestContext, bool) {
	h.phase.Store(int32(phaseAwaiting))
	select {
	case ctx := <-h.requests:
		h.phase.Store(int32(phaseServing))
		return ctx, true
	case <-h.quit:
		h.phase.Store(int32(phaseTerminated))
		return nil, false
	}
}

// finish signals the current request's completion back to the host.
// With one request outstanding the buffered send cannot block.
func (h *handshake) finish(status int) {
	h.phase.Store(int32(phaseAwaiting))
	h.done <- status
}

func (h *handshake) close() {
	h.quitOnce.Do(func() { close(h.quit) })
}

func (h *handshake) state() workerPhase {
	return workerPhase(h.phase.Load())
}

// Worker is a long-lived thread that keeps one initialized engine
// instance warm across many sequential requests. The engine, its loaded
// worker program, and the request being served are all affined to the
// worker's OS thread; the host interacts only through SetPendingRequest,
// Await, and Close.
type Worker struct {
	hs      *handshake
	host    *hostAdapter
	backend core.EngineBackend
	cfg     EngineConfig
	log     *zap.Logger

	script  string
	docRoot string

	exited chan struct{}
}

// run is the worker thread body: per-thread engine startup, one parse of
// the worker script, then the serving loop. ready receives the startup
// outcome exactly once.
func (w *Worker) run(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.exited)
	defer w.hs.phase.Store(int32(phaseTerminated))

	if err := w.backend.Startup(); err != nil {
		ready <- err
		return
	}
	defer w.backend.Shutdown()

	prog, err := w.backend.LoadWorker(w.host, w.script)
	if err != nil {
		ready <- err
		return
	}
	defer prog.Close()
	ready <- nil

	w.log.Info("worker ready", zap.String("script", w.script))

	for {
		ctx, ok := w.hs.next()
		if !ok {
			w.log.Info("worker shutting down", zap.String("script", w.script))
			return
		}
		w.serveOne(prog, ctx)
	}
}

// serveOne runs one claimed request: reset discipline, scoped slot
// acquisition, handler invocation, completion signal. The slot is
// released before the host is woken, so the host never observes a
// context the adapter could still write to.
func (w *Worker) serveOne(prog core.WorkerProgram, ctx *RequestContext) {
	if ctx.ScriptFilename == "" {
		ctx.ScriptFilename = w.script
	}
	if ctx.DocumentRoot == "" {
		ctx.DocumentRoot = w.docRoot
	}
	ctx.beginExecution(w.cfg)

	release, err := w.host.slot.acquire(ctx)
	if err != nil {
		w.log.Error("request slot misuse", zap.Error(err))
		w.hs.finish(ExitFailure)
		return
	}
	status := w.invoke(prog)
	release()
	w.hs.finish(status)
}

// invoke runs the loaded handler, absorbing script-level errors and
// panics into an exit status. The host only ever sees a status integer.
func (w *Worker) invoke(prog core.WorkerProgram) (status int) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("worker request panicked", zap.Any("panic", r))
			status = ExitFailure
		}
	}()
	st, err := prog.Invoke(w.host)
	if err != nil {
		w.log.Warn("worker request failed", zap.Error(err))
		return ExitFailure
	}
	return st
}

// SetPendingRequest hands ctx to the worker and wakes it. The worker owns
// ctx exclusively until the host observes completion via Await; calling
// this again before then returns ErrRequestPending.
func (w *Worker) SetPendingRequest(ctx *RequestContext) error {
	select {
	case <-w.exited:
		return ErrWorkerClosed
	default:
	}
	return w.hs.dispatch(ctx)
}

// Await blocks until the dispatched request completes and returns its
// exit status. After Await returns, the host again owns the context.
func (w *Worker) Await() (int, error) {
	return w.hs.awaitDone(w.exited)
}

// ServeRequest dispatches ctx and waits for its completion.
func (w *Worker) ServeRequest(ctx *RequestContext) (int, error) {
	if err := w.SetPendingRequest(ctx); err != nil {
		return 0, err
	}
	return w.Await()
}

// Close signals the worker to exit its serving loop. A request already
// claimed runs to completion first; the only cancellable point is the
// wait itself.
func (w *Worker) Close() {
	w.hs.close()
}

// Awaiting reports whether the worker thread is blocked waiting for a
// request. Hosts use it to pick an idle worker before dispatching.
func (w *Worker) Awaiting() bool {
	return w.hs.state() == phaseAwaiting
}

// Wait blocks until the worker thread has fully exited.
func (w *Worker) Wait() {
	<-w.exited
}
