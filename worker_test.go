package sapi

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cryguy/sapi/internal/core"
)

// stubBackend implements core.EngineBackend for handshake tests without a
// real engine.
type stubBackend struct {
	startupErr error
	loadErr    error
	program    *stubProgram
}

func (b *stubBackend) Startup() error { return b.startupErr }
func (b *stubBackend) Shutdown()      {}
func (b *stubBackend) Execute(host core.Host, scriptPath string) (int, error) {
	return 0, nil
}
func (b *stubBackend) Eval(host core.Host, code, name string) (int, error) { return 0, nil }
func (b *stubBackend) Lint(scriptPath string) error                        { return nil }
func (b *stubBackend) Modules() []string                                   { return nil }
func (b *stubBackend) Version() core.VersionInfo                           { return core.VersionInfo{Engine: "stub"} }
func (b *stubBackend) LoadWorker(host core.Host, scriptPath string) (core.WorkerProgram, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	if b.program == nil {
		b.program = &stubProgram{}
	}
	return b.program, nil
}

// stubProgram echoes the request body, optionally blocking or failing.
type stubProgram struct {
	status  int
	err     error
	panics  bool
	block   chan struct{} // Invoke waits on this when non-nil
	invoked int
}

func (p *stubProgram) Invoke(host core.Host) (int, error) {
	p.invoked++
	if p.block != nil {
		<-p.block
	}
	if p.panics {
		panic("script blew up")
	}
	if p.err != nil {
		return 0, p.err
	}
	buf := make([]byte, 64)
	n := host.ReadBody(buf)
	host.Write(append([]byte("echo:"), buf[:n]...))
	return p.status, nil
}

func (p *stubProgram) Close() {}

func startTestWorker(t *testing.T, backend *stubBackend) *Worker {
	t.Helper()
	w := &Worker{
		hs:      newHandshake(),
		host:    newHostAdapter(zap.NewNop()),
		backend: backend,
		cfg:     EngineConfig{},
		log:     zap.NewNop(),
		script:  "worker.js",
		exited:  make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		t.Fatalf("worker startup: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		w.Wait()
	})
	return w
}

func TestWorker_ServesSequentialRequests(t *testing.T) {
	backend := &stubBackend{program: &stubProgram{status: 3}}
	w := startTestWorker(t, backend)

	first := &RequestContext{Body: []byte("one")}
	status, err := w.ServeRequest(first)
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	if status != 3 {
		t.Errorf("status = %d, want 3", status)
	}
	if got := string(first.ResponseBody()); got != "echo:one" {
		t.Errorf("first body = %q", got)
	}

	second := &RequestContext{Body: []byte("two")}
	if _, err := w.ServeRequest(second); err != nil {
		t.Fatalf("second request: %v", err)
	}
	if got := string(second.ResponseBody()); got != "echo:two" {
		t.Errorf("second body = %q, must not see first request's data", got)
	}
	if backend.program.invoked != 2 {
		t.Errorf("invoked = %d, want 2", backend.program.invoked)
	}
}

func TestWorker_OneOutstandingRequest(t *testing.T) {
	block := make(chan struct{})
	backend := &stubBackend{program: &stubProgram{block: block}}
	w := startTestWorker(t, backend)

	if err := w.SetPendingRequest(&RequestContext{}); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	err := w.SetPendingRequest(&RequestContext{})
	if !errors.Is(err, ErrRequestPending) {
		t.Errorf("second dispatch = %v, want ErrRequestPending", err)
	}

	close(block)
	if _, err := w.Await(); err != nil {
		t.Fatalf("await: %v", err)
	}

	// The slot frees once the first request completes.
	if err := w.SetPendingRequest(&RequestContext{}); err != nil {
		t.Errorf("dispatch after completion: %v", err)
	}
	if _, err := w.Await(); err != nil {
		t.Errorf("await after completion: %v", err)
	}
}

func TestWorker_CloseWhileIdle(t *testing.T) {
	w := startTestWorker(t, &stubBackend{})

	w.Close()
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not exit after Close")
	}

	if err := w.SetPendingRequest(&RequestContext{}); !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("dispatch after close = %v, want ErrWorkerClosed", err)
	}
}

func TestHandshake_DispatchAfterCloseDeterministic(t *testing.T) {
	h := newHandshake()
	h.close()

	// With the request slot free both paths are ready; dispatch must
	// still reject every time, not just when the select happens to pick
	// the quit case.
	for i := 0; i < 100; i++ {
		if err := h.dispatch(&RequestContext{}); !errors.Is(err, ErrWorkerClosed) {
			t.Fatalf("dispatch %d after close = %v, want ErrWorkerClosed", i, err)
		}
	}
}

func waitForPhase(t *testing.T, cond func() bool, desc string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("worker never became %s", desc)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorker_AwaitingTracksServingCycle(t *testing.T) {
	block := make(chan struct{})
	backend := &stubBackend{program: &stubProgram{block: block}}
	w := startTestWorker(t, backend)

	waitForPhase(t, w.Awaiting, "awaiting after startup")

	if err := w.SetPendingRequest(&RequestContext{}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	waitForPhase(t, func() bool { return !w.Awaiting() }, "serving after dispatch")

	close(block)
	if _, err := w.Await(); err != nil {
		t.Fatalf("await: %v", err)
	}
	waitForPhase(t, w.Awaiting, "awaiting after completion")

	w.Close()
	w.Wait()
	if w.Awaiting() {
		t.Error("terminated worker still reports awaiting")
	}
}

func TestWorker_InvokeErrorAbsorbed(t *testing.T) {
	backend := &stubBackend{program: &stubProgram{err: fmt.Errorf("engine hiccup")}}
	w := startTestWorker(t, backend)

	status, err := w.ServeRequest(&RequestContext{})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if status != ExitFailure {
		t.Errorf("status = %d, want ExitFailure", status)
	}
}

func TestWorker_PanicAbsorbed(t *testing.T) {
	backend := &stubBackend{program: &stubProgram{panics: true}}
	w := startTestWorker(t, backend)

	status, err := w.ServeRequest(&RequestContext{})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if status != ExitFailure {
		t.Errorf("status = %d, want ExitFailure", status)
	}

	// The worker survives the panic and keeps serving.
	if _, err := w.ServeRequest(&RequestContext{}); err != nil {
		t.Errorf("request after panic: %v", err)
	}
}

func TestWorker_LoadFailureReportedAtStartup(t *testing.T) {
	w := &Worker{
		hs:      newHandshake(),
		host:    newHostAdapter(zap.NewNop()),
		backend: &stubBackend{loadErr: fmt.Errorf("bad script")},
		log:     zap.NewNop(),
		script:  "broken.js",
		exited:  make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err == nil {
		t.Fatal("expected startup error for unloadable script")
	}
	w.Wait()
}

func TestWorker_DefaultsScriptAndDocRoot(t *testing.T) {
	w := &Worker{
		hs:      newHandshake(),
		host:    newHostAdapter(zap.NewNop()),
		backend: &stubBackend{program: &stubProgram{}},
		log:     zap.NewNop(),
		script:  "worker.js",
		docRoot: "/srv/www",
		exited:  make(chan struct{}),
	}
	ready := make(chan error, 1)
	go w.run(ready)
	if err := <-ready; err != nil {
		t.Fatalf("worker startup: %v", err)
	}
	t.Cleanup(func() {
		w.Close()
		w.Wait()
	})

	ctx := &RequestContext{}
	if _, err := w.ServeRequest(ctx); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if ctx.ScriptFilename != "worker.js" {
		t.Errorf("ScriptFilename = %q, want the worker's script", ctx.ScriptFilename)
	}
	if ctx.DocumentRoot != "/srv/www" {
		t.Errorf("DocumentRoot = %q, want the worker's doc root", ctx.DocumentRoot)
	}
}
