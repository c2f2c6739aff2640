//go:build !v8

// Package quickjs adapts the QuickJS engine to the core.EngineBackend
// contract. Each Engine owns one VM; all request and response traffic
// crosses the boundary through the __sapi_* host functions the prelude
// wraps.
package quickjs

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"modernc.org/quickjs"

	"github.com/cryguy/sapi/internal/bundle"
	"github.com/cryguy/sapi/internal/core"
)

const exitFailure = 255

var errNotStarted = fmt.Errorf("quickjs: engine not started")

// Engine is a single QuickJS VM exposed as a core.EngineBackend. It is
/// thread-affined: the caller guarantees serialized access.
type Engine struct {
	opts core.Options

	vm     *qjsRuntime
	bridge *core.RequestBridge

	// ENV is installed once per VM and survives requests; SERVER is
	// rebuilt on every beginRequest.
	envInstalled bool
}

var _ core.EngineBackend = (*Engine)(nil)

// New creates an unstarted Engine with the given options.
func New(opts core.Options) *Engine {
	return &Engine{opts: opts}
}

// GlobalStartup performs once-per-process engine initialization. QuickJS
// keeps all state per-VM, so there is nothing to do.
func GlobalStartup() error { return nil }

// Startup creates the VM, registers the host functions, and evaluates
// the prelude. Safe to retry after a failed attempt.
func (e *Engine) Startup() error {
	if e.vm != nil {
		return nil
	}

	vm, err := quickjs.NewVM()
	if err != nil {
		return fmt.Errorf("creating QuickJS VM: %w", err)
	}
	if e.opts.MemoryLimitMB > 0 {
		vm.SetMemoryLimit(uintptr(e.opts.MemoryLimitMB) * 1024 * 1024)
	}

	rt := &qjsRuntime{vm: vm}
	if err := e.registerHostFuncs(rt); err != nil {
		vm.Close()
		return err
	}
	if err := rt.eval(core.PreludeJS); err != nil {
		vm.Close()
		return fmt.Errorf("evaluating prelude: %w", err)
	}
	if err := installSettings(rt, e.opts.Settings); err != nil {
		vm.Close()
		return err
	}

	e.vm = rt
	return nil
}

// Shutdown releases the VM. Idempotent.
func (e *Engine) Shutdown() {
	if e.vm == nil {
		return
	}
	e.vm.vm.Close()
	e.vm = nil
	e.bridge = nil
	e.envInstalled = false
}

// Execute runs the script file as one request.
func (e *Engine) Execute(host core.Host, scriptPath string) (int, error) {
	source, err := bundle.Load(scriptPath)
	if err != nil {
		return 0, err
	}
	return e.Eval(host, source, scriptPath)
}

// Eval runs in-memory code as one request. Script-level failures are
// absorbed into the exit status; the error is reserved for engine-level
// problems.
func (e *Engine) Eval(host core.Host, code, name string) (int, error) {
	if e.vm == nil {
		return 0, errNotStarted
	}
	if err := e.beginRequest(host); err != nil {
		return 0, err
	}
	defer e.endRequest()

	return e.runGuarded(host, code), nil
}

// runGuarded evaluates code under the execution watchdog and folds the
// outcome into an exit status.
func (e *Engine) runGuarded(host core.Host, code string) int {
	var timedOut atomic.Bool
	var watchdog *time.Timer
	if e.opts.ExecutionTimeout > 0 {
		timeout := time.Duration(e.opts.ExecutionTimeout) * time.Millisecond
		watchdog = time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			e.vm.vm.Interrupt()
		})
		defer watchdog.Stop()
	}

	err := e.vm.eval(code)
	if err == nil {
		if e.bridge.Exited {
			return e.bridge.ExitStatus
		}
		return 0
	}

	// exit() surfaces as a thrown sentinel; the recorded status wins.
	if e.bridge.Exited {
		return e.bridge.ExitStatus
	}
	if timedOut.Load() {
		host.Log("error", fmt.Sprintf("execution timed out after %dms", e.opts.ExecutionTimeout))
		return exitFailure
	}
	host.Log("error", "script error: "+err.Error())
	return exitFailure
}

// Lint syntax-checks a script on a throwaway VM without executing it.
func (e *Engine) Lint(scriptPath string) error {
	source, err := bundle.Load(scriptPath)
	if err != nil {
		return err
	}

	vm, err := quickjs.NewVM()
	if err != nil {
		return fmt.Errorf("creating validation VM: %w", err)
	}
	defer vm.Close()

	v, err := vm.EvalValue("new Function("+strconv.Quote(source)+")", quickjs.EvalGlobal)
	if err != nil {
		return fmt.Errorf("checking %s: %w", scriptPath, err)
	}
	v.Free()
	return nil
}

// Modules lists the host-integration modules visible to guest scripts.
func (e *Engine) Modules() []string {
	return []string{"core", "sapi", "console"}
}

// Version describes this adapter's engine build.
func (e *Engine) Version() core.VersionInfo {
	return Version()
}

// Version reports the linked QuickJS build.
func Version() core.VersionInfo {
	engineVer := core.ModuleVersion("modernc.org/libquickjs")
	return core.VersionInfo{
		Engine:        "quickjs",
		EngineVersion: engineVer,
		VersionID:     versionID(engineVer),
		ThreadSafe:    false,
		Libraries: []core.LibraryVersion{
			{Name: "modernc.org/quickjs", Version: core.ModuleVersion("modernc.org/quickjs")},
			{Name: "modernc.org/libc", Version: core.ModuleVersion("modernc.org/libc")},
		},
	}
}

// versionID folds a semver string into major*10000 + minor*100 + patch.
func versionID(ver string) int {
	ver = strings.TrimPrefix(ver, "v")
	parts := strings.SplitN(ver, ".", 3)
	id := 0
	for i := 0; i < 3; i++ {
		id *= 100
		if i < len(parts) {
			n, err := strconv.Atoi(strings.SplitN(parts[i], "-", 2)[0])
			if err == nil {
				id += n
			}
		}
	}
	return id
}

// LoadWorker evaluates the worker script once and returns a program that
// invokes its onRequest handler per request.
func (e *Engine) LoadWorker(host core.Host, scriptPath string) (core.WorkerProgram, error) {
	if e.vm == nil {
		return nil, errNotStarted
	}
	source, err := bundle.Load(scriptPath)
	if err != nil {
		return nil, err
	}

	// ENV is request-independent; install it before top-level code runs.
	if err := e.installEnviron(host); err != nil {
		return nil, err
	}
	if err := e.vm.eval(source); err != nil {
		return nil, fmt.Errorf("loading worker script %s: %w", scriptPath, err)
	}

	typ, err := e.vm.evalString("typeof globalThis.onRequest")
	if err != nil {
		return nil, fmt.Errorf("checking worker handler: %w", err)
	}
	if typ != "function" {
		return nil, fmt.Errorf("worker script %s does not define onRequest (got %s)", scriptPath, typ)
	}
	return &workerProgram{engine: e}, nil
}

// workerProgram invokes a previously loaded onRequest handler.
type workerProgram struct {
	engine *Engine
}

func (p *workerProgram) Invoke(host core.Host) (int, error) {
	e := p.engine
	if e.vm == nil {
		return 0, errNotStarted
	}
	if err := e.beginRequest(host); err != nil {
		return 0, err
	}
	defer e.endRequest()

	return e.runGuarded(host, "globalThis.onRequest(globalThis.SERVER);"), nil
}

func (p *workerProgram) Close() {
	if p.engine.vm != nil {
		_ = p.engine.vm.eval("delete globalThis.onRequest;")
	}
}

// beginRequest binds a fresh bridge and projects the request variables.
func (e *Engine) beginRequest(host core.Host) error {
	e.bridge = &core.RequestBridge{Host: host}
	if err := e.installEnviron(host); err != nil {
		return err
	}
	return installVars(e.vm, "SERVER", host.ServerVariables())
}

// endRequest flushes headers, clears per-request globals, and drains
// pending microtasks so nothing leaks into the next request.
func (e *Engine) endRequest() {
	if e.bridge != nil {
		e.bridge.FlushHeaders()
	}
	e.bridge = nil
	_ = e.vm.eval(core.CleanupJS)
	executePendingJobs(e.vm.vm)
}

func (e *Engine) installEnviron(host core.Host) error {
	if e.envInstalled {
		return nil
	}
	if err := installVars(e.vm, "ENV", host.Environ()); err != nil {
		return err
	}
	e.envInstalled = true
	return nil
}

// installVars projects name/value pairs into a frozen global object,
// preserving the projection order.
func installVars(rt *qjsRuntime, global string, vars []core.EnvVar) error {
	pairs := make([][2]string, len(vars))
	for i, v := range vars {
		pairs[i] = [2]string{v.Name, v.Value}
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return fmt.Errorf("marshaling %s variables: %w", global, err)
	}
	js := fmt.Sprintf("globalThis.%s = Object.freeze(Object.fromEntries(JSON.parse(%s)));",
		global, strconv.Quote(string(data)))
	if err := rt.eval(js); err != nil {
		return fmt.Errorf("installing %s variables: %w", global, err)
	}
	return nil
}

func installSettings(rt *qjsRuntime, settings []core.Setting) error {
	if len(settings) == 0 {
		return nil
	}
	vars := make([]core.EnvVar, len(settings))
	for i, s := range settings {
		vars[i] = core.EnvVar{Name: s.Key, Value: s.Value}
	}
	return installVars(rt, "__sapi_settings", vars)
}

// registerHostFuncs wires the __sapi_* boundary functions. Body bytes
// cross base64-encoded in both directions.
func (e *Engine) registerHostFuncs(rt *qjsRuntime) error {
	funcs := map[string]any{
		"__sapi_echo": func(b64 string) (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			raw, err := base64.StdEncoding.DecodeString(b64)
			if err != nil {
				return "", fmt.Errorf("decoding output: %w", err)
			}
			b.Echo(raw)
			return "", nil
		},
		"__sapi_header": func(line string) (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			b.Header(line)
			return "", nil
		},
		"__sapi_status": func(code int) (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			b.SetStatus(code)
			return "", nil
		},
		"__sapi_flush": func() (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			b.FlushHeaders()
			b.Host.Flush()
			return "", nil
		},
		"__sapi_read_body": func(n int) (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			return base64.StdEncoding.EncodeToString(b.ReadChunk(n)), nil
		},
		"__sapi_has_cookies": func() (int, error) {
			b, err := e.requireBridge()
			if err != nil {
				return 0, err
			}
			if _, ok := b.Host.Cookies(); ok {
				return 1, nil
			}
			return 0, nil
		},
		"__sapi_cookies": func() (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			value, _ := b.Host.Cookies()
			return value, nil
		},
		"__sapi_exit": func(code int) (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			b.Exit(code)
			return "", nil
		},
		"__sapi_log": func(level, message string) (string, error) {
			b, err := e.requireBridge()
			if err != nil {
				return "", err
			}
			b.Host.Log(level, message)
			return "", nil
		},
	}
	for name, fn := range funcs {
		if err := rt.registerFunc(name, fn); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

func (e *Engine) requireBridge() (*core.RequestBridge, error) {
	if e.bridge == nil {
		return nil, fmt.Errorf("no active request")
	}
	return e.bridge, nil
}
