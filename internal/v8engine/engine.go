//go:build v8

// Package v8engine adapts the V8 engine to the core.EngineBackend
// contract. Each Engine owns one isolate+context pair; request and
// response traffic crosses the boundary through the __sapi_* host
// functions the prelude wraps.
package v8engine

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	v8 "github.com/tommie/v8go"

	"github.com/cryguy/sapi/internal/bundle"
	"github.com/cryguy/sapi/internal/core"
)

const exitFailure = 255

var errNotStarted = fmt.Errorf("v8: engine not started")

// Engine is a single V8 isolate exposed as a core.EngineBackend. It is
// thread-affined: the caller guarantees serialized access.
type Engine struct {
	opts core.Options

	iso    *v8.Isolate
	ctx    *v8.Context
	bridge *core.RequestBridge

	envInstalled bool
}

var _ core.EngineBackend = (*Engine)(nil)

// New creates an unstarted Engine with the given options.
func New(opts core.Options) *Engine {
	return &Engine{opts: opts}
}

// GlobalStartup performs once-per-process engine initialization. V8
// initializes its platform lazily on first isolate creation.
func GlobalStartup() error { return nil }

// Startup creates the isolate and context, registers the host functions,
// and evaluates the prelude. Safe to retry after a failed attempt.
func (e *Engine) Startup() error {
	if e.iso != nil {
		return nil
	}

	var iso *v8.Isolate
	if e.opts.MemoryLimitMB > 0 {
		heapSize := uint64(e.opts.MemoryLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)

	if err := e.registerHostFuncs(iso, ctx); err != nil {
		ctx.Close()
		iso.Dispose()
		return err
	}
	if _, err := ctx.RunScript(core.PreludeJS, "prelude.js"); err != nil {
		ctx.Close()
		iso.Dispose()
		return fmt.Errorf("evaluating prelude: %w", err)
	}
	if err := installSettings(ctx, e.opts.Settings); err != nil {
		ctx.Close()
		iso.Dispose()
		return err
	}

	e.iso = iso
	e.ctx = ctx
	return nil
}

// Shutdown releases the isolate. Idempotent.
func (e *Engine) Shutdown() {
	if e.iso == nil {
		return
	}
	e.ctx.Close()
	e.iso.Dispose()
	e.iso = nil
	e.ctx = nil
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
	if e.iso == nil {
		return 0, errNotStarted
	}
	if err := e.beginRequest(host); err != nil {
		return 0, err
	}
	defer e.endRequest()

	return e.runGuarded(host, code, name), nil
}

// runGuarded evaluates code under the execution watchdog and folds the
// outcome into an exit status.
func (e *Engine) runGuarded(host core.Host, code, name string) int {
	var timedOut atomic.Bool
	if e.opts.ExecutionTimeout > 0 {
		timeout := time.Duration(e.opts.ExecutionTimeout) * time.Millisecond
		watchdog := time.AfterFunc(timeout, func() {
			timedOut.Store(true)
			e.iso.TerminateExecution()
		})
		defer watchdog.Stop()
	}

	_, err := e.ctx.RunScript(code, name)
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

// Lint syntax-checks a script on a throwaway isolate without executing it.
func (e *Engine) Lint(scriptPath string) error {
	source, err := bundle.Load(scriptPath)
	if err != nil {
		return err
	}

	iso := v8.NewIsolate()
	defer iso.Dispose()

	if _, err := iso.CompileUnboundScript(source, scriptPath, v8.CompileOptions{}); err != nil {
		return fmt.Errorf("checking %s: %w", scriptPath, err)
	}
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

// Version reports the linked V8 build.
func Version() core.VersionInfo {
	engineVer := core.ModuleVersion("github.com/tommie/v8go")
	return core.VersionInfo{
		Engine:        "v8",
		EngineVersion: engineVer,
		VersionID:     versionID(engineVer),
		ThreadSafe:    false,
		Libraries: []core.LibraryVersion{
			{Name: "github.com/tommie/v8go", Version: engineVer},
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
	if e.iso == nil {
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
	if _, err := e.ctx.RunScript(source, scriptPath); err != nil {
		return nil, fmt.Errorf("loading worker script %s: %w", scriptPath, err)
	}

	check, err := e.ctx.RunScript("typeof globalThis.onRequest === 'function'", "check.js")
	if err != nil {
		return nil, fmt.Errorf("checking worker handler: %w", err)
	}
	if !check.Boolean() {
		return nil, fmt.Errorf("worker script %s does not define onRequest", scriptPath)
	}
	return &workerProgram{engine: e}, nil
}

// workerProgram invokes a previously loaded onRequest handler.
type workerProgram struct {
	engine *Engine
}

func (p *workerProgram) Invoke(host core.Host) (int, error) {
	e := p.engine
	if e.iso == nil {
		return 0, errNotStarted
	}
	if err := e.beginRequest(host); err != nil {
		return 0, err
	}
	defer e.endRequest()

	return e.runGuarded(host, "globalThis.onRequest(globalThis.SERVER);", "invoke.js"), nil
}

func (p *workerProgram) Close() {
	if p.engine.ctx != nil {
		_, _ = p.engine.ctx.RunScript("delete globalThis.onRequest;", "close.js")
	}
}

// beginRequest binds a fresh bridge and projects the request variables.
func (e *Engine) beginRequest(host core.Host) error {
	e.bridge = &core.RequestBridge{Host: host}
	if err := e.installEnviron(host); err != nil {
		return err
	}
	return installVars(e.ctx, "SERVER", host.ServerVariables())
}

// endRequest flushes headers, clears per-request globals, and pumps the
// microtask queue so nothing leaks into the next request.
func (e *Engine) endRequest() {
	if e.bridge != nil {
		e.bridge.FlushHeaders()
	}
	e.bridge = nil
	_, _ = e.ctx.RunScript(core.CleanupJS, "cleanup.js")
	e.ctx.PerformMicrotaskCheckpoint()
}

func (e *Engine) installEnviron(host core.Host) error {
	if e.envInstalled {
		return nil
	}
	if err := installVars(e.ctx, "ENV", host.Environ()); err != nil {
		return err
	}
	e.envInstalled = true
	return nil
}

// installVars projects name/value pairs into a frozen global object,
// preserving the projection order.
func installVars(ctx *v8.Context, global string, vars []core.EnvVar) error {
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
	if _, err := ctx.RunScript(js, "install_vars.js"); err != nil {
		return fmt.Errorf("installing %s variables: %w", global, err)
	}
	return nil
}

func installSettings(ctx *v8.Context, settings []core.Setting) error {
	if len(settings) == 0 {
		return nil
	}
	vars := make([]core.EnvVar, len(settings))
	for i, s := range settings {
		vars[i] = core.EnvVar{Name: s.Key, Value: s.Value}
	}
	return installVars(ctx, "__sapi_settings", vars)
}

// registerHostFuncs wires the __sapi_* boundary functions. Body bytes
// cross base64-encoded in both directions.
func (e *Engine) registerHostFuncs(iso *v8.Isolate, ctx *v8.Context) error {
	throw := func(msg string) *v8.Value {
		jsMsg, _ := v8.NewValue(iso, msg)
		iso.ThrowException(jsMsg)
		return nil
	}
	str := func(s string) *v8.Value {
		v, _ := v8.NewValue(iso, s)
		return v
	}

	funcs := map[string]func(info *v8.FunctionCallbackInfo) *v8.Value{
		"__sapi_echo": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			raw, err := base64.StdEncoding.DecodeString(arg(info, 0))
			if err != nil {
				return throw("decoding output: " + err.Error())
			}
			e.bridge.Echo(raw)
			return v8.Undefined(iso)
		},
		"__sapi_header": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			e.bridge.Header(arg(info, 0))
			return v8.Undefined(iso)
		},
		"__sapi_status": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			e.bridge.SetStatus(argInt(info, 0))
			return v8.Undefined(iso)
		},
		"__sapi_flush": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			e.bridge.FlushHeaders()
			e.bridge.Host.Flush()
			return v8.Undefined(iso)
		},
		"__sapi_read_body": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			return str(base64.StdEncoding.EncodeToString(e.bridge.ReadChunk(argInt(info, 0))))
		},
		"__sapi_has_cookies": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			n := int32(0)
			if _, ok := e.bridge.Host.Cookies(); ok {
				n = 1
			}
			v, _ := v8.NewValue(iso, n)
			return v
		},
		"__sapi_cookies": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			value, _ := e.bridge.Host.Cookies()
			return str(value)
		},
		"__sapi_exit": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			e.bridge.Exit(argInt(info, 0))
			return v8.Undefined(iso)
		},
		"__sapi_log": func(info *v8.FunctionCallbackInfo) *v8.Value {
			if e.bridge == nil {
				return throw("no active request")
			}
			e.bridge.Host.Log(arg(info, 0), arg(info, 1))
			return v8.Undefined(iso)
		},
	}

	for name, fn := range funcs {
		tmpl := v8.NewFunctionTemplate(iso, fn)
		if err := ctx.Global().Set(name, tmpl.GetFunction(ctx)); err != nil {
			return fmt.Errorf("registering %s: %w", name, err)
		}
	}
	return nil
}

func arg(info *v8.FunctionCallbackInfo, i int) string {
	args := info.Args()
	if i >= len(args) {
		return ""
	}
	return args[i].String()
}

func argInt(info *v8.FunctionCallbackInfo, i int) int {
	args := info.Args()
	if i >= len(args) {
		return 0
	}
	return int(args[i].Integer())
}
