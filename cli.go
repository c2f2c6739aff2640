package sapi

import (
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"github.com/cryguy/sapi/internal/core"
)

// writerHost implements core.Host for CLI executions: body output goes
// straight to the writer, headers are discarded, and there is no request
// body or cookie data to read.
type writerHost struct {
	w       io.Writer
	log     *zap.Logger
	script  string
	environ []core.EnvVar
}

func newWriterHost(w io.Writer, log *zap.Logger, script string) *writerHost {
	return &writerHost{
		w:       w,
		log:     log,
		script:  script,
		environ: environVariables(),
	}
}

var _ core.Host = (*writerHost)(nil)

func (h *writerHost) Write(p []byte) int {
	n, err := h.w.Write(p)
	if err != nil {
		h.log.Warn("cli output write failed", zap.Error(err))
	}
	return n
}

func (h *writerHost) Flush() {
	type flusher interface{ Flush() error }
	if f, ok := h.w.(flusher); ok {
		_ = f.Flush()
	}
}

// SendHeaders is a no-op: a terminal has no response headers.
func (h *writerHost) SendHeaders(statusLine string, code int, headers []string) {}

func (h *writerHost) ReadBody(p []byte) int { return 0 }

func (h *writerHost) Cookies() (string, bool) { return "", false }

// ServerVariables projects the CLI defaults: the script path fills the
// script-identity variables and DOCUMENT_ROOT stays empty.
func (h *writerHost) ServerVariables() []core.EnvVar {
	return []core.EnvVar{
		{Name: "REQUEST_METHOD", Value: "GET"},
		{Name: "REQUEST_URI", Value: "/"},
		{Name: "QUERY_STRING", Value: ""},
		{Name: "SCRIPT_NAME", Value: h.script},
		{Name: "SCRIPT_FILENAME", Value: h.script},
		{Name: "PATH_TRANSLATED", Value: h.script},
		{Name: "DOCUMENT_ROOT", Value: ""},
		{Name: "SERVER_NAME", Value: "localhost"},
		{Name: "SERVER_PORT", Value: "80"},
		{Name: "REMOTE_ADDR", Value: "127.0.0.1"},
		{Name: "REMOTE_PORT", Value: "0"},
		{Name: "SERVER_SOFTWARE", Value: serverSoftware},
		{Name: "SERVER_PROTOCOL", Value: serverProtocol},
		{Name: "GATEWAY_INTERFACE", Value: gatewayInterface},
	}
}

func (h *writerHost) Environ() []core.EnvVar { return h.environ }

func (h *writerHost) Log(level, message string) {
	switch level {
	case "error":
		h.log.Error(message)
	case "warn":
		h.log.Warn(message)
	default:
		h.log.Info(message)
	}
}

// RunScript executes one script file with a fresh engine instance and
// writes its output to w. Returns the script's exit status; engine
// startup failures surface as ExitFailure after logging.
func (e *Engine) RunScript(w io.Writer, scriptPath string) int {
	backend := newBackend(e.cfg.options(e.settings))
	if err := backend.Startup(); err != nil {
		e.log.Error("engine startup failed", zap.Error(err))
		return ExitFailure
	}
	defer backend.Shutdown()

	host := newWriterHost(w, e.log, scriptPath)
	status, err := backend.Execute(host, scriptPath)
	if err != nil {
		e.log.Error("script execution failed", zap.String("script", scriptPath), zap.Error(err))
		return ExitFailure
	}
	return status
}

// RunCode executes an in-memory code string with a fresh engine instance
// and writes its output to w.
func (e *Engine) RunCode(w io.Writer, code string) int {
	backend := newBackend(e.cfg.options(e.settings))
	if err := backend.Startup(); err != nil {
		e.log.Error("engine startup failed", zap.Error(err))
		return ExitFailure
	}
	defer backend.Shutdown()

	host := newWriterHost(w, e.log, "-")
	status, err := backend.Eval(host, code, "cli")
	if err != nil {
		e.log.Error("code execution failed", zap.Error(err))
		return ExitFailure
	}
	return status
}

// LintFile syntax-checks a script without executing it.
func (e *Engine) LintFile(scriptPath string) error {
	backend := newBackend(e.cfg.options(e.settings))
	return backend.Lint(scriptPath)
}

// LoadedModules lists the host-integration modules the linked engine
// provides, sorted.
func (e *Engine) LoadedModules() []string {
	mods := newBackend(e.cfg.options(e.settings)).Modules()
	sorted := make([]string, len(mods))
	copy(sorted, mods)
	sort.Strings(sorted)
	return sorted
}

// Info writes the engine's version descriptor to w.
func (e *Engine) Info(w io.Writer) {
	v := backendVersion()
	fmt.Fprintf(w, "engine: %s %s (id %d)\n", v.Engine, v.EngineVersion, v.VersionID)
	fmt.Fprintf(w, "thread safe: %t\n", v.ThreadSafe)
	fmt.Fprintf(w, "debug build: %t\n", v.Debug)
	for _, lib := range v.Libraries {
		fmt.Fprintf(w, "library: %s %s\n", lib.Name, lib.Version)
	}
	for _, m := range e.LoadedModules() {
		fmt.Fprintf(w, "module: %s\n", m)
	}
}
