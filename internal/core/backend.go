package core

// Setting is one engine-opaque configuration entry, parsed from an
// INI-style "key=value" line. The bridge does not interpret settings;
// they are handed to the adapter after engine startup.
type Setting struct {
	Key   string
	Value string
}

// Options carries engine-level configuration into a backend adapter.
type Options struct {
	MemoryLimitMB    int       // per-instance memory limit, 0 = engine default
	ExecutionTimeout int       // milliseconds before a running script is interrupted, 0 = none
	Settings         []Setting // INI-style entries, applied after startup
}

// EngineBackend is the interface guest engine adapters (QuickJS, V8) must
// satisfy. The root sapi.Engine facade delegates to one of these based on
// build tags. Exactly one goroutine uses a backend at a time; backends are
// thread-affined and never called concurrently.
type EngineBackend interface {
	// Startup initializes the engine instance. It is safe to call again
	// after a failed attempt; a successful second call must not corrupt
	// state left by the first.
	Startup() error

	// Shutdown releases the engine instance. Idempotent.
	Shutdown()

	// Execute runs one script file as one request: request startup,
	// variable projection through host, execution with output captured
	// through host, then request teardown. Teardown runs even when the
	// script fails. The int is the script's exit status; the error is
	// reserved for host-level failures (missing script, engine not
	// started), never for script-level errors.
	Execute(host Host, scriptPath string) (int, error)

	// Eval is Execute for an in-memory code string. name labels the
	// chunk in engine diagnostics.
	Eval(host Host, code, name string) (int, error)

	// Lint syntax-checks a script without executing it.
	Lint(scriptPath string) error

	// Modules lists the host-integration modules the adapter provides
	// to guest scripts.
	Modules() []string

	// Version describes the linked engine build.
	Version() VersionInfo

	// LoadWorker parses a worker script once and returns a program whose
	// handler can be invoked for many sequential requests without
	// re-parsing.
	LoadWorker(host Host, scriptPath string) (WorkerProgram, error)
}

// WorkerProgram is a parsed worker script held by a long-lived engine
// instance. Invoke runs the script's request handler for the request
// currently visible through host.
type WorkerProgram interface {
	Invoke(host Host) (int, error)
	Close()
}
