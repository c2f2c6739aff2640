package sapi

import (
	"io"
	"sync"

	"github.com/cryguy/sapi/internal/core"
)

// APIVersion is the version of the exported API table. It is bumped only
// when an existing entry changes meaning; new entries are appended and do
// not bump it.
const APIVersion = 1

// API is the stable function table exported to embedders that bind the
// bridge through a single entry point rather than the Go API. The layout
// is append-only: entries keep their position across releases.
type API struct {
	Version int
	Engine  core.VersionInfo

	NewEngine func(mode Mode, cfg EngineConfig, opts ...Option) *Engine
	Init      func(e *Engine) error
	Shutdown  func(e *Engine)
	Execute   func(e *Engine, ctx *RequestContext) (int, error)

	FreeResponse func(ctx *RequestContext)

	GlobalInit        func(e *Engine) error
	StartWorker       func(e *Engine, scriptPath, docRoot string) (*Worker, error)
	SetPendingRequest func(w *Worker, ctx *RequestContext) error
	Await             func(w *Worker) (int, error)
	CloseWorker       func(w *Worker)

	RunScript func(e *Engine, w io.Writer, scriptPath string) int
	RunCode   func(e *Engine, w io.Writer, code string) int
	LintFile  func(e *Engine, scriptPath string) error
	Info      func(e *Engine, w io.Writer)
}

var (
	apiOnce  sync.Once
	apiTable *API
)

// Entry returns the exported API table. The table is built once and
// shared; callers must not modify it.
func Entry() *API {
	apiOnce.Do(func() {
		apiTable = &API{
			Version: APIVersion,
			Engine:  backendVersion(),

			NewEngine: New,
			Init:      (*Engine).Init,
			Shutdown:  (*Engine).Shutdown,
			Execute:   (*Engine).Execute,

			FreeResponse: (*RequestContext).FreeResponse,

			GlobalInit:        (*Engine).GlobalInit,
			StartWorker:       (*Engine).StartWorker,
			SetPendingRequest: (*Worker).SetPendingRequest,
			Await:             (*Worker).Await,
			CloseWorker:       (*Worker).Close,

			RunScript: (*Engine).RunScript,
			RunCode:   (*Engine).RunCode,
			LintFile:  (*Engine).LintFile,
			Info:      (*Engine).Info,
		}
	})
	return apiTable
}
