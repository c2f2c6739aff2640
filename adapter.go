package sapi

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/cryguy/sapi/internal/core"
)

// hostAdapter implements core.Host for web and worker executions. Every
// callback resolves the current request through the slot and touches only
// that request's buffers and cursor — the adapter itself holds no
// per-request state, so a fresh request sees nothing from the last one.
type hostAdapter struct {
	slot *requestSlot
	log  *zap.Logger

	// environ is the process-environment projection, resolved once per
	// engine instance and stable across requests.
	environ []core.EnvVar
}

func newHostAdapter(log *zap.Logger) *hostAdapter {
	return &hostAdapter{
		slot:    &requestSlot{},
		log:     log,
		environ: environVariables(),
	}
}

var _ core.Host = (*hostAdapter)(nil)

func (h *hostAdapter) Write(p []byte) int {
	ctx := h.slot.current()
	if ctx == nil {
		return 0
	}
	if err := ctx.resp.body.append(p); err != nil {
		if !ctx.resp.truncated {
			h.log.Warn("response body capture truncated",
				zap.Int("captured", ctx.resp.body.len()))
		}
		ctx.resp.truncated = true
		return 0
	}
	return len(p)
}

// Flush is a no-op: output stays buffered until the host reads it.
func (h *hostAdapter) Flush() {}

func (h *hostAdapter) SendHeaders(statusLine string, code int, headers []string) {
	ctx := h.slot.current()
	if ctx == nil {
		return
	}
	ctx.resp.status = resolveStatus(statusLine, code)
	for _, line := range headers {
		if err := ctx.resp.headers.appendLine([]byte(line)); err != nil {
			ctx.resp.truncated = true
			break
		}
	}
	ctx.resp.headersSent = true
}

func (h *hostAdapter) ReadBody(p []byte) int {
	ctx := h.slot.current()
	if ctx == nil {
		return 0
	}
	remaining := len(ctx.Body) - ctx.bodyRead
	if remaining <= 0 {
		return 0
	}
	n := copy(p, ctx.Body[ctx.bodyRead:])
	ctx.bodyRead += n
	return n
}

func (h *hostAdapter) Cookies() (string, bool) {
	ctx := h.slot.current()
	if ctx == nil {
		return "", false
	}
	return lookupCookie(ctx.Headers)
}

func (h *hostAdapter) ServerVariables() []core.EnvVar {
	ctx := h.slot.current()
	if ctx == nil {
		return nil
	}
	return serverVariables(ctx)
}

func (h *hostAdapter) Environ() []core.EnvVar { return h.environ }

func (h *hostAdapter) Log(level, message string) {
	switch level {
	case "error":
		h.log.Error(message)
	case "warn":
		h.log.Warn(message)
	default:
		h.log.Info(message)
	}
}

// resolveStatus picks the response status: a parsable engine status line
// ("HTTP/1.1 404 Not Found") wins, then the numeric response-code field,
// then 200.
func resolveStatus(statusLine string, code int) int {
	if statusLine != "" {
		rest := statusLine
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[i+1:]
			if j := strings.IndexByte(rest, ' '); j >= 0 {
				rest = rest[:j]
			}
			if n, err := strconv.Atoi(rest); err == nil && n >= 100 && n < 600 {
				return n
			}
		}
	}
	if code > 0 {
		return code
	}
	return 200
}
