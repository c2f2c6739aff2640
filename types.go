package sapi

import "strings"

// Script exit statuses. Guest scripts may exit with any code; these are
// the values the bridge itself produces.
const (
	ExitSuccess = 0   // script ran to completion
	ExitFailure = 255 // unrecoverable engine-level error, absorbed
)

// RequestContext describes one HTTP-like request and accumulates its
// response. The host owns it: it fills the request fields before
// execution, must not touch it while a worker is serving it, and reads
// the response fields (then calls FreeResponse) afterwards. The bridge
// only writes into the response side.
type RequestContext struct {
	Method      string
	URI         string
	QueryString string

	ContentType   string
	ContentLength int

	// Body is the raw request body. The bridge reads it through a
	// cursor that resets at the start of every execution.
	Body []byte

	// Headers is the flattened header block: one "Name: value" line per
	// header, separated by '\n'.
	Headers string

	DocumentRoot   string
	ScriptFilename string

	ServerName string
	ServerPort int
	RemoteAddr string
	RemotePort int

	bodyRead int
	resp     response
}

// response is the bridge-owned side of a RequestContext. It is replaced
// wholesale at the start of every execution, so buffers can never alias
// a previous request's captured output.
type response struct {
	body        captureBuffer
	headers     captureBuffer
	status      int
	headersSent bool
	truncated   bool
}

// beginExecution resets the response side for a fresh execution: zeroed
// buffers sized by cfg, status 200, headers-sent cleared, body read
// cursor rewound. Any buffers still held from a prior execution are
// released first.
func (ctx *RequestContext) beginExecution(cfg EngineConfig) {
	ctx.resp.body.release()
	ctx.resp.headers.release()
	ctx.resp = response{
		body:    captureBuffer{initCap: bodyBufferInitCap, max: cfg.MaxResponseBytes},
		headers: captureBuffer{initCap: headerBufferInitCap, max: cfg.MaxResponseBytes},
		status:  200,
	}
	ctx.bodyRead = 0
}

// ResponseStatus returns the response status code. 200 unless the guest
// set something else.
func (ctx *RequestContext) ResponseStatus() int { return ctx.resp.status }

// ResponseBody returns the captured response body. The slice is owned by
// the context and invalid after FreeResponse.
func (ctx *RequestContext) ResponseBody() []byte { return ctx.resp.body.bytes() }

// ResponseHeaders returns the captured header block: one header per line,
// '\n' terminated.
func (ctx *RequestContext) ResponseHeaders() string { return string(ctx.resp.headers.bytes()) }

// ResponseHeaderLines splits the captured header block into lines.
func (ctx *RequestContext) ResponseHeaderLines() []string {
	raw := strings.TrimSuffix(ctx.ResponseHeaders(), "\n")
	if raw == "" {
		return nil
	}
	return strings.Split(raw, "\n")
}

// ResponseTruncated reports whether captured output was dropped because
// the configured capture limit was reached.
func (ctx *RequestContext) ResponseTruncated() bool { return ctx.resp.truncated }

// FreeResponse releases the response buffers. Idempotent: releasing an
// already-freed response is a no-op.
func (ctx *RequestContext) FreeResponse() {
	ctx.resp.body.release()
	ctx.resp.headers.release()
}
