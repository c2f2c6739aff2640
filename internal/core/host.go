package core

// EnvVar is one projected server variable (a CGI-style name/value pair).
// Projection order is significant: re-running a projection for the same
// request must yield the same slice.
type EnvVar struct {
	Name  string
	Value string
}

// Host is the callback set a guest engine adapter invokes while serving a
// request. It is the only surface through which a guest may read request
// data or emit response data; adapters must not retain request state of
// their own between invocations.
type Host interface {
	// Write captures response body bytes. It returns the number of bytes
	// accepted, which is less than len(p) when the capture limit is hit.
	Write(p []byte) int

	// Flush is a no-op: output is fully buffered until the host consumes
	// the request context. Present because the integration contract
	// requires it.
	Flush()

	// SendHeaders delivers the response status and accumulated header
	// lines. statusLine is the engine's raw status line ("HTTP/1.1 404
	// Not Found") and wins when it parses; otherwise code is used, and
	// 200 when both are absent.
	SendHeaders(statusLine string, code int, headers []string)

	// ReadBody copies up to len(p) request body bytes into p, advancing
	// the read cursor. Returns 0 at end of body.
	ReadBody(p []byte) int

	// Cookies returns the raw cookie header value for the request.
	// Absent cookies are not an error: ok is false.
	Cookies() (value string, ok bool)

	// ServerVariables returns the per-request variable projection.
	// Re-resolved from scratch for every request.
	ServerVariables() []EnvVar

	// Environ returns the process environment projection. Unlike
	// ServerVariables it represents process identity, not request data,
	// and is stable across requests on the same engine instance.
	Environ() []EnvVar

	// Log forwards a guest-emitted log line to the host's logger.
	Log(level, message string)
}
