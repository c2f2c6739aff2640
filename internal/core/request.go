package core

import "strings"

// RequestBridge holds the engine-side accumulation for one request:
// response header lines and status the guest has emitted but the host
// has not yet been handed, plus the guest's exit record. Both engine
// adapters drive one of these per request; it is discarded when the
// request ends, so nothing here survives into the next request.
type RequestBridge struct {
	Host Host

	pendingHeaders []string
	statusLine     string
	code           int
	headersSent    bool

	ExitStatus int
	Exited     bool
}

// Echo delivers output bytes. Headers are flushed to the host before the
// first body byte, mirroring CGI semantics.
func (b *RequestBridge) Echo(p []byte) {
	b.FlushHeaders()
	b.Host.Write(p)
}

// Header records a response header line. A line starting with "HTTP/" is
// the engine's status line, not a header. Lines emitted after headers
// were flushed are dropped.
func (b *RequestBridge) Header(line string) {
	if b.headersSent {
		return
	}
	if strings.HasPrefix(line, "HTTP/") {
		b.statusLine = line
		return
	}
	b.pendingHeaders = append(b.pendingHeaders, line)
}

// SetStatus records the numeric response code. The status line, if the
// guest set one, still wins at flush time.
func (b *RequestBridge) SetStatus(code int) {
	if !b.headersSent {
		b.code = code
	}
}

// FlushHeaders hands status and accumulated headers to the host exactly
// once. Adapters call it again at request end to cover scripts that
// produced no output.
func (b *RequestBridge) FlushHeaders() {
	if b.headersSent {
		return
	}
	b.headersSent = true
	b.Host.SendHeaders(b.statusLine, b.code, b.pendingHeaders)
}

// Exit records a guest-requested exit status.
func (b *RequestBridge) Exit(code int) {
	b.ExitStatus = code
	b.Exited = true
}

// ReadChunk reads up to n request body bytes through the host cursor.
func (b *RequestBridge) ReadChunk(n int) []byte {
	if n <= 0 {
		return nil
	}
	buf := make([]byte, n)
	m := b.Host.ReadBody(buf)
	return buf[:m]
}
