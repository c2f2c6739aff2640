package sapi

import (
	"os"
	"strconv"
	"strings"

	"github.com/cryguy/sapi/internal/core"
)

// Fixed identity strings projected into every request.
const (
	serverSoftware   = "sapi"
	serverProtocol   = "HTTP/1.1"
	gatewayInterface = "CGI/1.1"
)

// serverVariables projects a RequestContext into the ordered CGI variable
// list a guest consults for request metadata. The projection is pure:
// running it twice for the same context yields the same slice, and it is
// re-run from scratch for every request so nothing from a previous
// request can remain visible.
func serverVariables(ctx *RequestContext) []core.EnvVar {
	vars := make([]core.EnvVar, 0, 16)
	add := func(name, value string) {
		vars = append(vars, core.EnvVar{Name: name, Value: value})
	}

	add("REQUEST_METHOD", defaultString(ctx.Method, "GET"))
	add("REQUEST_URI", defaultString(ctx.URI, "/"))
	add("QUERY_STRING", ctx.QueryString)
	add("SCRIPT_FILENAME", ctx.ScriptFilename)
	add("SCRIPT_NAME", defaultString(ctx.URI, "/"))
	add("DOCUMENT_ROOT", ctx.DocumentRoot)
	add("SERVER_NAME", defaultString(ctx.ServerName, "localhost"))

	port := ctx.ServerPort
	if port <= 0 {
		port = 80
	}
	add("SERVER_PORT", strconv.Itoa(port))
	add("REMOTE_ADDR", defaultString(ctx.RemoteAddr, "127.0.0.1"))
	add("REMOTE_PORT", strconv.Itoa(ctx.RemotePort))
	add("SERVER_SOFTWARE", serverSoftware)
	add("SERVER_PROTOCOL", serverProtocol)
	add("GATEWAY_INTERFACE", gatewayInterface)

	if ctx.ContentType != "" {
		add("CONTENT_TYPE", ctx.ContentType)
	}
	if ctx.ContentLength > 0 {
		add("CONTENT_LENGTH", strconv.Itoa(ctx.ContentLength))
	}

	return append(vars, headerVariables(ctx.Headers)...)
}

// headerVariables converts the flattened header block into HTTP_* entries,
// in header order. Content-Type and Content-Length lines are suppressed:
// they are already projected as CONTENT_TYPE / CONTENT_LENGTH and a
// duplicate HTTP_ form would conflict.
func headerVariables(headers string) []core.EnvVar {
	var vars []core.EnvVar
	eachHeaderLine(headers, func(name, value string) {
		cgi := cgiVarName(name)
		if cgi == "HTTP_CONTENT_TYPE" || cgi == "HTTP_CONTENT_LENGTH" {
			return
		}
		vars = append(vars, core.EnvVar{Name: cgi, Value: value})
	})
	return vars
}

// eachHeaderLine walks the flattened header block line by line. Lines are
// '\n' delimited; the first ':' splits name from value; leading spaces
// and tabs after the colon are trimmed; a line with no colon is ignored.
func eachHeaderLine(headers string, fn func(name, value string)) {
	for len(headers) > 0 {
		line := headers
		if i := strings.IndexByte(headers, '\n'); i >= 0 {
			line = headers[:i]
			headers = headers[i+1:]
		} else {
			headers = ""
		}
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := line[:colon]
		value := strings.TrimLeft(line[colon+1:], " \t")
		fn(name, value)
	}
}

// cgiVarName derives the HTTP_* variable name from a header name:
// dashes become underscores, ASCII letters are uppercased.
// "X-Custom-Header" -> "HTTP_X_CUSTOM_HEADER".
func cgiVarName(header string) string {
	var sb strings.Builder
	sb.Grow(len("HTTP_") + len(header))
	sb.WriteString("HTTP_")
	for i := 0; i < len(header); i++ {
		c := header[i]
		switch {
		case c == '-':
			sb.WriteByte('_')
		case c >= 'a' && c <= 'z':
			sb.WriteByte(c - 32)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// lookupCookie returns the value of the first header line whose name
// case-insensitively matches "Cookie". No match means no cookies, which
// is not an error.
func lookupCookie(headers string) (string, bool) {
	var value string
	var found bool
	eachHeaderLine(headers, func(name, v string) {
		if !found && strings.EqualFold(name, "Cookie") {
			value = v
			found = true
		}
	})
	return value, found
}

// environVariables projects the process environment. This group
// represents process identity, not request data: it is resolved once per
// engine instance and deliberately left untouched across requests.
func environVariables() []core.EnvVar {
	env := os.Environ()
	vars := make([]core.EnvVar, 0, len(env))
	for _, kv := range env {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			vars = append(vars, core.EnvVar{Name: kv[:i], Value: kv[i+1:]})
		}
	}
	return vars
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
