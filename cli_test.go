package sapi

import (
	"bytes"
	"testing"

	"go.uber.org/zap"
)

func TestWriterHost_OutputPassesThrough(t *testing.T) {
	var out bytes.Buffer
	h := newWriterHost(&out, zap.NewNop(), "script.js")

	if n := h.Write([]byte("hello ")); n != 6 {
		t.Errorf("Write = %d, want 6", n)
	}
	h.Write([]byte("cli"))
	if out.String() != "hello cli" {
		t.Errorf("output = %q", out.String())
	}
}

func TestWriterHost_HeadersDiscarded(t *testing.T) {
	var out bytes.Buffer
	h := newWriterHost(&out, zap.NewNop(), "script.js")

	h.SendHeaders("HTTP/1.1 404 Not Found", 404, []string{"X: 1"})
	if out.Len() != 0 {
		t.Errorf("headers leaked into output: %q", out.String())
	}
}

func TestWriterHost_NoRequestData(t *testing.T) {
	h := newWriterHost(&bytes.Buffer{}, zap.NewNop(), "script.js")

	if n := h.ReadBody(make([]byte, 8)); n != 0 {
		t.Errorf("ReadBody = %d, want 0", n)
	}
	if _, ok := h.Cookies(); ok {
		t.Error("CLI host reported cookies")
	}
}

func TestWriterHost_ScriptIdentityVariables(t *testing.T) {
	h := newWriterHost(&bytes.Buffer{}, zap.NewNop(), "/srv/app/run.js")
	vars := varMap(h.ServerVariables())

	for _, name := range []string{"SCRIPT_NAME", "SCRIPT_FILENAME", "PATH_TRANSLATED"} {
		if vars[name] != "/srv/app/run.js" {
			t.Errorf("%s = %q, want the script path", name, vars[name])
		}
	}
	if vars["DOCUMENT_ROOT"] != "" {
		t.Errorf("DOCUMENT_ROOT = %q, want empty", vars["DOCUMENT_ROOT"])
	}
	if vars["REQUEST_METHOD"] != "GET" || vars["SERVER_NAME"] != "localhost" {
		t.Errorf("defaults missing: %+v", vars)
	}
}
