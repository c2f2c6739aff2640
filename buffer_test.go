package sapi

import (
	"bytes"
	"errors"
	"testing"
)

func TestCaptureBuffer_AppendConcatenates(t *testing.T) {
	b := captureBuffer{initCap: bodyBufferInitCap}
	chunks := [][]byte{
		[]byte("hello "),
		nil,
		[]byte("x"),
		bytes.Repeat([]byte("y"), bodyBufferInitCap+1),
		[]byte(" world"),
	}

	var want []byte
	for _, c := range chunks {
		if err := b.append(c); err != nil {
			t.Fatalf("append(%d bytes): %v", len(c), err)
		}
		want = append(want, c...)
	}

	if !bytes.Equal(b.bytes(), want) {
		t.Errorf("captured %d bytes, want %d", b.len(), len(want))
	}
}

func TestCaptureBuffer_GrowthDoubles(t *testing.T) {
	b := captureBuffer{initCap: 8}
	if err := b.append(bytes.Repeat([]byte("a"), 8)); err != nil {
		t.Fatalf("append: %v", err)
	}
	// Filling exactly to the initial capacity must already have doubled:
	// growth triggers when the post-append length reaches capacity.
	if cap(b.buf) < 16 {
		t.Errorf("cap = %d, want >= 16 after filling initial capacity", cap(b.buf))
	}
	if b.len() != 8 {
		t.Errorf("len = %d, want 8", b.len())
	}
}

func TestCaptureBuffer_LimitExceeded(t *testing.T) {
	b := captureBuffer{initCap: 8, max: 10}
	if err := b.append([]byte("12345678")); err != nil {
		t.Fatalf("append under limit: %v", err)
	}

	err := b.append([]byte("abc"))
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("err = %v, want ErrResponseTooLarge", err)
	}
	// The failed append must not have changed the buffer.
	if got := string(b.bytes()); got != "12345678" {
		t.Errorf("buffer = %q after rejected append, want unchanged", got)
	}

	// Appends that still fit keep working.
	if err := b.append([]byte("ab")); err != nil {
		t.Errorf("append at exactly the limit: %v", err)
	}
}

func TestCaptureBuffer_AppendLine(t *testing.T) {
	b := captureBuffer{initCap: headerBufferInitCap}
	if err := b.appendLine([]byte("Content-Type: text/html")); err != nil {
		t.Fatalf("appendLine: %v", err)
	}
	if err := b.appendLine([]byte("X-Custom: 1")); err != nil {
		t.Fatalf("appendLine: %v", err)
	}
	want := "Content-Type: text/html\nX-Custom: 1\n"
	if got := string(b.bytes()); got != want {
		t.Errorf("buffer = %q, want %q", got, want)
	}
}

func TestCaptureBuffer_ReleaseIdempotent(t *testing.T) {
	b := captureBuffer{initCap: 8}
	if err := b.append([]byte("data")); err != nil {
		t.Fatalf("append: %v", err)
	}
	b.release()
	b.release()
	if b.bytes() != nil || b.len() != 0 {
		t.Errorf("released buffer not empty: %q", b.bytes())
	}

	// A released buffer is reusable from its zero state.
	if err := b.append([]byte("again")); err != nil {
		t.Fatalf("append after release: %v", err)
	}
	if got := string(b.bytes()); got != "again" {
		t.Errorf("buffer = %q, want %q", got, "again")
	}
}
