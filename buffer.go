package sapi

import "errors"

// Initial capture buffer capacities. Buffers grow by doubling from these.
const (
	bodyBufferInitCap   = 8 << 10
	headerBufferInitCap = 4 << 10
)

// ErrResponseTooLarge is returned by capture appends that would push the
// buffer past its configured limit. The append is dropped and the
// response is marked truncated; the request itself keeps running.
var ErrResponseTooLarge = errors.New("sapi: response capture limit exceeded")

// captureBuffer is an append-only byte buffer for captured response
// output. Capacity doubles whenever the post-append length would reach
// it, starting from initCap. It never shrinks and is released exactly
// once per execution.
type captureBuffer struct {
	buf     []byte
	initCap int
	max     int // 0 = unlimited
}

// grow ensures room for n more bytes, doubling capacity as needed.
func (b *captureBuffer) grow(n int) error {
	need := len(b.buf) + n
	if b.max > 0 && need > b.max {
		return ErrResponseTooLarge
	}
	if need < cap(b.buf) {
		return nil
	}
	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = b.initCap
	}
	for need >= newCap {
		newCap *= 2
	}
	grown := make([]byte, len(b.buf), newCap)
	copy(grown, b.buf)
	b.buf = grown
	return nil
}

// append copies p to the end of the buffer. On ErrResponseTooLarge the
// buffer is left exactly as it was.
func (b *captureBuffer) append(p []byte) error {
	if err := b.grow(len(p)); err != nil {
		return err
	}
	b.buf = append(b.buf, p...)
	return nil
}

// appendLine copies p plus a trailing '\n'. The terminator is the
// buffer's responsibility, not the caller's.
func (b *captureBuffer) appendLine(p []byte) error {
	if err := b.grow(len(p) + 1); err != nil {
		return err
	}
	b.buf = append(b.buf, p...)
	b.buf = append(b.buf, '\n')
	return nil
}

func (b *captureBuffer) bytes() []byte { return b.buf }

func (b *captureBuffer) len() int { return len(b.buf) }

// release drops the underlying storage. A released (or never-used)
// buffer releases to the same zero state, so calling it twice is fine.
func (b *captureBuffer) release() {
	b.buf = nil
}
