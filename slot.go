package sapi

import (
	"errors"
	"sync"
)

// ErrSlotOccupied means a request was handed to an adapter that is still
// serving another one. That is a programming-contract violation by the
// caller, never a condition to retry.
var ErrSlotOccupied = errors.New("sapi: request slot already occupied")

// requestSlot is the ambient current-request reference for one engine
// instance. The guest's callbacks carry no user data, so the adapter
// resolves the request through this slot instead. Acquisition is scoped:
// the returned release runs on every exit path (callers defer it), so a
// stale reference can never leak into the next request.
type requestSlot struct {
	mu  sync.Mutex
	cur *RequestContext
}

// acquire installs ctx as the current request. It fails with
// ErrSlotOccupied if the previous request was never released.
func (s *requestSlot) acquire(ctx *RequestContext) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil, ErrSlotOccupied
	}
	s.cur = ctx
	return func() {
		s.mu.Lock()
		s.cur = nil
		s.mu.Unlock()
	}, nil
}

// current returns the request being served, or nil between requests.
func (s *requestSlot) current() *RequestContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}
