package sapi

import (
	"errors"
	"testing"
)

func TestRequestSlot_AcquireRelease(t *testing.T) {
	var s requestSlot
	ctx := &RequestContext{}

	release, err := s.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if s.current() != ctx {
		t.Error("current() did not return the acquired context")
	}

	release()
	if s.current() != nil {
		t.Error("slot still occupied after release")
	}
}

func TestRequestSlot_DoubleAcquire(t *testing.T) {
	var s requestSlot
	release, err := s.acquire(&RequestContext{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if _, err := s.acquire(&RequestContext{}); !errors.Is(err, ErrSlotOccupied) {
		t.Errorf("second acquire = %v, want ErrSlotOccupied", err)
	}
}

func TestRequestSlot_ReacquireAfterRelease(t *testing.T) {
	var s requestSlot
	release, err := s.acquire(&RequestContext{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	release()

	second := &RequestContext{}
	release2, err := s.acquire(second)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	defer release2()
	if s.current() != second {
		t.Error("current() is not the second context")
	}
}
