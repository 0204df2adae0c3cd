package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew_InvalidArgs(t *testing.T) {
	t.Parallel()

	if s, err := New(0, func(context.Context) {}, nil); err == nil || s != nil {
		t.Fatalf("expected error for zero interval, got %v %#v", err, s)
	}
	if s, err := New(time.Second, nil, nil); err == nil || s != nil {
		t.Fatalf("expected error for nil tickFn, got %v %#v", err, s)
	}
}

func TestScheduler_StartStop_Basics(t *testing.T) {
	var calls atomic.Int64

	s, err := New(10*time.Millisecond, func(context.Context) { calls.Add(1) }, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	if s.IsRunning() {
		t.Fatalf("expected scheduler not running initially")
	}
	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true on first call")
	}
	if ok := s.Start(); ok {
		t.Fatalf("expected Start() false when already running")
	}

	// There is an immediate tick on Start().
	waitForAtLeast(t, &calls, 1, 500*time.Millisecond)

	if ok := s.Stop(); !ok {
		t.Fatalf("expected Stop() true on first call")
	}
	if s.IsRunning() {
		t.Fatalf("expected scheduler not running after Stop()")
	}
	if ok := s.Stop(); ok {
		t.Fatalf("expected Stop() false when already stopped")
	}

	// Restartable.
	if ok := s.Start(); !ok {
		t.Fatalf("expected Start() true after Stop()")
	}
	s.Stop()
}

func TestScheduler_NoTicksAfterStop(t *testing.T) {
	var calls atomic.Int64

	s, err := New(10*time.Millisecond, func(context.Context) { calls.Add(1) }, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	s.Start()
	waitForAtLeast(t, &calls, 2, 750*time.Millisecond)
	s.Stop()
	beforeStop := calls.Load()

	time.Sleep(100 * time.Millisecond)

	if afterStop := calls.Load(); afterStop != beforeStop {
		t.Fatalf("expected no ticks after Stop; before=%d after=%d", beforeStop, afterStop)
	}
}

func TestScheduler_TickPanicDoesNotStopTheLoop(t *testing.T) {
	var calls atomic.Int64

	s, err := New(10*time.Millisecond, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}, nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	s.Start()
	defer s.Stop()

	waitForAtLeast(t, &calls, 3, 750*time.Millisecond)
}

// waitForAtLeast waits until calls >= n or fails the test after timeout.
func waitForAtLeast(t *testing.T, calls *atomic.Int64, n int64, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		if calls.Load() >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for calls >= %d (got %d)", n, calls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}
