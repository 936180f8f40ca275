package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

// dispatchRecorder is a dispatch func that records every Action it
// receives, for tests that don't care about a specific Action kind.
func dispatchRecorder(got *[]Action) func(Action) {
	return func(a Action) { *got = append(*got, a) }
}

func TestSchedule_FiresAfterDelay(t *testing.T) {
	var fired atomic.Bool
	s := New(func(Action) { fired.Store(true) })
	s.Schedule(10*time.Millisecond, Action{})

	if n := s.Drain(); n != 0 {
		t.Errorf("Drain() before delay elapsed = %d, want 0", n)
	}
	if fired.Load() {
		t.Error("action fired before its delay elapsed")
	}

	time.Sleep(20 * time.Millisecond)
	if n := s.Drain(); n != 1 {
		t.Errorf("Drain() after delay elapsed = %d, want 1", n)
	}
	if !fired.Load() {
		t.Error("action did not fire after Drain()")
	}
}

func TestDrain_RemovesBeforeInvoking(t *testing.T) {
	var s *Scheduler
	reentrantCount := 0
	s = New(func(Action) {
		// Scheduling more work from inside a firing action must not
		// cause this Drain() call to pick it up.
		s.Schedule(0, Action{})
		reentrantCount++
	})
	s.Schedule(0, Action{})

	time.Sleep(time.Millisecond)
	n := s.Drain()
	if n != 1 {
		t.Errorf("Drain() = %d, want 1", n)
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() after reentrant schedule = %d, want 1", s.Pending())
	}
}

func TestScheduleReconnect(t *testing.T) {
	var got []Action
	s := New(dispatchRecorder(&got))
	s.ScheduleReconnect("host:9000", 0)

	time.Sleep(time.Millisecond)
	s.Drain()

	if len(got) != 1 || got[0].Reconnect == nil {
		t.Fatalf("dispatched actions = %+v, want one Reconnect action", got)
	}
	if got[0].Reconnect.Endpoint != "host:9000" {
		t.Errorf("dial endpoint = %q, want host:9000", got[0].Reconnect.Endpoint)
	}
}

func TestPending(t *testing.T) {
	s := New(func(Action) {})
	if s.Pending() != 0 {
		t.Errorf("Pending() on empty scheduler = %d, want 0", s.Pending())
	}
	s.Schedule(time.Hour, Action{})
	if s.Pending() != 1 {
		t.Errorf("Pending() after Schedule() = %d, want 1", s.Pending())
	}
}
