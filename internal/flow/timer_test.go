package flow

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSimpleTimerScheduleAfter(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Int32
	id, err := timer.ScheduleAfter(10*time.Millisecond, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if id == "" {
		t.Error("expected a non-empty timer ID")
	}
	if timer.ActiveCount() != 1 {
		t.Errorf("expected 1 active timer, got %d", timer.ActiveCount())
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatalf("expected function to fire once, got %d", fired.Load())
	}
}

func TestSimpleTimerScheduleAtPast(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Int32
	if _, err := timer.ScheduleAt(time.Now().Add(-time.Minute), func() { fired.Add(1) }); err != nil {
		t.Fatalf("ScheduleAt failed: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fired.Load() != 1 {
		t.Fatal("past deadline should fire immediately")
	}
}

func TestSimpleTimerCancel(t *testing.T) {
	timer := NewSimpleTimer()
	defer timer.Stop()

	var fired atomic.Int32
	id, err := timer.ScheduleAfter(30*time.Millisecond, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("ScheduleAfter failed: %v", err)
	}
	if err := timer.Cancel(id); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if timer.ActiveCount() != 0 {
		t.Errorf("expected 0 active timers after cancel, got %d", timer.ActiveCount())
	}

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Error("cancelled timer should not fire")
	}
}

func TestSimpleTimerStopCancelsAll(t *testing.T) {
	timer := NewSimpleTimer()

	var fired atomic.Int32
	for i := 0; i < 3; i++ {
		if _, err := timer.ScheduleAfter(30*time.Millisecond, func() { fired.Add(1) }); err != nil {
			t.Fatalf("ScheduleAfter failed: %v", err)
		}
	}
	timer.Stop()

	time.Sleep(60 * time.Millisecond)
	if fired.Load() != 0 {
		t.Errorf("stopped timers should not fire, got %d", fired.Load())
	}
	if timer.ActiveCount() != 0 {
		t.Errorf("expected 0 active timers after Stop, got %d", timer.ActiveCount())
	}
}
