package flow

import (
	"context"
	"testing"

	"github.com/BTreeMap/MenuPipe/internal/store"
)

func TestResolveNoTracker(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewResolver(st)

	res, err := r.Resolve(context.Background(), inbound("hello"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Tracker != nil || res.OptedOut {
		t.Errorf("expected empty resolution, got %+v", res)
	}
}

func TestResolveExistingTracker(t *testing.T) {
	st := store.NewInMemoryStore()
	seedActiveTracker(t, st, "trk-1")
	r := NewResolver(st)

	res, err := r.Resolve(context.Background(), inbound("1"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Tracker == nil || res.Tracker.ID != "trk-1" {
		t.Fatalf("expected tracker trk-1, got %+v", res.Tracker)
	}
	if res.OptedOut {
		t.Error("plain message should not opt out")
	}
}

func TestResolveOptOut(t *testing.T) {
	st := store.NewInMemoryStore()
	seedActiveTracker(t, st, "trk-1")
	r := NewResolver(st)

	// The keyword matches case-insensitively with surrounding whitespace.
	res, err := r.Resolve(context.Background(), inbound("  Stop "))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !res.OptedOut {
		t.Fatal("expected opt-out resolution")
	}

	tracker, err := st.GetTrackerByID("trk-1")
	if err != nil {
		t.Fatalf("tracker lookup failed: %v", err)
	}
	if tracker.IsActive {
		t.Error("opt-out should deactivate the tracker")
	}
}

func TestResolveOptOutWithoutTracker(t *testing.T) {
	st := store.NewInMemoryStore()
	r := NewResolver(st)

	// "stop" from an unknown sender is just an unmatched message.
	res, err := r.Resolve(context.Background(), inbound("stop"))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.OptedOut || res.Tracker != nil {
		t.Errorf("expected empty resolution, got %+v", res)
	}
}
