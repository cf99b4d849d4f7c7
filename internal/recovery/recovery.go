// Package recovery restores paused conversations after a process restart.
//
// Pauses survive restarts because the reactivation deadline is persisted with
// each tracker. On startup the pending deadlines are re-armed as in-process
// timers, and a periodic cron sweep catches anything a crashed timer missed.
package recovery

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/flow"
	"github.com/BTreeMap/MenuPipe/internal/scheduler"
	"github.com/BTreeMap/MenuPipe/internal/store"
)

// SweepCronExpr runs the safety-net sweep every ten minutes.
const SweepCronExpr = "*/10 * * * *"

// Manager owns restart recovery and the periodic reactivation sweep.
type Manager struct {
	store       store.Store
	reactivator *flow.Reactivator
	sched       *scheduler.Scheduler
}

// NewManager creates a recovery manager.
func NewManager(st store.Store, reactivator *flow.Reactivator, sched *scheduler.Scheduler) *Manager {
	return &Manager{store: st, reactivator: reactivator, sched: sched}
}

// Start re-arms pending reactivations and registers the periodic sweep.
func (m *Manager) Start() error {
	count, err := m.reactivator.RearmPending()
	if err != nil {
		return fmt.Errorf("failed to re-arm pending reactivations: %w", err)
	}
	slog.Info("Recovery re-armed pending reactivations on startup", "count", count)

	if m.sched != nil {
		if err := m.sched.AddJob("reactivation-sweep", SweepCronExpr, m.Sweep); err != nil {
			return fmt.Errorf("failed to register reactivation sweep: %w", err)
		}
		slog.Info("Recovery registered reactivation sweep", "cron", SweepCronExpr)
	}
	return nil
}

// Sweep reactivates trackers whose persisted deadline has already passed.
// This is the safety net for timers lost to a crash between re-arm and fire.
func (m *Manager) Sweep() {
	pending, err := m.store.ListPendingReactivations()
	if err != nil {
		slog.Error("Recovery sweep listing failed", "error", err)
		return
	}

	now := time.Now()
	var restored int
	for _, t := range pending {
		if t.ReactivateAt == nil || t.ReactivateAt.After(now) {
			continue
		}
		if err := m.store.SetTrackerActive(t.ID, true); err != nil {
			slog.Error("Recovery sweep reactivation failed", "error", err, "tracker", t.ID)
			continue
		}
		if err := m.store.SetTrackerReactivateAt(t.ID, nil); err != nil {
			slog.Error("Recovery sweep reactivate_at clear failed", "error", err, "tracker", t.ID)
		}
		restored++
	}

	if restored > 0 {
		slog.Info("Recovery sweep restored overdue trackers", "count", restored)
	}
}
