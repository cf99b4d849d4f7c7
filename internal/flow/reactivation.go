package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/store"
)

// ReactivationDelay is the fixed pause applied to a conversation when a
// human operator takes it over.
const ReactivationDelay = 5 * time.Hour

// ReactivatorOpts holds configuration for a Reactivator.
type ReactivatorOpts struct {
	Delay time.Duration
}

// ReactivatorOption defines a configuration option for a Reactivator.
type ReactivatorOption func(*ReactivatorOpts)

// WithReactivationDelay overrides the fixed reactivation delay.
func WithReactivationDelay(d time.Duration) ReactivatorOption {
	return func(o *ReactivatorOpts) {
		o.Delay = d
	}
}

// Reactivator observes outbound delivery acknowledgements. A delivered ack
// for a message the operator sent manually from the bot account pauses every
// active tracker for that conversation and schedules a single delayed task
// that reactivates exactly the tracker set captured at scheduling time,
// unconditionally. Reactivation is at-least-once and non-cancellable: a later
// ack schedules a second independent task and both fire. Callers needing
// exactly-once semantics should add an idempotency guard on top.
type Reactivator struct {
	store store.Store
	timer Timer
	delay time.Duration
}

// NewReactivator creates a Reactivator with the fixed five-hour delay unless
// overridden.
func NewReactivator(st store.Store, timer Timer, opts ...ReactivatorOption) *Reactivator {
	cfg := ReactivatorOpts{Delay: ReactivationDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Reactivator{store: st, timer: timer, delay: cfg.Delay}
}

// HandleAck processes one delivery acknowledgement. Only delivered acks for
// messages sent from the bot account itself (manual operator sends) trigger
// the pause; everything else is ignored.
func (r *Reactivator) HandleAck(ctx context.Context, ack models.Ack) error {
	if ack.Level != models.MessageStatusDelivered || !ack.FromSelf {
		return nil
	}

	trackers, err := r.store.ListTrackersForConversation(ack.UserPhone, ack.BotPhone)
	if err != nil {
		slog.Error("Reactivator tracker listing failed", "error", err, "user", ack.UserPhone, "bot", ack.BotPhone)
		return fmt.Errorf("failed to list trackers for %s/%s: %w", ack.UserPhone, ack.BotPhone, err)
	}

	reactivateAt := time.Now().Add(r.delay)
	var captured []string
	for _, t := range trackers {
		if !t.IsActive {
			continue
		}
		if err := r.store.SetTrackerActive(t.ID, false); err != nil {
			slog.Error("Reactivator deactivation failed", "error", err, "tracker", t.ID)
			continue
		}
		if err := r.store.SetTrackerReactivateAt(t.ID, &reactivateAt); err != nil {
			slog.Error("Reactivator reactivate_at persist failed", "error", err, "tracker", t.ID)
		}
		captured = append(captured, t.ID)
	}
	if len(captured) == 0 {
		return nil
	}

	r.scheduleReactivation(captured, reactivateAt)
	slog.Info("Reactivator paused conversation", "user", ack.UserPhone, "bot", ack.BotPhone, "trackers", len(captured), "reactivate_at", reactivateAt)
	return nil
}

// RearmPending schedules reactivation tasks for trackers whose pause predates
// the current process (after a restart). Returns the number of trackers
// re-armed.
func (r *Reactivator) RearmPending() (int, error) {
	pending, err := r.store.ListPendingReactivations()
	if err != nil {
		return 0, fmt.Errorf("failed to list pending reactivations: %w", err)
	}

	var armed int
	for _, t := range pending {
		if t.ReactivateAt == nil {
			continue
		}
		r.scheduleReactivationAt([]string{t.ID}, *t.ReactivateAt)
		armed++
	}

	if armed > 0 {
		slog.Info("Reactivator re-armed pending reactivations", "count", armed)
	}
	return armed, nil
}

func (r *Reactivator) scheduleReactivation(ids []string, at time.Time) {
	r.scheduleReactivationAt(ids, at)
}

// scheduleReactivationAt arms a one-shot task that flips the captured
// trackers back to active. The flip is unconditional even if something else
// mutated the trackers in the interim.
func (r *Reactivator) scheduleReactivationAt(ids []string, at time.Time) {
	if _, err := r.timer.ScheduleAt(at, func() {
		for _, id := range ids {
			if err := r.store.SetTrackerActive(id, true); err != nil {
				slog.Error("Reactivator reactivation failed", "error", err, "tracker", id)
				continue
			}
			if err := r.store.SetTrackerReactivateAt(id, nil); err != nil {
				slog.Error("Reactivator reactivate_at clear failed", "error", err, "tracker", id)
			}
			slog.Info("Reactivator tracker reactivated", "tracker", id)
		}
	}); err != nil {
		slog.Error("Reactivator scheduling failed", "error", err, "trackers", len(ids))
	}
}
