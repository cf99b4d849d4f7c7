package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/store"
)

// Resolution is the session decision for one inbound message.
type Resolution struct {
	// Tracker is the existing session record, or nil when the sender has none.
	Tracker *models.Tracker
	// OptedOut is true when the opt-out side effect was applied this turn;
	// the dispatcher takes no further action for the message.
	OptedOut bool
}

// Resolver looks up the tracker for an inbound message and applies the
// opt-out side effect. It never creates trackers; creation is delegated to
// the dispatcher so that a record is never created without a valid flow
// attached.
type Resolver struct {
	store store.Store
}

// NewResolver creates a Resolver backed by the given store.
func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Resolve looks up the session record for (msg.From, msg.To). If a record
// exists and the inbound text is the opt-out keyword, the record is
// deactivated as a side effect and reported as opted out.
func (r *Resolver) Resolve(ctx context.Context, msg models.Response) (Resolution, error) {
	tracker, err := r.store.GetTracker(msg.From, msg.To)
	if err != nil {
		slog.Error("Resolver tracker lookup failed", "error", err, "from", msg.From, "bot", msg.To)
		return Resolution{}, fmt.Errorf("failed to look up tracker for %s: %w", msg.From, err)
	}
	if tracker == nil {
		slog.Debug("Resolver no tracker", "from", msg.From, "bot", msg.To)
		return Resolution{}, nil
	}

	if models.IsOptOut(msg.Body) {
		if err := r.store.SetTrackerActive(tracker.ID, false); err != nil {
			slog.Error("Resolver opt-out deactivation failed", "error", err, "tracker", tracker.ID)
			return Resolution{}, fmt.Errorf("failed to deactivate tracker %s: %w", tracker.ID, err)
		}
		tracker.IsActive = false
		slog.Info("Resolver tracker opted out", "tracker", tracker.ID, "from", msg.From)
		return Resolution{Tracker: tracker, OptedOut: true}, nil
	}

	slog.Debug("Resolver tracker found", "tracker", tracker.ID, "active", tracker.IsActive, "node", tracker.CurrentNodeID)
	return Resolution{Tracker: tracker}, nil
}
