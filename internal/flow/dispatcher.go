package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/store"
	"github.com/google/uuid"
)

// Sender delivers the outbound instructions produced by a dispatch.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMedia(ctx context.Context, to string, blob models.MediaBlob) error
}

// MenuPolicy selects which Menu child wins when a target node has several.
type MenuPolicy string

const (
	// MenuPolicyFirst advances to the first Menu child in index order;
	// further Menu siblings are ignored.
	MenuPolicyFirst MenuPolicy = "first"
)

// Config holds dispatcher policies.
type Config struct {
	MenuPolicy MenuPolicy
}

// Dispatcher is the flow state machine. It consumes an inbound message plus
// resolved session state, advances the tracker and emits outbound sends.
// Dispatches for the same (user, bot) pair are serialized by a keyed lock;
// the decision logic uses values read at the start of processing and never
// re-reads mid-transition.
type Dispatcher struct {
	store    store.Store
	sender   Sender
	fetcher  Fetcher
	resolver *Resolver
	cfg      Config
	locks    conversationLocks
}

// NewDispatcher creates a Dispatcher with the default menu policy.
func NewDispatcher(st store.Store, sender Sender, fetcher Fetcher) *Dispatcher {
	return &Dispatcher{
		store:    st,
		sender:   sender,
		fetcher:  fetcher,
		resolver: NewResolver(st),
		cfg:      Config{MenuPolicy: MenuPolicyFirst},
		locks:    conversationLocks{entries: make(map[string]*lockEntry)},
	}
}

// HandleMessage resolves the session for one inbound message and dispatches
// it. All failures are contained here; one bad message never affects another
// conversation.
func (d *Dispatcher) HandleMessage(ctx context.Context, msg models.Response) error {
	key := msg.From + "|" + msg.To
	d.locks.acquire(key)
	defer d.locks.release(key)

	res, err := d.resolver.Resolve(ctx, msg)
	if err != nil {
		return err
	}
	return d.Dispatch(ctx, msg, res)
}

// Dispatch runs the transition rules for an inbound message against resolved
// session state.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.Response, res Resolution) error {
	if res.OptedOut {
		slog.Debug("Dispatcher skipping opted-out message", "from", msg.From)
		return nil
	}

	lowered := strings.ToLower(strings.TrimSpace(msg.Body))

	if res.Tracker == nil {
		return d.dispatchTrigger(ctx, msg, lowered)
	}
	if !res.Tracker.IsActive {
		slog.Debug("Dispatcher ignoring message for inactive tracker", "tracker", res.Tracker.ID)
		return nil
	}
	return d.dispatchNavigation(ctx, msg, lowered, res.Tracker)
}

// dispatchTrigger handles the no-session case: keyword-triggered flow entry.
func (d *Dispatcher) dispatchTrigger(ctx context.Context, msg models.Response, lowered string) error {
	account, err := d.store.GetAccountByNumber(msg.To)
	if err != nil {
		slog.Error("Dispatcher account lookup failed", "error", err, "bot", msg.To)
		return fmt.Errorf("failed to look up account for %s: %w", msg.To, err)
	}
	if account == nil {
		slog.Debug("Dispatcher no account for bot number", "bot", msg.To)
		return nil
	}

	flows, err := d.store.ListFlowsByAccount(account.ID)
	if err != nil {
		slog.Error("Dispatcher flow listing failed", "error", err, "account", account.ID)
		return fmt.Errorf("failed to list flows for account %s: %w", account.ID, err)
	}

	var matched *models.Flow
	for i := range flows {
		if MatchTrigger(&flows[i], lowered) {
			matched = &flows[i]
			break
		}
	}
	if matched == nil {
		slog.Debug("Dispatcher no trigger match", "from", msg.From, "bot", msg.To)
		return nil
	}

	entry := EntryNode(matched)
	if entry == nil {
		slog.Warn("Dispatcher triggered flow has no root node", "flow", matched.ID)
		return nil
	}

	name := strings.TrimSpace(msg.DisplayName)
	d.deliver(ctx, []models.Outbound{
		{Kind: models.OutboundText, To: msg.From, Body: ComposeEntryReply(matched, name)},
	})

	now := time.Now()
	tracker := models.Tracker{
		ID:            uuid.NewString(),
		PhoneNumber:   msg.From,
		BotNumber:     msg.To,
		FlowID:        matched.ID,
		CurrentNodeID: entry.ID,
		DisplayName:   name,
		IsActive:      true,
		JoinedAt:      now,
		LastActive:    now,
	}
	if err := d.store.CreateTracker(tracker); err != nil {
		slog.Error("Dispatcher tracker creation failed", "error", err, "from", msg.From, "flow", matched.ID)
		return fmt.Errorf("failed to create tracker for %s: %w", msg.From, err)
	}

	slog.Info("Dispatcher flow triggered", "from", msg.From, "flow", matched.ID, "entry", entry.ID)
	return nil
}

// dispatchNavigation handles an active tracker: reset, selection or no-op.
func (d *Dispatcher) dispatchNavigation(ctx context.Context, msg models.Response, lowered string, tracker *models.Tracker) error {
	flow, err := d.store.GetFlow(tracker.FlowID)
	if err != nil {
		slog.Error("Dispatcher flow load failed", "error", err, "flow", tracker.FlowID)
		return fmt.Errorf("failed to load flow %s: %w", tracker.FlowID, err)
	}
	if flow == nil {
		slog.Warn("Dispatcher tracker references missing flow", "tracker", tracker.ID, "flow", tracker.FlowID)
		return nil
	}

	// Keep the greeting current with the sender's latest push name.
	if name := strings.TrimSpace(msg.DisplayName); name != "" && name != tracker.DisplayName {
		tracker.DisplayName = name
	}

	if lowered == models.MainMenuKey || MatchTrigger(flow, lowered) {
		return d.resetToEntry(ctx, msg, flow, tracker)
	}

	parent := flow.NodeByID(tracker.CurrentNodeID)
	if parent == nil {
		slog.Warn("Dispatcher tracker positioned at missing node", "tracker", tracker.ID, "node", tracker.CurrentNodeID)
		return nil
	}

	target := MatchSelection(OrderedChildren(flow, parent.ID), msg.Body)
	if target == nil {
		slog.Debug("Dispatcher no selection match", "tracker", tracker.ID, "node", parent.ID)
		return nil
	}

	cls := Classify(OrderedChildren(flow, target.ID))
	if len(cls.Menus) == 0 && len(cls.Outputs) == 0 {
		slog.Debug("Dispatcher selection is a bare leaf", "tracker", tracker.ID, "target", target.ID)
		return nil
	}

	var outs []models.Outbound
	if len(cls.Menus) > 0 {
		menu := d.pickMenu(cls.Menus)
		if len(cls.Menus) > 1 {
			slog.Warn("Dispatcher target has multiple menu children", "target", target.ID, "chosen", menu.ID, "policy", d.cfg.MenuPolicy)
		}
		outs = append(outs, models.Outbound{Kind: models.OutboundText, To: msg.From, Body: ComposeMenuReply(flow, menu)})
		tracker.CurrentNodeID = menu.ID
	}

	// Output dispatch is independent of the menu branch and never moves the
	// tracker position. Instructions are delivered in child order, menu reply
	// first.
	for _, out := range cls.Outputs {
		outs = append(outs, outputInstruction(msg.From, out))
	}
	d.deliver(ctx, outs)

	tracker.LastActive = time.Now()
	if err := d.store.UpdateTracker(*tracker); err != nil {
		slog.Error("Dispatcher tracker update failed", "error", err, "tracker", tracker.ID)
		return fmt.Errorf("failed to update tracker %s: %w", tracker.ID, err)
	}

	slog.Info("Dispatcher selection handled", "tracker", tracker.ID, "target", target.ID, "node", tracker.CurrentNodeID)
	return nil
}

// resetToEntry resends the full entry reply and repositions the tracker at
// the flow entry node.
func (d *Dispatcher) resetToEntry(ctx context.Context, msg models.Response, flow *models.Flow, tracker *models.Tracker) error {
	entry := EntryNode(flow)
	if entry == nil {
		slog.Warn("Dispatcher flow has no root node on reset", "flow", flow.ID)
		return nil
	}

	d.deliver(ctx, []models.Outbound{
		{Kind: models.OutboundText, To: msg.From, Body: ComposeEntryReply(flow, tracker.DisplayName)},
	})

	tracker.CurrentNodeID = entry.ID
	tracker.LastActive = time.Now()
	if err := d.store.UpdateTracker(*tracker); err != nil {
		slog.Error("Dispatcher tracker reset failed", "error", err, "tracker", tracker.ID)
		return fmt.Errorf("failed to reset tracker %s: %w", tracker.ID, err)
	}

	slog.Info("Dispatcher tracker reset to entry", "tracker", tracker.ID, "entry", entry.ID)
	return nil
}

// outputInstruction converts one Output node into a send instruction. Text
// outputs get their escape sequences expanded here so the instruction carries
// the final body.
func outputInstruction(to string, node models.FlowNode) models.Outbound {
	if node.Data.MediaType == models.MediaTypeMessage || node.Data.MediaType == "" {
		return models.Outbound{Kind: models.OutboundText, To: to, Body: ExpandEscapes(node.Data.MediaValue)}
	}
	return models.Outbound{Kind: models.OutboundMedia, To: to, MediaURL: node.Data.MediaValue, MediaType: node.Data.MediaType}
}

// deliver executes send instructions in order. Failures are logged and
// skipped so the remaining instructions still attempt to send.
func (d *Dispatcher) deliver(ctx context.Context, outs []models.Outbound) {
	for _, out := range outs {
		switch out.Kind {
		case models.OutboundText:
			if err := d.sender.SendMessage(ctx, out.To, out.Body); err != nil {
				slog.Error("Dispatcher text send failed", "error", err, "to", out.To)
			}
		case models.OutboundMedia:
			blob, err := d.fetcher.FetchMedia(ctx, out.MediaURL)
			if err != nil {
				slog.Error("Dispatcher media fetch failed, skipping instruction", "error", err, "url", out.MediaURL)
				continue
			}
			if err := d.sender.SendMedia(ctx, out.To, blob); err != nil {
				slog.Error("Dispatcher media send failed", "error", err, "to", out.To)
			}
		}
	}
}

func (d *Dispatcher) pickMenu(menus []models.FlowNode) models.FlowNode {
	// MenuPolicyFirst is the only policy today; the switch keeps the policy
	// explicit rather than implicit in slice order.
	switch d.cfg.MenuPolicy {
	case MenuPolicyFirst:
		return menus[0]
	default:
		return menus[0]
	}
}

// conversationLocks serializes dispatches per (user, bot) pair.
type conversationLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (c *conversationLocks) acquire(key string) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &lockEntry{}
		c.entries[key] = entry
	}
	entry.refs++
	c.mu.Unlock()

	entry.mu.Lock()
}

func (c *conversationLocks) release(key string) {
	c.mu.Lock()
	entry := c.entries[key]
	entry.refs--
	if entry.refs == 0 {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	entry.mu.Unlock()
}
