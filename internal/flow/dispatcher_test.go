package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/store"
)

type sentText struct {
	To   string
	Body string
}

type sentMedia struct {
	To   string
	Blob models.MediaBlob
}

// mockSender records outbound sends for assertions. Order interleaves text
// and media sends as they happen.
type mockSender struct {
	Texts    []sentText
	Media    []sentMedia
	Order    []string
	TextErr  error
	MediaErr error
}

func (m *mockSender) SendMessage(ctx context.Context, to string, body string) error {
	if m.TextErr != nil {
		return m.TextErr
	}
	m.Texts = append(m.Texts, sentText{To: to, Body: body})
	m.Order = append(m.Order, "text")
	return nil
}

func (m *mockSender) SendMedia(ctx context.Context, to string, blob models.MediaBlob) error {
	if m.MediaErr != nil {
		return m.MediaErr
	}
	m.Media = append(m.Media, sentMedia{To: to, Blob: blob})
	m.Order = append(m.Order, "media")
	return nil
}

func (m *mockSender) reset() {
	m.Texts = nil
	m.Media = nil
	m.Order = nil
}

// mockFetcher returns a canned blob without touching the network.
type mockFetcher struct {
	Err  error
	URLs []string
}

func (m *mockFetcher) FetchMedia(ctx context.Context, url string) (models.MediaBlob, error) {
	if m.Err != nil {
		return models.MediaBlob{}, m.Err
	}
	m.URLs = append(m.URLs, url)
	return models.MediaBlob{Data: []byte("fake"), MimeType: "image/jpeg", FileName: "storefront.jpg", SourceURL: url}, nil
}

const (
	testUser = "15551234567"
	testBot  = "15550000001"
)

func newDispatcherFixture(t *testing.T) (*Dispatcher, *store.InMemoryStore, *mockSender, *mockFetcher) {
	t.Helper()
	st := store.NewInMemoryStore()
	if err := st.SaveAccount(models.Account{ID: "acct-1", ConnectedNumber: testBot, WhatsAppActive: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if err := st.SaveFlow(*testFlow()); err != nil {
		t.Fatalf("failed to seed flow: %v", err)
	}
	sender := &mockSender{}
	fetcher := &mockFetcher{}
	return NewDispatcher(st, sender, fetcher), st, sender, fetcher
}

func inbound(body string) models.Response {
	return models.Response{From: testUser, To: testBot, Body: body, Time: time.Now().Unix()}
}

func mustTracker(t *testing.T, st store.Store) *models.Tracker {
	t.Helper()
	tracker, err := st.GetTracker(testUser, testBot)
	if err != nil {
		t.Fatalf("tracker lookup failed: %v", err)
	}
	if tracker == nil {
		t.Fatal("expected a tracker to exist")
	}
	return tracker
}

func TestDispatchTriggerCreatesTracker(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)

	if err := d.HandleMessage(context.Background(), inbound("hello info")); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}

	if len(sender.Texts) != 1 {
		t.Fatalf("expected one entry reply, got %d", len(sender.Texts))
	}
	if !strings.Contains(sender.Texts[0].Body, "1. Main menu") {
		t.Errorf("entry reply missing menu line: %q", sender.Texts[0].Body)
	}
	if !strings.Contains(sender.Texts[0].Body, OptOutHint) {
		t.Errorf("entry reply missing opt-out hint: %q", sender.Texts[0].Body)
	}

	tracker := mustTracker(t, st)
	if tracker.CurrentNodeID != "main" {
		t.Errorf("expected tracker at entry node main, got %s", tracker.CurrentNodeID)
	}
	if !tracker.IsActive {
		t.Error("new tracker should be active")
	}
	if tracker.FlowID != "flow-1" {
		t.Errorf("expected flow-1, got %s", tracker.FlowID)
	}
}

func TestDispatchTriggerNoMatch(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)

	if err := d.HandleMessage(context.Background(), inbound("good morning")); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(sender.Texts) != 0 {
		t.Errorf("expected no sends, got %d", len(sender.Texts))
	}
	tracker, err := st.GetTracker(testUser, testBot)
	if err != nil {
		t.Fatalf("tracker lookup failed: %v", err)
	}
	if tracker != nil {
		t.Error("no tracker should be created without a trigger match")
	}
}

func TestDispatchTriggerUnknownBotNumber(t *testing.T) {
	d, _, sender, _ := newDispatcherFixture(t)

	msg := inbound("info")
	msg.To = "19999999999"
	if err := d.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if len(sender.Texts) != 0 {
		t.Errorf("expected no sends for unknown bot number, got %d", len(sender.Texts))
	}
}

func TestDispatchSelectionWithMenuAndOutput(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	sender.Texts = nil

	// At main, "1" selects hours which has a menu child and a text output.
	if err := d.HandleMessage(ctx, inbound("1")); err != nil {
		t.Fatalf("selection failed: %v", err)
	}

	if len(sender.Texts) != 2 {
		t.Fatalf("expected menu reply plus one output, got %d sends", len(sender.Texts))
	}
	if !strings.Contains(sender.Texts[0].Body, MainMenuFooter) {
		t.Errorf("first send should be the menu reply, got %q", sender.Texts[0].Body)
	}
	if sender.Texts[1].Body != "Open 9-5\nMon-Fri" {
		t.Errorf("output text not expanded: %q", sender.Texts[1].Body)
	}

	tracker := mustTracker(t, st)
	if tracker.CurrentNodeID != "hours-menu" {
		t.Errorf("tracker should advance to the menu child, got %s", tracker.CurrentNodeID)
	}
}

func TestDispatchSelectionMediaOutputKeepsPosition(t *testing.T) {
	d, st, sender, fetcher := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	sender.Texts = nil

	// At main, "2" selects pics whose only child is an image output.
	if err := d.HandleMessage(ctx, inbound("2")); err != nil {
		t.Fatalf("selection failed: %v", err)
	}

	if len(sender.Texts) != 0 {
		t.Errorf("expected no text sends, got %d", len(sender.Texts))
	}
	if len(sender.Media) != 1 {
		t.Fatalf("expected one media send, got %d", len(sender.Media))
	}
	if len(fetcher.URLs) != 1 || fetcher.URLs[0] != "https://example.com/storefront.jpg" {
		t.Errorf("unexpected fetch URLs: %v", fetcher.URLs)
	}

	tracker := mustTracker(t, st)
	if tracker.CurrentNodeID != "main" {
		t.Errorf("output-only selection must not move the tracker, got %s", tracker.CurrentNodeID)
	}
}

func TestDispatchMixedOutputsSendInChildOrder(t *testing.T) {
	d, st, sender, fetcher := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	sender.reset()

	// At main, "3" selects mixed whose children are a text output (index 1)
	// and an image output (index 2).
	if err := d.HandleMessage(ctx, inbound("3")); err != nil {
		t.Fatalf("selection failed: %v", err)
	}

	if len(sender.Order) != 2 || sender.Order[0] != "text" || sender.Order[1] != "media" {
		t.Fatalf("expected text then media in child order, got %v", sender.Order)
	}
	if sender.Texts[0].Body != "See you soon\nCheers" {
		t.Errorf("output text not expanded: %q", sender.Texts[0].Body)
	}
	if len(fetcher.URLs) != 1 || fetcher.URLs[0] != "https://example.com/tour.jpg" {
		t.Errorf("unexpected fetch URLs: %v", fetcher.URLs)
	}

	tracker := mustTracker(t, st)
	if tracker.CurrentNodeID != "main" {
		t.Errorf("output-only selection must not move the tracker, got %s", tracker.CurrentNodeID)
	}
}

func TestDispatchCarriesDisplayName(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	msg := inbound("info")
	msg.DisplayName = "Sam"
	if err := d.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if !strings.HasPrefix(sender.Texts[0].Body, "Hi Sam!\n") {
		t.Errorf("entry reply should greet by push name, got %q", sender.Texts[0].Body)
	}
	if mustTracker(t, st).DisplayName != "Sam" {
		t.Errorf("tracker should carry the push name, got %q", mustTracker(t, st).DisplayName)
	}
	sender.reset()

	// The reset reply greets with the stored name even when the reset message
	// carries none.
	if err := d.HandleMessage(ctx, inbound("0")); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if !strings.HasPrefix(sender.Texts[0].Body, "Hi Sam!\n") {
		t.Errorf("reset reply should greet by stored name, got %q", sender.Texts[0].Body)
	}

	// A changed push name on a later message refreshes the stored one.
	msg = inbound("0")
	msg.DisplayName = "Samantha"
	if err := d.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if mustTracker(t, st).DisplayName != "Samantha" {
		t.Errorf("push name should refresh, got %q", mustTracker(t, st).DisplayName)
	}
}

func TestDispatchMediaFetchFailureSkipsOutput(t *testing.T) {
	d, st, sender, fetcher := newDispatcherFixture(t)
	fetcher.Err = errors.New("fetch failed")
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if err := d.HandleMessage(ctx, inbound("2")); err != nil {
		t.Fatalf("selection should not propagate fetch errors: %v", err)
	}
	if len(sender.Media) != 0 {
		t.Errorf("expected no media send after fetch failure, got %d", len(sender.Media))
	}
	// The turn still completes and the tracker survives.
	mustTracker(t, st)
}

func TestDispatchNoSelectionMatch(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	sender.Texts = nil

	if err := d.HandleMessage(ctx, inbound("9")); err != nil {
		t.Fatalf("unmatched selection failed: %v", err)
	}
	if len(sender.Texts) != 0 {
		t.Errorf("unmatched selection should send nothing, got %d", len(sender.Texts))
	}
	tracker := mustTracker(t, st)
	if tracker.CurrentNodeID != "main" {
		t.Errorf("unmatched selection should not move the tracker, got %s", tracker.CurrentNodeID)
	}
}

func TestDispatchMainMenuReset(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if err := d.HandleMessage(ctx, inbound("1")); err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if mustTracker(t, st).CurrentNodeID != "hours-menu" {
		t.Fatal("fixture should have advanced before reset")
	}
	sender.Texts = nil

	if err := d.HandleMessage(ctx, inbound("0")); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if len(sender.Texts) != 1 || !strings.Contains(sender.Texts[0].Body, OptOutHint) {
		t.Fatalf("expected full entry reply on reset, got %+v", sender.Texts)
	}
	if mustTracker(t, st).CurrentNodeID != "main" {
		t.Errorf("reset should reposition at entry, got %s", mustTracker(t, st).CurrentNodeID)
	}
}

func TestDispatchRetriggerResets(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if err := d.HandleMessage(ctx, inbound("1")); err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	sender.Texts = nil

	// Sending a trigger keyword mid-session resets instead of re-creating.
	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("re-trigger failed: %v", err)
	}
	if len(sender.Texts) != 1 {
		t.Fatalf("expected one entry reply, got %d", len(sender.Texts))
	}
	if mustTracker(t, st).CurrentNodeID != "main" {
		t.Errorf("re-trigger should reset to entry, got %s", mustTracker(t, st).CurrentNodeID)
	}
}

func TestDispatchOptOut(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	sender.Texts = nil

	if err := d.HandleMessage(ctx, inbound("STOP")); err != nil {
		t.Fatalf("opt-out failed: %v", err)
	}
	if len(sender.Texts) != 0 {
		t.Errorf("opt-out should send nothing, got %d", len(sender.Texts))
	}
	if mustTracker(t, st).IsActive {
		t.Error("tracker should be deactivated after opt-out")
	}

	// Subsequent messages are ignored while inactive.
	if err := d.HandleMessage(ctx, inbound("1")); err != nil {
		t.Fatalf("inactive message failed: %v", err)
	}
	if len(sender.Texts) != 0 {
		t.Errorf("inactive tracker should receive nothing, got %d", len(sender.Texts))
	}
}

func TestDispatchSendFailureStillUpdatesTracker(t *testing.T) {
	d, st, sender, _ := newDispatcherFixture(t)
	ctx := context.Background()

	if err := d.HandleMessage(ctx, inbound("info")); err != nil {
		t.Fatalf("trigger failed: %v", err)
	}

	sender.TextErr = errors.New("transport down")
	if err := d.HandleMessage(ctx, inbound("1")); err != nil {
		t.Fatalf("send failures must not abort the dispatch: %v", err)
	}
	if mustTracker(t, st).CurrentNodeID != "hours-menu" {
		t.Errorf("state transition should survive a send failure, got %s", mustTracker(t, st).CurrentNodeID)
	}
}
