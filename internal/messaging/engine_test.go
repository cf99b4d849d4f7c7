package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// fakeService feeds canned events into the engine.
type fakeService struct {
	responses chan models.Response
	receipts  chan models.Receipt
	acks      chan models.Ack
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(chan models.Response, 10),
		receipts:  make(chan models.Receipt, 10),
		acks:      make(chan models.Ack, 10),
	}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	return CanonicalizePhoneNumber(r)
}
func (f *fakeService) SendMessage(ctx context.Context, to, body string) error { return nil }
func (f *fakeService) SendMedia(ctx context.Context, to string, blob models.MediaBlob) error {
	return nil
}
func (f *fakeService) Start(ctx context.Context) error   { return nil }
func (f *fakeService) Stop() error                       { return nil }
func (f *fakeService) Receipts() <-chan models.Receipt   { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response { return f.responses }
func (f *fakeService) Acks() <-chan models.Ack           { return f.acks }

type recordingHandler struct {
	mu       sync.Mutex
	messages []models.Response
	acks     []models.Ack
}

func (r *recordingHandler) HandleMessage(ctx context.Context, msg models.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
	return nil
}

func (r *recordingHandler) HandleAck(ctx context.Context, ack models.Ack) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks = append(r.acks, ack)
	return nil
}

func (r *recordingHandler) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), len(r.acks)
}

func TestEngineRoutesEvents(t *testing.T) {
	svc := newFakeService()
	handler := &recordingHandler{}
	engine := NewEngine(svc, handler, handler)

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)

	svc.responses <- models.Response{From: "15551234567", To: "15550000001", Body: "info"}
	svc.acks <- models.Ack{MessageID: "m-1", Level: models.MessageStatusDelivered, FromSelf: true}
	svc.receipts <- models.Receipt{To: "15551234567", Status: models.MessageStatusSent}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, acks := handler.counts()
		if msgs == 1 && acks == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	msgs, acks := handler.counts()
	if msgs != 1 || acks != 1 {
		t.Fatalf("expected 1 message and 1 ack routed, got %d/%d", msgs, acks)
	}

	cancel()
	engine.Wait()
}

func TestEngineStopsOnClosedChannels(t *testing.T) {
	svc := newFakeService()
	handler := &recordingHandler{}
	engine := NewEngine(svc, handler, nil)

	engine.Start(context.Background())
	close(svc.responses)
	close(svc.acks)
	close(svc.receipts)

	done := make(chan struct{})
	go func() {
		engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after channels closed")
	}
}
