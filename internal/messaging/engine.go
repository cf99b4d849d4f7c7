package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// MessageHandler consumes inbound user messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg models.Response) error
}

// AckHandler consumes delivery acknowledgements.
type AckHandler interface {
	HandleAck(ctx context.Context, ack models.Ack) error
}

// Engine pumps transport events into the flow handlers. It owns the read side
// of the service channels: responses go to the message handler, acks to the
// ack handler, receipts are drained for logging.
type Engine struct {
	service  Service
	messages MessageHandler
	acks     AckHandler
	wg       sync.WaitGroup
}

// NewEngine creates an Engine wiring the service's events to the handlers.
// The ack handler may be nil when operator-handoff detection is disabled.
func NewEngine(service Service, messages MessageHandler, acks AckHandler) *Engine {
	return &Engine{
		service:  service,
		messages: messages,
		acks:     acks,
	}
}

// Start begins consuming events until the context is cancelled or the service
// channels close.
func (e *Engine) Start(ctx context.Context) {
	slog.Info("Engine starting event processing")

	e.wg.Add(3)
	go e.consumeResponses(ctx)
	go e.consumeAcks(ctx)
	go e.consumeReceipts(ctx)

	slog.Info("Engine event processing started")
}

// Wait blocks until all consumer goroutines have exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) consumeResponses(ctx context.Context) {
	defer e.wg.Done()
	defer slog.Info("Engine stopped response processing")

	for {
		select {
		case response, ok := <-e.service.Responses():
			if !ok {
				slog.Debug("Engine responses channel closed")
				return
			}
			if err := e.messages.HandleMessage(ctx, response); err != nil {
				slog.Error("Engine failed to process response", "error", err, "from", response.From)
			}
		case <-ctx.Done():
			slog.Debug("Engine response loop stopping due to context cancellation")
			return
		}
	}
}

func (e *Engine) consumeAcks(ctx context.Context) {
	defer e.wg.Done()
	defer slog.Info("Engine stopped ack processing")

	for {
		select {
		case ack, ok := <-e.service.Acks():
			if !ok {
				slog.Debug("Engine acks channel closed")
				return
			}
			if e.acks == nil {
				continue
			}
			if err := e.acks.HandleAck(ctx, ack); err != nil {
				slog.Error("Engine failed to process ack", "error", err, "message_id", ack.MessageID)
			}
		case <-ctx.Done():
			slog.Debug("Engine ack loop stopping due to context cancellation")
			return
		}
	}
}

func (e *Engine) consumeReceipts(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case receipt, ok := <-e.service.Receipts():
			if !ok {
				return
			}
			slog.Debug("Engine receipt observed", "to", receipt.To, "status", receipt.Status)
		case <-ctx.Done():
			return
		}
	}
}
