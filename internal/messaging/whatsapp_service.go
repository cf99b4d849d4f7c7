package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/BTreeMap/MenuPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// Constants for WhatsAppService configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// sentIDRetention is how long an engine-sent message ID stays classifiable
	sentIDRetention = 24 * time.Hour
	// sentIDMaxEntries bounds the sent-ID cache
	sentIDMaxEntries = 10000
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	receipts  chan models.Receipt
	responses chan models.Response
	acks      chan models.Ack
	sentIDs   *sentIDCache
	stopOnce  sync.Once
	done      chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		acks:      make(chan models.Ack, DefaultChannelBufferSize),
		sentIDs:   newSentIDCache(),
		done:      make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates a recipient as a phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhoneNumber(recipient)
}

// Start begins background processing (e.g., event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		slog.Debug("WhatsAppService starting event handler")
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	s.stopOnce.Do(func() {
		slog.Info("WhatsAppService Stop invoked")
		close(s.done)
		close(s.receipts)
		close(s.responses)
		close(s.acks)
		slog.Info("WhatsAppService stopped and channels closed")
	})
	return nil
}

// SendMessage sends a text message, records its transport ID as engine-sent
// and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	msgID, err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	s.sentIDs.Add(msgID)
	s.emitReceipt(models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Info("WhatsAppService message sent and receipt emitted", "to", to, "message_id", msgID)
	return nil
}

// SendMedia sends a media blob, records its transport ID as engine-sent and
// emits a sent receipt.
func (s *WhatsAppService) SendMedia(ctx context.Context, to string, blob models.MediaBlob) error {
	slog.Debug("WhatsAppService SendMedia invoked", "to", to, "mime", blob.MimeType, "size", len(blob.Data))
	msgID, err := s.client.SendMedia(ctx, to, blob)
	if err != nil {
		slog.Error("WhatsAppService SendMedia error", "error", err, "to", to)
		return err
	}
	s.sentIDs.Add(msgID)
	s.emitReceipt(models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	slog.Info("WhatsAppService media sent and receipt emitted", "to", to, "message_id", msgID)
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// Acks returns a channel of delivery acknowledgement events.
func (s *WhatsAppService) Acks() <-chan models.Ack {
	return s.acks
}

// handleEvents processes WhatsApp events and feeds them into the appropriate channels
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")

	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		default:
			slog.Debug("WhatsAppService ignoring event type", "type", getEventType(v))
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming text messages from users
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}
	if evt.Info.IsFromMe {
		// Messages sent from the account's own device surface through the
		// receipt path, never as inbound responses.
		slog.Debug("WhatsAppService skipping own outgoing message", "chat", evt.Info.Chat.User)
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		// Skip non-text messages (images, audio, etc.)
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	response := models.Response{
		From:        evt.Info.Sender.User,
		To:          s.waClient.OwnNumber(),
		Body:        messageText,
		DisplayName: evt.Info.PushName,
		Time:        evt.Info.Timestamp.Unix(),
	}

	slog.Debug("WhatsAppService processing incoming message", "from", response.From, "body_length", len(response.Body))

	select {
	case s.responses <- response:
		slog.Info("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
	}
}

// handleMessageReceipt processes delivery and read receipts. Delivered
// receipts for messages the bot account sent also become acks, classified by
// whether the engine recorded the message ID when sending.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	counterparty := evt.MessageSource.Chat.User

	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	case events.ReceiptTypeReadSelf:
		// Skip self-read receipts
		return
	default:
		slog.Debug("WhatsAppService ignoring receipt type", "type", evt.Type, "chat", counterparty)
		return
	}

	s.emitReceipt(models.Receipt{To: counterparty, Status: status, Time: evt.Timestamp.Unix()})

	if status != models.MessageStatusDelivered {
		return
	}

	for _, msgID := range evt.MessageIDs {
		ack := models.Ack{
			MessageID: string(msgID),
			Level:     status,
			FromSelf:  !s.sentIDs.Contains(string(msgID)),
			UserPhone: counterparty,
			BotPhone:  s.waClient.OwnNumber(),
			Time:      evt.Timestamp.Unix(),
		}
		select {
		case s.acks <- ack:
			slog.Debug("WhatsAppService ack forwarded", "message_id", ack.MessageID, "from_self", ack.FromSelf, "user", ack.UserPhone)
		case <-time.After(DefaultChannelTimeout):
			slog.Warn("WhatsAppService acks channel blocked, dropping ack", "message_id", ack.MessageID, "timeout", DefaultChannelTimeout)
		}
	}
}

func (s *WhatsAppService) emitReceipt(receipt models.Receipt) {
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To, "timeout", DefaultChannelTimeout)
	}
}

// getEventType returns a string representation of the event type for logging
func getEventType(evt interface{}) string {
	switch evt.(type) {
	case *events.Message:
		return "Message"
	case *events.Receipt:
		return "Receipt"
	case *events.Presence:
		return "Presence"
	case *events.Connected:
		return "Connected"
	case *events.Disconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// sentIDCache remembers transport message IDs the engine produced so delivered
// receipts for them can be told apart from operator-sent messages.
type sentIDCache struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func newSentIDCache() *sentIDCache {
	return &sentIDCache{ids: make(map[string]time.Time)}
}

// Add records a message ID as engine-sent.
func (c *sentIDCache) Add(id string) {
	if id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ids) >= sentIDMaxEntries {
		c.pruneLocked()
	}
	c.ids[id] = time.Now()
}

// Contains reports whether the engine sent the message with this ID.
func (c *sentIDCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.ids[id]
	if !ok {
		return false
	}
	if time.Since(at) > sentIDRetention {
		delete(c.ids, id)
		return false
	}
	return true
}

// pruneLocked drops expired entries; when nothing has expired it drops the
// oldest entries to make room. Caller must hold mu.
func (c *sentIDCache) pruneLocked() {
	cutoff := time.Now().Add(-sentIDRetention)
	for id, at := range c.ids {
		if at.Before(cutoff) {
			delete(c.ids, id)
		}
	}
	for id := range c.ids {
		if len(c.ids) < sentIDMaxEntries {
			break
		}
		delete(c.ids, id)
	}
}
