package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/BTreeMap/MenuPipe/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioOpts holds configuration options for the Twilio WhatsApp transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string // WhatsApp number in "whatsapp:+1234567890" format
}

// TwilioOption defines a configuration option for the Twilio transport.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// TwilioService implements Service over the Twilio REST API. Twilio delivers
// inbound messages and status callbacks over webhooks, so this service has no
// socket event loop; responses and acks surface only when the operator wires
// the webhook endpoints to FeedResponse and FeedAck.
type TwilioService struct {
	client    *twilio.RestClient
	fromWhats string
	receipts  chan models.Receipt
	responses chan models.Response
	acks      chan models.Ack
	stopOnce  sync.Once
}

// NewTwilioService creates a Twilio-backed Service, falling back to the
// TWILIO_* environment variables for unset options.
func NewTwilioService(opts ...TwilioOption) (*TwilioService, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio service config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &TwilioService{
		client:    client,
		fromWhats: cfg.FromWhats,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		acks:      make(chan models.Ack, DefaultChannelBufferSize),
	}, nil
}

// ValidateAndCanonicalizeRecipient validates a recipient as a phone number.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizePhoneNumber(recipient)
}

// SendMessage sends a WhatsApp text message using the Twilio API.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(s.fromWhats)
	params.SetBody(body)

	_, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	s.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// SendMedia sends a media attachment by URL. Twilio fetches the resource
// itself, so the blob's source URL is passed through in FileName when the raw
// bytes cannot be used.
func (s *TwilioService) SendMedia(ctx context.Context, to string, blob models.MediaBlob) error {
	if blob.SourceURL == "" {
		return fmt.Errorf("twilio media sends require a source URL")
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(s.fromWhats)
	params.SetMediaUrl([]string{blob.SourceURL})

	_, err := s.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMedia failed", "to", to, "error", err)
		return fmt.Errorf("failed to send media to %s: %w", to, err)
	}

	s.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	slog.Debug("Twilio media sent", "to", to, "url", blob.SourceURL)
	return nil
}

// Start is a no-op; Twilio events arrive via webhooks.
func (s *TwilioService) Start(ctx context.Context) error {
	slog.Debug("TwilioService Start invoked (webhook driven, nothing to poll)")
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.stopOnce.Do(func() {
		close(s.receipts)
		close(s.responses)
		close(s.acks)
		slog.Info("TwilioService stopped and channels closed")
	})
	return nil
}

// Receipts returns a channel of receipt events.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// Acks returns a channel of delivery acknowledgement events.
func (s *TwilioService) Acks() <-chan models.Ack {
	return s.acks
}

// FeedResponse injects an inbound message received over a webhook.
func (s *TwilioService) FeedResponse(response models.Response) {
	select {
	case s.responses <- response:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}

// FeedAck injects a delivery status callback received over a webhook.
func (s *TwilioService) FeedAck(ack models.Ack) {
	select {
	case s.acks <- ack:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService acks channel blocked, dropping ack", "message_id", ack.MessageID)
	}
}
