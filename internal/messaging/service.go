// Package messaging abstracts the message transport behind a channel-based
// event service so the flow engine never talks to a transport directly.
package messaging

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/BTreeMap/MenuPipe/internal/models"
)

// Service defines a pluggable message delivery abstraction.
// It supports sending text and media, and provides channels for receipt,
// response and acknowledgement events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendMedia sends a fetched media blob to a recipient.
	SendMedia(ctx context.Context, to string, blob models.MediaBlob) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming user messages.
	Responses() <-chan models.Response

	// Acks returns a channel of delivery acknowledgements for messages sent
	// from the bot account, classified as engine-sent or operator-sent.
	Acks() <-chan models.Ack
}

// phoneDigits matches a bare international number without the plus sign.
var phoneDigits = regexp.MustCompile(`^[1-9][0-9]{6,14}$`)

// CanonicalizePhoneNumber normalizes a phone number to bare digits without a
// leading plus sign, matching the format used as tracker and JID keys.
func CanonicalizePhoneNumber(recipient string) (string, error) {
	trimmed := strings.TrimSpace(recipient)
	trimmed = strings.TrimPrefix(trimmed, "+")
	trimmed = strings.ReplaceAll(trimmed, " ", "")
	trimmed = strings.ReplaceAll(trimmed, "-", "")
	if trimmed == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	if !phoneDigits.MatchString(trimmed) {
		return "", fmt.Errorf("recipient %q is not a valid phone number", recipient)
	}
	return trimmed, nil
}
