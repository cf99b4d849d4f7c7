// Package models defines transport event structures shared across modules.
package models

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was accepted by the transport.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message reached the recipient device.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
)

// Response represents an incoming message from an end user.
type Response struct {
	From        string `json:"from"` // user phone number
	To          string `json:"to"`   // bot phone number the message was addressed to
	Body        string `json:"body"`
	DisplayName string `json:"display_name,omitempty"` // sender's push name, when the transport exposes it
	Time        int64  `json:"time"`
}

// Receipt represents a status event for an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Ack is a delivery acknowledgement for a message sent from the bot account.
// FromSelf is true when the message was sent manually from the account's own
// device rather than by the engine; a delivered FromSelf ack is the signal
// that a human operator has taken over the conversation.
type Ack struct {
	MessageID string        `json:"message_id"`
	Level     MessageStatus `json:"level"`
	FromSelf  bool          `json:"from_self"`
	UserPhone string        `json:"user_phone"` // other side of the conversation
	BotPhone  string        `json:"bot_phone"`  // bot account the ack belongs to
	Time      int64         `json:"time"`
}

// OutboundKind distinguishes outbound instruction payloads.
type OutboundKind string

const (
	// OutboundText sends a literal text body.
	OutboundText OutboundKind = "text"
	// OutboundMedia fetches a remote resource and sends it as an attachment.
	OutboundMedia OutboundKind = "media"
)

// Outbound is a single ordered send instruction emitted by a dispatch.
type Outbound struct {
	Kind      OutboundKind `json:"kind"`
	To        string       `json:"to"`
	Body      string       `json:"body,omitempty"`      // text payload
	MediaURL  string       `json:"media_url,omitempty"` // remote resource for media sends
	MediaType MediaType    `json:"media_type,omitempty"`
}
