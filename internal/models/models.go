// Package models defines the core data structures for MenuPipe.
//
// It includes types for flows, flow nodes, trackers and transport events,
// which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// NodeKind identifies the role of a node within a flow graph.
type NodeKind string

const (
	// NodeKindCommon is the flow's single entry/root content node.
	NodeKindCommon NodeKind = "common"
	// NodeKindMenu presents a selectable sub-list of children.
	NodeKindMenu NodeKind = "menu"
	// NodeKindOutput is terminal content (text or media), no further children expected.
	NodeKindOutput NodeKind = "output"
)

// MediaType identifies how a node's media_value is interpreted.
type MediaType string

const (
	// MediaTypeMessage means media_value is literal text with `\n` escape sequences.
	MediaTypeMessage MediaType = "message"
	// MediaTypeImage means media_value is a remote image URL fetched at send time.
	MediaTypeImage MediaType = "image"
	// MediaTypeDocument means media_value is a remote document URL fetched at send time.
	MediaTypeDocument MediaType = "document"
)

// RootSentinel is the parentNode value marking a flow's root (Common) node.
const RootSentinel = "start"

// Validation constants for flow input validation
const (
	// MaxTriggerKeywords defines the maximum number of trigger keywords per flow
	MaxTriggerKeywords = 20
	// MaxNodeValueLength defines the maximum allowed length for node content
	MaxNodeValueLength = 4096
)

// Error variables for better error handling and testability
var (
	ErrEmptyFlowID        = errors.New("flow id cannot be empty")
	ErrEmptyAccountID     = errors.New("flow owning account cannot be empty")
	ErrNoTriggerKeywords  = errors.New("flow requires at least one trigger keyword")
	ErrTooManyKeywords    = errors.New("flow exceeds maximum trigger keyword count")
	ErrNoRootNode         = errors.New("flow requires exactly one root node")
	ErrMultipleRootNodes  = errors.New("flow has more than one root node")
	ErrNodeValueTooLong   = errors.New("node content exceeds maximum length")
	ErrEmptyNodeID        = errors.New("node id cannot be empty")
	ErrDuplicateNodeID    = errors.New("node id is not unique within the flow")
	ErrInvalidNodeKind    = errors.New("invalid node kind")
	ErrEmptyTrackerPhones = errors.New("tracker requires user and bot phone numbers")
)

// IsValidNodeKind checks if the given node kind is supported.
func IsValidNodeKind(k NodeKind) bool {
	switch k {
	case NodeKindCommon, NodeKindMenu, NodeKindOutput:
		return true
	default:
		return false
	}
}

// NodeData holds the content and ordering/selection key of a flow node.
type NodeData struct {
	MediaType  MediaType `json:"media_type"`            // message or a media kind
	MediaValue string    `json:"media_value"`           // literal text (escaped newlines) or remote URL
	Index      string    `json:"index,omitempty"`       // sibling ordering key; doubles as the selection digit
}

// FlowNode represents one graph element of a flow.
type FlowNode struct {
	ID         string   `json:"id"`
	ParentNode string   `json:"parent_node"` // node id this node hangs beneath, or RootSentinel
	Kind       NodeKind `json:"kind"`
	Data       NodeData `json:"data"`
}

// Flow is an operator-authored conversation graph plus its trigger keywords.
// It is immutable during a single dispatch; only the external authoring
// surface mutates it.
type Flow struct {
	ID              string     `json:"id"`
	AccountID       string     `json:"account_id"`
	TriggerKeywords []string   `json:"trigger_keywords"`
	Nodes           []FlowNode `json:"nodes"` // authoring order
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Validate performs structural validation on a Flow.
func (f *Flow) Validate() error {
	if f.ID == "" {
		return ErrEmptyFlowID
	}
	if f.AccountID == "" {
		return ErrEmptyAccountID
	}
	if len(f.TriggerKeywords) == 0 {
		return ErrNoTriggerKeywords
	}
	if len(f.TriggerKeywords) > MaxTriggerKeywords {
		return ErrTooManyKeywords
	}
	roots := 0
	seen := make(map[string]bool, len(f.Nodes))
	for _, n := range f.Nodes {
		if n.ID == "" {
			return ErrEmptyNodeID
		}
		if seen[n.ID] {
			return ErrDuplicateNodeID
		}
		seen[n.ID] = true
		if !IsValidNodeKind(n.Kind) {
			return ErrInvalidNodeKind
		}
		if len(n.Data.MediaValue) > MaxNodeValueLength {
			return ErrNodeValueTooLong
		}
		if n.ParentNode == RootSentinel {
			roots++
		}
	}
	if roots == 0 {
		return ErrNoRootNode
	}
	if roots > 1 {
		return ErrMultipleRootNodes
	}
	return nil
}

// Root returns the flow's Common node (parentNode == RootSentinel), or nil.
func (f *Flow) Root() *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ParentNode == RootSentinel {
			return &f.Nodes[i]
		}
	}
	return nil
}

// NodeByID returns the node with the given id, or nil.
func (f *Flow) NodeByID(id string) *FlowNode {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// Tracker is a persisted pointer tracking one user's current position within
// one flow. Composite identity is (PhoneNumber, BotNumber). Deactivation is a
// flag, not removal; the core never deletes trackers.
type Tracker struct {
	ID            string     `json:"id"`
	PhoneNumber   string     `json:"phone_number"` // user identity
	BotNumber     string     `json:"bot_number"`   // bot identity
	FlowID        string     `json:"flow_id"`      // immutable for the tracker's lifetime
	CurrentNodeID string     `json:"current_node_id"`
	DisplayName   string     `json:"display_name,omitempty"`
	IsActive      bool       `json:"is_active"`
	JoinedAt      time.Time  `json:"joined_at"`
	LastActive    time.Time  `json:"last_active"`
	ReactivateAt  *time.Time `json:"reactivate_at,omitempty"` // pending scheduled reactivation, if any
}

// Validate checks the tracker's composite identity.
func (t *Tracker) Validate() error {
	if t.PhoneNumber == "" || t.BotNumber == "" {
		return ErrEmptyTrackerPhones
	}
	return nil
}

// Account represents an operator account owning flows and a connected
// WhatsApp number.
type Account struct {
	ID              string    `json:"id"`
	ConnectedNumber string    `json:"connected_number,omitempty"`
	WhatsAppActive  bool      `json:"is_whatsapp_active"`
	CreatedAt       time.Time `json:"created_at"`
}

// OptOutKeyword is the inbound text that deactivates an active tracker.
const OptOutKeyword = "stop"

// MainMenuKey is the inbound text that resets a tracker to the flow entry.
const MainMenuKey = "0"

// IsOptOut reports whether the inbound body is the opt-out keyword.
func IsOptOut(body string) bool {
	return strings.ToLower(strings.TrimSpace(body)) == OptOutKeyword
}
