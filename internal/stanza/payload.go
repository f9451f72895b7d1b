package stanza

import (
	"fmt"

	"mellium.im/xmpp/jid"
)

// Roster item subscription states.
const (
	SubscriptionNone   = "none"
	SubscriptionTo     = "to"
	SubscriptionFrom   = "from"
	SubscriptionBoth   = "both"
	SubscriptionRemove = "remove"
)

// RosterItem is one entry of a roster query or push.
type RosterItem struct {
	JID          jid.JID
	Name         string
	Subscription string
	Ask          string
	Groups       []string
}

// Identity is a disco#info identity.
type Identity struct {
	Category string
	Type     string
	Name     string
}

// DiscoItem is a disco#items entry.
type DiscoItem struct {
	JID  jid.JID
	Node string
	Name string
}

// DiscoKind selects which disco query to send.
type DiscoKind string

const (
	DiscoInfo  DiscoKind = "info"
	DiscoItems DiscoKind = "items"
)

// NewDiscoQuery builds a disco#info or disco#items get for who at node.
func NewDiscoQuery(what DiscoKind, who jid.JID, node string) (*Stanza, error) {
	var ns string
	switch what {
	case DiscoInfo:
		ns = NSDiscoInfo
	case DiscoItems:
		ns = NSDiscoItems
	default:
		return nil, fmt.Errorf("stanza: unknown disco kind %q", what)
	}
	s := NewIQ(TypeGet, ns)
	s.To = who
	s.Node = node
	return s, nil
}

// ErrorType is the stanza error type attribute.
type ErrorType string

const (
	ErrorCancel   ErrorType = "cancel"
	ErrorContinue ErrorType = "continue"
	ErrorModify   ErrorType = "modify"
	ErrorAuth     ErrorType = "auth"
	ErrorWait     ErrorType = "wait"
)

// Condition is a defined stanza or stream error condition.
type Condition string

const (
	BadRequest            Condition = "bad-request"
	Conflict              Condition = "conflict"
	FeatureNotImplemented Condition = "feature-not-implemented"
	Forbidden             Condition = "forbidden"
	InternalServerError   Condition = "internal-server-error"
	ItemNotFound          Condition = "item-not-found"
	NotAuthorized         Condition = "not-authorized"
	ServiceUnavailable    Condition = "service-unavailable"
	UndefinedCondition    Condition = "undefined-condition"
)

// Error is the error payload of an error stanza or stream error.
type Error struct {
	Type      ErrorType `json:"type"`
	Condition Condition `json:"condition"`
	Text      string    `json:"text,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return "stanza: <nil error>"
	}
	if e.Text == "" {
		return fmt.Sprintf("stanza: %s (%s)", e.Condition, e.Type)
	}
	return fmt.Sprintf("stanza: %s (%s): %s", e.Condition, e.Type, e.Text)
}
