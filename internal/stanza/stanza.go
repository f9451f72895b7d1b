package stanza

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"mellium.im/xmpp/jid"
)

// Wire element names. A stanza keeps its element even when it is
// classified as an error so it can be written back unchanged.
const (
	ElementMessage  = "message"
	ElementPresence = "presence"
	ElementIQ       = "iq"
	ElementStream   = "stream"
)

// Kind is the dispatch kind of a stanza.
type Kind string

const (
	KindMessage  Kind = "message"
	KindPresence Kind = "presence"
	KindIQ       Kind = "iq"
	KindError    Kind = "error"
)

// SingleResponse reports whether dispatch must stop at the first hierarchy
// level that has any handlers registered. IQs expect exactly one reply and
// errors must not be handled twice.
func (k Kind) SingleResponse() bool {
	return k == KindIQ || k == KindError
}

// Stanza type attribute values.
const (
	TypeGet    = "get"
	TypeSet    = "set"
	TypeResult = "result"
	TypeError  = "error"

	TypeChat      = "chat"
	TypeGroupchat = "groupchat"
	TypeHeadline  = "headline"
	TypeNormal    = "normal"

	TypeUnavailable  = "unavailable"
	TypeSubscribe    = "subscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribe  = "unsubscribe"
	TypeUnsubscribed = "unsubscribed"
	TypeProbe        = "probe"
)

// Payload namespaces understood by Classify.
const (
	NSRoster     = "jabber:iq:roster"
	NSDiscoInfo  = "http://jabber.org/protocol/disco#info"
	NSDiscoItems = "http://jabber.org/protocol/disco#items"
	NSVersion    = "jabber:iq:version"
	NSPing       = "urn:xmpp:ping"
	NSStanzas    = "urn:ietf:params:xml:ns:xmpp-stanzas"
	NSStreams    = "urn:ietf:params:xml:ns:xmpp-streams"
)

// Stanza is one parsed unit of protocol traffic. It is treated as
// immutable once delivered to dispatch; only Write stamps a missing From.
type Stanza struct {
	ID      string
	Element string
	Kind    Kind
	Type    string
	From    jid.JID
	To      jid.JID

	// Namespace and Node describe the IQ payload.
	Namespace string
	Node      string

	Body    string
	Subject string
	Thread  string

	Show     string
	Status   string
	Priority int8

	Items      []RosterItem
	Features   []string
	Identities []Identity
	DiscoItems []DiscoItem

	Error *Error
	Extra map[string]string

	// Hierarchy lists handler tags from most specific to most general.
	// It is filled by Classify and never computed by dispatch.
	Hierarchy []Tag
}

// NewID returns a fresh correlation id.
func NewID() string {
	return uuid.NewString()
}

// NewMessage builds a message addressed to to. An empty typ means chat.
func NewMessage(to jid.JID, body string, typ string) *Stanza {
	if strings.TrimSpace(typ) == "" {
		typ = TypeChat
	}
	s := &Stanza{
		ID:      NewID(),
		Element: ElementMessage,
		Type:    typ,
		To:      to,
		Body:    body,
	}
	Classify(s)
	return s
}

// NewPresence builds a bare presence of the given type.
func NewPresence(typ string) *Stanza {
	s := &Stanza{
		Element: ElementPresence,
		Type:    typ,
	}
	Classify(s)
	return s
}

// NewIQ builds an IQ request with a generated id.
func NewIQ(typ string, namespace string) *Stanza {
	s := &Stanza{
		ID:        NewID(),
		Element:   ElementIQ,
		Type:      typ,
		Namespace: namespace,
	}
	Classify(s)
	return s
}

// NewRosterQuery builds the roster fetch sent at session bring-up.
func NewRosterQuery() *Stanza {
	return NewIQ(TypeGet, NSRoster)
}

// NewStreamError builds a stream-level error.
func NewStreamError(condition Condition, text string) *Stanza {
	s := &Stanza{
		Element: ElementStream,
		Error: &Error{
			Type:      ErrorCancel,
			Condition: condition,
			Text:      text,
		},
	}
	Classify(s)
	return s
}

// Reply builds an empty result correlated to req.
func Reply(req *Stanza) *Stanza {
	s := &Stanza{
		ID:        req.ID,
		Element:   req.Element,
		Type:      TypeResult,
		From:      req.To,
		To:        req.From,
		Namespace: req.Namespace,
		Node:      req.Node,
	}
	Classify(s)
	return s
}

// ErrorReply builds an error reply correlated to req.
func ErrorReply(req *Stanza, typ ErrorType, condition Condition) *Stanza {
	s := &Stanza{
		ID:        req.ID,
		Element:   req.Element,
		Type:      TypeError,
		From:      req.To,
		To:        req.From,
		Namespace: req.Namespace,
		Node:      req.Node,
		Error: &Error{
			Type:      typ,
			Condition: condition,
		},
	}
	Classify(s)
	return s
}

func (s *Stanza) String() string {
	if s == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s type=%q id=%q from=%q to=%q", s.Element, s.Type, s.ID, s.From.String(), s.To.String())
}

// Is reports whether tag appears anywhere in the stanza hierarchy.
func (s *Stanza) Is(tag Tag) bool {
	for _, t := range s.Hierarchy {
		if t == tag {
			return true
		}
	}
	return false
}
