package client

import (
	"github.com/danmuck/stanzactl/internal/dispatch"
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
)

type SessionState string

const (
	StateInitializing SessionState = "initializing"
	StateReady        SessionState = "ready"
)

// PeerKind tells the session whether the connection needs a roster.
type PeerKind string

const (
	// PeerClient is a user account; bring-up waits for the roster.
	PeerClient PeerKind = "client"
	// PeerComponent is a pre-authenticated service with no roster.
	PeerComponent PeerKind = "component"
)

// PeerKindOf derives the kind from an address: a bare domain is a
// component, anything with a localpart is a client.
func PeerKindOf(addr jid.JID) PeerKind {
	if addr.Localpart() == "" {
		return PeerComponent
	}
	return PeerClient
}

func (c *Client) State() SessionState {
	return c.state
}

// Connected is the transport notification that the stream is up.
// Components become ready immediately; clients fetch the roster and stay
// initializing until it arrives.
func (c *Client) Connected(kind PeerKind, t Transport) error {
	c.transport = t
	c.closeErr = nil
	log.Info().
		Str("jid", c.jid.String()).
		Str("peer", string(kind)).
		Msg("client.Session connected")

	if kind == PeerComponent {
		return c.becomeReady(false)
	}
	return c.Write(stanza.NewRosterQuery())
}

// Closed is the transport notification that the stream ended. There is
// no reconnection; the session is over.
func (c *Client) Closed(err error) {
	c.transport = nil
	c.closeErr = err
	observability.SetSessionReady(false)
	event := log.Info()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.Str("jid", c.jid.String()).Str("state", string(c.state)).Msg("client.Session closed")
}

// CloseErr returns the error the transport reported on close, if any.
func (c *Client) CloseErr() error {
	return c.closeErr
}

func (c *Client) handleRoster(s *stanza.Stanza) error {
	switch s.Type {
	case stanza.TypeResult:
	case stanza.TypeSet:
		if !c.trustedRosterSender(s.From) {
			log.Warn().Str("from", s.From.String()).Str("id", s.ID).Msg("client.Session roster push ignored")
			return nil
		}
	default:
		return nil
	}

	if err := c.roster.Process(s); err != nil {
		log.Warn().Err(err).Str("id", s.ID).Msg("client.Session roster rejected")
	}
	if s.Type == stanza.TypeSet {
		if err := c.Write(stanza.Reply(s)); err != nil {
			log.Warn().Err(err).Str("id", s.ID).Msg("client.Session roster push ack failed")
		}
	}
	if c.state == StateInitializing {
		return c.becomeReady(true)
	}
	return nil
}

// trustedRosterSender accepts pushes from the server (no from) or from the
// account's own bare address.
func (c *Client) trustedRosterSender(from jid.JID) bool {
	if from.String() == "" {
		return true
	}
	return from.Bare().Equal(c.jid.Bare())
}

func (c *Client) handleStatus(s *stanza.Stanza) error {
	if c.roster.UpdateStatus(s.From, stanza.StatusOf(s)) {
		log.Debug().Str("from", s.From.String()).Str("state", string(stanza.StateOf(s))).Msg("client.Session peer status")
	}
	return nil
}

func (c *Client) becomeReady(announce bool) error {
	if c.state == StateReady {
		return nil
	}
	c.state = StateReady
	observability.SetSessionReady(true)
	log.Info().Str("jid", c.jid.String()).Int("roster", c.roster.Len()).Msg("client.Session ready")

	if announce {
		if err := c.Write(c.status.Stanza()); err != nil {
			log.Warn().Err(err).Msg("client.Session initial status write failed")
		}
	}
	return c.registry.Each(stanza.TagReady, func(h dispatch.Handler) error {
		return h(nil)
	})
}
