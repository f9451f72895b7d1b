package client

import (
	"github.com/danmuck/stanzactl/internal/guard"
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/rs/zerolog/log"
)

// installDefaults wires the session's built-in behavior. Error and
// unsupported-request handling are fallbacks so application handlers at
// the same tag take precedence. Roster and status tracking observe every
// matching stanza; a roster get is only answered by the roster fallback.
func (c *Client) installDefaults() error {
	if err := c.registry.RegisterFallback(stanza.TagError, nil, c.handleError); err != nil {
		return err
	}
	requests := []guard.Guard{guard.Any{guard.Attr(stanza.TypeGet), guard.Attr(stanza.TypeSet)}}
	if err := c.registry.RegisterFallback(stanza.TagIQ, requests, c.handleUnsupported); err != nil {
		return err
	}
	if err := c.registry.Observe(stanza.TagStatus, c.handleStatus); err != nil {
		return err
	}
	if err := c.registry.Observe(stanza.TagRoster, c.handleRoster); err != nil {
		return err
	}
	return c.registry.RegisterFallback(stanza.TagRoster, []guard.Guard{guard.Attr(stanza.TypeGet)}, c.handleUnsupported)
}

func (c *Client) handleError(s *stanza.Stanza) error {
	return &FatalError{Stanza: s}
}

func (c *Client) handleUnsupported(s *stanza.Stanza) error {
	c.replyUnsupported(s)
	return nil
}

func (c *Client) replyUnsupported(s *stanza.Stanza) {
	observability.RecordUnsupportedReply()
	reply := stanza.ErrorReply(s, stanza.ErrorCancel, stanza.ServiceUnavailable)
	if err := c.Write(reply); err != nil {
		log.Warn().Err(err).Str("id", s.ID).Msg("client.Session unsupported reply failed")
	}
}
