// Package client is the session owner: it holds the handler registry, the
// one-shot table, the roster and the presence status for one connection,
// drives session bring-up and exposes the application-facing API.
//
// A Client is not safe for concurrent use. The stream reactor calls every
// method from its loop goroutine; other goroutines go through Reactor.Do.
package client

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/stanzactl/internal/dispatch"
	"github.com/danmuck/stanzactl/internal/guard"
	"github.com/danmuck/stanzactl/internal/observability"
	"github.com/danmuck/stanzactl/internal/roster"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
)

// Transport is the outbound half of the stream collaborator.
type Transport interface {
	Write(s *stanza.Stanza) error
	CloseAfterFlush() error
}

type Config struct {
	JID jid.JID
	// OneShotTTL expires one-shot handlers that never saw a reply. Zero
	// keeps them for the life of the session.
	OneShotTTL    time.Duration
	InitialStatus stanza.Status
}

func DefaultConfig(addr jid.JID) Config {
	return Config{
		JID:           addr,
		InitialStatus: stanza.Status{State: stanza.StateAvailable},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.JID.String()) == "" {
		return fmt.Errorf("%w: jid is required", ErrInvalidConfig)
	}
	if c.OneShotTTL < 0 {
		return fmt.Errorf("%w: one_shot_ttl must be >= 0", ErrInvalidConfig)
	}
	if _, err := stanza.ParseState(string(c.InitialStatus.State)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

type Option func(*Client)

// WithClock overrides the clock used for one-shot bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

type Client struct {
	jid        jid.JID
	oneShotTTL time.Duration
	now        func() time.Time

	registry  *dispatch.Registry
	roster    *roster.Roster
	state     SessionState
	status    stanza.Status
	transport Transport
	closeErr  error
}

// New builds a client in the initializing state with the default handlers
// installed.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	status := cfg.InitialStatus
	if status.State == "" {
		status.State = stanza.StateAvailable
	}
	c := &Client{
		jid:        cfg.JID,
		oneShotTTL: cfg.OneShotTTL,
		now:        time.Now,
		roster:     roster.New(),
		state:      StateInitializing,
		status:     status,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registry = dispatch.NewRegistry(dispatch.WithClock(func() time.Time { return c.now() }))
	if err := c.installDefaults(); err != nil {
		return nil, err
	}
	observability.SetSessionReady(false)
	return c, nil
}

func (c *Client) JID() jid.JID {
	return c.jid
}

func (c *Client) Roster() *roster.Roster {
	return c.roster
}

// RegisterHandler appends h for tag behind guards.
func (c *Client) RegisterHandler(tag stanza.Tag, guards []guard.Guard, h dispatch.Handler) error {
	return c.registry.Register(tag, guards, h)
}

// Handle is RegisterHandler with the guards last.
func (c *Client) Handle(tag stanza.Tag, h dispatch.Handler, guards ...guard.Guard) error {
	return c.registry.Register(tag, guards, h)
}

// OnReady registers h to run once the session is ready. h receives a nil
// stanza.
func (c *Client) OnReady(h func() error) error {
	if h == nil {
		return dispatch.ErrNilHandler
	}
	return c.registry.Register(stanza.TagReady, nil, func(*stanza.Stanza) error {
		return h()
	})
}

func (c *Client) RegisterOneShot(id string, h dispatch.Handler) error {
	if err := c.registry.RegisterOneShot(id, h); err != nil {
		return err
	}
	observability.SetOneShotPending(len(c.registry.PendingOneShots()))
	return nil
}

func (c *Client) RemoveOneShot(id string) bool {
	removed := c.registry.RemoveOneShot(id)
	if removed {
		observability.RecordOneShot(observability.OneShotRemoved)
		observability.SetOneShotPending(len(c.registry.PendingOneShots()))
	}
	return removed
}

func (c *Client) PendingOneShots() []dispatch.PendingOneShot {
	return c.registry.PendingOneShots()
}

// Write sends s, stamping the client address when From is empty.
func (c *Client) Write(s *stanza.Stanza) error {
	if s == nil {
		return ErrNilStanza
	}
	if c.transport == nil {
		return ErrNotConnected
	}
	if s.From.String() == "" {
		s.From = c.jid
	}
	return c.transport.Write(s)
}

// WriteWithHandler registers h as the one-shot handler for the reply to s
// and sends s. The handler is dropped again when the write fails.
func (c *Client) WriteWithHandler(s *stanza.Stanza, h dispatch.Handler) error {
	if s == nil {
		return ErrNilStanza
	}
	if s.ID == "" {
		s.ID = stanza.NewID()
	}
	if err := c.RegisterOneShot(s.ID, h); err != nil {
		return err
	}
	if err := c.Write(s); err != nil {
		c.registry.RemoveOneShot(s.ID)
		observability.SetOneShotPending(len(c.registry.PendingOneShots()))
		return err
	}
	return nil
}

func (c *Client) Status() stanza.Status {
	return c.status
}

// SetStatus announces a presence. Without a target the cached status is
// replaced as well; a directed presence leaves it untouched.
func (c *Client) SetStatus(state stanza.State, message string, to jid.JID) error {
	st, err := stanza.ParseState(string(state))
	if err != nil {
		return err
	}
	status := stanza.Status{
		State:    st,
		Message:  message,
		To:       to,
		Priority: c.status.Priority,
	}
	if to.String() == "" {
		c.status = status
	}
	return c.Write(status.Stanza())
}

// Say sends a chat message.
func (c *Client) Say(to jid.JID, body string) error {
	return c.Write(stanza.NewMessage(to, body, stanza.TypeChat))
}

// Discover sends a disco query to who and hands the reply to cb.
func (c *Client) Discover(what stanza.DiscoKind, who jid.JID, node string, cb dispatch.Handler) error {
	q, err := stanza.NewDiscoQuery(what, who, node)
	if err != nil {
		return err
	}
	return c.WriteWithHandler(q, cb)
}

// Stop asks the transport to flush pending writes and close. The session
// ends when the transport reports Closed.
func (c *Client) Stop() error {
	if c.transport == nil {
		return nil
	}
	log.Info().Str("jid", c.jid.String()).Msg("client.Session stop requested")
	return c.transport.CloseAfterFlush()
}

// Dispatch routes one inbound stanza. A non-nil error is fatal for the
// session: a *FatalError for an unhandled error stanza, a guard error for
// a broken registration, or whatever a handler returned.
func (c *Client) Dispatch(s *stanza.Stanza) error {
	if s == nil {
		return ErrNilStanza
	}
	c.sweepOneShots()
	err := dispatch.Dispatch(c.registry, s)
	observability.SetOneShotPending(len(c.registry.PendingOneShots()))
	if err != nil {
		observability.RecordFatal()
		log.Error().Err(err).Str("stanza", s.String()).Msg("client.Session dispatch failed")
		return err
	}
	return nil
}

func (c *Client) sweepOneShots() {
	if c.oneShotTTL <= 0 {
		return
	}
	expired := c.registry.ExpireOneShots(c.now().Add(-c.oneShotTTL))
	for _, id := range expired {
		observability.RecordOneShot(observability.OneShotExpired)
		log.Warn().Str("id", id).Dur("ttl", c.oneShotTTL).Msg("client.Session one-shot expired")
	}
}
