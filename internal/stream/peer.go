package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/stanzactl/internal/protocol/frame"
	"github.com/danmuck/stanzactl/internal/protocol/handshake"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
)

const (
	ackCodeNotAuthorized uint32 = 401
	ackCodeBadRequest    uint32 = 400
)

// PeerConfig configures the loopback peer used by tests and stanzapeer.
type PeerConfig struct {
	Handshake handshake.Config
	Limits    frame.Limits
	// Password is required from every opener when set.
	Password string
	// Roster answers roster gets from client peers.
	Roster []stanza.RosterItem
	// OnOpen runs once a session is accepted.
	OnOpen func(ps *PeerSession)
	// OnStanza receives everything the peer does not answer itself. When
	// nil, unanswered get and set requests receive service-unavailable.
	OnStanza func(ps *PeerSession, s *stanza.Stanza)
}

func (c PeerConfig) WithDefaults() PeerConfig {
	c.Handshake = c.Handshake.WithDefaults()
	if c.Limits.MaxPayload == 0 {
		c.Limits = frame.DefaultLimits()
	}
	return c
}

// Peer is a minimal server side of the stream protocol. It accepts opens,
// serves a static roster and answers pings.
type Peer struct {
	cfg      PeerConfig
	upgrader websocket.Upgrader

	connMu   sync.Mutex
	conns    map[net.Conn]struct{}
	sessions atomic.Int64
}

func NewPeer(cfg PeerConfig) *Peer {
	return &Peer{
		cfg:   cfg.WithDefaults(),
		conns: make(map[net.Conn]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Listen opens a TCP listener, wrapped in TLS when the handshake config
// enables it.
func (p *Peer) Listen(addr string) (net.Listener, error) {
	if err := p.cfg.Handshake.ValidateServerTransport(); err != nil {
		return nil, err
	}
	if !p.cfg.Handshake.TLS.Enabled {
		return net.Listen("tcp", addr)
	}
	tlsCfg, err := p.cfg.Handshake.ServerTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.Listen("tcp", addr, tlsCfg)
}

// Serve accepts connections on ln until ctx is cancelled.
func (p *Peer) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		p.closeAllConns()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		p.trackConn(conn)
		go p.handleConn(conn)
	}
}

// Sessions returns the number of accepted sessions still running.
func (p *Peer) Sessions() int64 {
	return p.sessions.Load()
}

func (p *Peer) handleConn(conn net.Conn) {
	defer conn.Close()
	defer p.untrackConn(conn)

	_ = conn.SetDeadline(time.Now().Add(p.cfg.Handshake.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	open, err := handshake.ReadOpen(reader)
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("stream.Peer read open failed")
		return
	}
	bound, ack := p.accept(open)
	if err := handshake.WriteOpenAck(conn, ack); err != nil {
		log.Warn().Err(err).Msg("stream.Peer write open ack failed")
		return
	}
	if ack.Status != handshake.AckStatusAccepted {
		return
	}
	_ = conn.SetDeadline(time.Time{})

	w := newNetWire(conn, reader, p.cfg.Limits, p.cfg.Handshake.ReadTimeout, p.cfg.Handshake.WriteTimeout)
	p.run(&PeerSession{wire: w, bound: bound, streamID: ack.StreamID})
}

// ServeWS upgrades an HTTP request to a websocket stream.
func (p *Peer) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("stream.Peer websocket upgrade failed")
		return
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(p.cfg.Handshake.HandshakeTimeout))
	mt, data, err := conn.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		log.Warn().Err(err).Int("message_type", mt).Msg("stream.Peer read websocket open failed")
		return
	}
	open, err := handshake.DecodeOpen(data)
	if err != nil {
		log.Warn().Err(err).Msg("stream.Peer decode websocket open failed")
		return
	}
	bound, ack := p.accept(open)
	ackMsg, err := handshake.EncodeOpenAck(ack)
	if err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, ackMsg); err != nil {
		return
	}
	if ack.Status != handshake.AckStatusAccepted {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ws := newWSWire(conn, p.cfg.Limits, p.cfg.Handshake.ReadTimeout, p.cfg.Handshake.WriteTimeout)
	p.run(&PeerSession{wire: ws, bound: bound, streamID: ack.StreamID})
}

func (p *Peer) accept(open handshake.Open) (jid.JID, handshake.OpenAck) {
	if p.cfg.Password != "" && open.Password != p.cfg.Password {
		return jid.JID{}, handshake.OpenAck{
			Status:  handshake.AckStatusRejected,
			Code:    ackCodeNotAuthorized,
			Message: string(stanza.NotAuthorized),
		}
	}
	addr, err := jid.Parse(open.JID)
	if err != nil {
		return jid.JID{}, handshake.OpenAck{
			Status:  handshake.AckStatusRejected,
			Code:    ackCodeBadRequest,
			Message: "jid-malformed",
		}
	}
	bound := addr
	if open.Peer == handshake.PeerClient && addr.Resourcepart() == "" {
		if withResource, err := addr.WithResource(strings.Split(uuid.NewString(), "-")[0]); err == nil {
			bound = withResource
		}
	}
	return bound, handshake.OpenAck{
		Status:   handshake.AckStatusAccepted,
		BoundJID: bound.String(),
		StreamID: uuid.NewString(),
	}
}

func (p *Peer) run(ps *PeerSession) {
	active := p.sessions.Add(1)
	log.Info().
		Str("remote", ps.wire.remote()).
		Str("bound", ps.bound.String()).
		Int64("active", active).
		Msg("stream.Peer session open")
	defer func() {
		remaining := p.sessions.Add(-1)
		log.Info().Str("bound", ps.bound.String()).Int64("active", remaining).Msg("stream.Peer session closed")
	}()

	if p.cfg.OnOpen != nil {
		p.cfg.OnOpen(ps)
	}
	for {
		s, err := ps.wire.read()
		if err != nil {
			return
		}
		p.handle(ps, s)
	}
}

func (p *Peer) handle(ps *PeerSession, s *stanza.Stanza) {
	if s.Kind == stanza.KindIQ && s.Type == stanza.TypeGet {
		switch s.Namespace {
		case stanza.NSRoster:
			reply := stanza.Reply(s)
			reply.Items = append([]stanza.RosterItem(nil), p.cfg.Roster...)
			_ = ps.Send(reply)
			return
		case stanza.NSPing:
			_ = ps.Send(stanza.Reply(s))
			return
		}
	}
	if p.cfg.OnStanza != nil {
		p.cfg.OnStanza(ps, s)
		return
	}
	if s.Kind == stanza.KindIQ && (s.Type == stanza.TypeGet || s.Type == stanza.TypeSet) {
		_ = ps.Send(stanza.ErrorReply(s, stanza.ErrorCancel, stanza.ServiceUnavailable))
	}
}

func (p *Peer) trackConn(conn net.Conn) {
	p.connMu.Lock()
	p.conns[conn] = struct{}{}
	p.connMu.Unlock()
}

func (p *Peer) untrackConn(conn net.Conn) {
	p.connMu.Lock()
	delete(p.conns, conn)
	p.connMu.Unlock()
}

func (p *Peer) closeAllConns() {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	for conn := range p.conns {
		_ = conn.Close()
	}
}

// PeerSession is the server side of one accepted stream.
type PeerSession struct {
	wire     wire
	bound    jid.JID
	streamID string
	mu       sync.Mutex
}

func (ps *PeerSession) Bound() jid.JID {
	return ps.bound
}

func (ps *PeerSession) StreamID() string {
	return ps.streamID
}

// Send writes s to the client. It is safe for concurrent use.
func (ps *PeerSession) Send(s *stanza.Stanza) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.wire.write(s)
}

func (ps *PeerSession) Close() error {
	return ps.wire.close()
}
