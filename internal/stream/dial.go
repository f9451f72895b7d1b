package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/danmuck/stanzactl/internal/client"
	"github.com/danmuck/stanzactl/internal/protocol/handshake"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"mellium.im/xmpp/jid"
)

// Stream is a negotiated connection ready to carry stanzas.
type Stream struct {
	wire     wire
	Bound    jid.JID
	StreamID string
	Peer     client.PeerKind
}

func (s *Stream) Close() error {
	return s.wire.close()
}

// Open dials with the transport named in cfg.
func Open(ctx context.Context, cfg Config) (*Stream, error) {
	cfg = cfg.WithDefaults()
	if cfg.Transport == TransportWebSocket {
		return DialWebSocket(ctx, cfg)
	}
	return Dial(ctx, cfg)
}

// Dial connects over TCP, optionally wrapped in TLS, and performs the
// open handshake.
func Dial(ctx context.Context, cfg Config) (*Stream, error) {
	cfg = cfg.WithDefaults()
	cfg.Transport = TransportTCP
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: cfg.Handshake.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	conn := rawConn
	if cfg.Handshake.TLS.Enabled {
		tlsCfg, err := cfg.Handshake.ClientTLSConfig(cfg.Address)
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		tlsConn := tls.Client(rawConn, tlsCfg)
		handshakeCtx, cancel := context.WithTimeout(ctx, cfg.Handshake.HandshakeTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	_ = conn.SetDeadline(time.Now().Add(cfg.Handshake.HandshakeTimeout))
	reader := bufio.NewReader(conn)
	if err := handshake.WriteOpen(conn, openFor(cfg)); err != nil {
		_ = conn.Close()
		return nil, err
	}
	ack, err := handshake.ReadOpenAck(reader)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	s, err := accepted(cfg, ack)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.wire = newNetWire(conn, reader, cfg.Limits, cfg.Handshake.ReadTimeout, cfg.Handshake.WriteTimeout)
	log.Info().
		Str("address", cfg.Address).
		Bool("tls", cfg.Handshake.TLS.Enabled).
		Str("bound", s.Bound.String()).
		Str("stream_id", s.StreamID).
		Msg("stream.Dial connected")
	return s, nil
}

// DialWebSocket connects to a ws:// or wss:// endpoint. The open
// handshake travels as text messages and stanzas as binary frames.
func DialWebSocket(ctx context.Context, cfg Config) (*Stream, error) {
	cfg = cfg.WithDefaults()
	cfg.Transport = TransportWebSocket
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.Address)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.Handshake.HandshakeTimeout}
	if u.Scheme == "wss" || cfg.Handshake.TLS.Enabled {
		hostport := u.Host
		if u.Port() == "" {
			hostport = net.JoinHostPort(u.Hostname(), "443")
		}
		tlsCfg, err := cfg.Handshake.ClientTLSConfig(hostport)
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Handshake.ConnectTimeout+cfg.Handshake.HandshakeTimeout)
	defer cancel()
	conn, _, err := dialer.DialContext(dialCtx, cfg.Address, nil)
	if err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(cfg.Handshake.HandshakeTimeout))
	openMsg, err := handshake.EncodeOpen(openFor(cfg))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, openMsg); err != nil {
		_ = conn.Close()
		return nil, err
	}
	mt, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if mt != websocket.TextMessage {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: open.ack must be a text message", handshake.ErrInvalidOpenAck)
	}
	ack, err := handshake.DecodeOpenAck(data)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	s, err := accepted(cfg, ack)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	s.wire = newWSWire(conn, cfg.Limits, cfg.Handshake.ReadTimeout, cfg.Handshake.WriteTimeout)
	log.Info().
		Str("address", cfg.Address).
		Str("bound", s.Bound.String()).
		Str("stream_id", s.StreamID).
		Msg("stream.DialWebSocket connected")
	return s, nil
}

func openFor(cfg Config) handshake.Open {
	peer := handshake.PeerClient
	if client.PeerKindOf(cfg.JID) == client.PeerComponent {
		peer = handshake.PeerComponent
	}
	return handshake.Open{
		JID:      cfg.JID.String(),
		Password: cfg.Password,
		Peer:     peer,
	}
}

func accepted(cfg Config, ack handshake.OpenAck) (*Stream, error) {
	if ack.Status != handshake.AckStatusAccepted {
		return nil, fmt.Errorf("%w: code=%d message=%q", ErrOpenRejected, ack.Code, ack.Message)
	}
	bound, err := jid.Parse(ack.BoundJID)
	if err != nil {
		return nil, fmt.Errorf("%w: bound_jid %q: %v", handshake.ErrInvalidOpenAck, ack.BoundJID, err)
	}
	return &Stream{
		Bound:    bound,
		StreamID: ack.StreamID,
		Peer:     client.PeerKindOf(cfg.JID),
	}, nil
}
