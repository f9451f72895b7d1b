package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/stanzactl/internal/protocol/frame"
	"github.com/danmuck/stanzactl/internal/protocol/handshake"
	"mellium.im/xmpp/jid"
)

const (
	TransportTCP       = "tcp"
	TransportWebSocket = "websocket"
)

var (
	ErrAddressRequired  = errors.New("stream: address required")
	ErrJIDRequired      = errors.New("stream: jid required")
	ErrInvalidTransport = errors.New("stream: invalid transport")
	ErrOpenRejected     = errors.New("stream: open rejected")
	ErrReactorStopped   = errors.New("stream: reactor stopped")
	ErrQueueClosed      = errors.New("stream: outbound queue closed")
)

// Config describes one outbound stream.
type Config struct {
	// Address is host:port for tcp, or a ws:// / wss:// URL for websocket.
	Address   string
	Transport string
	JID       jid.JID
	Password  string
	Handshake handshake.Config
	Limits    frame.Limits
	QueueSize int
}

func DefaultConfig() Config {
	return Config{
		Transport: TransportTCP,
		Handshake: handshake.DefaultConfig(),
		Limits:    frame.DefaultLimits(),
		QueueSize: 64,
	}
}

func (c Config) WithDefaults() Config {
	if strings.TrimSpace(c.Transport) == "" {
		c.Transport = TransportTCP
	}
	c.Handshake = c.Handshake.WithDefaults()
	if c.Limits.MaxPayload == 0 {
		c.Limits = frame.DefaultLimits()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultConfig().QueueSize
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if strings.TrimSpace(c.JID.String()) == "" {
		return ErrJIDRequired
	}
	switch c.Transport {
	case TransportTCP, TransportWebSocket:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransport, c.Transport)
	}
	return c.Handshake.ValidateClientTransport()
}
