package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/stanzactl/internal/protocol/frame"
	"github.com/danmuck/stanzactl/internal/protocol/handshake"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/gorilla/websocket"
)

// wire moves whole stanzas over one connection. read is called from a
// single goroutine and write from a single (other) goroutine.
type wire interface {
	read() (*stanza.Stanza, error)
	write(s *stanza.Stanza) error
	close() error
	remote() string
}

type netWire struct {
	conn         net.Conn
	reader       *bufio.Reader
	limits       frame.Limits
	readTimeout  time.Duration
	writeTimeout time.Duration
	nextID       atomic.Uint64
}

func newNetWire(conn net.Conn, reader *bufio.Reader, limits frame.Limits, readTimeout, writeTimeout time.Duration) *netWire {
	if reader == nil {
		reader = bufio.NewReader(conn)
	}
	return &netWire{
		conn:         conn,
		reader:       reader,
		limits:       limits,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

func (w *netWire) read() (*stanza.Stanza, error) {
	if w.readTimeout > 0 {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.readTimeout))
	}
	return handshake.ReadStanza(w.reader, w.limits)
}

func (w *netWire) write(s *stanza.Stanza) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return handshake.WriteStanza(w.conn, w.nextID.Add(1), s, w.limits)
}

func (w *netWire) close() error {
	return w.conn.Close()
}

func (w *netWire) remote() string {
	return w.conn.RemoteAddr().String()
}

type wsWire struct {
	conn         *websocket.Conn
	limits       frame.Limits
	readTimeout  time.Duration
	writeTimeout time.Duration
	nextID       atomic.Uint64
	closed       atomic.Bool
}

func newWSWire(conn *websocket.Conn, limits frame.Limits, readTimeout, writeTimeout time.Duration) *wsWire {
	conn.SetReadLimit(limits.MaxFrame())
	return &wsWire{
		conn:         conn,
		limits:       limits,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// read maps a normal close from the other side to io.EOF.
func (w *wsWire) read() (*stanza.Stanza, error) {
	if w.readTimeout > 0 {
		_ = w.conn.SetReadDeadline(time.Now().Add(w.readTimeout))
	}
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if mt != websocket.BinaryMessage {
		return nil, fmt.Errorf("stream: unexpected websocket message type %d", mt)
	}
	return handshake.UnmarshalStanza(data, w.limits)
}

func (w *wsWire) write(s *stanza.Stanza) error {
	b, err := handshake.MarshalStanza(w.nextID.Add(1), s, w.limits)
	if err != nil {
		return err
	}
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsWire) close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := w.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		_ = w.conn.Close()
		return nil
	}
	return w.conn.Close()
}

func (w *wsWire) remote() string {
	return w.conn.RemoteAddr().String()
}
