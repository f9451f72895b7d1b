package handshake

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	controlTypeOpen    = "open"
	controlTypeOpenAck = "open.ack"

	AckStatusAccepted = "accepted"
	AckStatusRejected = "rejected"

	// PeerClient and PeerComponent are the values of Open.Peer.
	PeerClient    = "client"
	PeerComponent = "component"

	maxControlLine = 128 * 1024
)

var (
	ErrInvalidOpen            = errors.New("handshake: invalid open")
	ErrInvalidOpenAck         = errors.New("handshake: invalid open ack")
	ErrControlMessageTooLarge = errors.New("handshake: control message too large")
)

// Open is the first line a client writes on a new stream.
type Open struct {
	JID      string `json:"jid"`
	Password string `json:"password,omitempty"`
	Peer     string `json:"peer"`
}

func (o Open) Validate() error {
	if strings.TrimSpace(o.JID) == "" {
		return fmt.Errorf("%w: missing jid", ErrInvalidOpen)
	}
	switch o.Peer {
	case PeerClient, PeerComponent:
	default:
		return fmt.Errorf("%w: invalid peer %q", ErrInvalidOpen, o.Peer)
	}
	return nil
}

// OpenAck answers Open. BoundJID is the full address the session runs as.
type OpenAck struct {
	Status   string `json:"status"`
	Code     uint32 `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
	BoundJID string `json:"bound_jid,omitempty"`
	StreamID string `json:"stream_id,omitempty"`
}

func (a OpenAck) Validate() error {
	switch strings.TrimSpace(a.Status) {
	case AckStatusAccepted:
		if strings.TrimSpace(a.BoundJID) == "" {
			return fmt.Errorf("%w: missing bound_jid", ErrInvalidOpenAck)
		}
		if strings.TrimSpace(a.StreamID) == "" {
			return fmt.Errorf("%w: missing stream_id", ErrInvalidOpenAck)
		}
	case AckStatusRejected:
	default:
		return fmt.Errorf("%w: invalid status", ErrInvalidOpenAck)
	}
	return nil
}

type controlEnvelope struct {
	Type string   `json:"type"`
	Open *Open    `json:"open,omitempty"`
	Ack  *OpenAck `json:"open_ack,omitempty"`
}

func WriteOpen(w io.Writer, open Open) error {
	if err := open.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeOpen, Open: &open})
}

func ReadOpen(r *bufio.Reader) (Open, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return Open{}, err
	}
	if env.Type != controlTypeOpen || env.Open == nil {
		return Open{}, fmt.Errorf("%w: unexpected control type", ErrInvalidOpen)
	}
	if err := env.Open.Validate(); err != nil {
		return Open{}, err
	}
	return *env.Open, nil
}

func WriteOpenAck(w io.Writer, ack OpenAck) error {
	if err := ack.Validate(); err != nil {
		return err
	}
	return writeControlEnvelope(w, controlEnvelope{Type: controlTypeOpenAck, Ack: &ack})
}

func ReadOpenAck(r *bufio.Reader) (OpenAck, error) {
	env, err := readControlEnvelope(r)
	if err != nil {
		return OpenAck{}, err
	}
	if env.Type != controlTypeOpenAck || env.Ack == nil {
		return OpenAck{}, fmt.Errorf("%w: unexpected control type", ErrInvalidOpenAck)
	}
	if err := env.Ack.Validate(); err != nil {
		return OpenAck{}, err
	}
	return *env.Ack, nil
}

// EncodeOpen and DecodeOpen carry the same envelopes over message-oriented
// transports such as WebSocket, one envelope per message.
func EncodeOpen(open Open) ([]byte, error) {
	if err := open.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(controlEnvelope{Type: controlTypeOpen, Open: &open})
}

func DecodeOpen(b []byte) (Open, error) {
	var env controlEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Open{}, err
	}
	if env.Type != controlTypeOpen || env.Open == nil {
		return Open{}, fmt.Errorf("%w: unexpected control type", ErrInvalidOpen)
	}
	if err := env.Open.Validate(); err != nil {
		return Open{}, err
	}
	return *env.Open, nil
}

func EncodeOpenAck(ack OpenAck) ([]byte, error) {
	if err := ack.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(controlEnvelope{Type: controlTypeOpenAck, Ack: &ack})
}

func DecodeOpenAck(b []byte) (OpenAck, error) {
	var env controlEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return OpenAck{}, err
	}
	if env.Type != controlTypeOpenAck || env.Ack == nil {
		return OpenAck{}, fmt.Errorf("%w: unexpected control type", ErrInvalidOpenAck)
	}
	if err := env.Ack.Validate(); err != nil {
		return OpenAck{}, err
	}
	return *env.Ack, nil
}

func writeControlEnvelope(w io.Writer, env controlEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	payload = append(payload, '\n')
	_, err = w.Write(payload)
	return err
}

func readControlEnvelope(r *bufio.Reader) (controlEnvelope, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return controlEnvelope{}, err
	}
	if len(line) > maxControlLine {
		return controlEnvelope{}, ErrControlMessageTooLarge
	}
	var env controlEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return controlEnvelope{}, err
	}
	return env, nil
}
