// Package frame is the binary envelope around one stanza on the wire.
//
// Every frame starts with a 20 byte header, big-endian:
//
//	magic   u32  "STNZ"
//	version u8
//	type    u8   stanza element (message, presence, iq, stream error)
//	flags   u16  response and error bits
//	seq     u64  sender-local sequence number
//	length  u32  payload length
//
// followed by length bytes of TLV payload.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/stanzactl/internal/stanza"
)

const (
	HeaderLen = 20

	// Magic is "STNZ" in network byte order.
	Magic   uint32 = 0x53544E5A
	Version uint8  = 1
)

var (
	ErrShortHeader     = errors.New("frame: short header")
	ErrBadMagic        = errors.New("frame: bad magic")
	ErrBadVersion      = errors.New("frame: unsupported version")
	ErrUnknownType     = errors.New("frame: unknown stanza type")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

// Type identifies the stanza element a frame carries.
type Type uint8

const (
	TypeMessage     Type = 1
	TypePresence    Type = 2
	TypeIQ          Type = 3
	TypeStreamError Type = 4
)

func (t Type) String() string {
	if el, err := t.Element(); err == nil {
		return el
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Element returns the stanza element name for t.
func (t Type) Element() (string, error) {
	switch t {
	case TypeMessage:
		return stanza.ElementMessage, nil
	case TypePresence:
		return stanza.ElementPresence, nil
	case TypeIQ:
		return stanza.ElementIQ, nil
	case TypeStreamError:
		return stanza.ElementStream, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
}

// TypeOf maps a stanza element name to its frame type.
func TypeOf(element string) (Type, error) {
	switch element {
	case stanza.ElementMessage:
		return TypeMessage, nil
	case stanza.ElementPresence:
		return TypePresence, nil
	case stanza.ElementIQ:
		return TypeIQ, nil
	case stanza.ElementStream:
		return TypeStreamError, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, element)
}

type Flags uint16

const (
	// FlagResponse marks iq results and errors.
	FlagResponse Flags = 1 << iota
	// FlagError marks stanza and stream errors.
	FlagError
)

func (f Flags) Has(bit Flags) bool {
	return f&bit != 0
}

// FlagsFor derives the header flags from s.
func FlagsFor(s *stanza.Stanza) Flags {
	var f Flags
	if s.Type == stanza.TypeResult || s.Type == stanza.TypeError {
		f |= FlagResponse
	}
	if s.Kind == stanza.KindError {
		f |= FlagError
	}
	return f
}

// Frame is one stanza envelope.
type Frame struct {
	Type    Type
	Flags   Flags
	Seq     uint64
	Payload []byte
}

// Limits bounds the memory one frame may claim.
type Limits struct {
	MaxPayload uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayload: 8 << 20}
}

// MaxFrame is the largest encoded frame allowed by l.
func (l Limits) MaxFrame() int64 {
	return int64(l.MaxPayload) + HeaderLen
}

// Read reads one frame. io.EOF is returned only when r ended on a frame
// boundary; a truncated header is ErrShortHeader.
func Read(r io.Reader, limits Limits) (Frame, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	f, n, err := parseHeader(hdr[:])
	if err != nil {
		return Frame{}, err
	}
	if n > limits.MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, limits.MaxPayload)
	}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Frame{}, err
		}
	}
	return f, nil
}

// Write encodes f as a single write to w.
func Write(w io.Writer, f Frame, limits Limits) error {
	b, err := Append(nil, f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Append appends the encoding of f to dst.
func Append(dst []byte, f Frame, limits Limits) ([]byte, error) {
	if _, err := f.Type.Element(); err != nil {
		return dst, err
	}
	if uint64(len(f.Payload)) > uint64(limits.MaxPayload) {
		return dst, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), limits.MaxPayload)
	}
	dst = binary.BigEndian.AppendUint32(dst, Magic)
	dst = append(dst, Version, byte(f.Type))
	dst = binary.BigEndian.AppendUint16(dst, uint16(f.Flags))
	dst = binary.BigEndian.AppendUint64(dst, f.Seq)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Payload)))
	return append(dst, f.Payload...), nil
}

func parseHeader(b []byte) (Frame, uint32, error) {
	if magic := binary.BigEndian.Uint32(b[0:4]); magic != Magic {
		return Frame{}, 0, fmt.Errorf("%w: 0x%08x", ErrBadMagic, magic)
	}
	if b[4] != Version {
		return Frame{}, 0, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}
	f := Frame{
		Type:  Type(b[5]),
		Flags: Flags(binary.BigEndian.Uint16(b[6:8])),
		Seq:   binary.BigEndian.Uint64(b[8:16]),
	}
	if _, err := f.Type.Element(); err != nil {
		return Frame{}, 0, err
	}
	return f, binary.BigEndian.Uint32(b[16:20]), nil
}
