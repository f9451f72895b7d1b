package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/stanzactl/internal/protocol/tlv"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/danmuck/stanzactl/internal/testutil/testlog"
)

func TestWriteThenReadKeepsHeader(t *testing.T) {
	testlog.Start(t)

	payload := tlv.EncodeFields([]tlv.Field{tlv.String(1, "stanza-1")})
	in := Frame{Type: TypeIQ, Flags: FlagResponse, Seq: 42, Payload: payload}
	var buf bytes.Buffer
	if err := Write(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != HeaderLen+len(payload) {
		t.Fatalf("unexpected encoded size %d", buf.Len())
	}
	out, err := Read(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Type != TypeIQ || out.Seq != 42 || !out.Flags.Has(FlagResponse) || out.Flags.Has(FlagError) {
		t.Fatalf("header mismatch: %+v", out)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadCleanEOFAndShortHeader(t *testing.T) {
	testlog.Start(t)

	if _, err := Read(bytes.NewReader(nil), DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on frame boundary, got %v", err)
	}
	if _, err := Read(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits()); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadTruncatedPayload(t *testing.T) {
	testlog.Start(t)

	b, err := Append(nil, Frame{Type: TypeMessage, Payload: []byte("hello")}, DefaultLimits())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	_, err = Read(bytes.NewReader(b[:len(b)-2]), DefaultLimits())
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadRejectsForeignHeaders(t *testing.T) {
	testlog.Start(t)

	good, err := Append(nil, Frame{Type: TypePresence}, DefaultLimits())
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	magic := bytes.Clone(good)
	binary.BigEndian.PutUint32(magic[0:4], 0xEDCE1001)
	if _, err := Read(bytes.NewReader(magic), DefaultLimits()); !errors.Is(err, ErrBadMagic) {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}

	version := bytes.Clone(good)
	version[4] = 9
	if _, err := Read(bytes.NewReader(version), DefaultLimits()); !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}

	typ := bytes.Clone(good)
	typ[5] = 77
	if _, err := Read(bytes.NewReader(typ), DefaultLimits()); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestPayloadLimitEnforced(t *testing.T) {
	testlog.Start(t)

	limits := Limits{MaxPayload: 4}
	err := Write(io.Discard, Frame{Type: TypeMessage, Payload: []byte("too long")}, limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}

	b, err := Append(nil, Frame{Type: TypeMessage, Payload: []byte("too long")}, DefaultLimits())
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := Read(bytes.NewReader(b), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}

func TestTypeAndFlagsForStanzas(t *testing.T) {
	testlog.Start(t)

	for _, el := range []string{stanza.ElementMessage, stanza.ElementPresence, stanza.ElementIQ, stanza.ElementStream} {
		typ, err := TypeOf(el)
		if err != nil {
			t.Fatalf("type of %q: %v", el, err)
		}
		back, err := typ.Element()
		if err != nil || back != el {
			t.Fatalf("element of %s = %q, %v", typ, back, err)
		}
	}
	if _, err := TypeOf("body"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}

	req := stanza.NewIQ(stanza.TypeGet, stanza.NSPing)
	if FlagsFor(req) != 0 {
		t.Fatalf("request must carry no flags, got %b", FlagsFor(req))
	}
	if f := FlagsFor(stanza.Reply(req)); !f.Has(FlagResponse) || f.Has(FlagError) {
		t.Fatalf("result must be a plain response, got %b", f)
	}
	if f := FlagsFor(stanza.ErrorReply(req, stanza.ErrorCancel, stanza.ServiceUnavailable)); !f.Has(FlagResponse) || !f.Has(FlagError) {
		t.Fatalf("error reply must carry both flags, got %b", f)
	}
}
