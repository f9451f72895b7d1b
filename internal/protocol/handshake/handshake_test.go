package handshake

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/stanzactl/internal/protocol/frame"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/danmuck/stanzactl/internal/testutil/testlog"
	"mellium.im/xmpp/jid"
)

func TestOpenRoundTrip(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteOpen(&buf, Open{JID: "me@example.com/bot", Password: "secret", Peer: PeerClient}); err != nil {
		t.Fatalf("write open: %v", err)
	}
	got, err := ReadOpen(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read open: %v", err)
	}
	if got.JID != "me@example.com/bot" || got.Password != "secret" || got.Peer != PeerClient {
		t.Fatalf("unexpected open: %+v", got)
	}
}

func TestOpenValidateRejectsBadPeer(t *testing.T) {
	testlog.Start(t)
	if err := (Open{JID: "me@example.com", Peer: "robot"}).Validate(); !errors.Is(err, ErrInvalidOpen) {
		t.Fatalf("expected ErrInvalidOpen, got %v", err)
	}
	if err := (Open{Peer: PeerClient}).Validate(); !errors.Is(err, ErrInvalidOpen) {
		t.Fatalf("expected ErrInvalidOpen for missing jid, got %v", err)
	}
}

func TestOpenAckRoundTrip(t *testing.T) {
	testlog.Start(t)
	ack := OpenAck{Status: AckStatusAccepted, BoundJID: "me@example.com/bot", StreamID: "s1"}
	var buf bytes.Buffer
	if err := WriteOpenAck(&buf, ack); err != nil {
		t.Fatalf("write ack: %v", err)
	}
	got, err := ReadOpenAck(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if got != ack {
		t.Fatalf("unexpected ack: %+v", got)
	}

	if err := (OpenAck{Status: AckStatusAccepted, StreamID: "s1"}).Validate(); !errors.Is(err, ErrInvalidOpenAck) {
		t.Fatalf("accepted ack without bound jid must fail, got %v", err)
	}
	if err := (OpenAck{Status: AckStatusRejected, Message: "bad password"}).Validate(); err != nil {
		t.Fatalf("rejected ack needs no binding: %v", err)
	}
}

func TestReadOpenAckRejectsWrongEnvelope(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if err := WriteOpen(&buf, Open{JID: "me@example.com", Peer: PeerClient}); err != nil {
		t.Fatalf("write open: %v", err)
	}
	if _, err := ReadOpenAck(bufio.NewReader(&buf)); !errors.Is(err, ErrInvalidOpenAck) {
		t.Fatalf("expected ErrInvalidOpenAck, got %v", err)
	}
}

func TestEncodedEnvelopesMatchLineEnvelopes(t *testing.T) {
	testlog.Start(t)
	b, err := EncodeOpen(Open{JID: "bot.example.com", Peer: PeerComponent})
	if err != nil {
		t.Fatalf("encode open: %v", err)
	}
	open, err := DecodeOpen(b)
	if err != nil || open.Peer != PeerComponent {
		t.Fatalf("decode open: %+v %v", open, err)
	}
	if _, err := DecodeOpenAck(b); !errors.Is(err, ErrInvalidOpenAck) {
		t.Fatalf("open must not decode as ack, got %v", err)
	}
}

func TestStanzaCodecRoundTrip(t *testing.T) {
	testlog.Start(t)

	roster := stanza.NewIQ(stanza.TypeResult, stanza.NSRoster)
	roster.From = jid.MustParse("example.com")
	roster.To = jid.MustParse("me@example.com/bot")
	roster.Items = []stanza.RosterItem{
		{JID: jid.MustParse("alice@example.com"), Name: "Alice", Subscription: stanza.SubscriptionBoth, Groups: []string{"friends", "work"}},
		{JID: jid.MustParse("bob@example.com"), Subscription: stanza.SubscriptionTo, Ask: "subscribe"},
	}

	b, err := MarshalStanza(7, roster, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := UnmarshalStanza(b, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != roster.ID || got.Type != stanza.TypeResult || got.Namespace != stanza.NSRoster {
		t.Fatalf("unexpected header fields: %s", got)
	}
	if got.From.String() != "example.com" || got.To.String() != "me@example.com/bot" {
		t.Fatalf("unexpected addresses: %s", got)
	}
	if len(got.Items) != 2 || got.Items[0].Name != "Alice" || len(got.Items[0].Groups) != 2 || got.Items[1].Ask != "subscribe" {
		t.Fatalf("unexpected roster items: %+v", got.Items)
	}
	if !got.Is(stanza.TagRoster) || got.Kind != stanza.KindIQ {
		t.Fatalf("decoded stanza must be classified: %v", got.Hierarchy)
	}
}

func TestStanzaCodecCarriesPresenceErrorsAndExtras(t *testing.T) {
	testlog.Start(t)

	pres := stanza.Status{State: stanza.StateDND, Message: "busy", Priority: -1}.Stanza()
	pres.Extra = map[string]string{"x-client": "cli"}
	b, err := MarshalStanza(1, pres, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("marshal presence: %v", err)
	}
	got, err := UnmarshalStanza(b, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal presence: %v", err)
	}
	if st := stanza.StatusOf(got); st.State != stanza.StateDND || st.Message != "busy" || st.Priority != -1 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if got.Extra["x-client"] != "cli" {
		t.Fatalf("extra lost: %v", got.Extra)
	}

	streamErr := stanza.NewStreamError(stanza.Condition("conflict"), "replaced")
	b, err = MarshalStanza(2, streamErr, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("marshal stream error: %v", err)
	}
	got, err = UnmarshalStanza(b, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal stream error: %v", err)
	}
	if got.Kind != stanza.KindError || !got.Is(stanza.TagStreamError) || got.Error == nil || got.Error.Text != "replaced" {
		t.Fatalf("unexpected stream error: %+v", got)
	}
}

func TestEncodeStanzaSetsResponseFlags(t *testing.T) {
	testlog.Start(t)
	req := stanza.NewIQ(stanza.TypeGet, stanza.NSPing)
	f, err := EncodeStanza(3, stanza.ErrorReply(req, stanza.ErrorCancel, stanza.ServiceUnavailable))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if f.Type != frame.TypeIQ || f.Seq != 3 {
		t.Fatalf("unexpected frame: type=%s seq=%d", f.Type, f.Seq)
	}
	if !f.Flags.Has(frame.FlagError) || !f.Flags.Has(frame.FlagResponse) {
		t.Fatalf("expected error+response flags, got %b", f.Flags)
	}
}

func TestDecodeStanzaRejectsUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	_, err := DecodeStanza(frame.Frame{Type: 42})
	if !errors.Is(err, ErrUnknownElement) {
		t.Fatalf("expected ErrUnknownElement, got %v", err)
	}
}

func TestValidateClientTransportProductionRequiresVerifiedTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	cfg.TLS.InsecureSkipVerify = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSInsecureSkipNotAllow) {
		t.Fatalf("expected ErrTLSInsecureSkipNotAllow, got %v", err)
	}
}

func TestValidateClientTransportMutualRequiresCertKeyCA(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.TLS.Enabled = true
	cfg.TLS.Mutual = true
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCAFileRequired) {
		t.Fatalf("expected ErrTLSCAFileRequired, got %v", err)
	}

	cfg.TLS.CAFile = "/tmp/ca.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSCertFileRequired) {
		t.Fatalf("expected ErrTLSCertFileRequired, got %v", err)
	}

	cfg.TLS.CertFile = "/tmp/client.pem"
	if err := cfg.ValidateClientTransport(); !errors.Is(err, ErrTLSKeyFileRequired) {
		t.Fatalf("expected ErrTLSKeyFileRequired, got %v", err)
	}

	cfg.TLS.KeyFile = "/tmp/client.key"
	if err := cfg.ValidateClientTransport(); err != nil {
		t.Fatalf("expected valid transport config, got %v", err)
	}
}

func TestValidateServerTransportProductionRequiresTLSMTLS(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.SecurityMode = SecurityModeProduction
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}

	cfg.TLS.Enabled = true
	if err := cfg.ValidateServerTransport(); !errors.Is(err, ErrMTLSRequired) {
		t.Fatalf("expected ErrMTLSRequired, got %v", err)
	}
}

func TestWithDefaultsFillsTimeouts(t *testing.T) {
	testlog.Start(t)
	cfg := Config{SecurityMode: " Production "}.WithDefaults()
	if cfg.ConnectTimeout <= 0 || cfg.HandshakeTimeout <= 0 || cfg.WriteTimeout <= 0 {
		t.Fatalf("timeouts not filled: %+v", cfg)
	}
	if cfg.ReadTimeout != 0 {
		t.Fatalf("read timeout must stay unlimited: %v", cfg.ReadTimeout)
	}
	if cfg.SecurityMode != SecurityModeProduction {
		t.Fatalf("security mode not normalized: %q", cfg.SecurityMode)
	}
}
