package client

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/stanzactl/internal/guard"
	"github.com/danmuck/stanzactl/internal/stanza"
	"github.com/danmuck/stanzactl/internal/testutil/testlog"
	"mellium.im/xmpp/jid"
)

type fakeTransport struct {
	writes []*stanza.Stanza
	closed int
	err    error
}

func (f *fakeTransport) Write(s *stanza.Stanza) error {
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, s)
	return nil
}

func (f *fakeTransport) CloseAfterFlush() error {
	f.closed++
	return nil
}

func newClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := New(DefaultConfig(jid.MustParse(addr)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func rosterResult(id string, items ...stanza.RosterItem) *stanza.Stanza {
	s := stanza.NewIQ(stanza.TypeResult, stanza.NSRoster)
	s.ID = id
	s.Items = items
	return s
}

func TestComponentBecomesReadyImmediately(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "bot.example.com")
	ready := 0
	if err := c.OnReady(func() error { ready++; return nil }); err != nil {
		t.Fatalf("on ready: %v", err)
	}

	tr := &fakeTransport{}
	if err := c.Connected(PeerKindOf(c.JID()), tr); err != nil {
		t.Fatalf("connected: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready, got %q", c.State())
	}
	if ready != 1 {
		t.Fatalf("expected one ready call, got %d", ready)
	}
	if len(tr.writes) != 0 {
		t.Fatalf("component must not fetch a roster: %v", tr.writes)
	}
}

func TestClientBringUpWaitsForRoster(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com/bot")
	var order []string
	tr := &fakeTransport{}
	if err := c.OnReady(func() error {
		order = append(order, "ready")
		if len(tr.writes) != 2 || tr.writes[1].Element != stanza.ElementPresence {
			t.Fatalf("status must be written before ready handlers run: %v", tr.writes)
		}
		return nil
	}); err != nil {
		t.Fatalf("on ready: %v", err)
	}

	if err := c.Connected(PeerClient, tr); err != nil {
		t.Fatalf("connected: %v", err)
	}
	if c.State() != StateInitializing {
		t.Fatalf("expected initializing, got %q", c.State())
	}
	if len(tr.writes) != 1 || tr.writes[0].Namespace != stanza.NSRoster || tr.writes[0].Type != stanza.TypeGet {
		t.Fatalf("expected roster fetch, got %v", tr.writes)
	}
	fetch := tr.writes[0]
	if fetch.From.String() != "me@example.com/bot" {
		t.Fatalf("write must stamp sender, got %q", fetch.From.String())
	}

	result := rosterResult(fetch.ID, stanza.RosterItem{JID: jid.MustParse("alice@example.com"), Subscription: stanza.SubscriptionBoth})
	if err := c.Dispatch(result); err != nil {
		t.Fatalf("dispatch roster: %v", err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready after roster, got %q", c.State())
	}
	if len(order) != 1 {
		t.Fatalf("expected one ready call, got %v", order)
	}
	if !c.Roster().Has(jid.MustParse("alice@example.com")) {
		t.Fatalf("roster not populated")
	}

	if err := c.Dispatch(rosterResult("again", stanza.RosterItem{JID: jid.MustParse("bob@example.com")})); err != nil {
		t.Fatalf("dispatch second roster: %v", err)
	}
	if len(order) != 1 {
		t.Fatalf("ready must fire exactly once, got %v", order)
	}
	if c.Roster().Len() != 2 {
		t.Fatalf("second roster must merge, got %d", c.Roster().Len())
	}
}

func TestRosterPushIsAcknowledged(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	tr := &fakeTransport{}
	_ = c.Connected(PeerClient, tr)
	_ = c.Dispatch(rosterResult("r1"))
	tr.writes = nil

	push := stanza.NewIQ(stanza.TypeSet, stanza.NSRoster)
	push.Items = []stanza.RosterItem{{JID: jid.MustParse("carol@example.com"), Subscription: stanza.SubscriptionNone}}
	if err := c.Dispatch(push); err != nil {
		t.Fatalf("dispatch push: %v", err)
	}
	if len(tr.writes) != 1 || tr.writes[0].Type != stanza.TypeResult || tr.writes[0].ID != push.ID {
		t.Fatalf("expected result ack for push, got %v", tr.writes)
	}
	if !c.Roster().Has(jid.MustParse("carol@example.com")) {
		t.Fatalf("push not applied")
	}
}

func TestUnhandledRequestGetsServiceUnavailable(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	tr := &fakeTransport{}
	_ = c.Connected(PeerComponent, tr)

	req := stanza.NewIQ(stanza.TypeGet, "urn:example:unknown")
	req.From = jid.MustParse("peer@example.com/x")
	if err := c.Dispatch(req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(tr.writes) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(tr.writes))
	}
	reply := tr.writes[0]
	if reply.ID != req.ID || reply.Error == nil || reply.Error.Condition != stanza.ServiceUnavailable {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.To.String() != "peer@example.com/x" {
		t.Fatalf("reply must go back to the requester, got %q", reply.To.String())
	}

	tr.writes = nil
	if err := c.Dispatch(stanza.NewIQ(stanza.TypeResult, "urn:example:unknown")); err != nil {
		t.Fatalf("dispatch result: %v", err)
	}
	if len(tr.writes) != 0 {
		t.Fatalf("results must never be answered: %v", tr.writes)
	}
}

func TestApplicationHandlerBeatsDefaultIQReply(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	tr := &fakeTransport{}
	_ = c.Connected(PeerComponent, tr)

	if err := c.Handle(stanza.TagIQ, func(s *stanza.Stanza) error {
		return c.Write(stanza.Reply(s))
	}, guard.Attr(stanza.TypeGet)); err != nil {
		t.Fatalf("handle: %v", err)
	}

	req := stanza.NewIQ(stanza.TypeGet, "")
	if err := c.Dispatch(req); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(tr.writes) != 1 || tr.writes[0].Type != stanza.TypeResult {
		t.Fatalf("expected application result only, got %v", tr.writes)
	}
}

func TestUnhandledErrorIsFatal(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	_ = c.Connected(PeerComponent, &fakeTransport{})

	err := c.Dispatch(stanza.NewStreamError(stanza.Condition("conflict"), "replaced"))
	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("expected FatalError, got %v", err)
	}
	if fatal.Stanza.Error == nil || fatal.Stanza.Error.Text != "replaced" {
		t.Fatalf("fatal error must carry the stanza: %+v", fatal.Stanza)
	}

	handled := 0
	if err := c.Handle(stanza.TagStanzaError, func(*stanza.Stanza) error { handled++; return nil }); err != nil {
		t.Fatalf("handle: %v", err)
	}
	req := stanza.NewIQ(stanza.TypeGet, stanza.NSVersion)
	if err := c.Dispatch(stanza.ErrorReply(req, stanza.ErrorCancel, stanza.ItemNotFound)); err != nil {
		t.Fatalf("handled stanza error must not be fatal: %v", err)
	}
	if handled != 1 {
		t.Fatalf("expected application error handler, got %d", handled)
	}
}

func TestStatusFromRosterPeerUpdatesRoster(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	_ = c.Connected(PeerClient, &fakeTransport{})
	_ = c.Dispatch(rosterResult("r1", stanza.RosterItem{JID: jid.MustParse("alice@example.com")}))

	seen := 0
	if err := c.Handle(stanza.TagStatus, func(*stanza.Stanza) error { seen++; return nil }); err != nil {
		t.Fatalf("handle: %v", err)
	}

	pres := stanza.Status{State: stanza.StateAway, Message: "lunch"}.Stanza()
	pres.From = jid.MustParse("alice@example.com/phone")
	if err := c.Dispatch(pres); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if seen != 1 {
		t.Fatalf("application status handler must still run, got %d", seen)
	}
	item, ok := c.Roster().Get(jid.MustParse("alice@example.com"))
	if !ok || item.Status().State != stanza.StateAway || item.Status().Message != "lunch" {
		t.Fatalf("roster status not updated: %+v", item)
	}

	stranger := stanza.Status{State: stanza.StateDND}.Stanza()
	stranger.From = jid.MustParse("mallory@example.com/x")
	if err := c.Dispatch(stranger); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if c.Roster().Has(jid.MustParse("mallory@example.com")) {
		t.Fatalf("status must not create roster entries")
	}
}

func TestSetStatusCachesOnlyUndirectedPresence(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	tr := &fakeTransport{}
	_ = c.Connected(PeerComponent, tr)

	if err := c.SetStatus(stanza.StateDND, "busy", jid.JID{}); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if st := c.Status(); st.State != stanza.StateDND || st.Message != "busy" {
		t.Fatalf("status not cached: %+v", st)
	}

	room := jid.MustParse("room@conference.example.com/me")
	if err := c.SetStatus(stanza.StateAway, "brb", room); err != nil {
		t.Fatalf("directed status: %v", err)
	}
	if st := c.Status(); st.State != stanza.StateDND {
		t.Fatalf("directed presence must not replace cached status: %+v", st)
	}
	if len(tr.writes) != 2 || tr.writes[1].To.String() != room.String() || tr.writes[1].Show != "away" {
		t.Fatalf("unexpected presence writes: %v", tr.writes)
	}
	if err := c.SetStatus("sleepy", "", jid.JID{}); err == nil {
		t.Fatalf("expected unknown state error")
	}
}

func TestDiscoverRoutesReplyToCallback(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	tr := &fakeTransport{}
	_ = c.Connected(PeerComponent, tr)

	var got *stanza.Stanza
	who := jid.MustParse("pubsub.example.com")
	if err := c.Discover(stanza.DiscoInfo, who, "", func(s *stanza.Stanza) error {
		got = s
		return nil
	}); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(tr.writes) != 1 || tr.writes[0].Namespace != stanza.NSDiscoInfo {
		t.Fatalf("expected disco query, got %v", tr.writes)
	}
	if len(c.PendingOneShots()) != 1 {
		t.Fatalf("expected pending one-shot")
	}

	reply := stanza.Reply(tr.writes[0])
	reply.Features = []string{stanza.NSPing}
	if err := c.Dispatch(reply); err != nil {
		t.Fatalf("dispatch reply: %v", err)
	}
	if got == nil || got.ID != tr.writes[0].ID {
		t.Fatalf("callback did not receive the reply")
	}
	if len(c.PendingOneShots()) != 0 {
		t.Fatalf("one-shot must be consumed")
	}
}

func TestWriteWithHandlerDropsHandlerOnWriteFailure(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	boom := errors.New("boom")
	_ = c.Connected(PeerComponent, &fakeTransport{err: boom})

	err := c.WriteWithHandler(stanza.NewIQ(stanza.TypeGet, stanza.NSPing), func(*stanza.Stanza) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if len(c.PendingOneShots()) != 0 {
		t.Fatalf("failed write must not leave a pending one-shot")
	}
}

func TestOneShotTTLExpiresStaleHandlers(t *testing.T) {
	testlog.Start(t)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := DefaultConfig(jid.MustParse("me@example.com"))
	cfg.OneShotTTL = time.Minute
	c, err := New(cfg, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	_ = c.Connected(PeerComponent, &fakeTransport{})

	called := false
	if err := c.RegisterOneShot("late", func(*stanza.Stanza) error { called = true; return nil }); err != nil {
		t.Fatalf("register: %v", err)
	}
	now = now.Add(2 * time.Minute)

	reply := stanza.NewIQ(stanza.TypeResult, stanza.NSPing)
	reply.ID = "late"
	if err := c.Dispatch(reply); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if called {
		t.Fatalf("expired one-shot must not run")
	}
	if len(c.PendingOneShots()) != 0 {
		t.Fatalf("expected expired entry removed")
	}
}

func TestWriteAndStopWithoutTransport(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	if err := c.Say(jid.MustParse("peer@example.com"), "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("stop without transport must be a no-op: %v", err)
	}

	tr := &fakeTransport{}
	_ = c.Connected(PeerComponent, tr)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if tr.closed != 1 {
		t.Fatalf("expected close after flush, got %d", tr.closed)
	}
	c.Closed(nil)
	if err := c.Say(jid.MustParse("peer@example.com"), "hi"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after close, got %v", err)
	}
}

func TestWriteKeepsExplicitSender(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com/bot")
	tr := &fakeTransport{}
	_ = c.Connected(PeerComponent, tr)

	msg := stanza.NewMessage(jid.MustParse("peer@example.com"), "hi", "")
	msg.From = jid.MustParse("alias@example.com")
	if err := c.Write(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if tr.writes[0].From.String() != "alias@example.com" {
		t.Fatalf("explicit sender overwritten: %q", tr.writes[0].From.String())
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)

	if _, err := New(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing jid, got %v", err)
	}
	cfg := DefaultConfig(jid.MustParse("me@example.com"))
	cfg.OneShotTTL = -time.Second
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for negative ttl, got %v", err)
	}
}

func TestRosterGetAnsweredOnce(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com")
	tr := &fakeTransport{}
	_ = c.Connected(PeerClient, tr)
	_ = c.Dispatch(rosterResult("r1"))
	tr.writes = nil

	get := stanza.NewIQ(stanza.TypeGet, stanza.NSRoster)
	get.From = jid.MustParse("peer@example.com/x")
	if err := c.Dispatch(get); err != nil {
		t.Fatalf("dispatch get: %v", err)
	}
	if len(tr.writes) != 1 || tr.writes[0].Error == nil || tr.writes[0].Error.Condition != stanza.ServiceUnavailable {
		t.Fatalf("expected one service-unavailable reply, got %v", tr.writes)
	}

	if err := c.Handle(stanza.TagRoster, func(s *stanza.Stanza) error {
		return c.Write(stanza.Reply(s))
	}, guard.Attr(stanza.TypeGet)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	tr.writes = nil
	get = stanza.NewIQ(stanza.TypeGet, stanza.NSRoster)
	if err := c.Dispatch(get); err != nil {
		t.Fatalf("dispatch get: %v", err)
	}
	if len(tr.writes) != 1 || tr.writes[0].Type != stanza.TypeResult {
		t.Fatalf("expected the application reply only, got %v", tr.writes)
	}
}

func TestRosterPushFromOtherSenderIgnored(t *testing.T) {
	testlog.Start(t)

	c := newClient(t, "me@example.com/bot")
	tr := &fakeTransport{}
	_ = c.Connected(PeerClient, tr)
	_ = c.Dispatch(rosterResult("r1"))
	tr.writes = nil

	push := stanza.NewIQ(stanza.TypeSet, stanza.NSRoster)
	push.From = jid.MustParse("mallory@example.com/evil")
	push.Items = []stanza.RosterItem{{JID: jid.MustParse("mallory@example.com"), Subscription: stanza.SubscriptionBoth}}
	if err := c.Dispatch(push); err != nil {
		t.Fatalf("dispatch push: %v", err)
	}
	if c.Roster().Has(jid.MustParse("mallory@example.com")) {
		t.Fatalf("push from a third party must not change the roster")
	}
	if len(tr.writes) != 0 {
		t.Fatalf("push from a third party must not be acknowledged: %v", tr.writes)
	}

	own := stanza.NewIQ(stanza.TypeSet, stanza.NSRoster)
	own.From = jid.MustParse("me@example.com")
	own.Items = []stanza.RosterItem{{JID: jid.MustParse("dave@example.com"), Subscription: stanza.SubscriptionTo}}
	if err := c.Dispatch(own); err != nil {
		t.Fatalf("dispatch own push: %v", err)
	}
	if !c.Roster().Has(jid.MustParse("dave@example.com")) {
		t.Fatalf("push from own bare address must apply")
	}
}
