package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

type fakeSessionClient struct {
	mu          sync.Mutex
	connects    int
	connectErr  error
	disconnects int
	handler     whatsmeow.EventHandler
	brands      []string
	rejectBrand string
	code        string
	qr          chan whatsmeow.QRChannelItem
	qrRequested bool
}

func (f *fakeSessionClient) Connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeSessionClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeSessionClient) AddEventHandler(h whatsmeow.EventHandler) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	return 1
}

func (f *fakeSessionClient) PairPhone(_ context.Context, _ string, _ bool, _ whatsmeow.PairClientType, brand string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.brands = append(f.brands, brand)
	if brand == f.rejectBrand {
		return "", errors.New("bad-request")
	}
	return f.code, nil
}

func (f *fakeSessionClient) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrRequested = true
	return f.qr, nil
}

func (f *fakeSessionClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

type recordingSink struct {
	mu         sync.Mutex
	messages   []*Message
	membership []MembershipEvent
	calls      []string
	notified   int
}

func (r *recordingSink) HandleMessage(_ context.Context, msg *Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recordingSink) HandleMembership(_ context.Context, evt MembershipEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.membership = append(r.membership, evt)
}

func (r *recordingSink) HandleCall(_ context.Context, _ types.JID, callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, callID)
}

func (r *recordingSink) NotifyConnected(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified++
}

type recordingHub struct {
	mu      sync.Mutex
	updates []StatusUpdate
}

func (h *recordingHub) Publish(u StatusUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, u)
}

func (h *recordingHub) find(event string) (StatusUpdate, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, u := range h.updates {
		if u.Event == event {
			return u, true
		}
	}
	return StatusUpdate{}, false
}

func testSessionConfig() *BotConfig {
	cfg := testBotConfig()
	cfg.ReconnectDelay = time.Millisecond
	cfg.PairingDelay = time.Millisecond
	cfg.PairingTimeout = 20 * time.Millisecond
	cfg.PairingBrand = defaultPairingBrand
	return cfg
}

func newTestSession(t *testing.T, cfg *BotConfig, cb SessionCallbacks) (*Session, *fakeSessionClient, *recordingSink, *recordingHub) {
	t.Helper()
	fc := &fakeSessionClient{code: "ABCDEFGH"}
	sink := &recordingSink{}
	hub := &recordingHub{}
	return newSession(cfg, fc, sink, hub, cb, nil), fc, sink, hub
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestFormatPairingCode(t *testing.T) {
	cases := map[string]string{
		"ABCDEFGH":  "ABCD-EFGH",
		"ABCD-EFGH": "ABCD-EFGH",
		"ABCDEF":    "ABCD-EF",
		"ABC":       "ABC",
		"":          "",
	}
	for in, want := range cases {
		if got := formatPairingCode(in); got != want {
			t.Errorf("formatPairingCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSessionOpenNotifiesOwnerOnce(t *testing.T) {
	var opened int
	s, _, sink, hub := newTestSession(t, testSessionConfig(), SessionCallbacks{OnConnected: func() { opened++ }})
	ctx := context.Background()

	s.handle(ctx, &events.Connected{})
	s.handle(ctx, &events.Connected{})

	if s.State() != StateOpen {
		t.Fatalf("state = %s", s.State())
	}
	if sink.notified != 1 {
		t.Fatalf("owner notified %d times, want 1", sink.notified)
	}
	if opened != 2 {
		t.Fatalf("OnConnected called %d times, want 2", opened)
	}
	if u, ok := hub.find("state"); !ok || u.State == "" {
		t.Fatalf("state not published: %+v", hub.updates)
	}
}

func TestSessionLoggedOutIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		evt  any
	}{
		{"logged out", &events.LoggedOut{Reason: events.ConnectFailureLoggedOut}},
		{"connect failure", &events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errs []error
			s, fc, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{OnDisconnected: func(err error) { errs = append(errs, err) }})
			ctx := context.Background()

			s.handle(ctx, tc.evt)
			s.handle(ctx, &events.Disconnected{})
			s.handle(ctx, tc.evt)
			time.Sleep(20 * time.Millisecond)

			if s.State() != StateClosedPermanently {
				t.Fatalf("state = %s", s.State())
			}
			if len(errs) != 1 || !errors.Is(errs[0], ErrLoggedOut) {
				t.Fatalf("OnDisconnected errors = %v, want exactly one ErrLoggedOut", errs)
			}
			if n := fc.connectCount(); n != 0 {
				t.Fatalf("reconnected %d times after logout", n)
			}
		})
	}
}

func TestSessionReconnectsAfterClose(t *testing.T) {
	s, fc, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.handle(ctx, &events.Disconnected{})
	waitFor(t, "reconnect", func() bool { return fc.connectCount() == 1 })
	if s.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", s.State())
	}

	s.handle(ctx, &events.Connected{})
	s.handle(ctx, &events.StreamReplaced{})
	waitFor(t, "second reconnect", func() bool { return fc.connectCount() == 2 })
}

func TestSessionReconnectPolicyGivesUp(t *testing.T) {
	cfg := testSessionConfig()
	cfg.ReconnectMaxAttempts = 2
	done := make(chan error, 2)
	s, fc, _, _ := newTestSession(t, cfg, SessionCallbacks{OnDisconnected: func(err error) { done <- err }})
	fc.connectErr = errors.New("dial tcp: refused")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.handle(ctx, &events.Disconnected{})

	select {
	case err := <-done:
		if !strings.Contains(err.Error(), "gave up after 2 attempts") {
			t.Fatalf("error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reconnect never gave up")
	}
	if n := fc.connectCount(); n != 2 {
		t.Fatalf("connect attempts = %d, want 2", n)
	}
	if s.State() != StateClosedPermanently {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionStopDoesNotReconnect(t *testing.T) {
	s, fc, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	s.Stop()
	s.handle(context.Background(), &events.Disconnected{})
	time.Sleep(20 * time.Millisecond)
	if fc.connectCount() != 0 || fc.disconnects != 1 {
		t.Fatalf("connects = %d, disconnects = %d", fc.connectCount(), fc.disconnects)
	}
}

func TestSessionRoutesEvents(t *testing.T) {
	s, _, sink, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	ctx := context.Background()

	s.handle(ctx, &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: testGroup, Sender: testMember, IsGroup: true},
			ID:            "ABC",
		},
		Message: &waE2E.Message{Conversation: proto.String("hi")},
	})
	s.handle(ctx, &events.GroupInfo{JID: testGroup, Join: []types.JID{testMember}, Leave: []types.JID{testAdmin}})
	s.handle(ctx, &events.CallOffer{BasicCallMeta: types.BasicCallMeta{From: testMember, CallID: "CALL1"}})

	if len(sink.messages) != 1 || sink.messages[0].Body() != "hi" || !sink.messages[0].IsGroup {
		t.Fatalf("messages = %+v", sink.messages)
	}
	if len(sink.membership) != 2 || sink.membership[0].Action != MemberAdd || sink.membership[1].Action != MemberRemove {
		t.Fatalf("membership = %+v", sink.membership)
	}
	if len(sink.calls) != 1 || sink.calls[0] != "CALL1" {
		t.Fatalf("calls = %v", sink.calls)
	}
}

func TestSessionSavesDeviceOnPairSuccess(t *testing.T) {
	s, _, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	var saves int
	s.saveDevice = func(context.Context) error { saves++; return nil }
	s.handle(context.Background(), &events.PairSuccess{ID: testOwner})
	if saves != 1 {
		t.Fatalf("device saved %d times, want 1", saves)
	}
}

func TestSessionPairingFallsBackToDefaultBrand(t *testing.T) {
	cfg := testSessionConfig()
	cfg.PairingBrand = "Verse (Linux)"
	expired := make(chan error, 1)
	var code string
	s, fc, _, hub := newTestSession(t, cfg, SessionCallbacks{
		OnError:       func(err error) { expired <- err },
		OnPairingCode: func(c string) { code = c },
	})
	fc.rejectBrand = "Verse (Linux)"

	s.requestPairingCode(context.Background())

	if len(fc.brands) != 2 || fc.brands[1] != defaultPairingBrand {
		t.Fatalf("brands tried = %v", fc.brands)
	}
	if code != "ABCD-EFGH" {
		t.Fatalf("code = %q", code)
	}
	if u, ok := hub.find("pairing_code"); !ok || u.Code != "ABCD-EFGH" {
		t.Fatalf("pairing code not published: %+v", hub.updates)
	}
	select {
	case err := <-expired:
		if !errors.Is(err, ErrPairingExpired) {
			t.Fatalf("OnError = %v, want ErrPairingExpired", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pairing never expired")
	}
}

func TestSessionPairingExpiryNoopOnceRegistered(t *testing.T) {
	var registered atomic.Bool
	errs := make(chan error, 1)
	s, _, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{OnError: func(err error) { errs <- err }})
	s.registered = registered.Load

	s.requestPairingCode(context.Background())
	registered.Store(true)

	select {
	case err := <-errs:
		t.Fatalf("unexpected OnError(%v) after registration", err)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSessionStartPairsWhenUnregistered(t *testing.T) {
	s, fc, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if fc.connectCount() != 1 {
		t.Fatalf("connects = %d", fc.connectCount())
	}
	waitFor(t, "pairing request", func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.brands) == 1
	})

	// events from the client reach the loop
	fc.mu.Lock()
	h := fc.handler
	fc.mu.Unlock()
	h(&events.Connected{})
	waitFor(t, "open state", func() bool { return s.State() == StateOpen })
}

func TestSessionStartWithoutOwnerShowsQR(t *testing.T) {
	cfg := testSessionConfig()
	cfg.Owner = ""
	s, fc, _, hub := newTestSession(t, cfg, SessionCallbacks{})
	fc.qr = make(chan whatsmeow.QRChannelItem, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	fc.qr <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@qr-payload"}
	close(fc.qr)

	waitFor(t, "qr broadcast", func() bool {
		u, ok := hub.find("qr")
		return ok && u.Code == "2@qr-payload"
	})
	if !fc.qrRequested || len(fc.brands) != 0 {
		t.Fatalf("qrRequested = %v, pairing attempts = %v", fc.qrRequested, fc.brands)
	}
}

func TestSessionRequestsNewPairingCodeAfterReconnect(t *testing.T) {
	s, fc, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pairingRequests := func() int {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.brands)
	}

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first pairing code", func() bool { return pairingRequests() == 1 })

	fc.mu.Lock()
	h := fc.handler
	fc.mu.Unlock()
	h(&events.Disconnected{})

	waitFor(t, "reconnect", func() bool { return fc.connectCount() == 2 })
	waitFor(t, "second pairing code", func() bool { return pairingRequests() == 2 })
}

func TestSessionPairsAfterFailedFirstConnect(t *testing.T) {
	s, fc, _, _ := newTestSession(t, testSessionConfig(), SessionCallbacks{})
	fc.connectErr = errors.New("dial tcp: refused")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "retry", func() bool { return fc.connectCount() >= 2 })
	fc.mu.Lock()
	fc.connectErr = nil
	fc.mu.Unlock()

	waitFor(t, "pairing code after recovery", func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return len(fc.brands) >= 1
	})
}
