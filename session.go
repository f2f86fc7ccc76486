package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

type SessionState string

const (
	StateDisconnected      SessionState = "disconnected"
	StateConnecting        SessionState = "connecting"
	StateOpen              SessionState = "open"
	StateClosedPermanently SessionState = "closed_permanently"
)

const defaultPairingBrand = "Chrome (Linux)"

// ReconnectPolicy bounds automatic reconnection. MaxAttempts <= 0 retries
// forever.
type ReconnectPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// sessionClient is the part of *whatsmeow.Client the session drives.
type sessionClient interface {
	Connect() error
	Disconnect()
	AddEventHandler(handler whatsmeow.EventHandler) uint32
	PairPhone(ctx context.Context, phone string, showPushNotification bool, clientType whatsmeow.PairClientType, clientDisplayName string) (string, error)
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
}

// EventSink receives the events the session routes to the bot core.
type EventSink interface {
	HandleMessage(ctx context.Context, msg *Message)
	HandleMembership(ctx context.Context, evt MembershipEvent)
	HandleCall(ctx context.Context, from types.JID, callID string)
	NotifyConnected(ctx context.Context)
}

type statusPublisher interface {
	Publish(update StatusUpdate)
}

// SessionCallbacks are optional lifecycle hooks.
type SessionCallbacks struct {
	OnConnected    func()
	OnDisconnected func(err error)
	OnError        func(err error)
	OnPairingCode  func(code string)
}

// Session owns one provider connection: pairing, reconnection and the event
// loop that feeds the bot core one event at a time.
type Session struct {
	cfg        *BotConfig
	client     sessionClient
	registered func() bool
	saveDevice func(ctx context.Context) error
	sink       EventSink
	status     statusPublisher
	policy     ReconnectPolicy
	callbacks  SessionCallbacks
	log        waLog.Logger

	events chan any

	mu           sync.Mutex
	state        SessionState
	attempts     int
	notified     bool
	disconnected bool
}

// NewWASession builds a session around a whatsmeow client.
func NewWASession(cfg *BotConfig, client *whatsmeow.Client, sink EventSink, status statusPublisher, callbacks SessionCallbacks, log waLog.Logger) *Session {
	// reconnection is driven by the session's own policy
	client.EnableAutoReconnect = false
	s := newSession(cfg, client, sink, status, callbacks, log)
	s.registered = func() bool { return client.Store.ID != nil }
	s.saveDevice = func(ctx context.Context) error { return client.Store.Save(ctx) }
	return s
}

func newSession(cfg *BotConfig, client sessionClient, sink EventSink, status statusPublisher, callbacks SessionCallbacks, log waLog.Logger) *Session {
	if log == nil {
		log = waLog.Noop
	}
	return &Session{
		cfg:        cfg,
		client:     client,
		registered: func() bool { return false },
		saveDevice: func(context.Context) error { return nil },
		sink:       sink,
		status:     status,
		policy:     ReconnectPolicy{Delay: cfg.ReconnectDelay, MaxAttempts: cfg.ReconnectMaxAttempts},
		callbacks:  callbacks,
		log:        log,
		events:     make(chan any, 256),
		state:      StateDisconnected,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	if s.status != nil {
		s.status.Publish(StatusUpdate{Event: "state", State: state})
	}
}

// Start registers the event handler, starts the event loop and connects.
// An unregistered session requests a pairing code for the owner after the
// pairing delay, or renders a QR code when no owner number is configured.
func (s *Session) Start(ctx context.Context) error {
	s.client.AddEventHandler(func(evt any) { s.enqueue(ctx, evt) })
	go s.loop(ctx)

	if err := s.connect(ctx); err != nil {
		if errors.Is(err, errQRUnavailable) {
			return err
		}
		s.log.Errorf("❌ [CONNECT ERROR] %v", err)
		s.scheduleReconnect(ctx, err)
	}
	return nil
}

var errQRUnavailable = errors.New("qr channel unavailable")

// connect dials the provider. While the device is unregistered every
// connection gets its own login flow: a QR channel when no owner number is
// configured, otherwise a fresh pairing code after the pairing delay.
func (s *Session) connect(ctx context.Context) error {
	unregistered := !s.registered()
	if unregistered && s.cfg.Owner == "" {
		ch, err := s.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", errQRUnavailable, err)
		}
		go s.renderQR(ch)
	}

	s.setState(StateConnecting)
	if err := s.client.Connect(); err != nil {
		return err
	}

	if unregistered && s.cfg.Owner != "" {
		time.AfterFunc(s.cfg.PairingDelay, func() { s.requestPairingCode(ctx) })
	}
	return nil
}

// Stop disconnects without triggering a reconnect.
func (s *Session) Stop() {
	s.mu.Lock()
	s.state = StateClosedPermanently
	s.mu.Unlock()
	s.client.Disconnect()
}

func (s *Session) enqueue(ctx context.Context, evt any) {
	select {
	case s.events <- evt:
	case <-ctx.Done():
	}
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.events:
			s.handle(ctx, evt)
		}
	}
}

func (s *Session) handle(ctx context.Context, evt any) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("⚠️ [CRASH PREVENTED] event %T: %v", evt, r)
		}
	}()

	switch v := evt.(type) {
	case *events.Message:
		s.sink.HandleMessage(ctx, messageFromEvent(v))
	case *events.GroupInfo:
		for _, m := range membershipEvents(v) {
			s.sink.HandleMembership(ctx, m)
		}
	case *events.CallOffer:
		s.sink.HandleCall(ctx, v.From, v.CallID)
	case *events.Connected:
		s.onOpen(ctx)
	case *events.PairSuccess:
		s.log.Infof("🎉 [PAIRED] %s", v.ID)
		if err := s.saveDevice(ctx); err != nil {
			s.log.Errorf("❌ [DEVICE] save after pairing: %v", err)
		}
	case *events.LoggedOut:
		s.closePermanently(fmt.Errorf("%w: %s", ErrLoggedOut, v.Reason))
	case *events.ConnectFailure:
		if v.Reason.IsLoggedOut() {
			s.closePermanently(fmt.Errorf("%w: %s", ErrLoggedOut, v.Reason))
			return
		}
		s.scheduleReconnect(ctx, fmt.Errorf("connect failure: %s", v.Reason))
	case *events.TemporaryBan:
		s.log.Errorf("⛔ [BANNED] %s", v.String())
		s.reportError(fmt.Errorf("temporary ban: %s", v.String()))
	case *events.StreamReplaced:
		s.scheduleReconnect(ctx, errors.New("stream replaced"))
	case *events.Disconnected:
		s.scheduleReconnect(ctx, errors.New("connection closed"))
	}
}

func (s *Session) onOpen(ctx context.Context) {
	s.mu.Lock()
	s.attempts = 0
	first := !s.notified
	s.notified = true
	s.mu.Unlock()

	s.setState(StateOpen)
	s.log.Infof("✅ [CONNECTED] Session open")
	if first {
		s.sink.NotifyConnected(ctx)
	}
	if s.callbacks.OnConnected != nil {
		s.callbacks.OnConnected()
	}
}

// closePermanently stops all retries and reports err once.
func (s *Session) closePermanently(err error) {
	s.mu.Lock()
	already := s.disconnected
	s.disconnected = true
	s.mu.Unlock()

	s.setState(StateClosedPermanently)
	if already {
		return
	}
	s.log.Errorf("❌ [SESSION] closed: %v", err)
	if s.callbacks.OnDisconnected != nil {
		s.callbacks.OnDisconnected(err)
	}
}

func (s *Session) scheduleReconnect(ctx context.Context, cause error) {
	if ctx.Err() != nil {
		return
	}
	s.mu.Lock()
	if s.state == StateClosedPermanently {
		s.mu.Unlock()
		return
	}
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if s.policy.MaxAttempts > 0 && attempt > s.policy.MaxAttempts {
		s.closePermanently(fmt.Errorf("reconnect gave up after %d attempts: %w", s.policy.MaxAttempts, cause))
		return
	}
	s.setState(StateDisconnected)
	s.log.Warnf("🔄 [RECONNECT] %v, retrying in %s (attempt %d)", cause, s.policy.Delay, attempt)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.policy.Delay):
		}
		if s.State() == StateClosedPermanently {
			return
		}
		if err := s.connect(ctx); err != nil {
			s.log.Errorf("❌ [CONNECT ERROR] %v", err)
			s.scheduleReconnect(ctx, err)
		}
	}()
}

func (s *Session) reportError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

// requestPairingCode asks for a pairing code with the configured display
// name, falling back to the default one, and arms the expiry timer.
func (s *Session) requestPairingCode(ctx context.Context) {
	if s.registered() || s.State() == StateClosedPermanently {
		return
	}
	brand := s.cfg.PairingBrand
	if brand == "" {
		brand = defaultPairingBrand
	}
	s.log.Infof("📱 [PAIRING] Requesting code for %s", s.cfg.Owner)
	code, err := s.client.PairPhone(ctx, s.cfg.Owner, true, whatsmeow.PairClientChrome, brand)
	if err != nil && brand != defaultPairingBrand {
		s.log.Warnf("⚠️ [PAIRING] brand %q rejected, using default: %v", brand, err)
		code, err = s.client.PairPhone(ctx, s.cfg.Owner, true, whatsmeow.PairClientChrome, defaultPairingBrand)
	}
	if err != nil {
		s.log.Errorf("❌ [PAIRING] %v", err)
		s.reportError(fmt.Errorf("pairing: %w", err))
		return
	}

	code = formatPairingCode(code)
	fmt.Printf("🔑 Pairing code: %s\n", code)
	if s.status != nil {
		s.status.Publish(StatusUpdate{Event: "pairing_code", Code: code})
	}
	if s.callbacks.OnPairingCode != nil {
		s.callbacks.OnPairingCode(code)
	}

	time.AfterFunc(s.cfg.PairingTimeout, func() {
		if !s.registered() {
			s.log.Warnf("⏰ [PAIRING] Code expired")
			s.reportError(ErrPairingExpired)
		}
	})
}

// formatPairingCode groups a raw code in blocks of four joined by "-".
func formatPairingCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	var parts []string
	for len(code) > 4 {
		parts = append(parts, code[:4])
		code = code[4:]
	}
	if code != "" {
		parts = append(parts, code)
	}
	return strings.Join(parts, "-")
}

func (s *Session) renderQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			fmt.Println("📱 Scan this QR code with WhatsApp:")
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
			if s.status != nil {
				s.status.Publish(StatusUpdate{Event: "qr", Code: item.Code})
			}
		case whatsmeow.QRChannelEventError:
			s.reportError(fmt.Errorf("qr login: %w", item.Error))
		default:
			s.log.Infof("📱 [QR] %s", item.Event)
		}
	}
}
