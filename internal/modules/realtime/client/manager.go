package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"marketWs/internal/modules/realtime/domain"
	"marketWs/internal/shared/ids"
)

// State of the manager's single transport.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

const (
	DefaultBaseDelay            = time.Second
	DefaultMaxReconnectAttempts = 5
	defaultSendTimeout          = 5 * time.Second
)

// ErrNotConnected is reported for sends attempted while no transport is live.
var ErrNotConnected = fmt.Errorf("%w: not connected", domain.ErrTransport)

type Config struct {
	BaseDelay            time.Duration
	MaxReconnectAttempts int
	// MaxBodyRunes mirrors the server limit so oversize messages fail locally. Zero disables it.
	MaxBodyRunes int
	SendTimeout  time.Duration
	Logger       *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	} else if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Listener handles one event. Panics are recovered and logged.
type Listener func(Event)

// Subscription identifies a registered listener for Off.
type Subscription struct {
	kind Kind
	id   uint64
}

type outboxEntry struct {
	clientID string
	cmd      domain.SendMessageCommand
}

// Manager owns one transport to the server, reconnects it with a bounded linear backoff and
// keeps chat sends working locally while it is down.
type Manager struct {
	provider TransportProvider
	cfg      Config
	log      *slog.Logger

	mu        sync.Mutex
	state     State
	token     string
	transport Transport
	cancel    context.CancelFunc
	userID    string
	userName  string
	rooms     map[string]struct{}
	outbox    []outboxEntry

	listenersMu sync.RWMutex
	listeners   map[Kind]map[uint64]Listener
	nextID      atomic.Uint64

	wg sync.WaitGroup
	// runDispatching counts listener calls in flight on the background goroutine.
	runDispatching atomic.Int32
}

func NewManager(provider TransportProvider, cfg Config) *Manager {
	if provider == nil {
		provider = LocalOnlyProvider{}
	}
	cfg = cfg.withDefaults()
	return &Manager{
		provider:  provider,
		cfg:       cfg,
		log:       cfg.Logger,
		rooms:     make(map[string]struct{}),
		listeners: make(map[Kind]map[uint64]Listener),
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// On registers fn for events of kind.
func (m *Manager) On(kind Kind, fn Listener) Subscription {
	sub := Subscription{kind: kind, id: m.nextID.Add(1)}
	if fn == nil {
		return sub
	}
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	if m.listeners[kind] == nil {
		m.listeners[kind] = make(map[uint64]Listener)
	}
	m.listeners[kind][sub.id] = fn
	return sub
}

func (m *Manager) Off(sub Subscription) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	delete(m.listeners[sub.kind], sub.id)
}

func (m *Manager) emit(ev Event) {
	m.listenersMu.RLock()
	registered := m.listeners[ev.Kind()]
	order := make([]uint64, 0, len(registered))
	for id := range registered {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	fns := make([]Listener, 0, len(order))
	for _, id := range order {
		fns = append(fns, registered[id])
	}
	m.listenersMu.RUnlock()

	for _, fn := range fns {
		m.call(fn, ev)
	}
}

func (m *Manager) call(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("client listener panicked", slog.String("event", ev.Kind().String()), slog.Any("panic", r))
		}
	}()
	fn(ev)
}

// setStateLocked records the transition and returns the event to emit once unlocked.
func (m *Manager) setStateLocked(to State) (StateChanged, bool) {
	from := m.state
	if from == to {
		return StateChanged{}, false
	}
	m.state = to
	return StateChanged{From: from, To: to}, true
}

func (m *Manager) emitState(ev StateChanged, changed bool) {
	if changed {
		m.emit(ev)
	}
}

// Connect starts connecting in the background and returns immediately. It is a no-op while a
// connection is live or being established. Outcomes are reported through StateChanged. With a
// provider that is never available the manager passes through Connecting straight back to
// Disconnected and keeps working local-only.
func (m *Manager) Connect(token string) {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	if !m.provider.Available() {
		connecting, changed := m.setStateLocked(StateConnecting)
		disconnected, _ := m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		m.log.Info("client transport unavailable, running local-only")
		m.emitState(connecting, changed)
		m.emit(disconnected)
		return
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.token = strings.TrimSpace(token)
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	ev, changed := m.setStateLocked(StateConnecting)
	m.wg.Add(1)
	m.mu.Unlock()

	m.emitState(ev, changed)
	go m.run(ctx)
}

// Disconnect closes the manager: listeners are dropped, the transport is torn down and retries
// stop. It waits for the background goroutine to exit, except when called from a listener the
// background goroutine is running; that goroutine then exits once the listener returns.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	t := m.transport
	m.transport = nil
	ev, changed := m.setStateLocked(StateClosed)
	m.mu.Unlock()

	m.emitState(ev, changed)
	m.listenersMu.Lock()
	m.listeners = make(map[Kind]map[uint64]Listener)
	m.listenersMu.Unlock()
	if t != nil {
		_ = t.Close()
	}
	if m.runDispatching.Load() == 0 {
		m.wg.Wait()
	}
}

// onRun marks fn as running on the background goroutine so Disconnect called from one of
// its listeners does not wait for that goroutine.
func (m *Manager) onRun(fn func()) {
	m.runDispatching.Add(1)
	defer m.runDispatching.Add(-1)
	fn()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		t, err := m.dial(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Warn("client reconnect attempts exhausted", slog.Int("attempts", m.cfg.MaxReconnectAttempts), slog.Any("error", err))
				m.onRun(func() { m.finish(ctx, StateDisconnected) })
			}
			return
		}
		var attached bool
		m.onRun(func() { attached = m.attach(ctx, t) })
		if !attached {
			_ = t.Close()
			return
		}
		err = m.readLoop(ctx, t)
		var resumed bool
		m.onRun(func() { resumed = m.detach(ctx, t) })
		if !resumed {
			return
		}
		m.log.Info("client transport dropped, reconnecting", slog.Any("error", err))
	}
}

// dial runs the initial attempt plus at most MaxReconnectAttempts reconnects, waiting
// attempt x BaseDelay before each reconnect.
func (m *Manager) dial(ctx context.Context) (Transport, error) {
	m.mu.Lock()
	token := m.token
	m.mu.Unlock()

	var attempt int
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		delay := time.Duration(attempt) * m.cfg.BaseDelay
		m.onRun(func() { m.emit(Reconnecting{Attempt: attempt, Delay: delay}) })
		return delay, false
	})
	backoff := retry.WithMaxRetries(uint64(m.cfg.MaxReconnectAttempts), linear)

	var t Transport
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		conn, err := m.provider.Dial(ctx, token)
		if err != nil {
			m.log.Debug("client dial failed", slog.Int("attempt", attempt), slog.Any("error", err))
			if errors.Is(err, ErrUnavailable) {
				return err
			}
			return retry.RetryableError(err)
		}
		t = conn
		return nil
	})
	return t, err
}

// attach makes t the live transport, authenticates and replays rooms and the outbox.
// It reports false when the manager was closed meanwhile.
func (m *Manager) attach(ctx context.Context, t Transport) bool {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	m.transport = t
	ev, changed := m.setStateLocked(StateConnected)
	token := m.token
	rooms := make([]string, 0, len(m.rooms))
	for roomID := range m.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	m.mu.Unlock()

	m.emitState(ev, changed)
	m.command(domain.CommandAuthenticate, domain.AuthenticateCommand{Token: token})
	for _, roomID := range rooms {
		m.command(domain.CommandJoinRoom, domain.JoinRoomCommand{RoomID: roomID})
	}
	m.flushOutbox()
	return true
}

// detach drops t after a read failure. It reports false when the manager was closed.
func (m *Manager) detach(ctx context.Context, t Transport) bool {
	_ = t.Close()
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return false
	}
	if m.transport == t {
		m.transport = nil
	}
	disconnected, changed := m.setStateLocked(StateDisconnected)
	connecting, _ := m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	m.emitState(disconnected, changed)
	m.emit(connecting)
	return true
}

func (m *Manager) finish(ctx context.Context, to State) {
	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	ev, changed := m.setStateLocked(to)
	m.mu.Unlock()
	m.emitState(ev, changed)
}

func (m *Manager) readLoop(ctx context.Context, t Transport) error {
	for {
		raw, err := t.Receive(ctx)
		if err != nil {
			return err
		}
		ev, at, err := domain.Decode(raw)
		if err != nil {
			m.log.Debug("client dropped undecodable frame", slog.Any("error", err))
			continue
		}
		m.onRun(func() { m.handleInbound(ev, at) })
	}
}

func (m *Manager) handleInbound(ev domain.Event, at time.Time) {
	switch e := ev.(type) {
	case domain.Pong:
		return
	case domain.Authenticated:
		m.mu.Lock()
		m.userID, m.userName = e.UserID, e.DisplayName
		m.mu.Unlock()
	case domain.MessageSent:
		m.removeFromOutbox(e.ClientID)
	case domain.ErrorEvent:
		if e.Command == domain.CommandSendMessage && e.ClientID != "" {
			if roomID, ok := m.outboxRoom(e.ClientID); ok {
				err := serverError(e)
				if errors.Is(err, domain.ErrValidation) {
					// resending cannot succeed
					m.removeFromOutbox(e.ClientID)
				}
				m.emit(SendFailed{ClientID: e.ClientID, RoomID: roomID, Err: err})
			}
		}
	}
	m.emit(Inbound{Event: ev, At: at})
}

func serverError(e domain.ErrorEvent) error {
	var sentinel error
	switch e.Code {
	case "auth":
		sentinel = domain.ErrAuth
	case "validation":
		sentinel = domain.ErrValidation
	case "persistence":
		sentinel = domain.ErrPersistence
	case "not_found":
		sentinel = domain.ErrNotFound
	default:
		return errors.New(e.Message)
	}
	return fmt.Errorf("%w: %s", sentinel, e.Message)
}

// SendMessage validates locally, echoes the message to NewMessage listeners as pending and
// sends it when connected. It never fails for transport reasons: undelivered messages stay in
// the outbox, a SendFailed event is emitted and the next connection flushes them.
func (m *Manager) SendMessage(roomID, body string) (string, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return "", fmt.Errorf("%w: room id is required", domain.ErrValidation)
	}
	body, err := domain.NormalizeBody(body, m.cfg.MaxBodyRunes)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	entry := outboxEntry{
		clientID: ids.NewAt(now),
		cmd:      domain.SendMessageCommand{RoomID: roomID, Body: body},
	}
	entry.cmd.ClientID = entry.clientID

	m.mu.Lock()
	m.outbox = append(m.outbox, entry)
	echo := domain.ChatMessage{
		RoomID:     roomID,
		SenderID:   m.userID,
		SenderName: m.userName,
		Body:       body,
		CreatedAt:  now,
		Status:     domain.StatusPending,
		ClientID:   entry.clientID,
	}
	m.mu.Unlock()

	m.emit(Inbound{Event: domain.NewMessage{ChatMessage: echo}, At: now, Local: true})
	m.deliver(entry)
	return entry.clientID, nil
}

// Resend retries one outbox entry explicitly.
func (m *Manager) Resend(clientID string) error {
	m.mu.Lock()
	var entry *outboxEntry
	for i := range m.outbox {
		if m.outbox[i].clientID == clientID {
			e := m.outbox[i]
			entry = &e
			break
		}
	}
	m.mu.Unlock()
	if entry == nil {
		return fmt.Errorf("%w: no pending message %q", domain.ErrNotFound, clientID)
	}
	if !m.deliver(*entry) {
		return ErrNotConnected
	}
	return nil
}

// Outbox lists the client ids awaiting a server ack, oldest first.
func (m *Manager) Outbox() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.outbox))
	for i, e := range m.outbox {
		out[i] = e.clientID
	}
	return out
}

func (m *Manager) deliver(entry outboxEntry) bool {
	err := m.send(domain.CommandSendMessage, entry.cmd)
	if err == nil {
		return true
	}
	m.emit(SendFailed{ClientID: entry.clientID, RoomID: entry.cmd.RoomID, Err: err})
	return false
}

func (m *Manager) flushOutbox() {
	m.mu.Lock()
	pending := append([]outboxEntry(nil), m.outbox...)
	m.mu.Unlock()
	for _, entry := range pending {
		if !m.deliver(entry) {
			return
		}
	}
}

func (m *Manager) removeFromOutbox(clientID string) {
	if clientID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.outbox {
		if e.clientID == clientID {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			return
		}
	}
}

func (m *Manager) outboxRoom(clientID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.outbox {
		if e.clientID == clientID {
			return e.cmd.RoomID, true
		}
	}
	return "", false
}

// JoinRoom is remembered and replayed after every reconnect.
func (m *Manager) JoinRoom(roomID string) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return
	}
	m.mu.Lock()
	m.rooms[roomID] = struct{}{}
	m.mu.Unlock()
	m.command(domain.CommandJoinRoom, domain.JoinRoomCommand{RoomID: roomID})
}

func (m *Manager) LeaveRoom(roomID string) {
	roomID = strings.TrimSpace(roomID)
	m.mu.Lock()
	delete(m.rooms, roomID)
	m.mu.Unlock()
	m.command(domain.CommandLeaveRoom, domain.LeaveRoomCommand{RoomID: roomID})
}

func (m *Manager) Typing(roomID string) {
	m.command(domain.CommandTyping, domain.TypingCommand{RoomID: strings.TrimSpace(roomID)})
}

// command is fire-and-forget: failures are logged only.
func (m *Manager) command(name string, payload any) {
	if err := m.send(name, payload); err != nil && !errors.Is(err, ErrNotConnected) {
		m.log.Debug("client command not sent", slog.String("command", name), slog.Any("error", err))
	}
}

func (m *Manager) send(name string, payload any) error {
	m.mu.Lock()
	t := m.transport
	connected := m.state == StateConnected
	m.mu.Unlock()
	if t == nil || !connected {
		return ErrNotConnected
	}

	cmd, err := domain.NewCommand(name, payload)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", domain.ErrValidation, name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.SendTimeout)
	defer cancel()
	if err := t.Send(ctx, cmd); err != nil {
		// the read loop notices the closed transport and reconnects
		_ = t.Close()
		return err
	}
	return nil
}
