// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/platform"
)

const (
	DefaultConnectTimeout    = 15 * time.Second
	DefaultKeepaliveInterval = 60 * time.Second
	DefaultPongTimeout       = 30 * time.Second
	DefaultRoomJoinTimeout   = 10 * time.Second

	defaultReconnectInitialInterval = time.Second
	defaultReconnectMaxInterval     = 2 * time.Minute

	subprotocol = "xmpp"

	// readLimit caps one inbound frame. Party notifications carrying
	// full meta maps are the largest stanzas the service sends.
	readLimit = 4 << 20

	// serviceSender is the local part of the JID the friends and party
	// services push notifications from.
	serviceSender = "xmpp-admin"
)

// ErrNotConnected is returned by send operations while no stream is
// established.
var ErrNotConnected = errors.New("xmpp: not connected")

var errDisconnected = errors.New("disconnected by client")

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateReconnecting: "reconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CredentialsFunc returns the account id and a currently valid access
// token. Called once per connection attempt.
type CredentialsFunc func(ctx context.Context) (accountID, token string, err error)

// Config configures a Conn.
type Config struct {
	// URL is the WebSocket URL of the presence service.
	URL string

	// Domain is the XMPP domain of user addresses. MUCDomain is the
	// domain of group chat rooms.
	Domain    string
	MUCDomain string

	// Platform is the platform tag embedded in the bound resource.
	// Default "WIN".
	Platform string

	// Credentials supplies the SASL PLAIN identity. Required.
	Credentials CredentialsFunc

	// Handler receives classified events in arrival order from the
	// dispatch goroutine. May be nil.
	Handler func(Event)

	// OnStateChange is called on every state transition. May be nil.
	OnStateChange func(State)

	// OnReconnect is called after a reconnect has restored presence
	// and rooms. It runs on the connection goroutine, so it should hand
	// long work off to its own goroutine. May be nil.
	OnReconnect func()

	// ConnectTimeout bounds each dial plus handshake.
	ConnectTimeout time.Duration

	// KeepaliveInterval is the ping period. PongTimeout bounds the wait
	// for each ping's reply; a missed reply drops the stream.
	KeepaliveInterval time.Duration
	PongTimeout       time.Duration

	// RoomJoinTimeout bounds the wait for a room's self-presence echo.
	RoomJoinTimeout time.Duration

	// ReconnectInitialInterval and ReconnectMaxInterval shape the
	// exponential reconnect backoff.
	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	// Dialer overrides the WebSocket dialer. The xmpp subprotocol is
	// always requested.
	Dialer *websocket.Dialer

	// Clock drives timeouts, keepalive and backoff. If nil,
	// clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Platform == "" {
		c.Platform = "WIN"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.KeepaliveInterval <= 0 {
		c.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.RoomJoinTimeout <= 0 {
		c.RoomJoinTimeout = DefaultRoomJoinTimeout
	}
	if c.ReconnectInitialInterval <= 0 {
		c.ReconnectInitialInterval = defaultReconnectInitialInterval
	}
	if c.ReconnectMaxInterval <= 0 {
		c.ReconnectMaxInterval = defaultReconnectMaxInterval
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Conn is a presence connection. Create with NewConn, then Connect.
type Conn struct {
	config Config
	dialer websocket.Dialer
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	session *session
	// presence is the last broadcast status, re-sent after reconnect.
	presence *outPresence
	// rooms holds the bare JIDs of tracked group rooms.
	rooms     map[string]struct{}
	roomJoins map[string]*roomJoin
	stop      context.CancelFunc
	done      chan struct{}

	dispatchMu sync.Mutex
	queue      []Event
	wake       chan struct{}

	stanzaIDs atomic.Uint64
}

// session is one established stream. A reconnect replaces it.
type session struct {
	ws        *websocket.Conn
	address   jid
	accountID string

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	err       error

	iqMu sync.Mutex
	iqs  map[string]chan *stanza

	goroutines sync.WaitGroup
}

func newSession(ws *websocket.Conn, address jid, accountID string) *session {
	return &session{
		ws:        ws,
		address:   address,
		accountID: accountID,
		closed:    make(chan struct{}),
		iqs:       make(map[string]chan *stanza),
	}
}

// fail ends the session with err. Only the first call has an effect.
func (s *session) fail(err error) {
	s.closeOnce.Do(func() {
		s.err = err
		close(s.closed)
		s.ws.Close()
	})
}

func (s *session) write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

// nick is the occupant nickname used in group rooms.
func (s *session) nick() string {
	return s.accountID + ":" + s.address.resource
}

// expect registers interest in the reply to iq id.
func (s *session) expect(id string) <-chan *stanza {
	reply := make(chan *stanza, 1)
	s.iqMu.Lock()
	s.iqs[id] = reply
	s.iqMu.Unlock()
	return reply
}

func (s *session) forget(id string) {
	s.iqMu.Lock()
	delete(s.iqs, id)
	s.iqMu.Unlock()
}

func (s *session) deliver(reply *stanza) bool {
	s.iqMu.Lock()
	channel, ok := s.iqs[reply.ID]
	delete(s.iqs, reply.ID)
	s.iqMu.Unlock()
	if ok {
		channel <- reply
	}
	return ok
}

// NewConn creates a disconnected Conn.
func NewConn(config Config) *Conn {
	config = config.withDefaults()
	var dialer websocket.Dialer
	if config.Dialer != nil {
		dialer = *config.Dialer
	} else {
		dialer = *websocket.DefaultDialer
	}
	dialer.Subprotocols = []string{subprotocol}
	return &Conn{
		config:    config,
		dialer:    dialer,
		clock:     config.Clock,
		logger:    config.Logger,
		rooms:     make(map[string]struct{}),
		roomJoins: make(map[string]*roomJoin),
		wake:      make(chan struct{}, 1),
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JID returns the full bound address of the current stream, or "" when
// no stream is established.
func (c *Conn) JID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	address := c.session.address
	return address.bare() + "/" + address.resource
}

func (c *Conn) setState(state State) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	previous := c.state
	c.state = state
	c.mu.Unlock()

	c.logger.Info("presence connection state changed", "from", previous, "to", state)
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(state)
	}
}

// Connect establishes the stream. On success the Conn stays connected,
// reconnecting as needed, until Disconnect. ctx bounds only this first
// attempt.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("xmpp: connect: connection is %s", state)
	}
	c.mu.Unlock()
	c.setState(StateConnecting)

	sess, err := c.open(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("xmpp: connect: %w", err)
	}

	lifetime, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.stop, c.done = stop, done
	c.session = sess
	c.mu.Unlock()

	c.dispatchMu.Lock()
	c.queue = nil
	c.dispatchMu.Unlock()
	go c.dispatch(lifetime)

	c.attach(sess)
	c.setState(StateConnected)
	go c.run(lifetime, sess, done)
	return nil
}

// Disconnect closes the stream and stops reconnecting. Tracked rooms
// and the remembered presence are forgotten. Must not be called from
// the event handler.
func (c *Conn) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	stop, done, sess := c.stop, c.done, c.session
	c.mu.Unlock()
	if stop == nil {
		return nil
	}

	if sess != nil {
		if data, err := encode(outPresence{Type: "unavailable"}); err == nil {
			sess.write(data)
		}
		sess.write(closeFrame())
	}
	stop()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("xmpp: disconnect: %w", ctx.Err())
	}

	c.mu.Lock()
	c.stop, c.done = nil, nil
	c.presence = nil
	clear(c.rooms)
	c.mu.Unlock()
	c.setState(StateDisconnected)
	return nil
}

// current returns the established session.
func (c *Conn) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil || c.state != StateConnected {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

func (c *Conn) attach(sess *session) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	sess.goroutines.Add(2)
	go c.readLoop(sess)
	go c.keepalive(sess)
}

// detach forgets sess and fails every room join still waiting on it.
func (c *Conn) detach(sess *session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == sess {
		c.session = nil
	}
	for address, join := range c.roomJoins {
		join.err = ErrNotConnected
		close(join.done)
		delete(c.roomJoins, address)
	}
}

// run supervises sessions until lifetime ends: it waits for the current
// session to fail, then reconnects with backoff and restores state.
func (c *Conn) run(lifetime context.Context, sess *session, done chan struct{}) {
	defer close(done)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.config.ReconnectInitialInterval
	policy.MaxInterval = c.config.ReconnectMaxInterval
	policy.Reset()

	for {
		select {
		case <-sess.closed:
		case <-lifetime.Done():
			sess.fail(errDisconnected)
		}
		sess.goroutines.Wait()
		c.detach(sess)
		if lifetime.Err() != nil {
			return
		}

		c.logger.Warn("presence connection lost", "error", sess.err)
		c.setState(StateReconnecting)
		next, err := c.reconnect(lifetime, policy)
		if err != nil {
			return
		}
		policy.Reset()
		sess = next

		c.attach(sess)
		c.restore(lifetime, sess)
		c.setState(StateConnected)
		if c.config.OnReconnect != nil {
			c.config.OnReconnect()
		}
	}
}

// reconnect retries open with backoff until it succeeds or lifetime
// ends. The attempt count is unbounded.
func (c *Conn) reconnect(lifetime context.Context, policy *backoff.ExponentialBackOff) (*session, error) {
	for attempt := 1; ; attempt++ {
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			wait = policy.MaxInterval
		}
		if err := clock.Sleep(lifetime, c.clock, wait); err != nil {
			return nil, err
		}
		sess, err := c.open(lifetime)
		if err == nil {
			c.logger.Info("presence connection re-established", "attempt", attempt, "jid", sess.address.bare()+"/"+sess.address.resource)
			return sess, nil
		}
		if lifetime.Err() != nil {
			return nil, lifetime.Err()
		}
		c.logger.Warn("presence reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

// restore re-broadcasts the last presence and rejoins every tracked
// room, once each.
func (c *Conn) restore(ctx context.Context, sess *session) {
	c.mu.Lock()
	var presence *outPresence
	if c.presence != nil {
		copied := *c.presence
		presence = &copied
	}
	rooms := make([]string, 0, len(c.rooms))
	for address := range c.rooms {
		rooms = append(rooms, address)
	}
	c.mu.Unlock()
	slices.Sort(rooms)

	if presence != nil {
		data, err := encode(presence)
		if err == nil {
			err = sess.write(data)
		}
		if err != nil {
			c.logger.Warn("re-sending presence failed", "error", err)
		}
	}
	for _, address := range rooms {
		if err := c.joinRoom(ctx, sess, address); err != nil {
			c.logger.Warn("rejoining room failed", "room", address, "error", err)
			continue
		}
		c.logger.Info("rejoined room", "room", address)
	}
}

// open dials and completes the handshake, bounded by ConnectTimeout.
func (c *Conn) open(ctx context.Context) (*session, error) {
	accountID, token, err := c.config.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching credentials: %w", err)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// settled is won either by the watchdog or by the handshake; the
	// loser backs off.
	var settled atomic.Bool
	var current atomic.Pointer[websocket.Conn]
	watchdog := c.clock.AfterFunc(c.config.ConnectTimeout, func() {
		if !settled.CompareAndSwap(false, true) {
			return
		}
		cancel()
		if ws := current.Load(); ws != nil {
			ws.Close()
		}
	})
	defer watchdog.Stop()

	sess, err := c.handshake(attemptCtx, accountID, token, &current)
	if !settled.CompareAndSwap(false, true) {
		if sess != nil {
			sess.ws.Close()
		}
		return nil, &platform.TimeoutError{Operation: "xmpp connect", Timeout: c.config.ConnectTimeout}
	}
	if err != nil {
		if ws := current.Load(); ws != nil {
			ws.Close()
		}
		return nil, err
	}
	return sess, nil
}

func (c *Conn) handshake(ctx context.Context, accountID, token string, current *atomic.Pointer[websocket.Conn]) (*session, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", c.config.URL, err)
	}
	current.Store(ws)
	if ws.Subprotocol() != subprotocol {
		return nil, fmt.Errorf("server did not accept the %q subprotocol", subprotocol)
	}
	ws.SetReadLimit(readLimit)

	features, err := c.openStream(ws)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(features.Mechanisms, "PLAIN") {
		return nil, fmt.Errorf("server offers no PLAIN mechanism (offered %v)", features.Mechanisms)
	}
	if err := ws.WriteMessage(websocket.TextMessage, authFrame(accountID, token)); err != nil {
		return nil, fmt.Errorf("sending auth: %w", err)
	}
	reply, err := readStanza(ws)
	if err != nil {
		return nil, fmt.Errorf("reading auth result: %w", err)
	}
	switch reply.name() {
	case "success":
	case "failure":
		return nil, fmt.Errorf("sasl authentication rejected for %s: %w", accountID, platform.ErrAuthenticationFailed)
	default:
		return nil, fmt.Errorf("unexpected <%s> in reply to auth", reply.name())
	}

	features, err = c.openStream(ws)
	if err != nil {
		return nil, err
	}
	if features.Bind == nil {
		return nil, errors.New("server offers no resource binding")
	}

	resource := fmt.Sprintf("V2:Fortnite:%s::%s", c.config.Platform,
		strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")))
	bound, err := c.setupIQ(ws, outIQ{ID: c.nextID("bind"), Type: "set", Bind: &bindRequest{Resource: resource}})
	if err != nil {
		return nil, fmt.Errorf("binding resource: %w", err)
	}
	if bound.Bind == nil || bound.Bind.JID == "" {
		return nil, errors.New("binding resource: reply carries no address")
	}
	if features.Session != nil {
		if _, err := c.setupIQ(ws, outIQ{ID: c.nextID("session"), Type: "set", Session: &sessionRequest{}}); err != nil {
			return nil, fmt.Errorf("establishing session: %w", err)
		}
	}

	address := parseJID(bound.Bind.JID)
	c.logger.Info("presence stream established", "jid", bound.Bind.JID)
	return newSession(ws, address, accountID), nil
}

// openStream opens (or restarts) the stream and returns the server's
// features.
func (c *Conn) openStream(ws *websocket.Conn) (*stanza, error) {
	if err := ws.WriteMessage(websocket.TextMessage, openFrame(c.config.Domain)); err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	opened, err := readStanza(ws)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if opened.name() != "open" {
		return nil, fmt.Errorf("opening stream: expected <open>, got <%s>", opened.name())
	}
	features, err := readStanza(ws)
	if err != nil {
		return nil, fmt.Errorf("reading stream features: %w", err)
	}
	if features.name() != "features" {
		return nil, fmt.Errorf("expected stream features, got <%s>", features.name())
	}
	return features, nil
}

// setupIQ sends iq during the handshake and reads until its reply.
func (c *Conn) setupIQ(ws *websocket.Conn, iq outIQ) (*stanza, error) {
	data, err := encode(iq)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, err
	}
	for {
		reply, err := readStanza(ws)
		if err != nil {
			return nil, err
		}
		if reply.name() != "iq" || reply.ID != iq.ID {
			continue
		}
		if reply.Type == "error" {
			return nil, fmt.Errorf("server returned error: %s", reply.Error)
		}
		return reply, nil
	}
}

// readStanza reads the next element frame, skipping whitespace
// keepalives. A stream error is returned as an error.
func readStanza(ws *websocket.Conn) (*stanza, error) {
	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage || len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		s, err := decodeStanza(data)
		if err != nil {
			return nil, err
		}
		if s.name() == "error" && s.XMLName.Space == nsStreams {
			return nil, fmt.Errorf("stream error: %s", data)
		}
		return s, nil
	}
}

func (c *Conn) nextID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, c.stanzaIDs.Add(1))
}

func (c *Conn) readLoop(sess *session) {
	defer sess.goroutines.Done()
	for {
		kind, data, err := sess.ws.ReadMessage()
		if err != nil {
			sess.fail(fmt.Errorf("reading stream: %w", err))
			return
		}
		if kind != websocket.TextMessage || len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		s, err := decodeStanza(data)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", "error", err)
			continue
		}
		if err := c.handle(sess, s); err != nil {
			sess.fail(err)
			return
		}
	}
}

func (c *Conn) handle(sess *session, s *stanza) error {
	switch s.name() {
	case "close":
		return errors.New("server closed the stream")
	case "error":
		if s.XMLName.Space == nsStreams {
			return fmt.Errorf("stream error: %s", s.Error)
		}
	case "iq":
		c.handleIQ(sess, s)
	case "presence":
		c.handlePresence(sess, s)
	case "message":
		c.handleMessage(sess, s)
	default:
		c.logger.Debug("ignoring unknown element", "element", s.name())
	}
	return nil
}

func (c *Conn) handleIQ(sess *session, s *stanza) {
	switch s.Type {
	case "result", "error":
		if !sess.deliver(s) {
			c.logger.Debug("ignoring unsolicited iq reply", "id", s.ID)
		}
	case "get":
		if s.Ping == nil {
			c.logger.Debug("ignoring iq request", "id", s.ID, "from", s.From)
			return
		}
		data, err := encode(outIQ{ID: s.ID, Type: "result", To: s.From})
		if err == nil {
			err = sess.write(data)
		}
		if err != nil {
			c.logger.Warn("answering server ping failed", "error", err)
		}
	}
}

func (c *Conn) handlePresence(sess *session, s *stanza) {
	from := parseJID(s.From)
	if from.domain == c.config.MUCDomain {
		c.handleRoomPresence(sess, s, from)
		return
	}
	if from.local == "" || from.local == sess.accountID {
		return
	}
	if s.Type != "" && s.Type != "unavailable" {
		c.logger.Debug("ignoring presence", "type", s.Type, "from", s.From)
		return
	}
	c.enqueue(presenceFromStanza(s, from, c.clock.Now()))
}

// handleRoomPresence completes a pending join on the room's self
// presence or error.
func (c *Conn) handleRoomPresence(sess *session, s *stanza, from jid) {
	self := from.resource == sess.nick() || s.MUCUser.hasStatus(mucSelfPresence)
	if !self || s.Type == "unavailable" {
		return
	}
	address := from.bare()
	c.mu.Lock()
	join, ok := c.roomJoins[address]
	if ok {
		delete(c.roomJoins, address)
		if s.Type == "error" {
			join.err = fmt.Errorf("room %s refused join: %s", address, s.Error)
		}
		close(join.done)
	}
	c.mu.Unlock()
}

func (c *Conn) handleMessage(sess *session, s *stanza) {
	from := parseJID(s.From)
	switch {
	case s.Type == "error":
		c.logger.Warn("message bounced", "from", s.From, "error", s.Error)

	case from.local == serviceSender:
		event := classifyServiceBody(s.Body)
		if event == nil {
			c.logger.Debug("ignoring service message", "body_bytes", len(s.Body))
			return
		}
		c.enqueue(event)

	case s.Type == "groupchat":
		account := occupantAccount(from.resource)
		if s.Body == "" || account == sess.accountID {
			return
		}
		c.enqueue(&ChatMessage{AccountID: account, Room: from.local, Body: s.Body, Time: stanzaTime(s, c.clock.Now())})

	case s.Type == "chat" && s.Body != "":
		c.enqueue(&ChatMessage{AccountID: from.local, Body: s.Body, Time: stanzaTime(s, c.clock.Now())})
	}
}

// enqueue hands event to the dispatch goroutine without blocking.
func (c *Conn) enqueue(event Event) {
	c.dispatchMu.Lock()
	c.queue = append(c.queue, event)
	c.dispatchMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) dispatch(ctx context.Context) {
	for {
		c.dispatchMu.Lock()
		batch := c.queue
		c.queue = nil
		c.dispatchMu.Unlock()

		for _, event := range batch {
			if c.config.Handler != nil {
				c.config.Handler(event)
			}
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) keepalive(sess *session) {
	defer sess.goroutines.Done()
	ticker := c.clock.NewTicker(c.config.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.closed:
			return
		case <-ticker.C:
			if err := c.ping(sess); err != nil {
				sess.fail(err)
				return
			}
		}
	}
}

// ping sends one keepalive and waits PongTimeout for the reply. Any
// reply, error replies included, proves the stream is alive.
func (c *Conn) ping(sess *session) error {
	id := c.nextID("ping")
	reply := sess.expect(id)
	data, err := encode(outIQ{ID: id, Type: "get", To: c.config.Domain, Ping: &pingRequest{}})
	if err == nil {
		err = sess.write(data)
	}
	if err != nil {
		sess.forget(id)
		return fmt.Errorf("sending ping: %w", err)
	}

	timer := c.clock.NewTimer(c.config.PongTimeout)
	defer timer.Stop()
	select {
	case <-reply:
		return nil
	case <-sess.closed:
		return nil
	case <-timer.C:
		sess.forget(id)
		return &platform.TimeoutError{Operation: "xmpp ping reply", Timeout: c.config.PongTimeout}
	}
}
