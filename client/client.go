// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package client assembles the engine: it authenticates, loads the
// friend list, connects presence, settles the party and then routes
// presence-connection events to the component that owns them.
//
// Relationship events go to the friend cache. Presence updates are
// applied off the dispatch goroutine, since an update for a friend not
// yet known waits for that friend's added event, which arrives on the
// same stream. Party notifications go to the party manager in arrival
// order. After a reconnect the friend list is reloaded and the party
// resynchronized, since neither service replays missed pushes.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bureau-foundation/partyline/auth"
	"github.com/bureau-foundation/partyline/friends"
	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/party"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
	"github.com/bureau-foundation/partyline/xmpp"
)

// PresenceOptions tunes the presence connection. Zero fields use the
// xmpp package defaults.
type PresenceOptions struct {
	ConnectTimeout       time.Duration
	KeepaliveInterval    time.Duration
	PongTimeout          time.Duration
	RoomJoinTimeout      time.Duration
	ReconnectMaxInterval time.Duration
}

// FriendOptions tunes the friend cache. Zero lifetimes disable
// sweeping.
type FriendOptions struct {
	WaitTimeout           time.Duration
	PresenceLifetime      time.Duration
	PresenceSweepInterval time.Duration
	UserLifetime          time.Duration
	UserSweepInterval     time.Duration
}

// Config configures a Client.
type Config struct {
	// Credentials authenticate the primary session. Required.
	Credentials auth.Credentials

	// Endpoints locates the platform services. Zero means
	// platform.DefaultEndpoints().
	Endpoints platform.Endpoints

	// Clients are the OAuth client identities. Zero means
	// platform.DefaultClients().
	Clients platform.Clients

	// HTTPClient, UserAgent, MaxRetries and Metrics configure the REST
	// transport.
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	Metrics    *rest.Metrics

	// IssueDeviceAuth issues a device credential after login when the
	// account authenticated without one, and emits it as
	// EventDeviceAuthCreated.
	IssueDeviceAuth bool

	AcceptEULA        bool
	KillOtherSessions bool
	ClientCredentials bool

	// ChatPresence authenticates the presence connection with the chat
	// session instead of the primary session.
	ChatPresence bool

	// Platform is the platform tag advertised in presence and member
	// meta. Default "WIN".
	Platform string

	// Status is the presence broadcast after connecting.
	Status xmpp.Status

	Presence PresenceOptions
	Friends  FriendOptions

	// CreateParty creates a party at start when the account is in
	// none. PartyConfig configures it; zero means party.DefaultConfig().
	CreateParty bool
	PartyConfig party.Config

	// PartyLockTimeout bounds how long a party notification waits for a
	// running create, join, leave or resync.
	PartyLockTimeout time.Duration

	// OnEvent receives lifecycle signals and domain events. Called from
	// several goroutines; must be safe for concurrent use. May be nil.
	OnEvent func(Event)

	// Clock is shared by every component. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Client is a running engine instance.
type Client struct {
	config Config
	clock  clock.Clock
	logger *slog.Logger

	rest *rest.Client
	auth *auth.Manager

	// Set by Start.
	accountID string
	friends   *friends.Cache
	parties   *party.Manager
	presence  *xmpp.Conn

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	background sync.WaitGroup
}

// New creates a Client. Nothing touches the network until Start.
func New(config Config) (*Client, error) {
	if config.Credentials == nil {
		return nil, errors.New("client: credentials are required")
	}
	if config.Endpoints == (platform.Endpoints{}) {
		config.Endpoints = platform.DefaultEndpoints()
	}
	if config.Platform == "" {
		config.Platform = "WIN"
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Client{
		config: config,
		clock:  config.Clock,
		logger: config.Logger,
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.rest = rest.NewClient(rest.Config{
		HTTPClient: config.HTTPClient,
		Logger:     config.Logger.With("component", "rest"),
		Clock:      config.Clock,
		MaxRetries: config.MaxRetries,
		UserAgent:  config.UserAgent,
		Metrics:    config.Metrics,
	})

	authConfig := auth.Config{
		REST:              c.rest,
		Endpoints:         config.Endpoints,
		Clients:           config.Clients,
		ClientCredentials: config.ClientCredentials,
		Chat:              config.ChatPresence,
		AcceptEULA:        config.AcceptEULA,
		KillOtherSessions: config.KillOtherSessions,
		Clock:             config.Clock,
		Logger:            config.Logger.With("component", "auth"),
	}
	if config.IssueDeviceAuth {
		authConfig.OnDeviceAuthCreated = func(credential auth.DeviceAuth) {
			c.emit(Event{Type: EventDeviceAuthCreated, DeviceAuth: &credential})
		}
	}
	c.auth = auth.NewManager(authConfig)
	return c, nil
}

// Auth returns the session manager.
func (c *Client) Auth() *auth.Manager { return c.auth }

// REST returns the transport, for calls outside the engine's own.
func (c *Client) REST() *rest.Client { return c.rest }

// Friends returns the friend cache. Nil before Start.
func (c *Client) Friends() *friends.Cache { return c.friends }

// Party returns the party manager. Nil before Start.
func (c *Client) Party() *party.Manager { return c.parties }

// Presence returns the presence connection. Nil before Start.
func (c *Client) Presence() *xmpp.Conn { return c.presence }

// AccountID returns the authenticated account. Empty before Start.
func (c *Client) AccountID() string { return c.accountID }

// Start authenticates and brings every component up, then emits
// EventReady. Start may be called once.
func (c *Client) Start(ctx context.Context) error {
	if c.presence != nil {
		return errors.New("client: already started")
	}
	session, err := c.auth.Authenticate(ctx, c.config.Credentials)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	c.wire(session.AccountID, session.DisplayName)

	if err := c.friends.BulkRefresh(ctx); err != nil {
		return fmt.Errorf("client: loading friends: %w", err)
	}
	c.friends.StartSweeper(c.ctx)

	if err := c.presence.Connect(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.presence.SendPresence(ctx, c.config.Status); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	if err := c.settleParty(ctx); err != nil {
		return fmt.Errorf("client: %w", err)
	}

	c.logger.Info("client ready",
		"account_id", c.accountID,
		"display_name", session.DisplayName,
		"friends", len(c.friends.Friends()),
	)
	c.emit(Event{Type: EventReady})
	return nil
}

// wire builds the account-bound components.
func (c *Client) wire(accountID, displayName string) {
	c.accountID = accountID
	c.friends = friends.NewCache(friends.Config{
		REST:                  c.rest,
		Endpoints:             c.config.Endpoints,
		AccountID:             accountID,
		FriendWaitTimeout:     c.config.Friends.WaitTimeout,
		PresenceLifetime:      c.config.Friends.PresenceLifetime,
		PresenceSweepInterval: c.config.Friends.PresenceSweepInterval,
		UserLifetime:          c.config.Friends.UserLifetime,
		UserSweepInterval:     c.config.Friends.UserSweepInterval,
		Clock:                 c.clock,
		Logger:                c.logger.With("component", "friends"),
	})

	purpose := platform.PurposePrimary
	if c.config.ChatPresence {
		purpose = platform.PurposeChat
	}
	c.presence = xmpp.NewConn(xmpp.Config{
		URL:       c.config.Endpoints.XMPP,
		Domain:    c.config.Endpoints.XMPPDomain,
		MUCDomain: c.config.Endpoints.MUCDomain,
		Platform:  c.config.Platform,
		Credentials: func(ctx context.Context) (string, string, error) {
			token, err := c.auth.AccessToken(ctx, purpose)
			return accountID, token, err
		},
		Handler:              c.handle,
		OnStateChange:        c.onStateChange,
		OnReconnect:          c.onReconnect,
		ConnectTimeout:       c.config.Presence.ConnectTimeout,
		KeepaliveInterval:    c.config.Presence.KeepaliveInterval,
		PongTimeout:          c.config.Presence.PongTimeout,
		RoomJoinTimeout:      c.config.Presence.RoomJoinTimeout,
		ReconnectMaxInterval: c.config.Presence.ReconnectMaxInterval,
		Clock:                c.clock,
		Logger:               c.logger.With("component", "xmpp"),
	})

	c.parties = party.NewManager(party.ManagerConfig{
		REST:        c.rest,
		Endpoints:   c.config.Endpoints,
		AccountID:   accountID,
		DisplayName: displayName,
		Connection:  c.presence.JID,
		Chat:        c.presence,
		Platform:    c.config.Platform,
		LockTimeout: c.config.PartyLockTimeout,
		OnEvent: func(event party.Event) {
			c.emit(Event{Type: EventParty, Party: &event})
		},
		Clock:  c.clock,
		Logger: c.logger.With("component", "party"),
	})
}

// settleParty rejoins the party the server still lists the account
// in, or creates one when configured to.
func (c *Client) settleParty(ctx context.Context) error {
	current, err := c.parties.Lookup(ctx)
	if err != nil {
		return err
	}
	if current != nil {
		_, err := c.parties.Join(ctx, current.ID)
		if err == nil {
			return nil
		}
		if !c.config.CreateParty {
			return err
		}
		c.logger.Warn("rejoining previous party failed, creating a new one", "party_id", current.ID, "error", err)
	}
	if !c.config.CreateParty {
		return nil
	}
	_, err = c.parties.Create(ctx, c.config.PartyConfig)
	return err
}

// handle routes one presence-connection event. Runs on the dispatch
// goroutine.
func (c *Client) handle(event xmpp.Event) {
	switch e := event.(type) {
	case *xmpp.RelationshipEvent:
		c.friends.ApplyEvent(e.Event)
		relationship := e.Event
		c.emit(Event{Type: EventFriend, Friend: &relationship})

	case *xmpp.PresenceEvent:
		presence := e.Presence
		c.spawn(func() {
			if err := c.friends.ApplyPresence(c.ctx, presence); err != nil {
				c.logger.Debug("presence dropped", "account_id", presence.AccountID, "error", err)
				return
			}
			c.emit(Event{Type: EventPresence, Presence: &presence})
		})

	case *xmpp.PartyNotification:
		if err := c.parties.HandleNotification(c.ctx, e.Notification); err != nil {
			c.logger.Warn("party notification failed", "type", e.Type, "error", err)
		}

	case *xmpp.ChatMessage:
		message := *e
		c.emit(Event{Type: EventChat, Chat: &message})
	}
}

func (c *Client) onStateChange(state xmpp.State) {
	if state == xmpp.StateReconnecting {
		c.emit(Event{Type: EventDisconnected})
	}
}

// onReconnect reloads what the services do not replay. Runs off the
// connection goroutine so party calls can use the restored stream.
func (c *Client) onReconnect() {
	c.spawn(func() {
		if err := c.friends.BulkRefresh(c.ctx); err != nil {
			c.logger.Warn("reloading friends after reconnect failed", "error", err)
		}
		if err := c.parties.Resync(c.ctx); err != nil {
			c.logger.Warn("resynchronizing party after reconnect failed", "error", err)
		}
		c.emit(Event{Type: EventReconnected})
	})
}

// spawn runs fn in a goroutine Close waits for. Nothing runs after
// Close began.
func (c *Client) spawn(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.background.Add(1)
	c.mu.Unlock()
	go func() {
		defer c.background.Done()
		fn()
	}()
}

func (c *Client) emit(event Event) {
	if c.config.OnEvent != nil {
		c.config.OnEvent(event)
	}
}

// Close disconnects presence and stops every background task. Sessions
// and party membership are left as they are; see Logout.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cancel()

	var errs []error
	if c.presence != nil {
		if err := c.presence.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("client: %w", err))
		}
	}
	c.background.Wait()
	if c.parties != nil {
		c.parties.Close()
	}
	if c.friends != nil {
		c.friends.Wait()
	}
	c.auth.Close()
	return errors.Join(errs...)
}

// Logout leaves the party and revokes every session server-side.
func (c *Client) Logout(ctx context.Context) error {
	var errs []error
	if c.parties != nil {
		if err := c.parties.Leave(ctx); err != nil {
			errs = append(errs, fmt.Errorf("client: %w", err))
		}
	}
	if err := c.auth.RevokeAll(ctx); err != nil {
		errs = append(errs, fmt.Errorf("client: %w", err))
	}
	return errors.Join(errs...)
}
