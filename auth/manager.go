// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

const (
	// DefaultRefreshMargin is how long before access expiry a session
	// is refreshed proactively.
	DefaultRefreshMargin = 10 * time.Minute

	// defaultRefreshTimeout bounds one refresh, including waiting for
	// a refresh started by another caller.
	defaultRefreshTimeout = 30 * time.Second

	// expirySkew is how close to expiry a token is treated as expired
	// when it is read.
	expirySkew = 30 * time.Second
)

// ErrNotAuthenticated is returned when a purpose has no session.
var ErrNotAuthenticated = fmt.Errorf("auth: no session: %w", platform.ErrAuthenticationFailed)

// Config configures a Manager.
type Config struct {
	// REST performs the token endpoint calls. NewManager installs the
	// manager as its token source.
	REST *rest.Client

	// Endpoints locates the account, EULA and game services.
	Endpoints platform.Endpoints

	// Clients are the OAuth client identities per purpose. Zero means
	// platform.DefaultClients().
	Clients platform.Clients

	// OnDeviceAuthCreated, when set, makes Authenticate derive a
	// launcher session and issue a new device credential if the
	// account has none yet. The credential is passed here for the
	// caller to persist.
	OnDeviceAuthCreated func(DeviceAuth)

	// ClientCredentials enables the user-less client credentials
	// session.
	ClientCredentials bool

	// Chat enables the chat-client session used for presence.
	Chat bool

	// AcceptEULA accepts a pending license agreement after login.
	AcceptEULA bool

	// KillOtherSessions revokes every other session of the account
	// after login.
	KillOtherSessions bool

	// RefreshMargin is how long before access expiry sessions are
	// refreshed. Zero means DefaultRefreshMargin.
	RefreshMargin time.Duration

	// RefreshTimeout bounds one refresh. Zero means 30 seconds.
	RefreshTimeout time.Duration

	// Clock schedules proactive refreshes and bounds waits. If nil,
	// clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Manager owns the account's sessions. Safe for concurrent use.
type Manager struct {
	rest           *rest.Client
	endpoints      platform.Endpoints
	clients        platform.Clients
	onDeviceAuth   func(DeviceAuth)
	withClientCred bool
	withChat       bool
	acceptEULA     bool
	killOthers     bool
	refreshMargin  time.Duration
	refreshTimeout time.Duration
	clock          clock.Clock
	logger         *slog.Logger

	store  *Store
	flight singleflight.Group

	mu         sync.Mutex
	deviceAuth *DeviceAuth
	timers     map[platform.Purpose]*clock.Timer
	closed     bool

	ctx        context.Context
	cancel     context.CancelFunc
	background sync.WaitGroup
}

// NewManager creates a Manager with an empty store and installs it as
// the REST client's token source.
func NewManager(config Config) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	clients := config.Clients
	if clients == (platform.Clients{}) {
		clients = platform.DefaultClients()
	}
	margin := config.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	timeout := config.RefreshTimeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		rest:           config.REST,
		endpoints:      config.Endpoints.Normalize(),
		clients:        clients,
		onDeviceAuth:   config.OnDeviceAuthCreated,
		withClientCred: config.ClientCredentials,
		withChat:       config.Chat,
		acceptEULA:     config.AcceptEULA,
		killOthers:     config.KillOtherSessions,
		refreshMargin:  margin,
		refreshTimeout: timeout,
		clock:          clk,
		logger:         logger,
		store:          NewStore(),
		timers:         make(map[platform.Purpose]*clock.Timer),
		ctx:            ctx,
		cancel:         cancel,
	}
	config.REST.SetTokenSource(tokenSource{m})
	return m
}

// Session returns the current session of purpose, or nil.
func (m *Manager) Session(purpose platform.Purpose) *Session {
	return m.store.Get(purpose)
}

// DeviceAuth returns the device credential the manager knows for the
// account: the one authenticated with or the one it issued.
func (m *Manager) DeviceAuth() (DeviceAuth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deviceAuth == nil {
		return DeviceAuth{}, false
	}
	return *m.deviceAuth, true
}

func (m *Manager) rememberDeviceAuth(credential DeviceAuth) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deviceAuth = &credential
}

// Authenticate produces the primary session from credentials, then
// derives the auxiliary sessions and runs the post-login steps the
// configuration enables. Any existing sessions are replaced.
func (m *Manager) Authenticate(ctx context.Context, credentials Credentials) (*Session, error) {
	primary, err := m.primaryGrant(ctx, credentials)
	if err != nil {
		return nil, fmt.Errorf("auth: authenticating with %s: %w", credentials.kind(), err)
	}
	m.install(primary)
	m.logger.Info("authenticated",
		"account_id", primary.AccountID,
		"display_name", primary.DisplayName,
		"credential", credentials.kind(),
	)

	if err := m.postLogin(ctx, primary); err != nil {
		return nil, fmt.Errorf("auth: after login: %w", err)
	}
	return primary, nil
}

// primaryGrant dispatches on the credential kind.
func (m *Manager) primaryGrant(ctx context.Context, credentials Credentials) (*Session, error) {
	switch credential := credentials.(type) {
	case DeviceAuth:
		if !credential.valid() {
			return nil, fmt.Errorf("incomplete device credential: %w", platform.ErrAuthenticationFailed)
		}
		session, err := m.grant(ctx, platform.PurposePrimary, credential.form())
		if err != nil {
			return nil, err
		}
		m.rememberDeviceAuth(credential)
		return session, nil

	case ExchangeCode:
		return m.grant(ctx, platform.PurposePrimary, url.Values{
			"grant_type":    {"exchange_code"},
			"exchange_code": {credential.Code},
		})

	case AuthorizationCode:
		return m.grant(ctx, platform.PurposePrimary, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {credential.Code},
		})

	case RefreshToken:
		return m.grant(ctx, platform.PurposePrimary, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {credential.Token},
		})

	case LauncherChain:
		if credential.Launcher == nil {
			return nil, fmt.Errorf("launcher chain without launcher credentials: %w", platform.ErrAuthenticationFailed)
		}
		launcher, err := m.launcherGrant(ctx, credential.Launcher)
		if err != nil {
			return nil, fmt.Errorf("launcher step: %w", err)
		}
		m.install(launcher)
		return m.exchangeSession(ctx, platform.PurposeLauncher, platform.PurposePrimary)

	case Provider:
		produced, err := credential(ctx)
		if err != nil {
			return nil, fmt.Errorf("producing credentials: %w", err)
		}
		if _, nested := produced.(Provider); nested {
			return nil, fmt.Errorf("credential provider returned another provider")
		}
		return m.primaryGrant(ctx, produced)

	default:
		return nil, fmt.Errorf("unsupported credentials %T", credentials)
	}
}

// launcherGrant authenticates launcher-client credentials. Only the
// kinds the launcher client accepts directly are supported.
func (m *Manager) launcherGrant(ctx context.Context, credentials Credentials) (*Session, error) {
	switch credential := credentials.(type) {
	case DeviceAuth:
		return m.grant(ctx, platform.PurposeLauncher, credential.form())
	case ExchangeCode:
		return m.grant(ctx, platform.PurposeLauncher, url.Values{
			"grant_type":    {"exchange_code"},
			"exchange_code": {credential.Code},
		})
	case AuthorizationCode:
		return m.grant(ctx, platform.PurposeLauncher, url.Values{
			"grant_type": {"authorization_code"},
			"code":       {credential.Code},
		})
	case RefreshToken:
		return m.grant(ctx, platform.PurposeLauncher, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {credential.Token},
		})
	case Provider:
		produced, err := credential(ctx)
		if err != nil {
			return nil, fmt.Errorf("producing launcher credentials: %w", err)
		}
		if _, nested := produced.(Provider); nested {
			return nil, fmt.Errorf("credential provider returned another provider")
		}
		return m.launcherGrant(ctx, produced)
	default:
		return nil, fmt.Errorf("unsupported launcher credentials %T", credentials)
	}
}

// postLogin derives auxiliary sessions and performs the one-time side
// effects that follow a primary login.
func (m *Manager) postLogin(ctx context.Context, primary *Session) error {
	if m.onDeviceAuth != nil {
		if _, known := m.DeviceAuth(); !known {
			if m.store.Get(platform.PurposeLauncher) == nil {
				launcher, err := m.exchangeSession(ctx, platform.PurposePrimary, platform.PurposeLauncher)
				if err != nil {
					return fmt.Errorf("deriving launcher session: %w", err)
				}
				m.install(launcher)
			}
			credential, err := m.createDeviceAuth(ctx, primary.AccountID)
			if err != nil {
				return err
			}
			m.rememberDeviceAuth(credential)
			m.logger.Info("issued device credential", "account_id", credential.AccountID, "device_id", credential.DeviceID)
			m.onDeviceAuth(credential)
		}
	}

	if m.withClientCred {
		session, err := m.grant(ctx, platform.PurposeClientCredentials, url.Values{"grant_type": {"client_credentials"}})
		if err != nil {
			return fmt.Errorf("client credentials session: %w", err)
		}
		m.install(session)
	}

	if m.withChat {
		session, err := m.exchangeSession(ctx, platform.PurposePrimary, platform.PurposeChat)
		if err != nil {
			return fmt.Errorf("chat session: %w", err)
		}
		m.install(session)
	}

	if m.acceptEULA {
		if err := m.acceptAgreement(ctx, primary.AccountID); err != nil {
			return err
		}
	}

	if m.killOthers {
		if err := m.killOtherSessions(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AccessToken returns the access token of purpose. It waits for an
// in-flight refresh of that session, and refreshes first when the
// token is about to expire.
func (m *Manager) AccessToken(ctx context.Context, purpose platform.Purpose) (string, error) {
	session, err := m.EnsureFresh(ctx, purpose)
	if err != nil {
		return "", err
	}
	return session.AccessToken, nil
}

// EnsureFresh returns the session of purpose, refreshing it when its
// access token expires within a short skew.
func (m *Manager) EnsureFresh(ctx context.Context, purpose platform.Purpose) (*Session, error) {
	if err := m.waitForRefresh(ctx, purpose); err != nil {
		return nil, fmt.Errorf("auth: waiting for %s refresh: %w", purpose, err)
	}
	session := m.store.Get(purpose)
	if session == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotAuthenticated, purpose)
	}
	if !session.Expired(m.clock.Now(), expirySkew) {
		return session, nil
	}
	return m.Refresh(ctx, purpose)
}

// RevokeAll stops proactive refreshes, kills every stored session's
// token server-side and empties the store. Kill failures are joined;
// the store is emptied regardless.
func (m *Manager) RevokeAll(ctx context.Context) error {
	m.stopTimers()
	var errs []error
	for _, session := range m.store.All() {
		if err := m.killToken(ctx, session.AccessToken); err != nil {
			errs = append(errs, fmt.Errorf("auth: revoking %s session: %w", session.Purpose, err))
			continue
		}
		m.logger.Info("revoked session", "purpose", session.Purpose)
	}
	m.store.Clear()
	return errors.Join(errs...)
}

// Close stops proactive refreshes and waits for any that are running.
// Sessions are not revoked.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.cancel()
	m.mu.Unlock()
	m.stopTimers()
	m.background.Wait()
}

// install stores session and schedules its proactive refresh.
func (m *Manager) install(session *Session) {
	m.store.Put(session)
	m.schedule(session)
}

// schedule arms the proactive refresh timer of session's purpose,
// replacing any earlier one. Sessions without expiry are not
// scheduled.
func (m *Manager) schedule(session *Session) {
	if session.AccessExpiry.IsZero() {
		return
	}
	remaining := session.AccessExpiry.Sub(m.clock.Now())
	if remaining <= 0 {
		return
	}
	delay := remaining - m.refreshMargin
	if delay < remaining/2 {
		// Tokens shorter lived than the margin refresh at half life.
		delay = remaining / 2
	}

	purpose := session.Purpose
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if previous := m.timers[purpose]; previous != nil {
		previous.Stop()
	}
	m.timers[purpose] = m.clock.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.background.Add(1)
		m.mu.Unlock()
		go func() {
			defer m.background.Done()
			if _, err := m.Refresh(m.ctx, purpose); err != nil && m.ctx.Err() == nil {
				m.logger.Error("proactive session refresh failed", "purpose", purpose, "error", err)
			}
		}()
	})
}

func (m *Manager) stopTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for purpose, timer := range m.timers {
		timer.Stop()
		delete(m.timers, purpose)
	}
}
