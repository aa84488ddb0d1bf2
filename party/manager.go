// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/lib/gate"
	"github.com/bureau-foundation/partyline/meta"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

// ErrNotInParty is returned by operations that need a current party.
var ErrNotInParty = errors.New("party: not in a party")

// ErrNotCaptain is returned by leader-only operations invoked by a
// regular member. It matches platform.ErrPermissionDenied.
var ErrNotCaptain = fmt.Errorf("party: not the party captain: %w", platform.ErrPermissionDenied)

const defaultLockTimeout = 5 * time.Second

// housekeepingTimeout bounds leader housekeeping started from a
// notification.
const housekeepingTimeout = 30 * time.Second

// ChatRoom is the group chat surface of the presence connection.
type ChatRoom interface {
	JoinRoom(ctx context.Context, room string) error
	LeaveRoom(ctx context.Context, room string) error
	SendGroupMessage(ctx context.Context, room, body string) error
}

// RoomName returns the group chat room of a party.
func RoomName(partyID string) string { return "Party-" + partyID }

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// REST performs party service calls with the primary session.
	REST *rest.Client

	// Endpoints locates the party service.
	Endpoints platform.Endpoints

	// AccountID and DisplayName identify the local user.
	AccountID   string
	DisplayName string

	// Connection returns the full presence address (JID) the local
	// member joins with. Required for Create and Join.
	Connection func() string

	// Chat joins and leaves party chat rooms. May be nil.
	Chat ChatRoom

	// Platform is the platform tag advertised in member meta. Default
	// "WIN".
	Platform string

	// BuildID is the advertised build id. Default "1:3:".
	BuildID string

	// LockTimeout bounds how long a notification waits for an
	// in-progress create, join, leave or resync. A notification that
	// waits longer is not applied; a resync runs once the gate opens
	// instead. Default 5 seconds.
	LockTimeout time.Duration

	// OnEvent receives events in notification order. May be nil.
	OnEvent func(Event)

	// Clock is used for lock timeouts. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// Manager owns the local party replica: the membership state machine,
// the party and self-member patch queues, and notification handling.
//
// Create, Join, Leave and Resync close the party gate for their whole
// duration; HandleNotification waits for the gate so it never observes
// a half-built replica.
type Manager struct {
	rest        *rest.Client
	endpoints   platform.Endpoints
	accountID   string
	displayName string
	connection  func() string
	chat        ChatRoom
	platformTag string
	buildID     string
	lockTimeout time.Duration
	onEvent     func(Event)
	clock       clock.Clock
	logger      *slog.Logger

	lock gate.Gate

	mu          sync.RWMutex
	state       State
	party       *Party
	partyQueue  *PatchQueue[*Party]
	memberQueue *PatchQueue[*Member]

	ctx           context.Context
	cancel        context.CancelFunc
	housekeeping  sync.WaitGroup
	resyncPending atomic.Bool
}

// NewManager creates a Manager in StateNone.
func NewManager(config ManagerConfig) *Manager {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	lockTimeout := config.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	platformTag := config.Platform
	if platformTag == "" {
		platformTag = "WIN"
	}
	buildID := config.BuildID
	if buildID == "" {
		buildID = "1:3:"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		rest:        config.REST,
		endpoints:   config.Endpoints.Normalize(),
		accountID:   config.AccountID,
		displayName: config.DisplayName,
		connection:  config.Connection,
		chat:        config.Chat,
		platformTag: platformTag,
		buildID:     buildID,
		lockTimeout: lockTimeout,
		onEvent:     config.OnEvent,
		clock:       clk,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// State returns the membership state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Party returns the current party, or nil.
func (m *Manager) Party() *Party {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.party
}

// Self returns the local member of the current party.
func (m *Manager) Self() (*Member, bool) {
	party := m.Party()
	if party == nil {
		return nil, false
	}
	return party.Member(m.accountID)
}

// IsCaptain reports whether the local member leads the current party.
func (m *Manager) IsCaptain() bool {
	self, ok := m.Self()
	return ok && self.IsCaptain()
}

// Close stops housekeeping and the patch queues. The server-side
// membership is left untouched; call Leave first to leave the party.
func (m *Manager) Close() {
	m.mu.Lock()
	m.cancel()
	m.mu.Unlock()
	m.housekeeping.Wait()
	m.mu.Lock()
	partyQueue, memberQueue := m.partyQueue, m.memberQueue
	m.partyQueue, m.memberQueue = nil, nil
	m.mu.Unlock()
	closeQueues(partyQueue, memberQueue)
}

func closeQueues(partyQueue *PatchQueue[*Party], memberQueue *PatchQueue[*Member]) {
	if partyQueue != nil {
		partyQueue.Close()
	}
	if memberQueue != nil {
		memberQueue.Close()
	}
}

// Lookup fetches the party the account currently belongs to according
// to the server. Returns nil when it belongs to none.
func (m *Manager) Lookup(ctx context.Context) (*Document, error) {
	var user userDocument
	err := m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodGet,
		URL:    m.endpoints.PartyPath("/user/" + url.PathEscape(m.accountID)),
	}, &user)
	if err != nil {
		return nil, fmt.Errorf("party: looking up current party: %w", err)
	}
	if len(user.Current) == 0 {
		return nil, nil
	}
	return &user.Current[0], nil
}

// Create leaves the current party, if any, and creates a new one with
// the local user as captain. A zero config uses DefaultConfig.
func (m *Manager) Create(ctx context.Context, config Config) (*Party, error) {
	release, err := m.lock.Close(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("party: create: %w", err)
	}
	defer release()

	if err := m.leaveLocked(ctx); err != nil {
		return nil, fmt.Errorf("party: create: %w", err)
	}
	if config == (Config{}) {
		config = DefaultConfig()
	}

	m.setState(StateJoining)
	var document Document
	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.PartyPath("/parties"),
		Body: createRequest{
			Config:   config.document(),
			JoinInfo: m.joinInfo(),
			Meta: map[string]string{
				KeyPartyTypeID.String():       "default",
				KeyBuildID.String():           m.buildID,
				KeyJoinRequestAction.String(): "Manual",
				KeyChatEnabled.String():       "true",
				KeyCanJoin.String():           "true",
			},
		},
	}, &document)
	if err != nil {
		m.setState(StateLeft)
		return nil, fmt.Errorf("party: creating party: %w", err)
	}
	party, err := m.adoptLocked(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("party: create: %w", err)
	}
	m.logger.Info("created party", "party_id", party.ID)
	return party, nil
}

// Join leaves the current party, if any, and joins partyID.
func (m *Manager) Join(ctx context.Context, partyID string) (*Party, error) {
	release, err := m.lock.Close(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("party: join: %w", err)
	}
	defer release()

	if current := m.Party(); current != nil && current.ID == partyID {
		return current, nil
	}
	if err := m.leaveLocked(ctx); err != nil {
		return nil, fmt.Errorf("party: join: %w", err)
	}

	m.setState(StateJoining)
	var response joinResponse
	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(partyID) + "/members/" + url.PathEscape(m.accountID) + "/join"),
		Body:   m.joinInfo(),
	}, &response)
	if err != nil {
		m.setState(StateLeft)
		return nil, fmt.Errorf("party: joining %s: %w", partyID, err)
	}

	document, err := m.fetch(ctx, partyID)
	if err != nil {
		m.setState(StateLeft)
		return nil, fmt.Errorf("party: join: %w", err)
	}
	party, err := m.adoptLocked(ctx, *document)
	if err != nil {
		return nil, fmt.Errorf("party: join: %w", err)
	}
	m.logger.Info("joined party", "party_id", party.ID, "members", party.Size())
	return party, nil
}

// Leave leaves the current party. Leaving when not in a party is a
// no-op.
func (m *Manager) Leave(ctx context.Context) error {
	release, err := m.lock.Close(ctx, nil)
	if err != nil {
		return fmt.Errorf("party: leave: %w", err)
	}
	defer release()
	return m.leaveLocked(ctx)
}

// Resync reloads the current party from the server, replacing the
// replica's meta, members and config. Used after the presence
// connection was down, since the server does not replay missed pushes.
// If the party is gone or no longer contains the local user, the
// replica is dropped and EventPartyLeft is emitted.
func (m *Manager) Resync(ctx context.Context) error {
	release, err := m.lock.Close(ctx, nil)
	if err != nil {
		return fmt.Errorf("party: resync: %w", err)
	}
	defer release()
	return m.resyncLocked(ctx)
}

// resyncLocked implements Resync. The caller holds the gate.
func (m *Manager) resyncLocked(ctx context.Context) error {
	party := m.Party()
	if party == nil {
		return nil
	}
	document, err := m.fetch(ctx, party.ID)
	if err != nil {
		if platform.KindOf(err) == platform.KindNotFound {
			m.dropParty(party, EventPartyLeft)
			return nil
		}
		return fmt.Errorf("party: resync: %w", err)
	}

	present := make(map[string]MemberDocument, len(document.Members))
	for _, memberDocument := range document.Members {
		present[memberDocument.AccountID] = memberDocument
	}
	if _, ok := present[m.accountID]; !ok {
		m.dropParty(party, EventPartyLeft)
		return nil
	}

	m.mu.RLock()
	partyQueue := m.partyQueue
	m.mu.RUnlock()
	if partyQueue != nil && partyQueue.Busy() {
		// Same as the local member below: queued captain writes keep
		// their values.
		party.Meta.RaiseRevision(document.Revision)
	} else {
		party.Meta.Replace(document.Meta, document.Revision)
	}
	party.updateConfig(func(config *Config) { *config = configFromDocument(document.Config) })
	for _, member := range party.Members() {
		if _, ok := present[member.AccountID]; !ok {
			party.removeMember(member.AccountID)
		}
	}
	for accountID, memberDocument := range present {
		member, ok := party.Member(accountID)
		if !ok {
			party.addMember(newMember(memberDocument))
			continue
		}
		member.setRole(memberDocument.Role)
		if accountID == m.accountID {
			// Local writes may still be queued; the queue owns the
			// values, only the revision is taken from the server.
			member.Meta.RaiseRevision(memberDocument.Revision)
			continue
		}
		member.Meta.Replace(memberDocument.Meta, memberDocument.Revision)
	}

	m.logger.Info("resynchronized party",
		"party_id", party.ID,
		"revision", document.Revision,
		"members", party.Size(),
	)
	m.emit(Event{Type: EventPartyUpdated, PartyID: party.ID, Time: m.clock.Now()})
	return nil
}

func (m *Manager) fetch(ctx context.Context, partyID string) (*Document, error) {
	var document Document
	err := m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodGet,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(partyID)),
	}, &document)
	if err != nil {
		return nil, fmt.Errorf("fetching party %s: %w", partyID, err)
	}
	return &document, nil
}

// leaveLocked leaves the current party. The caller holds the gate.
func (m *Manager) leaveLocked(ctx context.Context) error {
	party := m.Party()
	if party == nil {
		return nil
	}
	m.setState(StateLeaving)
	err := m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodDelete,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(party.ID) + "/members/" + url.PathEscape(m.accountID)),
	}, nil)
	if err != nil && platform.KindOf(err) != platform.KindNotFound {
		m.setState(StateJoined)
		return fmt.Errorf("leaving party %s: %w", party.ID, err)
	}
	if m.chat != nil {
		if err := m.chat.LeaveRoom(ctx, RoomName(party.ID)); err != nil {
			m.logger.Warn("leaving party chat room failed", "party_id", party.ID, "error", err)
		}
	}
	m.dropParty(party, EventPartyLeft)
	m.logger.Info("left party", "party_id", party.ID)
	return nil
}

// dropParty discards the replica of party (if it is still current),
// closes its queues and emits eventType.
func (m *Manager) dropParty(party *Party, eventType EventType) {
	m.mu.Lock()
	if m.party != party {
		m.mu.Unlock()
		return
	}
	partyQueue, memberQueue := m.partyQueue, m.memberQueue
	m.party, m.partyQueue, m.memberQueue = nil, nil, nil
	m.state = StateLeft
	m.mu.Unlock()

	closeQueues(partyQueue, memberQueue)
	m.emit(Event{Type: eventType, PartyID: party.ID, AccountID: m.accountID, Time: m.clock.Now()})
}

// adoptLocked installs document as the current party and starts its
// queues. The caller holds the gate.
func (m *Manager) adoptLocked(ctx context.Context, document Document) (*Party, error) {
	party := newParty(document)
	self, ok := party.Member(m.accountID)
	if !ok {
		m.setState(StateLeft)
		return nil, fmt.Errorf("party %s does not list %s as a member", document.ID, m.accountID)
	}
	if self.displayName == "" {
		self.displayName = m.displayName
	}

	partyQueue := NewPatchQueue(QueueConfig[*Party]{
		Entity: party,
		Meta:   party.Meta,
		Submit: m.submitPartyPatch,
		Name:   "party " + party.ID,
		Logger: m.logger,
	})
	memberQueue := NewPatchQueue(QueueConfig[*Member]{
		Entity: self,
		Meta:   self.Meta,
		Submit: func(ctx context.Context, member *Member, revision int64, patch *meta.Patch) error {
			return m.submitMemberPatch(ctx, party.ID, member, revision, patch)
		},
		Name:   "member " + self.AccountID,
		Logger: m.logger,
	})

	m.mu.Lock()
	m.party, m.partyQueue, m.memberQueue = party, partyQueue, memberQueue
	m.state = StateJoined
	m.mu.Unlock()

	if m.chat != nil {
		if err := m.chat.JoinRoom(ctx, RoomName(party.ID)); err != nil {
			m.logger.Warn("joining party chat room failed", "party_id", party.ID, "error", err)
		}
	}
	return party, nil
}

func (m *Manager) submitPartyPatch(ctx context.Context, party *Party, revision int64, patch *meta.Patch) error {
	updated, deleted := patch.Wire()
	config := party.Config()
	return m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPatch,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(party.ID)),
		Body: partyPatchRequest{
			Config:               config.document(),
			Meta:                 patchBody{Delete: deleted, Update: updated},
			Revision:             revision,
			PartyStateOverridden: map[string]string{},
			PartyPrivacyType:     config.Joinability,
			PartyType:            config.Type,
			PartySubType:         config.SubType,
			MaxNumberOfMembers:   config.MaxSize,
			InviteTTLSeconds:     config.InviteTTL,
		},
	}, nil)
}

func (m *Manager) submitMemberPatch(ctx context.Context, partyID string, member *Member, revision int64, patch *meta.Patch) error {
	updated, deleted := patch.Wire()
	return m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPatch,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(partyID) + "/members/" + url.PathEscape(member.AccountID) + "/meta"),
		Body: memberPatchRequest{
			Delete:   deleted,
			Revision: revision,
			Update:   updated,
		},
	}, nil)
}

// joinInfo is the connection and member meta sent on create and join.
func (m *Manager) joinInfo() joinRequest {
	connection := ""
	if m.connection != nil {
		connection = m.connection()
	}
	users := map[string]any{
		"users": []map[string]string{{
			"id":   m.accountID,
			"dn":   m.displayName,
			"plat": m.platformTag,
			"data": `{"CrossplayPreference":"1","SubGame_u":"1"}`,
		}},
	}
	return joinRequest{
		Connection: connectionRequest{
			ID: connection,
			Meta: map[string]string{
				KeyConnPlatform.String(): m.platformTag,
				KeyConnType.String():     "game",
			},
		},
		Meta: map[string]string{
			KeyDisplayName.String():      m.displayName,
			KeyJoinRequestUsers.String(): meta.MustObjectOf(users).Encode(),
		},
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

func (m *Manager) emit(event Event) {
	if m.onEvent != nil {
		m.onEvent(event)
	}
}

// queues returns the current party, its queues and the local member.
func (m *Manager) queues() (*Party, *PatchQueue[*Party], *PatchQueue[*Member], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.party == nil || m.state != StateJoined {
		return nil, nil, nil, ErrNotInParty
	}
	return m.party, m.partyQueue, m.memberQueue, nil
}
