// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package friends

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

// DefaultFriendWaitTimeout bounds how long a presence update for an
// unknown account waits for that account's friend-added event.
const DefaultFriendWaitTimeout = 5 * time.Second

// Config configures a Cache.
type Config struct {
	// REST performs friend and identity calls with the primary
	// session.
	REST *rest.Client

	// Endpoints locates the friends and account services.
	Endpoints platform.Endpoints

	// AccountID is the local account.
	AccountID string

	// FriendWaitTimeout bounds ApplyPresence's wait for an unknown
	// friend. Zero means DefaultFriendWaitTimeout.
	FriendWaitTimeout time.Duration

	// PresenceLifetime and PresenceSweepInterval drive the presence
	// sweeper started by StartSweeper. Forever, zero or a negative
	// value disables it.
	PresenceLifetime      time.Duration
	PresenceSweepInterval time.Duration

	// UserLifetime and UserSweepInterval drive the user row sweeper.
	UserLifetime      time.Duration
	UserSweepInterval time.Duration

	// Clock timestamps entries and drives sweeps. If nil, clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
}

// friendWait is closed when its account becomes a friend.
type friendWait struct {
	done    chan struct{}
	waiters int
}

type userEntry struct {
	user      User
	fetchedAt time.Time
}

// Cache holds the relationship collections. Safe for concurrent use;
// every mutation goes through a method holding the cache lock.
type Cache struct {
	rest        *rest.Client
	endpoints   platform.Endpoints
	accountID   string
	waitTimeout time.Duration
	config      Config
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.RWMutex
	friends map[string]*Friend
	pending map[string]*PendingFriend
	blocked map[string]*BlockedUser
	users   map[string]userEntry
	// added holds the account ids presence updates are waiting on.
	added map[string]*friendWait

	sweepers sync.WaitGroup
}

// NewCache creates an empty Cache.
func NewCache(config Config) *Cache {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	waitTimeout := config.FriendWaitTimeout
	if waitTimeout <= 0 {
		waitTimeout = DefaultFriendWaitTimeout
	}
	return &Cache{
		rest:        config.REST,
		endpoints:   config.Endpoints.Normalize(),
		accountID:   config.AccountID,
		waitTimeout: waitTimeout,
		config:      config,
		clock:       clk,
		logger:      logger,
		friends:     make(map[string]*Friend),
		pending:     make(map[string]*PendingFriend),
		blocked:     make(map[string]*BlockedUser),
		users:       make(map[string]userEntry),
		added:       make(map[string]*friendWait),
	}
}

// Friend returns a copy of the friend with accountID.
func (c *Cache) Friend(accountID string) (Friend, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	friend, ok := c.friends[accountID]
	if !ok {
		return Friend{}, false
	}
	return copyFriend(friend), true
}

// Friends returns copies of every friend ordered by account id.
func (c *Cache) Friends() []Friend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	friends := make([]Friend, 0, len(c.friends))
	for _, friend := range c.friends {
		friends = append(friends, copyFriend(friend))
	}
	sort.Slice(friends, func(i, j int) bool { return friends[i].AccountID < friends[j].AccountID })
	return friends
}

// Pending returns every pending request ordered by account id.
func (c *Cache) Pending() []PendingFriend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pending := make([]PendingFriend, 0, len(c.pending))
	for _, request := range c.pending {
		pending = append(pending, *request)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].AccountID < pending[j].AccountID })
	return pending
}

// Blocked returns every blocked user ordered by account id.
func (c *Cache) Blocked() []BlockedUser {
	c.mu.RLock()
	defer c.mu.RUnlock()
	blocked := make([]BlockedUser, 0, len(c.blocked))
	for _, user := range c.blocked {
		blocked = append(blocked, *user)
	}
	sort.Slice(blocked, func(i, j int) bool { return blocked[i].AccountID < blocked[j].AccountID })
	return blocked
}

// Presence returns the friend's last presence, if any.
func (c *Cache) Presence(accountID string) (Presence, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	friend, ok := c.friends[accountID]
	if !ok || friend.Presence == nil {
		return Presence{}, false
	}
	return *friend.Presence, true
}

// User returns the cached identity of accountID.
func (c *Cache) User(accountID string) (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.users[accountID]
	return entry.user, ok
}

func copyFriend(friend *Friend) Friend {
	copied := *friend
	if friend.Presence != nil {
		presence := *friend.Presence
		copied.Presence = &presence
	}
	return copied
}

// displayNameLocked returns the cached display name of accountID.
func (c *Cache) displayNameLocked(accountID string) string {
	return c.users[accountID].user.DisplayName
}

// removeLocked deletes accountID from all three collections.
func (c *Cache) removeLocked(accountID string) {
	delete(c.friends, accountID)
	delete(c.pending, accountID)
	delete(c.blocked, accountID)
}

// ApplyEvent routes a relationship change to exactly one collection
// mutation. An id that enters a collection leaves the other two.
func (c *Cache) ApplyEvent(event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := event.AccountID
	switch event.Type {
	case EventFriendAdded:
		previous := c.friends[id]
		c.removeLocked(id)
		friend := &Friend{
			AccountID:   id,
			DisplayName: c.displayNameLocked(id),
			Favorite:    event.Favorite,
			Created:     event.Created,
		}
		if previous != nil {
			friend.Alias, friend.Note, friend.Presence = previous.Alias, previous.Note, previous.Presence
		}
		c.friends[id] = friend
		c.releaseWaitLocked(id)

	case EventFriendRemoved:
		delete(c.friends, id)

	case EventBlocked:
		c.removeLocked(id)
		c.blocked[id] = &BlockedUser{
			AccountID:   id,
			DisplayName: c.displayNameLocked(id),
			Blocked:     c.clock.Now(),
		}

	case EventUnblocked:
		delete(c.blocked, id)

	case EventPendingCreated:
		c.removeLocked(id)
		c.pending[id] = &PendingFriend{
			AccountID:   id,
			DisplayName: c.displayNameLocked(id),
			Direction:   event.Direction,
			Favorite:    event.Favorite,
			Created:     event.Created,
		}

	case EventPendingAborted, EventPendingRejected:
		delete(c.pending, id)

	default:
		c.logger.Debug("ignoring relationship event", "type", event.Type, "account_id", id)
		return
	}
	c.logger.Debug("applied relationship event", "type", event.Type, "account_id", id)
}

// ApplyPresence stores presence as the friend's latest status. An
// update older than the stored one is ignored.
//
// If the account is not a friend yet, ApplyPresence waits up to
// FriendWaitTimeout for its friend-added event, since the presence
// connection may deliver the first status before the relationship.
// When the wait expires the update is dropped and a
// *platform.TimeoutError returned. Callers must not block the event
// stream that delivers the added event on this call.
func (c *Cache) ApplyPresence(ctx context.Context, presence Presence) error {
	if presence.ReceivedAt.IsZero() {
		presence.ReceivedAt = c.clock.Now()
	}

	c.mu.Lock()
	if c.storePresenceLocked(presence) {
		c.mu.Unlock()
		return nil
	}
	wait, ok := c.added[presence.AccountID]
	if !ok {
		wait = &friendWait{done: make(chan struct{})}
		c.added[presence.AccountID] = wait
	}
	wait.waiters++
	c.mu.Unlock()

	timer := c.clock.NewTimer(c.waitTimeout)
	defer timer.Stop()
	select {
	case <-wait.done:
	case <-timer.C:
		c.abandonWait(presence.AccountID, wait)
		return fmt.Errorf("friends: presence of %s: %w", presence.AccountID,
			&platform.TimeoutError{Operation: "friend added event", Timeout: c.waitTimeout})
	case <-ctx.Done():
		c.abandonWait(presence.AccountID, wait)
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.storePresenceLocked(presence) {
		// Removed again between the added event and now.
		c.logger.Debug("dropping presence of departed friend", "account_id", presence.AccountID)
	}
	return nil
}

// storePresenceLocked stores presence on a known friend. Reports
// whether the friend exists.
func (c *Cache) storePresenceLocked(presence Presence) bool {
	friend, ok := c.friends[presence.AccountID]
	if !ok {
		return false
	}
	if friend.Presence != nil && presence.ReceivedAt.Before(friend.Presence.ReceivedAt) {
		return true
	}
	stored := presence
	friend.Presence = &stored
	return true
}

// abandonWait drops one waiter of wait and forgets the wait once
// nobody is left on it.
func (c *Cache) abandonWait(accountID string, wait *friendWait) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wait.waiters--
	if wait.waiters <= 0 && c.added[accountID] == wait {
		delete(c.added, accountID)
	}
}

// releaseWaitLocked wakes every update waiting for accountID.
func (c *Cache) releaseWaitLocked(accountID string) {
	if wait, ok := c.added[accountID]; ok {
		close(wait.done)
		delete(c.added, accountID)
	}
}

// Sweep removes entries of kind older than maxLifetime and returns
// how many it removed. Forever, zero or a negative lifetime removes
// nothing.
func (c *Cache) Sweep(kind Kind, maxLifetime time.Duration) int {
	if maxLifetime <= 0 || maxLifetime == Forever {
		return 0
	}
	cutoff := c.clock.Now().Add(-maxLifetime)

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	switch kind {
	case KindPresence:
		for _, friend := range c.friends {
			if friend.Presence != nil && friend.Presence.ReceivedAt.Before(cutoff) {
				friend.Presence = nil
				removed++
			}
		}
	case KindUser:
		for id, entry := range c.users {
			if entry.fetchedAt.Before(cutoff) {
				delete(c.users, id)
				removed++
			}
		}
	}
	if removed > 0 {
		c.logger.Debug("swept cache entries", "kind", kind, "removed", removed)
	}
	return removed
}

// StartSweeper starts one periodic sweep per kind whose lifetime and
// interval are both finite and positive. Kinds that fail the check are
// never scheduled. Sweepers stop when ctx is cancelled; Wait blocks
// until they have.
func (c *Cache) StartSweeper(ctx context.Context) {
	c.startSweep(ctx, KindPresence, c.config.PresenceLifetime, c.config.PresenceSweepInterval)
	c.startSweep(ctx, KindUser, c.config.UserLifetime, c.config.UserSweepInterval)
}

func (c *Cache) startSweep(ctx context.Context, kind Kind, lifetime, interval time.Duration) {
	if lifetime <= 0 || lifetime == Forever || interval <= 0 {
		c.logger.Debug("cache sweeping disabled", "kind", kind)
		return
	}
	ticker := c.clock.NewTicker(interval)
	c.sweepers.Add(1)
	go func() {
		defer c.sweepers.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(kind, lifetime)
			}
		}
	}()
}

// Wait blocks until every sweeper started by StartSweeper has stopped.
func (c *Cache) Wait() { c.sweepers.Wait() }
