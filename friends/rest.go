// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package friends

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

const (
	// lookupBatchSize is the identity endpoint's id limit per request.
	lookupBatchSize = 100

	// lookupConcurrency caps parallel identity batches.
	lookupConcurrency = 4
)

type summaryEntry struct {
	AccountID string    `json:"accountId"`
	Alias     string    `json:"alias"`
	Note      string    `json:"note"`
	Favorite  bool      `json:"favorite"`
	Mutual    int       `json:"mutual"`
	Created   time.Time `json:"created"`
}

type summaryDocument struct {
	Friends   []summaryEntry `json:"friends"`
	Incoming  []summaryEntry `json:"incoming"`
	Outgoing  []summaryEntry `json:"outgoing"`
	Blocklist []summaryEntry `json:"blocklist"`
}

type accountDocument struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	ExternalAuths map[string]struct {
		ExternalDisplayName string `json:"externalDisplayName"`
	} `json:"externalAuths"`
}

func (c *Cache) friendsPath(suffix string) string {
	return c.endpoints.Friends + "/friends/api/v1/" + url.PathEscape(c.accountID) + suffix
}

// BulkRefresh fetches the relationship summary and the identities of
// everyone in it, then replaces all three collections at once. Known
// presence snapshots of friends that remain friends are kept. Nothing
// changes if any fetch fails.
func (c *Cache) BulkRefresh(ctx context.Context) error {
	var summary summaryDocument
	err := c.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodGet,
		URL:    c.friendsPath("/summary"),
	}, &summary)
	if err != nil {
		return fmt.Errorf("friends: fetching summary: %w", err)
	}

	var ids []string
	for _, group := range [][]summaryEntry{summary.Friends, summary.Incoming, summary.Outgoing, summary.Blocklist} {
		for _, entry := range group {
			ids = append(ids, entry.AccountID)
		}
	}
	users, err := c.lookup(ctx, ids)
	if err != nil {
		return fmt.Errorf("friends: bulk refresh: %w", err)
	}
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, user := range users {
		c.users[user.ID] = userEntry{user: user, fetchedAt: now}
	}

	previous := c.friends
	c.friends = make(map[string]*Friend, len(summary.Friends))
	c.pending = make(map[string]*PendingFriend, len(summary.Incoming)+len(summary.Outgoing))
	c.blocked = make(map[string]*BlockedUser, len(summary.Blocklist))

	for _, entry := range summary.Friends {
		friend := &Friend{
			AccountID:   entry.AccountID,
			DisplayName: c.displayNameLocked(entry.AccountID),
			Alias:       entry.Alias,
			Note:        entry.Note,
			Favorite:    entry.Favorite,
			Mutual:      entry.Mutual,
			Created:     entry.Created,
		}
		if old, ok := previous[entry.AccountID]; ok {
			friend.Presence = old.Presence
		}
		c.friends[entry.AccountID] = friend
		c.releaseWaitLocked(entry.AccountID)
	}
	for direction, group := range map[Direction][]summaryEntry{Inbound: summary.Incoming, Outbound: summary.Outgoing} {
		for _, entry := range group {
			if _, isFriend := c.friends[entry.AccountID]; isFriend {
				continue
			}
			c.pending[entry.AccountID] = &PendingFriend{
				AccountID:   entry.AccountID,
				DisplayName: c.displayNameLocked(entry.AccountID),
				Direction:   direction,
				Favorite:    entry.Favorite,
				Created:     entry.Created,
			}
		}
	}
	for _, entry := range summary.Blocklist {
		c.removeLocked(entry.AccountID)
		c.blocked[entry.AccountID] = &BlockedUser{
			AccountID:   entry.AccountID,
			DisplayName: c.displayNameLocked(entry.AccountID),
		}
	}

	c.logger.Info("refreshed relationships",
		"friends", len(c.friends),
		"pending", len(c.pending),
		"blocked", len(c.blocked),
	)
	return nil
}

// lookup resolves ids in concurrent batches.
func (c *Cache) lookup(ctx context.Context, ids []string) ([]User, error) {
	var batches [][]string
	for start := 0; start < len(ids); start += lookupBatchSize {
		end := min(start+lookupBatchSize, len(ids))
		batches = append(batches, ids[start:end])
	}
	results := make([][]User, len(batches))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(lookupConcurrency)
	for index, batch := range batches {
		group.Go(func() error {
			users, err := c.lookupBatch(groupCtx, batch)
			if err != nil {
				return err
			}
			results[index] = users
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var users []User
	for _, batch := range results {
		users = append(users, batch...)
	}
	return users, nil
}

func (c *Cache) lookupBatch(ctx context.Context, ids []string) ([]User, error) {
	var documents []accountDocument
	err := c.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodGet,
		URL:    c.endpoints.Account + "/account/api/public/account",
		Query:  url.Values{"accountId": ids},
	}, &documents)
	if err != nil {
		return nil, fmt.Errorf("looking up %d accounts: %w", len(ids), err)
	}
	users := make([]User, 0, len(documents))
	for _, document := range documents {
		user := User{ID: document.ID, DisplayName: document.DisplayName}
		if len(document.ExternalAuths) > 0 {
			user.External = make(map[string]string, len(document.ExternalAuths))
			for platformType, external := range document.ExternalAuths {
				user.External[platformType] = external.ExternalDisplayName
			}
		}
		users = append(users, user)
	}
	return users, nil
}

// ResolveUsers returns the identities of ids, fetching the ones not
// cached yet. Ids the platform does not know are omitted.
func (c *Cache) ResolveUsers(ctx context.Context, ids []string) ([]User, error) {
	var missing []string
	c.mu.RLock()
	for _, id := range ids {
		if _, ok := c.users[id]; !ok {
			missing = append(missing, id)
		}
	}
	c.mu.RUnlock()

	if len(missing) > 0 {
		fetched, err := c.lookup(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("friends: resolving users: %w", err)
		}
		now := c.clock.Now()
		c.mu.Lock()
		for _, user := range fetched {
			c.users[user.ID] = userEntry{user: user, fetchedAt: now}
		}
		c.mu.Unlock()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	users := make([]User, 0, len(ids))
	for _, id := range ids {
		if entry, ok := c.users[id]; ok {
			users = append(users, entry.user)
		}
	}
	return users, nil
}

// relationshipCall issues one friend mutation and, on success, applies
// the matching event locally. The server pushes the same event, which
// is idempotent.
func (c *Cache) relationshipCall(ctx context.Context, operation, method, suffix string, event Event) error {
	err := c.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: method,
		URL:    c.friendsPath(suffix),
	}, nil)
	if err != nil {
		return fmt.Errorf("friends: %s %s: %w", operation, event.AccountID, err)
	}
	if event.Type != 0 {
		c.ApplyEvent(event)
	}
	return nil
}

// Add sends a friend request to accountID, or accepts theirs.
func (c *Cache) Add(ctx context.Context, accountID string) error {
	return c.relationshipCall(ctx, "adding", http.MethodPost, "/friends/"+url.PathEscape(accountID), Event{})
}

// Remove removes a friend, or declines or aborts a pending request.
func (c *Cache) Remove(ctx context.Context, accountID string) error {
	c.mu.RLock()
	_, isPending := c.pending[accountID]
	c.mu.RUnlock()
	event := Event{Type: EventFriendRemoved, AccountID: accountID}
	if isPending {
		event.Type = EventPendingAborted
	}
	return c.relationshipCall(ctx, "removing", http.MethodDelete, "/friends/"+url.PathEscape(accountID), event)
}

// Block adds accountID to the block list.
func (c *Cache) Block(ctx context.Context, accountID string) error {
	return c.relationshipCall(ctx, "blocking", http.MethodPost, "/blocklist/"+url.PathEscape(accountID),
		Event{Type: EventBlocked, AccountID: accountID})
}

// Unblock removes accountID from the block list.
func (c *Cache) Unblock(ctx context.Context, accountID string) error {
	return c.relationshipCall(ctx, "unblocking", http.MethodDelete, "/blocklist/"+url.PathEscape(accountID),
		Event{Type: EventUnblocked, AccountID: accountID})
}
