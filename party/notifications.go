// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/bureau-foundation/partyline/lib/gate"
	"github.com/bureau-foundation/partyline/platform"
)

// HandleNotification applies one party push to the replica and emits
// the matching Event.
//
// Pings and invitations are about other parties and pass straight
// through. Every other push first waits (bounded by LockTimeout) for
// an in-progress create, join, leave or resync, then is discarded if
// it concerns a party other than the current one or was sent before
// the local member joined. Membership and meta pushes are
// authoritative and mutate the replica directly, outside the patch
// queues.
func (m *Manager) HandleNotification(ctx context.Context, notification Notification) error {
	var body notificationBody
	if err := json.Unmarshal(notification.Body, &body); err != nil {
		return fmt.Errorf("party: decoding %s notification: %w", notification.Type, err)
	}

	switch notification.Type {
	case NotificationPing:
		m.emit(Event{Type: EventPing, PartyID: body.PartyID, AccountID: body.PingerID, DisplayName: body.PingerDN, Time: body.Sent})
		return nil
	case NotificationInitialInvite:
		m.emit(Event{Type: EventInvitation, PartyID: body.PartyID, AccountID: body.AccountID, DisplayName: body.AccountDN, Time: body.Sent})
		return nil
	}

	if err := m.waitForLock(ctx); err != nil {
		if !errors.Is(err, platform.ErrEventTimeout) {
			return fmt.Errorf("party: handling %s: %w", notification.Type, err)
		}
		// The push cannot be applied against a replica still being
		// built; reload the party once the holder is done instead.
		m.logger.Warn("party lock busy, resynchronizing instead of applying notification",
			"type", notification.Type,
			"party_id", body.PartyID,
			"timeout", m.lockTimeout,
		)
		m.scheduleResync()
		return nil
	}

	party := m.Party()
	if party == nil || body.PartyID != party.ID {
		m.logger.Debug("discarding notification for another party",
			"type", notification.Type,
			"party_id", body.PartyID,
		)
		return nil
	}
	if self, ok := party.Member(m.accountID); ok && !body.Sent.IsZero() && body.Sent.Before(self.JoinedAt) {
		m.logger.Debug("discarding notification older than own membership",
			"type", notification.Type,
			"sent", body.Sent,
			"joined_at", self.JoinedAt,
		)
		return nil
	}

	event := Event{PartyID: party.ID, AccountID: body.AccountID, DisplayName: body.AccountDN, Time: body.Sent}
	switch notification.Type {
	case NotificationMemberJoined:
		if body.AccountID == m.accountID {
			return nil
		}
		if _, ok := party.Member(body.AccountID); !ok {
			member := newMember(MemberDocument{
				AccountID: body.AccountID,
				Meta:      body.MemberStateUpdated,
				Revision:  body.Revision,
				JoinedAt:  body.JoinedAt,
				Role:      RoleMember,
			})
			member.displayName = body.AccountDN
			party.addMember(member)
		}
		event.Type = EventMemberJoined
		m.emit(event)
		m.captainHousekeeping()

	case NotificationMemberLeft, NotificationMemberExpired, NotificationMemberKicked:
		event.Type = map[string]EventType{
			NotificationMemberLeft:    EventMemberLeft,
			NotificationMemberExpired: EventMemberExpired,
			NotificationMemberKicked:  EventMemberKicked,
		}[notification.Type]
		if body.AccountID == m.accountID {
			m.logger.Info("removed from party", "party_id", party.ID, "type", notification.Type)
			if m.chat != nil {
				if err := m.chat.LeaveRoom(ctx, RoomName(party.ID)); err != nil {
					m.logger.Warn("leaving party chat room failed", "party_id", party.ID, "error", err)
				}
			}
			m.emit(event)
			m.dropParty(party, EventPartyLeft)
			return nil
		}
		if _, ok := party.removeMember(body.AccountID); !ok {
			return nil
		}
		m.emit(event)
		m.captainHousekeeping()

	case NotificationMemberDisconnected:
		event.Type = EventMemberDisconnected
		m.emit(event)

	case NotificationMemberNewCaptain:
		party.setCaptain(body.AccountID)
		event.Type = EventMemberPromoted
		m.emit(event)
		m.captainHousekeeping()

	case NotificationPartyUpdated:
		party.Meta.ApplyWire(body.PartyStateUpdated, body.PartyStateRemoved)
		party.Meta.RaiseRevision(body.Revision)
		party.updateConfig(func(config *Config) {
			if body.PartyPrivacyType != "" {
				config.Joinability = body.PartyPrivacyType
			}
			if body.MaxNumberOfMembers > 0 {
				config.MaxSize = body.MaxNumberOfMembers
			}
			if body.PartySubType != "" {
				config.SubType = body.PartySubType
			}
			if body.PartyType != "" {
				config.Type = body.PartyType
			}
			if body.InviteTTLSeconds > 0 {
				config.InviteTTL = body.InviteTTLSeconds
			}
		})
		event.Type = EventPartyUpdated
		event.Updated, event.Removed = sortedKeys(body.PartyStateUpdated), body.PartyStateRemoved
		m.emit(event)

	case NotificationMemberStateUpdated:
		member, ok := party.Member(body.AccountID)
		if !ok {
			return nil
		}
		if body.AccountID == m.accountID {
			// The push echoes our own patches, possibly older than
			// writes still queued; keep the local values.
			member.Meta.RaiseRevision(body.Revision)
		} else {
			member.Meta.ApplyWire(body.MemberStateUpdated, body.MemberStateRemoved)
			member.Meta.RaiseRevision(body.Revision)
		}
		event.Type = EventMemberUpdated
		event.Updated, event.Removed = sortedKeys(body.MemberStateUpdated), body.MemberStateRemoved
		m.emit(event)

	case NotificationMemberRequireConfirmation:
		event.Type = EventJoinRequest
		m.emit(event)

	case NotificationInviteDeclined:
		event.Type = EventInviteDeclined
		m.emit(event)

	default:
		m.logger.Debug("ignoring party notification", "type", notification.Type)
	}
	return nil
}

// waitForLock waits for the party gate to open, bounded by
// LockTimeout.
func (m *Manager) waitForLock(ctx context.Context) error {
	if !m.lock.IsClosed() {
		return nil
	}
	timer := m.clock.NewTimer(m.lockTimeout)
	defer timer.Stop()
	if err := m.lock.Wait(ctx, timer.C); err != nil {
		if errors.Is(err, gate.ErrExpired) {
			return &platform.TimeoutError{Operation: "party lock", Timeout: m.lockTimeout}
		}
		return err
	}
	return nil
}

// scheduleResync runs Resync in the background once the party gate
// opens. Requests made while one is already waiting are folded into it.
func (m *Manager) scheduleResync() {
	if !m.resyncPending.CompareAndSwap(false, true) {
		return
	}
	m.mu.RLock()
	if m.ctx.Err() != nil {
		m.mu.RUnlock()
		m.resyncPending.Store(false)
		return
	}
	m.housekeeping.Add(1)
	m.mu.RUnlock()
	go func() {
		defer m.housekeeping.Done()
		release, err := m.lock.Close(m.ctx, nil)
		m.resyncPending.Store(false)
		if err != nil {
			return
		}
		err = m.resyncLocked(m.ctx)
		release()
		if err != nil {
			m.logger.Warn("resynchronizing party after missed notification failed", "error", err)
		}
	}()
}

// captainHousekeeping refreshes squad assignments in the background
// when the local member leads the party.
func (m *Manager) captainHousekeeping() {
	if !m.IsCaptain() {
		return
	}
	m.mu.RLock()
	if m.ctx.Err() != nil {
		m.mu.RUnlock()
		return
	}
	m.housekeeping.Add(1)
	m.mu.RUnlock()
	go func() {
		defer m.housekeeping.Done()
		ctx, cancel := context.WithTimeout(m.ctx, housekeepingTimeout)
		defer cancel()
		if err := m.RefreshSquadAssignments(ctx); err != nil && !errors.Is(err, ErrNotInParty) && !errors.Is(err, ErrQueueClosed) {
			m.logger.Warn("refreshing squad assignments failed", "error", err)
		}
	}()
}

func sortedKeys(values map[string]string) []string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
