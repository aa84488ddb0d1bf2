// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package friends keeps the account's relationship collections
// (friends, pending requests, blocked users) and each friend's last
// known presence.
//
// The [Cache] is populated by [Cache.BulkRefresh] and kept current by
// relationship events and presence updates from the presence
// connection. An account id is in at most one of the three
// collections at any time. Presence snapshots and resolved user rows
// can be swept after a configured lifetime.
package friends

import (
	"encoding/json"
	"math"
	"time"
)

// Forever is a lifetime that never expires.
const Forever = time.Duration(math.MaxInt64)

// Direction is the direction of a pending friend request.
type Direction string

const (
	// Inbound requests were sent to the local account.
	Inbound Direction = "INBOUND"
	// Outbound requests were sent by the local account.
	Outbound Direction = "OUTBOUND"
)

// Presence is a friend's last broadcast status.
type Presence struct {
	AccountID string

	// Available is false once the friend's last resource went offline.
	Available bool

	// Status is the free-form status text.
	Status string

	// Show is the XMPP availability ("", "away", "chat", "dnd", "xa").
	// Empty means available.
	Show string

	IsPlaying  bool
	IsJoinable bool

	// PartyInfo is the raw party join-info object of the status
	// properties, nil when the friend advertises none.
	PartyInfo json.RawMessage

	// ReceivedAt is when the update arrived. Older updates never
	// overwrite newer ones.
	ReceivedAt time.Time
}

// Friend is an accepted friend.
type Friend struct {
	AccountID   string
	DisplayName string
	Alias       string
	Note        string
	Favorite    bool
	Mutual      int
	Created     time.Time

	// Presence is nil until the friend broadcasts a status, and again
	// after the snapshot is swept.
	Presence *Presence
}

// PendingFriend is a friend request not yet accepted.
type PendingFriend struct {
	AccountID   string
	DisplayName string
	Direction   Direction
	Favorite    bool
	Created     time.Time
}

// BlockedUser is an account on the block list.
type BlockedUser struct {
	AccountID   string
	DisplayName string
	// Blocked is when the block was observed. Zero for entries loaded
	// by a bulk refresh.
	Blocked time.Time
}

// User is a resolved account identity.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	// External maps an external platform type to the account's name
	// there.
	External map[string]string `json:"-"`
}

// EventType is a relationship change.
type EventType int

const (
	EventFriendAdded EventType = iota + 1
	EventFriendRemoved
	EventBlocked
	EventUnblocked
	EventPendingCreated
	EventPendingAborted
	EventPendingRejected
)

var eventTypeNames = map[EventType]string{
	EventFriendAdded:     "friend_added",
	EventFriendRemoved:   "friend_removed",
	EventBlocked:         "blocked",
	EventUnblocked:       "unblocked",
	EventPendingCreated:  "pending_created",
	EventPendingAborted:  "pending_aborted",
	EventPendingRejected: "pending_rejected",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one relationship change pushed by the presence connection.
type Event struct {
	Type      EventType
	AccountID string

	// Direction is set for EventPendingCreated.
	Direction Direction
	Favorite  bool
	// Created is the relationship's creation time as reported by the
	// server, when known.
	Created time.Time
}

// Kind selects what Sweep removes.
type Kind int

const (
	// KindPresence sweeps friends' presence snapshots.
	KindPresence Kind = iota
	// KindUser sweeps resolved user rows.
	KindUser
)

func (k Kind) String() string {
	if k == KindUser {
		return "user"
	}
	return "presence"
}
