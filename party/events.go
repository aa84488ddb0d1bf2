// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"encoding/json"
	"time"
)

// Notification types pushed by the party service over the presence
// connection.
const (
	NotificationPing                      = "com.epicgames.social.party.notification.v0.PING"
	NotificationMemberJoined              = "com.epicgames.social.party.notification.v0.MEMBER_JOINED"
	NotificationMemberLeft                = "com.epicgames.social.party.notification.v0.MEMBER_LEFT"
	NotificationMemberExpired             = "com.epicgames.social.party.notification.v0.MEMBER_EXPIRED"
	NotificationMemberKicked              = "com.epicgames.social.party.notification.v0.MEMBER_KICKED"
	NotificationMemberDisconnected        = "com.epicgames.social.party.notification.v0.MEMBER_DISCONNECTED"
	NotificationMemberNewCaptain          = "com.epicgames.social.party.notification.v0.MEMBER_NEW_CAPTAIN"
	NotificationPartyUpdated              = "com.epicgames.social.party.notification.v0.PARTY_UPDATED"
	NotificationMemberStateUpdated        = "com.epicgames.social.party.notification.v0.MEMBER_STATE_UPDATED"
	NotificationMemberRequireConfirmation = "com.epicgames.social.party.notification.v0.MEMBER_REQUIRE_CONFIRMATION"
	NotificationInviteDeclined            = "com.epicgames.social.party.notification.v0.INVITE_DECLINED"
	NotificationInitialInvite             = "com.epicgames.social.party.notification.v0.INITIAL_INVITE"
	NotificationInviteCancelled           = "com.epicgames.social.party.notification.v0.INVITE_CANCELLED"
)

// Notification is one party push, as classified by the presence
// connection.
type Notification struct {
	// Type is one of the Notification* constants.
	Type string
	// Body is the complete JSON body.
	Body json.RawMessage
}

// EventType identifies an Event.
type EventType int

const (
	EventMemberJoined EventType = iota + 1
	EventMemberLeft
	EventMemberKicked
	EventMemberExpired
	EventMemberDisconnected
	EventMemberPromoted
	EventMemberUpdated
	EventPartyUpdated
	EventJoinRequest
	EventInvitation
	EventPing
	EventInviteDeclined
	EventPartyLeft
)

var eventTypeNames = map[EventType]string{
	EventMemberJoined:       "member_joined",
	EventMemberLeft:         "member_left",
	EventMemberKicked:       "member_kicked",
	EventMemberExpired:      "member_expired",
	EventMemberDisconnected: "member_disconnected",
	EventMemberPromoted:     "member_promoted",
	EventMemberUpdated:      "member_updated",
	EventPartyUpdated:       "party_updated",
	EventJoinRequest:        "join_request",
	EventInvitation:         "invitation",
	EventPing:               "ping",
	EventInviteDeclined:     "invite_declined",
	EventPartyLeft:          "party_left",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event reports a change to the party replica or a party-related push
// addressed to the client.
type Event struct {
	Type EventType
	// PartyID is the party the event concerns.
	PartyID string
	// AccountID is the member (or pinger) the event concerns.
	AccountID string
	// DisplayName accompanies AccountID when the push carries it.
	DisplayName string
	// Time is the server send time.
	Time time.Time
	// Updated and Removed list the changed wire meta keys for
	// EventMemberUpdated and EventPartyUpdated.
	Updated []string
	Removed []string
}
