// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package xmpp

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/bureau-foundation/partyline/friends"
	"github.com/bureau-foundation/partyline/party"
)

// Event is one classified inbound stanza: a *RelationshipEvent,
// *PresenceEvent, *PartyNotification or *ChatMessage.
type Event interface {
	isEvent()
}

// RelationshipEvent is a friend list change pushed by the friends
// service.
type RelationshipEvent struct {
	friends.Event
}

// PresenceEvent is a status broadcast by another account.
type PresenceEvent struct {
	// Resource is the sending client's resource.
	Resource string
	friends.Presence
}

// PartyNotification is a party service push.
type PartyNotification struct {
	party.Notification
}

// ChatMessage is a direct or group chat message.
type ChatMessage struct {
	// AccountID is the sender.
	AccountID string
	// Room is the room's local name for group messages, empty for
	// direct messages.
	Room string
	Body string
	Time time.Time
}

func (*RelationshipEvent) isEvent() {}
func (*PresenceEvent) isEvent()     {}
func (*PartyNotification) isEvent() {}
func (*ChatMessage) isEvent()       {}

// Service message types carried in the body of admin messages.
const (
	messageFriend             = "com.epicgames.friends.core.apiobjects.Friend"
	messageFriendRemoval      = "com.epicgames.friends.core.apiobjects.FriendRemoval"
	messageBlockListAdded     = "com.epicgames.friends.core.apiobjects.BlockListEntryAdded"
	messageBlockListRemoved   = "com.epicgames.friends.core.apiobjects.BlockListEntryRemoved"
	partyNotificationPrefix   = "com.epicgames.social.party.notification.v0."
	partyJoinInfoProperty     = "party.joininfodata.286331153_j"
	friendStatusAccepted      = "ACCEPTED"
	friendRemovalReasonAbort  = "ABORTED"
	friendRemovalReasonReject = "REJECTED"
)

type serviceMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type friendPayload struct {
	AccountID string    `json:"accountId"`
	Status    string    `json:"status"`
	Direction string    `json:"direction"`
	Favorite  bool      `json:"favorite"`
	Created   time.Time `json:"created"`
	Reason    string    `json:"reason"`
}

// statusDocument is the JSON a client puts in its presence status.
type statusDocument struct {
	Status          string         `json:"Status"`
	IsPlaying       bool           `json:"bIsPlaying"`
	IsJoinable      bool           `json:"bIsJoinable"`
	HasVoiceSupport bool           `json:"bHasVoiceSupport"`
	SessionID       string         `json:"SessionId"`
	ProductName     string         `json:"ProductName,omitempty"`
	Properties      map[string]any `json:"Properties"`
}

// classifyServiceBody turns the JSON body of a service message into a
// relationship event or party notification. Returns nil for bodies it
// does not understand.
func classifyServiceBody(body string) Event {
	var message serviceMessage
	if err := json.Unmarshal([]byte(body), &message); err != nil || message.Type == "" {
		return nil
	}

	if strings.HasPrefix(message.Type, partyNotificationPrefix) {
		return &PartyNotification{party.Notification{Type: message.Type, Body: json.RawMessage(body)}}
	}

	var payload friendPayload
	if len(message.Payload) > 0 {
		if err := json.Unmarshal(message.Payload, &payload); err != nil {
			return nil
		}
	}
	if payload.AccountID == "" {
		return nil
	}
	event := friends.Event{
		AccountID: payload.AccountID,
		Favorite:  payload.Favorite,
		Created:   payload.Created,
	}

	switch message.Type {
	case messageFriend:
		if payload.Status == friendStatusAccepted {
			event.Type = friends.EventFriendAdded
		} else {
			event.Type = friends.EventPendingCreated
			event.Direction = friends.Direction(payload.Direction)
		}
	case messageFriendRemoval:
		switch payload.Reason {
		case friendRemovalReasonAbort:
			event.Type = friends.EventPendingAborted
		case friendRemovalReasonReject:
			event.Type = friends.EventPendingRejected
		default:
			event.Type = friends.EventFriendRemoved
		}
	case messageBlockListAdded:
		event.Type = friends.EventBlocked
	case messageBlockListRemoved:
		event.Type = friends.EventUnblocked
	default:
		return nil
	}
	return &RelationshipEvent{event}
}

// presenceFromStanza decodes a user presence. A status that is not the
// platform's JSON document is kept as plain text.
func presenceFromStanza(s *stanza, from jid, now time.Time) *PresenceEvent {
	event := &PresenceEvent{
		Resource: from.resource,
		Presence: friends.Presence{
			AccountID:  from.local,
			Available:  s.Type != "unavailable",
			Show:       s.Show,
			ReceivedAt: now,
		},
	}
	if s.Status == "" {
		return event
	}

	var status struct {
		Status     string                     `json:"Status"`
		IsPlaying  bool                       `json:"bIsPlaying"`
		IsJoinable bool                       `json:"bIsJoinable"`
		Properties map[string]json.RawMessage `json:"Properties"`
	}
	if err := json.Unmarshal([]byte(s.Status), &status); err != nil {
		event.Status = s.Status
		return event
	}
	event.Status = status.Status
	event.IsPlaying = status.IsPlaying
	event.IsJoinable = status.IsJoinable
	if info, ok := status.Properties[partyJoinInfoProperty]; ok && string(info) != "null" {
		event.PartyInfo = info
	}
	return event
}

// stanzaTime returns the delayed-delivery stamp of s, or now.
func stanzaTime(s *stanza, now time.Time) time.Time {
	if s.Delay != nil {
		if stamp, err := time.Parse(time.RFC3339Nano, s.Delay.Stamp); err == nil {
			return stamp
		}
	}
	return now
}

// occupantAccount returns the account id in a room occupant nickname
// ("<accountID>:<resource>").
func occupantAccount(nick string) string {
	account, _, _ := strings.Cut(nick, ":")
	return account
}
