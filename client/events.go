// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"github.com/bureau-foundation/partyline/auth"
	"github.com/bureau-foundation/partyline/friends"
	"github.com/bureau-foundation/partyline/party"
	"github.com/bureau-foundation/partyline/xmpp"
)

// EventType identifies an Event.
type EventType int

const (
	// EventDeviceAuthCreated carries a newly issued device credential
	// for the caller to persist.
	EventDeviceAuthCreated EventType = iota + 1

	// EventReady fires once Start has authenticated, loaded the friend
	// list, connected presence and settled the party.
	EventReady

	// EventDisconnected fires when the presence connection drops.
	// Reconnection is automatic.
	EventDisconnected

	// EventReconnected fires after presence was restored and the party
	// resynchronized.
	EventReconnected

	EventParty
	EventFriend
	EventPresence
	EventChat
)

var eventTypeNames = map[EventType]string{
	EventDeviceAuthCreated: "device_auth_created",
	EventReady:             "ready",
	EventDisconnected:      "disconnected",
	EventReconnected:       "reconnected",
	EventParty:             "party",
	EventFriend:            "friend",
	EventPresence:          "presence",
	EventChat:              "chat",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Event is one lifecycle signal or domain event. Exactly the field
// matching Type is set.
type Event struct {
	Type EventType

	DeviceAuth *auth.DeviceAuth
	Party      *party.Event
	Friend     *friends.Event
	Presence   *friends.Presence
	Chat       *xmpp.ChatMessage
}
