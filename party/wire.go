// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"encoding/json"
	"time"
)

// Document is a party as returned by the party service.
type Document struct {
	ID        string            `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Config    ConfigDocument    `json:"config"`
	Members   []MemberDocument  `json:"members"`
	Meta      map[string]string `json:"meta"`
	Revision  int64             `json:"revision"`
}

// ConfigDocument is the party configuration block.
type ConfigDocument struct {
	Type             string `json:"type,omitempty"`
	Joinability      string `json:"joinability,omitempty"`
	Discoverability  string `json:"discoverability,omitempty"`
	SubType          string `json:"sub_type,omitempty"`
	MaxSize          int    `json:"max_size,omitempty"`
	InviteTTL        int    `json:"invite_ttl,omitempty"`
	JoinConfirmation bool   `json:"join_confirmation"`
	IntentionTTL     int    `json:"intention_ttl,omitempty"`
}

// MemberDocument is one member entry of a Document.
type MemberDocument struct {
	AccountID   string               `json:"account_id"`
	Meta        map[string]string    `json:"meta"`
	Connections []ConnectionDocument `json:"connections"`
	Revision    int64                `json:"revision"`
	JoinedAt    time.Time            `json:"joined_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Role        Role                 `json:"role"`
}

// ConnectionDocument is a member's presence connection.
type ConnectionDocument struct {
	ID              string            `json:"id"`
	ConnectedAt     time.Time         `json:"connected_at"`
	Meta            map[string]string `json:"meta"`
	YieldLeadership bool              `json:"yield_leadership"`
}

// connectionRequest is the connection block of create and join
// requests.
type connectionRequest struct {
	ID              string            `json:"id"`
	Meta            map[string]string `json:"meta"`
	YieldLeadership bool              `json:"yield_leadership"`
}

// userDocument is the response of GET /user/{id}.
type userDocument struct {
	Current []Document        `json:"current"`
	Pending []json.RawMessage `json:"pending"`
	Invites []json.RawMessage `json:"invites"`
	Pings   []json.RawMessage `json:"pings"`
}

type createRequest struct {
	Config   ConfigDocument    `json:"config"`
	JoinInfo joinRequest       `json:"join_info"`
	Meta     map[string]string `json:"meta"`
}

type joinRequest struct {
	Connection connectionRequest `json:"connection"`
	Meta       map[string]string `json:"meta"`
}

type joinResponse struct {
	Status  string `json:"status"`
	PartyID string `json:"party_id"`
}

type partyPatchRequest struct {
	Config   ConfigDocument `json:"config"`
	Meta     patchBody      `json:"meta"`
	Revision int64          `json:"revision"`

	PartyStateOverridden map[string]string `json:"party_state_overridden"`
	PartyPrivacyType     string            `json:"party_privacy_type"`
	PartyType            string            `json:"party_type"`
	PartySubType         string            `json:"party_sub_type"`
	MaxNumberOfMembers   int               `json:"max_number_of_members"`
	InviteTTLSeconds     int               `json:"invite_ttl_seconds"`
}

type patchBody struct {
	Delete []string          `json:"delete"`
	Update map[string]string `json:"update"`
}

type memberPatchRequest struct {
	Delete   []string          `json:"delete"`
	Revision int64             `json:"revision"`
	Update   map[string]string `json:"update"`
}

// notificationBody is the union of the fields the party notification
// types carry.
type notificationBody struct {
	Sent      time.Time `json:"sent"`
	Type      string    `json:"type"`
	PartyID   string    `json:"party_id"`
	AccountID string    `json:"account_id"`
	AccountDN string    `json:"account_dn"`
	Revision  int64     `json:"revision"`
	JoinedAt  time.Time `json:"joined_at"`
	CaptainID string    `json:"captain_id"`

	MemberStateUpdated map[string]string `json:"member_state_updated"`
	MemberStateRemoved []string          `json:"member_state_removed"`
	PartyStateUpdated  map[string]string `json:"party_state_updated"`
	PartyStateRemoved  []string          `json:"party_state_removed"`

	PartyPrivacyType   string `json:"party_privacy_type"`
	MaxNumberOfMembers int    `json:"max_number_of_members"`
	PartySubType       string `json:"party_sub_type"`
	PartyType          string `json:"party_type"`
	InviteTTLSeconds   int    `json:"invite_ttl_seconds"`

	PingerID string    `json:"pinger_id"`
	PingerDN string    `json:"pinger_dn"`
	Expires  time.Time `json:"expires"`
}
