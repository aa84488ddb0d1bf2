// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/partyline/meta"
)

// Meta keys the engine reads or writes.
var (
	KeyCosmeticLoadout    = meta.ObjectKey("Default:AthenaCosmeticLoadout")
	KeyFrontendEmote      = meta.ObjectKey("Default:FrontendEmote")
	KeyLobbyState         = meta.ObjectKey("Default:LobbyState")
	KeySquadAssignments   = meta.ObjectKey("Default:RawSquadAssignments")
	KeyPrivacySettings    = meta.ObjectKey("Default:PrivacySettings")
	KeyCustomMatchKey     = meta.StringKey("Default:CustomMatchKey")
	KeyDisplayName        = meta.StringKey("urn:epic:member:dn")
	KeyJoinRequestUsers   = meta.ObjectKey("urn:epic:member:joinrequestusers")
	KeyAcceptingMembers   = meta.BoolKey("urn:epic:cfg:accepting-members")
	KeyInvitePermission   = meta.StringKey("urn:epic:cfg:invite-perm")
	KeyPresencePermission = meta.StringKey("urn:epic:cfg:presence-perm")
	KeyJoinRequestAction  = meta.StringKey("urn:epic:cfg:join-request-action")
	KeyChatEnabled        = meta.BoolKey("urn:epic:cfg:chat-enabled")
	KeyCanJoin            = meta.BoolKey("urn:epic:cfg:can-join")
	KeyPartyTypeID        = meta.StringKey("urn:epic:cfg:party-type-id")
	KeyBuildID            = meta.StringKey("urn:epic:cfg:build-id")
	KeyConnPlatform       = meta.StringKey("urn:epic:conn:platform")
	KeyConnType           = meta.StringKey("urn:epic:conn:type")
)

// Role is a member's role in the party.
type Role string

const (
	RoleCaptain Role = "CAPTAIN"
	RoleMember  Role = "MEMBER"
)

// State is the local client's membership state.
type State int

const (
	// StateNone means the client has never been in a party.
	StateNone State = iota
	StateJoining
	StateJoined
	StateLeaving
	StateLeft
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Config is the party configuration.
type Config struct {
	Joinability      string
	Discoverability  string
	Type             string
	SubType          string
	MaxSize          int
	InviteTTL        int
	JoinConfirmation bool
}

// DefaultConfig is used by Create when no config is given.
func DefaultConfig() Config {
	return Config{
		Joinability:     "OPEN",
		Discoverability: "ALL",
		Type:            "DEFAULT",
		SubType:         "default",
		MaxSize:         16,
		InviteTTL:       14400,
	}
}

func configFromDocument(document ConfigDocument) Config {
	return Config{
		Joinability:      document.Joinability,
		Discoverability:  document.Discoverability,
		Type:             document.Type,
		SubType:          document.SubType,
		MaxSize:          document.MaxSize,
		InviteTTL:        document.InviteTTL,
		JoinConfirmation: document.JoinConfirmation,
	}
}

func (c Config) document() ConfigDocument {
	return ConfigDocument{
		Type:             c.Type,
		Joinability:      c.Joinability,
		Discoverability:  c.Discoverability,
		SubType:          c.SubType,
		MaxSize:          c.MaxSize,
		InviteTTL:        c.InviteTTL,
		JoinConfirmation: c.JoinConfirmation,
	}
}

// Member is one party member's replica.
type Member struct {
	AccountID string
	JoinedAt  time.Time
	Meta      *meta.Meta

	mu          sync.RWMutex
	role        Role
	displayName string
}

func newMember(document MemberDocument) *Member {
	member := &Member{
		AccountID: document.AccountID,
		JoinedAt:  document.JoinedAt,
		Meta:      meta.FromWire(document.Meta, document.Revision),
		role:      document.Role,
	}
	member.displayName = member.Meta.Text(KeyDisplayName)
	return member
}

// Role returns the member's current role.
func (m *Member) Role() Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.role
}

func (m *Member) setRole(role Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.role = role
}

// IsCaptain reports whether the member leads the party.
func (m *Member) IsCaptain() bool { return m.Role() == RoleCaptain }

// DisplayName returns the member's display name from its meta, falling
// back to the name seen at join.
func (m *Member) DisplayName() string {
	if name := m.Meta.Text(KeyDisplayName); name != "" {
		return name
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.displayName
}

// Outfit returns the equipped character item id, e.g. "CID_029".
func (m *Member) Outfit() string { return m.loadoutItem("characterDef") }

// Backpack returns the equipped back bling item id.
func (m *Member) Backpack() string { return m.loadoutItem("backpackDef") }

// Emote returns the playing emote item id, or "" when none.
func (m *Member) Emote() string {
	var emote struct {
		FrontendEmote struct {
			EmoteItemDef string `json:"emoteItemDef"`
		} `json:"FrontendEmote"`
	}
	if err := m.Meta.DecodeObject(KeyFrontendEmote, &emote); err != nil {
		return ""
	}
	return itemID(emote.FrontendEmote.EmoteItemDef)
}

// Readiness returns the member's lobby ready state.
func (m *Member) Readiness() ReadyState {
	var lobby struct {
		LobbyState struct {
			InGameReadyStatus ReadyState `json:"inGameReadyStatus"`
		} `json:"LobbyState"`
	}
	if err := m.Meta.DecodeObject(KeyLobbyState, &lobby); err != nil {
		return ReadyNotReady
	}
	return lobby.LobbyState.InGameReadyStatus
}

func (m *Member) loadoutItem(field string) string {
	var loadout map[string]map[string]any
	if err := m.Meta.DecodeObject(KeyCosmeticLoadout, &loadout); err != nil {
		return ""
	}
	path, _ := loadout["AthenaCosmeticLoadout"][field].(string)
	return itemID(path)
}

// itemID reduces an asset path "/Game/.../CID_A.CID_A" to "CID_A".
// "None" and "" yield "".
func itemID(path string) string {
	if path == "" || path == "None" {
		return ""
	}
	if dot := strings.LastIndexByte(path, '.'); dot >= 0 {
		return path[dot+1:]
	}
	if slash := strings.LastIndexByte(path, '/'); slash >= 0 {
		return path[slash+1:]
	}
	return path
}

// Party is the local replica of the party the client belongs to.
type Party struct {
	ID        string
	CreatedAt time.Time
	Meta      *meta.Meta

	mu      sync.RWMutex
	config  Config
	members map[string]*Member
}

func newParty(document Document) *Party {
	party := &Party{
		ID:        document.ID,
		CreatedAt: document.CreatedAt,
		Meta:      meta.FromWire(document.Meta, document.Revision),
		config:    configFromDocument(document.Config),
		members:   make(map[string]*Member, len(document.Members)),
	}
	for _, memberDocument := range document.Members {
		party.members[memberDocument.AccountID] = newMember(memberDocument)
	}
	return party
}

// Config returns the party configuration.
func (p *Party) Config() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

func (p *Party) updateConfig(update func(*Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	update(&p.config)
}

// Member returns the member with the given account id.
func (p *Party) Member(accountID string) (*Member, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	member, ok := p.members[accountID]
	return member, ok
}

// Members returns the members ordered captain first, then by join
// time.
func (p *Party) Members() []*Member {
	p.mu.RLock()
	members := make([]*Member, 0, len(p.members))
	for _, member := range p.members {
		members = append(members, member)
	}
	p.mu.RUnlock()
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].IsCaptain() != members[j].IsCaptain() {
			return members[i].IsCaptain()
		}
		if !members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].JoinedAt.Before(members[j].JoinedAt)
		}
		return members[i].AccountID < members[j].AccountID
	})
	return members
}

// Size returns the member count.
func (p *Party) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Captain returns the party leader, if known.
func (p *Party) Captain() (*Member, bool) {
	for _, member := range p.Members() {
		if member.IsCaptain() {
			return member, true
		}
	}
	return nil, false
}

func (p *Party) addMember(member *Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.members[member.AccountID] = member
}

func (p *Party) removeMember(accountID string) (*Member, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	member, ok := p.members[accountID]
	delete(p.members, accountID)
	return member, ok
}

// setCaptain makes accountID the only captain.
func (p *Party) setCaptain(accountID string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for id, member := range p.members {
		if id == accountID {
			member.setRole(RoleCaptain)
		} else if member.Role() == RoleCaptain {
			member.setRole(RoleMember)
		}
	}
}

// squadAssignments returns the squad assignment object for the current
// member order.
func (p *Party) squadAssignments() map[string]any {
	members := p.Members()
	assignments := make([]map[string]any, 0, len(members))
	for index, member := range members {
		assignments = append(assignments, map[string]any{
			"memberId":          member.AccountID,
			"absoluteMemberIdx": index,
		})
	}
	return map[string]any{"RawSquadAssignments": assignments}
}
