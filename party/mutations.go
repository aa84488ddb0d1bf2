// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/partyline/meta"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

// ReadyState is a member's lobby readiness.
type ReadyState string

const (
	ReadyReady      ReadyState = "Ready"
	ReadyNotReady   ReadyState = "NotReady"
	ReadySittingOut ReadyState = "SittingOut"
)

// Privacy is a party privacy preset.
type Privacy struct {
	// PartyType is the PrivacySettings party type.
	PartyType string
	// InviteRestriction is "AnyMember" or "LeaderOnly".
	InviteRestriction string
	// OnlyLeaderFriendsCanJoin restricts joins to the captain's friends.
	OnlyLeaderFriendsCanJoin bool
	// PresencePermission is "Anyone", "Leader" or "Noone".
	PresencePermission string
	// InvitePermission is "AnyMember" or "Leader".
	InvitePermission string
	// AcceptingMembers toggles joins entirely.
	AcceptingMembers bool
	// Joinability is the config joinability sent with party patches.
	Joinability string
}

// Privacy presets.
var (
	PrivacyPublic = Privacy{
		PartyType: "Public", InviteRestriction: "AnyMember", PresencePermission: "Anyone",
		InvitePermission: "AnyMember", AcceptingMembers: true, Joinability: "OPEN",
	}
	PrivacyFriendsOfFriends = Privacy{
		PartyType: "FriendsOnly", InviteRestriction: "AnyMember", PresencePermission: "Anyone",
		InvitePermission: "AnyMember", AcceptingMembers: true, Joinability: "INVITE_AND_FORMER",
	}
	PrivacyFriends = Privacy{
		PartyType: "FriendsOnly", InviteRestriction: "LeaderOnly", OnlyLeaderFriendsCanJoin: true,
		PresencePermission: "Leader", InvitePermission: "Leader", AcceptingMembers: true,
		Joinability: "INVITE_AND_FORMER",
	}
	PrivacyPrivateFriendsOfFriends = Privacy{
		PartyType: "Private", InviteRestriction: "AnyMember", PresencePermission: "Noone",
		InvitePermission: "AnyMember", AcceptingMembers: false, Joinability: "INVITE_AND_FORMER",
	}
	PrivacyPrivate = Privacy{
		PartyType: "Private", InviteRestriction: "LeaderOnly", OnlyLeaderFriendsCanJoin: true,
		PresencePermission: "Noone", InvitePermission: "Leader", AcceptingMembers: false,
		Joinability: "INVITE_AND_FORMER",
	}
)

// Asset path prefixes of equippable items.
const (
	characterPath = "/Game/Athena/Items/Cosmetics/Characters/"
	backpackPath  = "/Game/Athena/Items/Cosmetics/Backpacks/"
	dancePath     = "/Game/Athena/Items/Cosmetics/Dances/"
)

func assetPath(prefix, id string) string {
	if id == "" {
		return "None"
	}
	return prefix + id + "." + id
}

// editObject decodes the object under key (or starts from an empty
// one), lets edit change the inner object named root, and returns the
// patch writing it back. Unknown fields survive the round trip.
func editObject(current *meta.Meta, key meta.Key, root string, edit func(inner map[string]any)) (*meta.Patch, error) {
	outer := map[string]any{}
	if err := current.DecodeObject(key, &outer); err != nil && !errors.Is(err, meta.ErrMissing) {
		return nil, fmt.Errorf("decoding %s: %w", key, err)
	}
	if outer == nil {
		outer = map[string]any{}
	}
	inner, _ := outer[root].(map[string]any)
	if inner == nil {
		inner = map[string]any{}
	}
	edit(inner)
	outer[root] = inner
	value, err := meta.ObjectOf(outer)
	if err != nil {
		return nil, err
	}
	return meta.NewPatch().Set(key, value), nil
}

func (m *Manager) patchSelf(ctx context.Context, operation string, build func(current *meta.Meta) (*meta.Patch, error)) error {
	_, _, memberQueue, err := m.queues()
	if err != nil {
		return fmt.Errorf("party: %s: %w", operation, err)
	}
	if err := memberQueue.EnqueueFunc(ctx, build); err != nil {
		return fmt.Errorf("party: %s: %w", operation, err)
	}
	return nil
}

func (m *Manager) patchParty(ctx context.Context, operation string, build func(party *Party, current *meta.Meta) (*meta.Patch, error)) error {
	party, partyQueue, _, err := m.queues()
	if err != nil {
		return fmt.Errorf("party: %s: %w", operation, err)
	}
	if !m.IsCaptain() {
		return fmt.Errorf("party: %s: %w", operation, ErrNotCaptain)
	}
	err = partyQueue.EnqueueFunc(ctx, func(current *meta.Meta) (*meta.Patch, error) {
		return build(party, current)
	})
	if err != nil {
		return fmt.Errorf("party: %s: %w", operation, err)
	}
	return nil
}

// SetOutfit equips the character item id (e.g. "CID_029").
func (m *Manager) SetOutfit(ctx context.Context, id string) error {
	return m.patchSelf(ctx, "set outfit", func(current *meta.Meta) (*meta.Patch, error) {
		return editObject(current, KeyCosmeticLoadout, "AthenaCosmeticLoadout", func(loadout map[string]any) {
			loadout["characterDef"] = assetPath(characterPath, id)
			loadout["characterEKey"] = ""
		})
	})
}

// SetBackpack equips the back bling item id; "" removes it.
func (m *Manager) SetBackpack(ctx context.Context, id string) error {
	return m.patchSelf(ctx, "set backpack", func(current *meta.Meta) (*meta.Patch, error) {
		return editObject(current, KeyCosmeticLoadout, "AthenaCosmeticLoadout", func(loadout map[string]any) {
			loadout["backpackDef"] = assetPath(backpackPath, id)
			loadout["backpackEKey"] = ""
		})
	})
}

// SetEmote starts playing the emote item id.
func (m *Manager) SetEmote(ctx context.Context, id string) error {
	return m.patchSelf(ctx, "set emote", func(current *meta.Meta) (*meta.Patch, error) {
		return editObject(current, KeyFrontendEmote, "FrontendEmote", func(emote map[string]any) {
			emote["emoteItemDef"] = assetPath(dancePath, id)
			emote["emoteEKey"] = ""
			emote["emoteSection"] = -2
		})
	})
}

// ClearEmote stops the playing emote.
func (m *Manager) ClearEmote(ctx context.Context) error {
	return m.patchSelf(ctx, "clear emote", func(current *meta.Meta) (*meta.Patch, error) {
		return editObject(current, KeyFrontendEmote, "FrontendEmote", func(emote map[string]any) {
			emote["emoteItemDef"] = "None"
			emote["emoteEKey"] = ""
			emote["emoteSection"] = -1
		})
	})
}

// SetReadiness sets the local member's lobby ready state.
func (m *Manager) SetReadiness(ctx context.Context, state ReadyState) error {
	return m.patchSelf(ctx, "set readiness", func(current *meta.Meta) (*meta.Patch, error) {
		return editObject(current, KeyLobbyState, "LobbyState", func(lobby map[string]any) {
			lobby["inGameReadyStatus"] = string(state)
		})
	})
}

// SetPrivacy applies a privacy preset. Captain only. The joinability
// in the party config is restored if the server rejects the patch.
func (m *Manager) SetPrivacy(ctx context.Context, privacy Privacy) error {
	var (
		target   *Party
		previous string
	)
	err := m.patchParty(ctx, "set privacy", func(party *Party, current *meta.Meta) (*meta.Patch, error) {
		patch, err := editObject(current, KeyPrivacySettings, "PrivacySettings", func(settings map[string]any) {
			settings["partyType"] = privacy.PartyType
			settings["partyInviteRestriction"] = privacy.InviteRestriction
			settings["bOnlyLeaderFriendsCanJoin"] = privacy.OnlyLeaderFriendsCanJoin
		})
		if err != nil {
			return nil, err
		}
		// The patch request carries the config, so it changes before
		// the patch is sent.
		target, previous = party, party.Config().Joinability
		party.updateConfig(func(config *Config) { config.Joinability = privacy.Joinability })
		return patch.
			Set(KeyAcceptingMembers, meta.Bool(privacy.AcceptingMembers)).
			Set(KeyInvitePermission, meta.String(privacy.InvitePermission)).
			Set(KeyPresencePermission, meta.String(privacy.PresencePermission)), nil
	})
	// An abandoned wait leaves the patch queued, and it is still sent.
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && target != nil {
		target.updateConfig(func(config *Config) {
			if config.Joinability == privacy.Joinability {
				config.Joinability = previous
			}
		})
	}
	return err
}

// SetCustomKey sets the custom matchmaking key; "" clears it. Captain
// only.
func (m *Manager) SetCustomKey(ctx context.Context, key string) error {
	return m.patchParty(ctx, "set custom key", func(_ *Party, _ *meta.Meta) (*meta.Patch, error) {
		if key == "" {
			return meta.NewPatch().Delete(KeyCustomMatchKey), nil
		}
		return meta.NewPatch().Set(KeyCustomMatchKey, meta.String(key)), nil
	})
}

// RefreshSquadAssignments rewrites the squad slot order from the
// current member list. Captain only.
func (m *Manager) RefreshSquadAssignments(ctx context.Context) error {
	return m.patchParty(ctx, "refresh squad assignments", func(party *Party, _ *meta.Meta) (*meta.Patch, error) {
		value, err := meta.ObjectOf(party.squadAssignments())
		if err != nil {
			return nil, err
		}
		return meta.NewPatch().Set(KeySquadAssignments, value), nil
	})
}

// captainAction runs a leader-only REST call against a member.
func (m *Manager) captainAction(ctx context.Context, operation, method, suffix, accountID string) error {
	party, _, _, err := m.queues()
	if err != nil {
		return fmt.Errorf("party: %s: %w", operation, err)
	}
	if !m.IsCaptain() {
		return fmt.Errorf("party: %s: %w", operation, ErrNotCaptain)
	}
	if _, ok := party.Member(accountID); !ok {
		return fmt.Errorf("party: %s: member %s: %w", operation, accountID, platform.ErrNotFound)
	}
	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: method,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(party.ID) + "/members/" + url.PathEscape(accountID) + suffix),
	}, nil)
	if err != nil {
		return fmt.Errorf("party: %s %s: %w", operation, accountID, err)
	}
	return nil
}

// Promote makes accountID the captain. The role change is applied when
// the server's new-captain push arrives.
func (m *Manager) Promote(ctx context.Context, accountID string) error {
	return m.captainAction(ctx, "promote", http.MethodPost, "/promote", accountID)
}

// Kick removes accountID from the party.
func (m *Manager) Kick(ctx context.Context, accountID string) error {
	return m.captainAction(ctx, "kick", http.MethodDelete, "", accountID)
}

// ApproveJoinRequest confirms a member waiting for join confirmation.
func (m *Manager) ApproveJoinRequest(ctx context.Context, accountID string) error {
	party, _, _, err := m.queues()
	if err != nil {
		return fmt.Errorf("party: approve join request: %w", err)
	}
	if !m.IsCaptain() {
		return fmt.Errorf("party: approve join request: %w", ErrNotCaptain)
	}
	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(party.ID) + "/members/" + url.PathEscape(accountID) + "/confirm"),
	}, nil)
	if err != nil {
		return fmt.Errorf("party: approving join request of %s: %w", accountID, err)
	}
	return nil
}

// Invite invites accountID to the current party and pings them.
func (m *Manager) Invite(ctx context.Context, accountID string) error {
	party, _, _, err := m.queues()
	if err != nil {
		return fmt.Errorf("party: invite: %w", err)
	}
	if _, ok := party.Member(accountID); ok {
		return fmt.Errorf("party: invite: %s is already a member", accountID)
	}
	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.PartyPath("/parties/" + url.PathEscape(party.ID) + "/invites/" + url.PathEscape(accountID)),
		Query:  url.Values{"sendPing": {"true"}},
		Body: map[string]string{
			"urn:epic:invite:platformdata_s": "",
			KeyConnPlatform.String():         m.platformTag,
			KeyConnType.String():             "game",
			KeyDisplayName.String():          m.displayName,
			KeyBuildID.String():              m.buildID,
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("party: inviting %s: %w", accountID, err)
	}
	return nil
}

// SendChat sends a message to the party chat room.
func (m *Manager) SendChat(ctx context.Context, text string) error {
	party, _, _, err := m.queues()
	if err != nil {
		return fmt.Errorf("party: send chat: %w", err)
	}
	if m.chat == nil {
		return fmt.Errorf("party: send chat: no chat connection configured")
	}
	if err := m.chat.SendGroupMessage(ctx, RoomName(party.ID), text); err != nil {
		return fmt.Errorf("party: send chat: %w", err)
	}
	return nil
}
