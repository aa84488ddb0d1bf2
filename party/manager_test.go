// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package party

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/lib/testutil"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

const (
	selfID    = "self0000000000000000000000000000"
	friendID  = "friend00000000000000000000000000"
	captainID = "captain0000000000000000000000000"
)

var joinTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context, platform.Purpose) (string, error) {
	return "token", nil
}
func (staticTokens) Refresh(context.Context, platform.Purpose, string) error { return nil }

// fakePartyService is an in-memory party service enforcing revisions.
type fakePartyService struct {
	mu            sync.Mutex
	parties       map[string]*Document
	memberPatches []memberPatchRequest
	partyPatches  []partyPatchRequest
	deleted       []string
	promoted      []string
	nextID        int

	// forbidPartyPatches rejects party meta patches as from a former
	// captain. holdPartyPatches, when set, stalls them until closed.
	forbidPartyPatches bool
	holdPartyPatches   chan struct{}
}

func newFakePartyService() *fakePartyService {
	return &fakePartyService{parties: map[string]*Document{}}
}

func (s *fakePartyService) handler() http.Handler {
	const base = "/party/api/v1/Fortnite"
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+base+"/user/{account}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		user := userDocument{Current: []Document{}}
		for _, party := range s.parties {
			if s.memberLocked(party, r.PathValue("account")) != nil {
				user.Current = append(user.Current, *party)
			}
		}
		json.NewEncoder(w).Encode(user)
	})
	mux.HandleFunc("POST "+base+"/parties", func(w http.ResponseWriter, r *http.Request) {
		var request createRequest
		json.NewDecoder(r.Body).Decode(&request)
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nextID++
		party := &Document{
			ID:        "party" + strconv.Itoa(s.nextID),
			CreatedAt: joinTime,
			Config:    request.Config,
			Meta:      request.Meta,
			Members: []MemberDocument{{
				AccountID: selfID,
				Meta:      request.JoinInfo.Meta,
				JoinedAt:  joinTime,
				Role:      RoleCaptain,
			}},
		}
		s.parties[party.ID] = party
		json.NewEncoder(w).Encode(party)
	})
	mux.HandleFunc("GET "+base+"/parties/{party}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		party, ok := s.parties[r.PathValue("party")]
		if !ok {
			writeError(w, http.StatusNotFound, platform.ErrCodePartyNotFound)
			return
		}
		json.NewEncoder(w).Encode(party)
	})
	mux.HandleFunc("POST "+base+"/parties/{party}/members/{member}/join", func(w http.ResponseWriter, r *http.Request) {
		var request joinRequest
		json.NewDecoder(r.Body).Decode(&request)
		s.mu.Lock()
		defer s.mu.Unlock()
		party, ok := s.parties[r.PathValue("party")]
		if !ok {
			writeError(w, http.StatusNotFound, platform.ErrCodePartyNotFound)
			return
		}
		party.Members = append(party.Members, MemberDocument{
			AccountID: r.PathValue("member"),
			Meta:      request.Meta,
			JoinedAt:  joinTime,
			Role:      RoleMember,
		})
		json.NewEncoder(w).Encode(joinResponse{Status: "JOINED", PartyID: party.ID})
	})
	mux.HandleFunc("DELETE "+base+"/parties/{party}/members/{member}", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		party, ok := s.parties[r.PathValue("party")]
		if !ok {
			writeError(w, http.StatusNotFound, platform.ErrCodePartyNotFound)
			return
		}
		member := r.PathValue("member")
		kept := party.Members[:0]
		for _, candidate := range party.Members {
			if candidate.AccountID != member {
				kept = append(kept, candidate)
			}
		}
		party.Members = kept
		s.deleted = append(s.deleted, member)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST "+base+"/parties/{party}/members/{member}/promote", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.promoted = append(s.promoted, r.PathValue("member"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PATCH "+base+"/parties/{party}", func(w http.ResponseWriter, r *http.Request) {
		var request partyPatchRequest
		json.NewDecoder(r.Body).Decode(&request)
		s.mu.Lock()
		hold := s.holdPartyPatches
		s.mu.Unlock()
		if hold != nil {
			<-hold
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		party := s.parties[r.PathValue("party")]
		s.partyPatches = append(s.partyPatches, request)
		if s.forbidPartyPatches {
			writeError(w, http.StatusForbidden, platform.ErrCodePartyChangeForbidden)
			return
		}
		if request.Revision != party.Revision {
			writeStale(w, request.Revision, party.Revision)
			return
		}
		for key, value := range request.Meta.Update {
			party.Meta[key] = value
		}
		for _, key := range request.Meta.Delete {
			delete(party.Meta, key)
		}
		party.Revision++
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PATCH "+base+"/parties/{party}/members/{member}/meta", func(w http.ResponseWriter, r *http.Request) {
		var request memberPatchRequest
		json.NewDecoder(r.Body).Decode(&request)
		s.mu.Lock()
		defer s.mu.Unlock()
		member := s.memberLocked(s.parties[r.PathValue("party")], r.PathValue("member"))
		s.memberPatches = append(s.memberPatches, request)
		if request.Revision != member.Revision {
			writeStale(w, request.Revision, member.Revision)
			return
		}
		if member.Meta == nil {
			member.Meta = map[string]string{}
		}
		for key, value := range request.Update {
			member.Meta[key] = value
		}
		for _, key := range request.Delete {
			delete(member.Meta, key)
		}
		member.Revision++
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (s *fakePartyService) memberLocked(party *Document, accountID string) *MemberDocument {
	if party == nil {
		return nil
	}
	for i := range party.Members {
		if party.Members[i].AccountID == accountID {
			return &party.Members[i]
		}
	}
	return nil
}

func (s *fakePartyService) member(partyID, accountID string) MemberDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.memberLocked(s.parties[partyID], accountID)
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(platform.APIError{Code: code})
}

func writeStale(w http.ResponseWriter, sent, current int64) {
	w.WriteHeader(http.StatusConflict)
	json.NewEncoder(w).Encode(platform.APIError{
		Code:        platform.ErrCodeStaleRevision,
		MessageVars: []string{strconv.FormatInt(sent, 10), strconv.FormatInt(current, 10)},
	})
}

// fakeChat records room traffic.
type fakeChat struct {
	mu     sync.Mutex
	joined []string
	left   []string
	sent   []string
}

func (c *fakeChat) JoinRoom(_ context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, room)
	return nil
}

func (c *fakeChat) LeaveRoom(_ context.Context, room string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, room)
	return nil
}

func (c *fakeChat) SendGroupMessage(_ context.Context, room, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, room+": "+body)
	return nil
}

type managerFixture struct {
	manager *Manager
	service *fakePartyService
	chat    *fakeChat
	events  chan Event
	clock   *clock.FakeClock
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	service := newFakePartyService()
	server := httptest.NewServer(service.handler())
	t.Cleanup(server.Close)

	client := rest.NewClient(rest.Config{})
	client.SetTokenSource(staticTokens{})
	fixture := &managerFixture{
		service: service,
		chat:    &fakeChat{},
		events:  make(chan Event, 64),
		clock:   clock.Fake(joinTime),
	}
	fixture.manager = NewManager(ManagerConfig{
		REST:        client,
		Endpoints:   platform.Endpoints{Party: server.URL},
		AccountID:   selfID,
		DisplayName: "Self",
		Connection:  func() string { return selfID + "@prod.ol.epicgames.com/V2:Fortnite:WIN::test" },
		Chat:        fixture.chat,
		Clock:       fixture.clock,
		OnEvent:     func(event Event) { fixture.events <- event },
	})
	t.Cleanup(fixture.manager.Close)
	return fixture
}

func notification(t *testing.T, notificationType string, body map[string]any) Notification {
	t.Helper()
	body["type"] = notificationType
	if _, ok := body["sent"]; !ok {
		body["sent"] = joinTime.Add(time.Minute)
	}
	encoded, err := json.Marshal(body)
	require.NoError(t, err)
	return Notification{Type: notificationType, Body: encoded}
}

func TestCreateJoinsChatRoom(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	require.Equal(t, StateJoined, fixture.manager.State())
	require.True(t, fixture.manager.IsCaptain())
	require.Equal(t, DefaultConfig().MaxSize, party.Config().MaxSize)
	require.Equal(t, []string{RoomName(party.ID)}, fixture.chat.joined)

	self, ok := fixture.manager.Self()
	require.True(t, ok)
	require.Equal(t, "Self", self.DisplayName())

	document, err := fixture.manager.Lookup(context.Background())
	require.NoError(t, err)
	require.Equal(t, party.ID, document.ID)
}

func TestSetOutfitTwiceSendsTwoPatches(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)
	self, _ := fixture.manager.Self()

	first := make(chan error, 1)
	go func() { first <- fixture.manager.SetOutfit(context.Background(), "CID_A") }()
	testutil.Eventually(t, func() bool { return self.Outfit() != "" }, 5*time.Second, "first outfit applied locally")
	require.NoError(t, fixture.manager.SetOutfit(context.Background(), "CID_B"))
	require.NoError(t, testutil.RequireReceive(t, first, 5*time.Second, "first SetOutfit"))

	require.Equal(t, "CID_B", self.Outfit())
	fixture.service.mu.Lock()
	require.Len(t, fixture.service.memberPatches, 2)
	fixture.service.mu.Unlock()

	server := fixture.service.member(party.ID, selfID)
	require.Equal(t, int64(2), server.Revision)
	require.Equal(t, server.Revision, self.Meta.Revision())
	require.Contains(t, server.Meta[KeyCosmeticLoadout.String()], "CID_B.CID_B")
}

func TestMemberPatchAdoptsServerRevision(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	// Another client of the same account moved the member revision.
	fixture.service.mu.Lock()
	fixture.service.memberLocked(fixture.service.parties[party.ID], selfID).Revision = 7
	fixture.service.mu.Unlock()

	require.NoError(t, fixture.manager.SetReadiness(context.Background(), ReadyReady))

	fixture.service.mu.Lock()
	revisions := []int64{}
	for _, patch := range fixture.service.memberPatches {
		revisions = append(revisions, patch.Revision)
	}
	fixture.service.mu.Unlock()
	require.Equal(t, []int64{0, 7}, revisions)

	self, _ := fixture.manager.Self()
	require.Equal(t, int64(8), self.Meta.Revision())
	require.Equal(t, ReadyReady, self.Readiness())
}

func TestEmoteAndBackpackShareLoadout(t *testing.T) {
	fixture := newManagerFixture(t)
	_, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)
	self, _ := fixture.manager.Self()

	require.NoError(t, fixture.manager.SetOutfit(context.Background(), "CID_A"))
	require.NoError(t, fixture.manager.SetBackpack(context.Background(), "BID_X"))
	require.Equal(t, "CID_A", self.Outfit(), "backpack edit must keep the outfit")
	require.Equal(t, "BID_X", self.Backpack())

	require.NoError(t, fixture.manager.SetEmote(context.Background(), "EID_Floss"))
	require.Equal(t, "EID_Floss", self.Emote())
	require.NoError(t, fixture.manager.ClearEmote(context.Background()))
	require.Equal(t, "", self.Emote())
}

func TestCaptainOperations(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	require.NoError(t, fixture.manager.SetPrivacy(context.Background(), PrivacyPrivate))
	require.Equal(t, "INVITE_AND_FORMER", party.Config().Joinability)
	require.False(t, party.Meta.Flag(KeyAcceptingMembers))

	require.NoError(t, fixture.manager.SetCustomKey(context.Background(), "scrims"))
	require.Equal(t, "scrims", party.Meta.Text(KeyCustomMatchKey))

	fixture.service.mu.Lock()
	require.Len(t, fixture.service.partyPatches, 2)
	require.Equal(t, "INVITE_AND_FORMER", fixture.service.partyPatches[0].PartyPrivacyType)
	require.Equal(t, int64(1), fixture.service.partyPatches[1].Revision)
	fixture.service.mu.Unlock()

	require.NoError(t, fixture.manager.SendChat(context.Background(), "hello"))
	require.Equal(t, []string{RoomName(party.ID) + ": hello"}, fixture.chat.sent)

	err = fixture.manager.Promote(context.Background(), "nobody")
	require.ErrorIs(t, err, platform.ErrNotFound)
}

func TestNonCaptainCannotPatchParty(t *testing.T) {
	fixture := newManagerFixture(t)
	fixture.service.parties["p1"] = &Document{
		ID:   "p1",
		Meta: map[string]string{},
		Members: []MemberDocument{{
			AccountID: captainID,
			Role:      RoleCaptain,
			JoinedAt:  joinTime.Add(-time.Hour),
		}},
	}

	party, err := fixture.manager.Join(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 2, party.Size())
	require.False(t, fixture.manager.IsCaptain())

	err = fixture.manager.SetPrivacy(context.Background(), PrivacyPublic)
	require.ErrorIs(t, err, ErrNotCaptain)
	require.ErrorIs(t, err, platform.ErrPermissionDenied)
	require.ErrorIs(t, fixture.manager.Kick(context.Background(), captainID), platform.ErrPermissionDenied)

	// Member meta is still writable.
	require.NoError(t, fixture.manager.SetReadiness(context.Background(), ReadySittingOut))

	members := party.Members()
	require.Equal(t, captainID, members[0].AccountID, "captain sorts first")
}

func TestMemberJoinTriggersSquadRefresh(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	err = fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberJoined, map[string]any{
		"party_id":   party.ID,
		"account_id": friendID,
		"account_dn": "Friend",
		"joined_at":  joinTime.Add(time.Minute),
		"revision":   0,
	}))
	require.NoError(t, err)

	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "member joined event")
	require.Equal(t, EventMemberJoined, event.Type)
	require.Equal(t, friendID, event.AccountID)
	require.Equal(t, 2, party.Size())

	testutil.Eventually(t, func() bool {
		var assignments struct {
			RawSquadAssignments []struct {
				MemberID string `json:"memberId"`
			} `json:"RawSquadAssignments"`
		}
		if party.Meta.DecodeObject(KeySquadAssignments, &assignments) != nil {
			return false
		}
		return len(assignments.RawSquadAssignments) == 2 && party.Meta.Revision() == 1
	}, 5*time.Second, "squad assignments refreshed")

	err = fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberLeft, map[string]any{
		"party_id":   party.ID,
		"account_id": friendID,
	}))
	require.NoError(t, err)
	event = testutil.RequireReceive(t, fixture.events, 5*time.Second, "member left event")
	require.Equal(t, EventMemberLeft, event.Type)
	require.Equal(t, 1, party.Size())
}

func TestNotificationFiltering(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	// Another party.
	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberJoined, map[string]any{
		"party_id":   "elsewhere",
		"account_id": friendID,
	})))
	// Sent before the local member joined.
	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberJoined, map[string]any{
		"party_id":   party.ID,
		"account_id": friendID,
		"sent":       joinTime.Add(-time.Second),
	})))
	testutil.RequireNoReceive(t, fixture.events, 20*time.Millisecond, "filtered notifications")
	require.Equal(t, 1, party.Size())

	// Pings pass regardless of party.
	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationPing, map[string]any{
		"party_id":  "elsewhere",
		"pinger_id": friendID,
		"pinger_dn": "Friend",
	})))
	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "ping event")
	require.Equal(t, EventPing, event.Type)
	require.Equal(t, "Friend", event.DisplayName)
}

func TestNotificationRaisesRevisions(t *testing.T) {
	fixture := newManagerFixture(t)
	fixture.service.parties["p1"] = &Document{
		ID:   "p1",
		Meta: map[string]string{},
		Members: []MemberDocument{{
			AccountID: captainID,
			Role:      RoleCaptain,
			JoinedAt:  joinTime.Add(-time.Hour),
		}},
	}
	party, err := fixture.manager.Join(context.Background(), "p1")
	require.NoError(t, err)

	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationPartyUpdated, map[string]any{
		"party_id":              "p1",
		"account_id":            captainID,
		"revision":              4,
		"party_state_updated":   map[string]string{"Default:CustomMatchKey_s": "abc"},
		"party_privacy_type":    "INVITE_AND_FORMER",
		"max_number_of_members": 4,
	})))
	require.Equal(t, int64(4), party.Meta.Revision())
	require.Equal(t, "abc", party.Meta.Text(KeyCustomMatchKey))
	require.Equal(t, 4, party.Config().MaxSize)
	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "party updated")
	require.Equal(t, []string{"Default:CustomMatchKey_s"}, event.Updated)

	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberStateUpdated, map[string]any{
		"party_id":             "p1",
		"account_id":           captainID,
		"revision":             3,
		"member_state_updated": map[string]string{"Default:LobbyState_j": `{"LobbyState":{"inGameReadyStatus":"Ready"}}`},
	})))
	captain, _ := party.Member(captainID)
	require.Equal(t, ReadyReady, captain.Readiness())
	require.Equal(t, int64(3), captain.Meta.Revision())

	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberNewCaptain, map[string]any{
		"party_id":   "p1",
		"account_id": selfID,
	})))
	require.True(t, fixture.manager.IsCaptain())
	require.Equal(t, RoleMember, captain.Role())
}

func TestKickedSelfDropsParty(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	require.NoError(t, fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberKicked, map[string]any{
		"party_id":   party.ID,
		"account_id": selfID,
	})))
	require.Equal(t, EventMemberKicked, testutil.RequireReceive(t, fixture.events, 5*time.Second, "kicked").Type)
	require.Equal(t, EventPartyLeft, testutil.RequireReceive(t, fixture.events, 5*time.Second, "left").Type)
	require.Equal(t, StateLeft, fixture.manager.State())
	require.Nil(t, fixture.manager.Party())
	require.Equal(t, []string{RoomName(party.ID)}, fixture.chat.left)
	require.ErrorIs(t, fixture.manager.SetOutfit(context.Background(), "CID_A"), ErrNotInParty)
}

func TestNotificationWaitsForPartyLock(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	release, ok := fixture.manager.lock.TryClose()
	require.True(t, ok)

	result := make(chan error, 1)
	go func() {
		result <- fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberDisconnected, map[string]any{
			"party_id":   party.ID,
			"account_id": friendID,
		}))
	}()
	fixture.clock.WaitForTimers(1)
	testutil.RequireNoReceive(t, fixture.events, 50*time.Millisecond, "notification applied while the gate was closed")
	release()
	require.NoError(t, testutil.RequireReceive(t, result, 5*time.Second, "notification result"))
	require.Equal(t, EventMemberDisconnected, testutil.RequireReceive(t, fixture.events, 5*time.Second, "disconnected").Type)
}

func TestNotificationOutlastingPartyLockResyncs(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	// A long join holds the gate while the friend joins on the server.
	release, ok := fixture.manager.lock.TryClose()
	require.True(t, ok)
	fixture.service.mu.Lock()
	document := fixture.service.parties[party.ID]
	document.Members = append(document.Members, MemberDocument{
		AccountID: friendID,
		Role:      RoleMember,
		JoinedAt:  joinTime.Add(time.Minute),
	})
	fixture.service.mu.Unlock()

	result := make(chan error, 1)
	go func() {
		result <- fixture.manager.HandleNotification(context.Background(), notification(t, NotificationMemberJoined, map[string]any{
			"party_id":   party.ID,
			"account_id": friendID,
		}))
	}()
	fixture.clock.WaitForTimers(1)
	fixture.clock.Advance(defaultLockTimeout)
	require.NoError(t, testutil.RequireReceive(t, result, 5*time.Second, "timed out notification"))
	require.Equal(t, 1, party.Size(), "push not applied while the gate is closed")

	release()
	require.Equal(t, EventPartyUpdated, testutil.RequireReceive(t, fixture.events, 5*time.Second, "resync event").Type)
	_, ok = party.Member(friendID)
	require.True(t, ok, "resync picked up the missed member")
	require.Equal(t, 2, party.Size())
}

func TestResyncKeepsQueuedPartyMeta(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	hold := make(chan struct{})
	fixture.service.mu.Lock()
	fixture.service.holdPartyPatches = hold
	fixture.service.mu.Unlock()
	t.Cleanup(func() {
		select {
		case <-hold:
		default:
			close(hold)
		}
	})

	result := make(chan error, 1)
	go func() { result <- fixture.manager.SetCustomKey(context.Background(), "scrims") }()
	testutil.Eventually(t, func() bool {
		fixture.service.mu.Lock()
		defer fixture.service.mu.Unlock()
		return len(fixture.service.partyPatches) == 0 && party.Meta.Text(KeyCustomMatchKey) == "scrims"
	}, 5*time.Second, "custom key applied locally")

	fixture.service.mu.Lock()
	fixture.service.parties[party.ID].Revision = 5
	fixture.service.mu.Unlock()

	require.NoError(t, fixture.manager.Resync(context.Background()))
	require.Equal(t, "scrims", party.Meta.Text(KeyCustomMatchKey), "queued write kept")
	require.Equal(t, int64(5), party.Meta.Revision())

	close(hold)
	require.NoError(t, testutil.RequireReceive(t, result, 5*time.Second, "custom key confirmed"))
	fixture.service.mu.Lock()
	require.Equal(t, "scrims", fixture.service.parties[party.ID].Meta[KeyCustomMatchKey.String()])
	fixture.service.mu.Unlock()
}

func TestRejectedPrivacyRestoresJoinability(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)
	require.Equal(t, "OPEN", party.Config().Joinability)

	fixture.service.mu.Lock()
	fixture.service.forbidPartyPatches = true
	fixture.service.mu.Unlock()

	err = fixture.manager.SetPrivacy(context.Background(), PrivacyPrivate)
	require.ErrorIs(t, err, platform.ErrPermissionDenied)
	require.Equal(t, "OPEN", party.Config().Joinability)
}

func TestLeaveAndResync(t *testing.T) {
	fixture := newManagerFixture(t)
	fixture.service.parties["p1"] = &Document{
		ID:   "p1",
		Meta: map[string]string{},
		Members: []MemberDocument{
			{AccountID: captainID, Role: RoleCaptain, JoinedAt: joinTime.Add(-time.Hour)},
			{AccountID: friendID, Role: RoleMember, JoinedAt: joinTime.Add(-time.Minute)},
		},
	}
	party, err := fixture.manager.Join(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, 3, party.Size())

	// The friend left and the meta moved on while we were offline.
	fixture.service.mu.Lock()
	document := fixture.service.parties["p1"]
	document.Members = []MemberDocument{document.Members[0], document.Members[2]}
	document.Meta["Default:CustomMatchKey_s"] = "late"
	document.Revision = 9
	fixture.service.mu.Unlock()

	require.NoError(t, fixture.manager.Resync(context.Background()))
	require.Equal(t, 2, party.Size())
	_, ok := party.Member(friendID)
	require.False(t, ok)
	require.Equal(t, "late", party.Meta.Text(KeyCustomMatchKey))
	require.Equal(t, int64(9), party.Meta.Revision())
	require.Equal(t, EventPartyUpdated, testutil.RequireReceive(t, fixture.events, 5*time.Second, "resync event").Type)

	require.NoError(t, fixture.manager.Leave(context.Background()))
	require.Equal(t, StateLeft, fixture.manager.State())
	require.Equal(t, EventPartyLeft, testutil.RequireReceive(t, fixture.events, 5*time.Second, "left").Type)
	fixture.service.mu.Lock()
	require.Equal(t, []string{selfID}, fixture.service.deleted)
	fixture.service.mu.Unlock()

	// Leaving twice is a no-op.
	require.NoError(t, fixture.manager.Leave(context.Background()))
}

func TestResyncDropsVanishedParty(t *testing.T) {
	fixture := newManagerFixture(t)
	party, err := fixture.manager.Create(context.Background(), Config{})
	require.NoError(t, err)

	fixture.service.mu.Lock()
	delete(fixture.service.parties, party.ID)
	fixture.service.mu.Unlock()

	require.NoError(t, fixture.manager.Resync(context.Background()))
	require.Equal(t, StateLeft, fixture.manager.State())
	require.Equal(t, EventPartyLeft, testutil.RequireReceive(t, fixture.events, 5*time.Second, "left").Type)
}
