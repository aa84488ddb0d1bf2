// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/partyline/auth"
	"github.com/bureau-foundation/partyline/friends"
	"github.com/bureau-foundation/partyline/lib/clock"
	"github.com/bureau-foundation/partyline/lib/testutil"
	"github.com/bureau-foundation/partyline/party"
	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/xmpp"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context, platform.Purpose) (string, error) {
	return "token", nil
}
func (staticTokens) Refresh(context.Context, platform.Purpose, string) error { return nil }

// fakeServices answers the friend summary, account lookup and party
// user lookup with empty documents and counts the requests.
type fakeServices struct {
	mu       sync.Mutex
	requests []string
}

func (s *fakeServices) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	}
	mux.HandleFunc("GET /friends/api/v1/{account}/summary", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"friends":[],"incoming":[],"outgoing":[],"blocklist":[]}`))
	})
	mux.HandleFunc("GET /account/api/public/account", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("GET /party/api/v1/Fortnite/user/{account}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		w.Write([]byte(`{"current":[],"pending":[],"invites":[],"pings":[]}`))
	})
	return mux
}

func (s *fakeServices) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

type clientFixture struct {
	client   *Client
	clock    *clock.FakeClock
	services *fakeServices
	events   chan Event
}

// newWiredClient builds a Client with its account-bound components
// wired for "self" but no presence connection, so tests can feed
// events straight into the router.
func newWiredClient(t *testing.T) *clientFixture {
	t.Helper()
	fakeClock := clock.Fake(epoch)
	services := &fakeServices{}
	server := httptest.NewServer(services.handler())
	t.Cleanup(server.Close)

	events := make(chan Event, 32)
	c, err := New(Config{
		Credentials: auth.RefreshToken{Token: "refresh"},
		Endpoints: platform.Endpoints{
			Account:    server.URL,
			Friends:    server.URL,
			Party:      server.URL,
			EULA:       server.URL,
			Game:       server.URL,
			XMPP:       "ws://127.0.0.1:1",
			XMPPDomain: "test.example",
			MUCDomain:  "muc.test.example",
		},
		HTTPClient: server.Client(),
		Friends:    FriendOptions{WaitTimeout: 5 * time.Second},
		OnEvent:    func(event Event) { events <- event },
		Clock:      fakeClock,
	})
	require.NoError(t, err)
	c.REST().SetTokenSource(staticTokens{})
	c.wire("self", "Self")
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Close(ctx)
	})
	return &clientFixture{client: c, clock: fakeClock, services: services, events: events}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestRelationshipEventUpdatesCache(t *testing.T) {
	fixture := newWiredClient(t)

	fixture.client.handle(&xmpp.RelationshipEvent{Event: friends.Event{
		Type:      friends.EventFriendAdded,
		AccountID: "friend-1",
	}})

	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for friend event")
	require.Equal(t, EventFriend, event.Type)
	require.Equal(t, "friend-1", event.Friend.AccountID)
	_, ok := fixture.client.Friends().Friend("friend-1")
	require.True(t, ok)
}

func TestPresenceBeforeFriendAddedIsApplied(t *testing.T) {
	fixture := newWiredClient(t)

	fixture.client.handle(&xmpp.PresenceEvent{Resource: "V2:Fortnite:WIN::A", Presence: friends.Presence{
		AccountID:  "friend-1",
		Available:  true,
		Status:     "Battle Royale Lobby",
		ReceivedAt: epoch,
	}})
	// The presence is parked on the friend wait timer; the dispatch
	// goroutine is not.
	fixture.clock.WaitForTimers(1)

	fixture.client.handle(&xmpp.RelationshipEvent{Event: friends.Event{
		Type:      friends.EventFriendAdded,
		AccountID: "friend-1",
	}})

	first := testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for friend event")
	require.Equal(t, EventFriend, first.Type)
	second := testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for presence event")
	require.Equal(t, EventPresence, second.Type)
	require.Equal(t, "Battle Royale Lobby", second.Presence.Status)

	presence, ok := fixture.client.Friends().Presence("friend-1")
	require.True(t, ok)
	require.Equal(t, "Battle Royale Lobby", presence.Status)
}

func TestPresenceFromStrangerIsDropped(t *testing.T) {
	fixture := newWiredClient(t)

	fixture.client.handle(&xmpp.PresenceEvent{Presence: friends.Presence{
		AccountID:  "stranger",
		Available:  true,
		ReceivedAt: epoch,
	}})
	fixture.clock.WaitForTimers(1)
	fixture.clock.Advance(5 * time.Second)

	testutil.RequireNoReceive(t, fixture.events, 100*time.Millisecond, "dropped presence emitted an event")
	_, ok := fixture.client.Friends().Presence("stranger")
	require.False(t, ok)
}

func TestPartyPingIsForwarded(t *testing.T) {
	fixture := newWiredClient(t)

	body, err := json.Marshal(map[string]any{
		"type":       party.NotificationPing,
		"party_id":   "party-9",
		"pinger_id":  "friend-1",
		"pinger_dn":  "Friend One",
		"sent":       epoch.Format(time.RFC3339),
		"ns":         "Fortnite",
		"expires_at": epoch.Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	fixture.client.handle(&xmpp.PartyNotification{Notification: party.Notification{
		Type: party.NotificationPing,
		Body: body,
	}})

	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for party event")
	require.Equal(t, EventParty, event.Type)
	require.Equal(t, party.EventPing, event.Party.Type)
	require.Equal(t, "friend-1", event.Party.AccountID)
}

func TestChatMessageIsForwarded(t *testing.T) {
	fixture := newWiredClient(t)

	fixture.client.handle(&xmpp.ChatMessage{AccountID: "friend-1", Body: "gg", Time: epoch})

	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for chat event")
	require.Equal(t, EventChat, event.Type)
	require.Equal(t, "gg", event.Chat.Body)
	require.Empty(t, event.Chat.Room)
}

func TestReconnectReloadsFriends(t *testing.T) {
	fixture := newWiredClient(t)

	fixture.client.onStateChange(xmpp.StateReconnecting)
	event := testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for disconnected event")
	require.Equal(t, EventDisconnected, event.Type)

	fixture.client.onReconnect()
	event = testutil.RequireReceive(t, fixture.events, 5*time.Second, "waiting for reconnected event")
	require.Equal(t, EventReconnected, event.Type)

	// Not in a party, so resync makes no request.
	require.Equal(t, []string{"GET /friends/api/v1/self/summary"}, fixture.services.recorded())
}

func TestSettlePartyWithoutPartyStaysOut(t *testing.T) {
	fixture := newWiredClient(t)

	require.NoError(t, fixture.client.settleParty(context.Background()))
	require.Nil(t, fixture.client.Party().Party())
	require.Equal(t, []string{"GET /party/api/v1/Fortnite/user/self"}, fixture.services.recorded())
}

func TestCloseReleasesParkedPresence(t *testing.T) {
	fixture := newWiredClient(t)

	fixture.client.handle(&xmpp.PresenceEvent{Presence: friends.Presence{
		AccountID:  "stranger",
		ReceivedAt: epoch,
	}})
	fixture.clock.WaitForTimers(1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		fixture.client.Close(context.Background())
	}()
	testutil.RequireClosed(t, done, 5*time.Second, "Close did not return")

	// Routing after Close starts nothing.
	fixture.client.handle(&xmpp.PresenceEvent{Presence: friends.Presence{AccountID: "late"}})
	require.Equal(t, 0, fixture.clock.PendingCount())
}
