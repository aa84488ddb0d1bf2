// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import "strings"

// Endpoints holds the base URLs of the platform services. Each field is
// a scheme+host (plus optional path prefix) without a trailing slash.
// Tests point every field at one httptest server.
type Endpoints struct {
	// Account serves OAuth grants, exchange codes, device credentials
	// and identity lookups.
	Account string `yaml:"account"`

	// Friends serves relationship summaries and friend mutations.
	Friends string `yaml:"friends"`

	// Party serves the party service (parties, members, pings, invites).
	Party string `yaml:"party"`

	// EULA serves legal agreement tracking.
	EULA string `yaml:"eula"`

	// Game serves game access grants.
	Game string `yaml:"game"`

	// XMPP is the WebSocket URL of the presence service.
	XMPP string `yaml:"xmpp"`

	// XMPPDomain is the XMPP domain user JIDs live in.
	XMPPDomain string `yaml:"xmpp_domain"`

	// MUCDomain is the XMPP domain of group chat rooms.
	MUCDomain string `yaml:"muc_domain"`
}

// DefaultEndpoints returns the production service locations.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Account:    "https://account-public-service-prod.ol.epicgames.com",
		Friends:    "https://friends-public-service-prod.ol.epicgames.com",
		Party:      "https://party-service-prod.ol.epicgames.com",
		EULA:       "https://eulatracking-public-service-prod-m.ol.epicgames.com",
		Game:       "https://fngw-mcp-gc-livefn.ol.epicgames.com",
		XMPP:       "wss://xmpp-service-prod.ol.epicgames.com",
		XMPPDomain: "prod.ol.epicgames.com",
		MUCDomain:  "muc.prod.ol.epicgames.com",
	}
}

// Normalize strips trailing slashes from every URL field.
func (e Endpoints) Normalize() Endpoints {
	e.Account = strings.TrimRight(e.Account, "/")
	e.Friends = strings.TrimRight(e.Friends, "/")
	e.Party = strings.TrimRight(e.Party, "/")
	e.EULA = strings.TrimRight(e.EULA, "/")
	e.Game = strings.TrimRight(e.Game, "/")
	e.XMPP = strings.TrimRight(e.XMPP, "/")
	return e
}

// PartyPath returns the party service URL for the given path under the
// game namespace, e.g. PartyPath("/parties/abc").
func (e Endpoints) PartyPath(path string) string {
	return e.Party + "/party/api/v1/Fortnite" + path
}
