// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import "encoding/base64"

// Purpose names the credential scope of one OAuth session. Each
// purpose is refreshed independently.
type Purpose string

const (
	// PurposePrimary is the user's game identity. Every party, friend
	// and presence call uses it.
	PurposePrimary Purpose = "primary"

	// PurposeLauncher is a launcher-client identity derived from the
	// primary session. Device credentials are issued through it.
	PurposeLauncher Purpose = "launcher"

	// PurposeClientCredentials is a user-less identity for endpoints
	// that only need a client context.
	PurposeClientCredentials Purpose = "client_credentials"

	// PurposeChat is a chat-client identity used for the presence
	// connection when configured.
	PurposeChat Purpose = "chat"
)

// String returns the purpose name.
func (p Purpose) String() string { return string(p) }

// OAuthClient is an OAuth client identity (client id and secret) used
// as HTTP basic credentials on the token endpoint.
type OAuthClient struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`
}

// BasicAuth returns the base64-encoded "id:secret" pair for an
// Authorization: basic header.
func (c OAuthClient) BasicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.ID + ":" + c.Secret))
}

// Clients maps each session purpose to the OAuth client it is granted
// with. Client credentials sessions use the Game client.
type Clients struct {
	Game     OAuthClient `yaml:"game"`
	Launcher OAuthClient `yaml:"launcher"`
	Chat     OAuthClient `yaml:"chat"`
}

// For returns the OAuth client that grants sessions of the given
// purpose.
func (c Clients) For(purpose Purpose) OAuthClient {
	switch purpose {
	case PurposeLauncher:
		return c.Launcher
	case PurposeChat:
		return c.Chat
	default:
		return c.Game
	}
}

// DefaultClients returns the publicly known game, launcher and chat
// clients.
func DefaultClients() Clients {
	return Clients{
		Game: OAuthClient{
			ID:     "3f69e56c7649492c8cc29f1af08a8a12",
			Secret: "b51ee9cb12234f50a69efa67ef53812e",
		},
		Launcher: OAuthClient{
			ID:     "34a02cf8f4414e29b15921876da36f9a",
			Secret: "daafbccc737745039dffe53d94fc76cf",
		},
		Chat: OAuthClient{
			ID:     "ec684b8c687f479fadea3cb2ad83f5c6",
			Secret: "e1f31c211f28413186262d37a13fc84d",
		},
	}
}
