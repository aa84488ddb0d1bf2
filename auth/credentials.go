// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/tidwall/jsonc"
)

// Credentials is input to Manager.Authenticate. The implementations in
// this package are the complete set.
type Credentials interface {
	// kind names the credential in logs and errors.
	kind() string
}

// DeviceAuth is a long-lived device credential. It is the usual stored
// credential of an unattended client.
type DeviceAuth struct {
	AccountID string `json:"accountId"`
	DeviceID  string `json:"deviceId"`
	Secret    string `json:"secret"`
}

func (DeviceAuth) kind() string { return "device_auth" }

func (d DeviceAuth) form() url.Values {
	return url.Values{
		"grant_type": {"device_auth"},
		"account_id": {d.AccountID},
		"device_id":  {d.DeviceID},
		"secret":     {d.Secret},
	}
}

// valid reports whether every field is set.
func (d DeviceAuth) valid() bool {
	return d.AccountID != "" && d.DeviceID != "" && d.Secret != ""
}

// ExchangeCode is a one-time code issued to another session of the
// same account.
type ExchangeCode struct{ Code string }

func (ExchangeCode) kind() string { return "exchange_code" }

// AuthorizationCode is a one-time code from the interactive login
// page.
type AuthorizationCode struct{ Code string }

func (AuthorizationCode) kind() string { return "authorization_code" }

// RefreshToken is a stored refresh token of a previous primary
// session.
type RefreshToken struct{ Token string }

func (RefreshToken) kind() string { return "refresh_token" }

// LauncherChain authenticates Launcher with the launcher client, then
// trades the launcher session for an exchange code and the exchange
// code for the primary session. The launcher session is kept.
type LauncherChain struct {
	Launcher Credentials
}

func (LauncherChain) kind() string { return "launcher_chain" }

// Provider produces credentials on demand, e.g. by prompting for an
// authorization code.
type Provider func(ctx context.Context) (Credentials, error)

func (Provider) kind() string { return "provider" }

// FromFile returns a Provider reading a device credential file with
// LoadDeviceAuth when authentication starts.
func FromFile(path string) Provider {
	return func(context.Context) (Credentials, error) {
		return LoadDeviceAuth(path)
	}
}

// LoadDeviceAuth reads a device credential from a JSON file. Comments
// and trailing commas are allowed, and snake_case field names
// (account_id, device_id) are accepted alongside the camelCase ones.
func LoadDeviceAuth(path string) (DeviceAuth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DeviceAuth{}, fmt.Errorf("auth: reading device credential: %w", err)
	}
	return ParseDeviceAuth(data)
}

// ParseDeviceAuth decodes a device credential document. See
// LoadDeviceAuth for the accepted syntax.
func ParseDeviceAuth(data []byte) (DeviceAuth, error) {
	var document struct {
		DeviceAuth
		SnakeAccountID string `json:"account_id"`
		SnakeDeviceID  string `json:"device_id"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return DeviceAuth{}, fmt.Errorf("auth: parsing device credential: %w", err)
	}
	credential := document.DeviceAuth
	if credential.AccountID == "" {
		credential.AccountID = document.SnakeAccountID
	}
	if credential.DeviceID == "" {
		credential.DeviceID = document.SnakeDeviceID
	}
	if !credential.valid() {
		return DeviceAuth{}, fmt.Errorf("auth: device credential needs accountId, deviceId and secret")
	}
	return credential, nil
}
