// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bureau-foundation/partyline/auth"
	"github.com/bureau-foundation/partyline/client"
	"github.com/bureau-foundation/partyline/lib/config"
	"github.com/bureau-foundation/partyline/lib/sealed"
)

var testCredential = auth.DeviceAuth{AccountID: "account", DeviceID: "device", Secret: "secret"}

func TestPlainCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_auth.json")
	store, err := newCredentialStore(path, "")
	require.NoError(t, err)
	require.False(t, store.exists())

	require.NoError(t, store.save(testCredential))
	require.True(t, store.exists())

	loaded, err := store.load()
	require.NoError(t, err)
	require.Equal(t, testCredential, loaded)

	// Plain files stay readable by the auth package directly.
	direct, err := auth.LoadDeviceAuth(path)
	require.NoError(t, err)
	require.Equal(t, testCredential, direct)
}

func TestSealedCredentialStore(t *testing.T) {
	directory := t.TempDir()
	keypair, err := sealed.GenerateKeypair()
	require.NoError(t, err)
	identityPath := filepath.Join(directory, "identity.txt")
	require.NoError(t, os.WriteFile(identityPath, []byte(keypair.PrivateKey+"\n"), 0600))

	path := filepath.Join(directory, "device_auth.age")
	store, err := newCredentialStore(path, identityPath)
	require.NoError(t, err)
	require.NoError(t, store.save(testCredential))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "secret")

	loaded, err := store.load()
	require.NoError(t, err)
	require.Equal(t, testCredential, loaded)
}

func TestCredentialStoreMissingIdentity(t *testing.T) {
	_, err := newCredentialStore("device_auth.json", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestSelectCredentials(t *testing.T) {
	directory := t.TempDir()
	store, err := newCredentialStore(filepath.Join(directory, "device_auth.json"), "")
	require.NoError(t, err)

	require.Equal(t, auth.ExchangeCode{Code: "exchange"}, selectCredentials(store, "authorization", "exchange"))
	require.Equal(t, auth.AuthorizationCode{Code: "authorization"}, selectCredentials(store, "authorization", ""))

	require.NoError(t, store.save(testCredential))
	provider, ok := selectCredentials(store, "", "").(auth.Provider)
	require.True(t, ok)
	credential, err := provider(context.Background())
	require.NoError(t, err)
	require.Equal(t, testCredential, credential)
}

func TestBuildLogger(t *testing.T) {
	var output bytes.Buffer

	logger, err := buildLogger(config.LoggingConfig{Level: "info", Format: "auto"}, &output, false)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "party_id", "p1")
	require.NotContains(t, output.String(), "hidden")
	require.Contains(t, output.String(), `"party_id":"p1"`)

	output.Reset()
	logger, err = buildLogger(config.LoggingConfig{Level: "debug", Format: "auto"}, &output, true)
	require.NoError(t, err)
	logger.Debug("shown", "party_id", "p1")
	require.Contains(t, output.String(), "party_id=p1")

	_, err = buildLogger(config.LoggingConfig{Level: "loud", Format: "text"}, &output, false)
	require.Error(t, err)
	_, err = buildLogger(config.LoggingConfig{Level: "info", Format: "xml"}, &output, false)
	require.Error(t, err)
}

func TestClientConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Session.Platform = "PSN"
	cfg.Presence.ConnectTimeout = 20 * time.Second
	cfg.Presence.Status = "Lobby"
	cfg.Friends.PresenceLifetime = time.Hour
	cfg.Party.Create = true
	cfg.Party.MaxSize = 4

	result := clientConfig(cfg, clientOptions{credentials: auth.ExchangeCode{Code: "x"}})

	require.Equal(t, auth.ExchangeCode{Code: "x"}, result.Credentials)
	require.Equal(t, cfg.Endpoints, result.Endpoints)
	require.Equal(t, "PSN", result.Platform)
	require.True(t, result.IssueDeviceAuth)
	require.Equal(t, 20*time.Second, result.Presence.ConnectTimeout)
	require.Equal(t, "Lobby", result.Status.Text)
	require.True(t, result.Status.IsJoinable)
	require.Equal(t, time.Hour, result.Friends.PresenceLifetime)
	require.True(t, result.CreateParty)
	require.Equal(t, 4, result.PartyConfig.MaxSize)
	require.Equal(t, "OPEN", result.PartyConfig.Joinability)
	require.Equal(t, cfg.HTTP.Timeout, result.HTTPClient.Timeout)
}

func TestEventLoggerStoresDeviceCredential(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device_auth.json")
	store, err := newCredentialStore(path, "")
	require.NoError(t, err)

	var output bytes.Buffer
	logger, err := buildLogger(config.LoggingConfig{Level: "info", Format: "json"}, &output, false)
	require.NoError(t, err)

	credential := testCredential
	eventLogger(logger, store)(client.Event{Type: client.EventDeviceAuthCreated, DeviceAuth: &credential})

	loaded, err := store.load()
	require.NoError(t, err)
	require.Equal(t, testCredential, loaded)
	require.True(t, strings.Contains(output.String(), "stored device credential"))
	require.NotContains(t, output.String(), testCredential.Secret)
}
