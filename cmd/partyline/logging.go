// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/partyline/client"
	"github.com/bureau-foundation/partyline/lib/config"
)

// newLogger builds the process logger. Format auto uses a text handler
// when stderr is a terminal and JSON otherwise.
func newLogger(logging config.LoggingConfig) (*slog.Logger, error) {
	return buildLogger(logging, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
}

func buildLogger(logging config.LoggingConfig, output io.Writer, terminal bool) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logging.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	options := &slog.HandlerOptions{Level: level}

	format := logging.Format
	if format == "auto" || format == "" {
		format = "json"
		if terminal {
			format = "text"
		}
	}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(output, options)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(output, options)), nil
	}
	return nil, fmt.Errorf("logging.format: unknown format %q", logging.Format)
}

// eventLogger logs engine events and persists newly issued device
// credentials.
func eventLogger(logger *slog.Logger, store *credentialStore) func(client.Event) {
	return func(event client.Event) {
		switch event.Type {
		case client.EventDeviceAuthCreated:
			if err := store.save(*event.DeviceAuth); err != nil {
				logger.Error("device credential not stored", "error", err)
				return
			}
			logger.Info("stored device credential", "account_id", event.DeviceAuth.AccountID, "path", store.path)
		case client.EventReady, client.EventDisconnected, client.EventReconnected:
			logger.Info("connection "+event.Type.String())
		case client.EventParty:
			logger.Info("party event",
				"type", event.Party.Type.String(),
				"party_id", event.Party.PartyID,
				"account_id", event.Party.AccountID,
			)
		case client.EventFriend:
			logger.Info("friend event", "type", event.Friend.Type.String(), "account_id", event.Friend.AccountID)
		case client.EventPresence:
			logger.Debug("presence",
				"account_id", event.Presence.AccountID,
				"available", event.Presence.Available,
				"status", event.Presence.Status,
			)
		case client.EventChat:
			logger.Info("chat message", "account_id", event.Chat.AccountID, "room", event.Chat.Room)
		}
	}
}
