// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/bureau-foundation/partyline/auth"
	"github.com/bureau-foundation/partyline/lib/sealed"
)

// credentialStore persists the device credential, sealed with age when
// an identity is configured and as JSON otherwise.
type credentialStore struct {
	path     string
	identity *sealed.Identity
}

func newCredentialStore(path, identityPath string) (*credentialStore, error) {
	store := &credentialStore{path: path}
	if identityPath != "" {
		identity, err := sealed.LoadIdentity(identityPath)
		if err != nil {
			return nil, fmt.Errorf("loading credential identity: %w", err)
		}
		store.identity = identity
	}
	return store, nil
}

// exists reports whether a stored credential is present.
func (s *credentialStore) exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *credentialStore) load() (auth.DeviceAuth, error) {
	if s.identity == nil {
		return auth.LoadDeviceAuth(s.path)
	}
	plaintext, err := s.identity.ReadFile(s.path)
	if err != nil {
		return auth.DeviceAuth{}, fmt.Errorf("reading sealed device credential: %w", err)
	}
	return auth.ParseDeviceAuth(plaintext)
}

func (s *credentialStore) save(credential auth.DeviceAuth) error {
	data, err := json.MarshalIndent(credential, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding device credential: %w", err)
	}
	if s.identity != nil {
		err = s.identity.WriteFile(s.path, data)
	} else {
		err = sealed.WriteFileAtomic(s.path, append(data, '\n'))
	}
	if err != nil {
		return fmt.Errorf("storing device credential: %w", err)
	}
	return nil
}

// selectCredentials picks the login credential: an explicit code wins,
// then the stored device credential, then an interactive prompt.
func selectCredentials(store *credentialStore, authorizationCode, exchangeCode string) auth.Credentials {
	switch {
	case exchangeCode != "":
		return auth.ExchangeCode{Code: exchangeCode}
	case authorizationCode != "":
		return auth.AuthorizationCode{Code: authorizationCode}
	case store.exists():
		return auth.Provider(func(context.Context) (auth.Credentials, error) {
			return store.load()
		})
	}
	return auth.Provider(func(context.Context) (auth.Credentials, error) {
		code, err := promptAuthorizationCode(os.Stdin, os.Stderr)
		if err != nil {
			return nil, err
		}
		return auth.AuthorizationCode{Code: code}, nil
	})
}

var errNoTerminal = errors.New("no stored device credential and no terminal for an authorization code prompt (use --authorization-code)")

// promptAuthorizationCode reads an authorization code from the
// terminal with echo disabled.
func promptAuthorizationCode(input *os.File, output io.Writer) (string, error) {
	descriptor := int(input.Fd())
	if !term.IsTerminal(descriptor) {
		return "", errNoTerminal
	}
	fmt.Fprint(output, "Authorization code: ")
	code, err := term.ReadPassword(descriptor)
	fmt.Fprintln(output)
	if err != nil {
		return "", fmt.Errorf("reading authorization code: %w", err)
	}
	trimmed := strings.TrimSpace(string(code))
	if trimmed == "" {
		return "", fmt.Errorf("authorization code is empty")
	}
	return trimmed, nil
}
