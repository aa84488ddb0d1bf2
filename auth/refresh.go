// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/bureau-foundation/partyline/lib/gate"
	"github.com/bureau-foundation/partyline/platform"
)

// Refresh replaces the session of purpose and returns the new one.
//
// Concurrent calls for the same purpose share one network refresh and
// all receive the same *Session. A caller may abandon the wait through
// ctx; the refresh itself runs on a detached context bounded by
// RefreshTimeout, so the gate it holds is always released.
func (m *Manager) Refresh(ctx context.Context, purpose platform.Purpose) (*Session, error) {
	detached := context.WithoutCancel(ctx)
	result := m.flight.DoChan(string(purpose), func() (any, error) {
		return m.refresh(detached, purpose)
	})

	timer := m.clock.NewTimer(m.refreshTimeout)
	defer timer.Stop()
	select {
	case outcome := <-result:
		if outcome.Err != nil {
			return nil, fmt.Errorf("auth: refreshing %s session: %w", purpose, outcome.Err)
		}
		return outcome.Val.(*Session), nil
	case <-timer.C:
		return nil, &platform.TimeoutError{Operation: string(purpose) + " session refresh", Timeout: m.refreshTimeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh is the single in-flight refresh of purpose. It closes the
// purpose's gate for its whole duration.
func (m *Manager) refresh(ctx context.Context, purpose platform.Purpose) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	release, ok := m.store.gate(purpose).TryClose()
	if !ok {
		return nil, fmt.Errorf("refresh gate of %s already held", purpose)
	}
	defer release()

	current := m.store.Get(purpose)
	if current == nil {
		return nil, fmt.Errorf("%w for %s", ErrNotAuthenticated, purpose)
	}
	session, err := m.renew(ctx, current)
	if err != nil {
		return nil, err
	}
	if session.DisplayName == "" {
		session.DisplayName = current.DisplayName
	}
	m.install(session)
	return session, nil
}

// renew picks the refresh strategy for current.
func (m *Manager) renew(ctx context.Context, current *Session) (*Session, error) {
	purpose := current.Purpose
	if purpose == platform.PurposeClientCredentials {
		return m.grant(ctx, purpose, url.Values{"grant_type": {"client_credentials"}})
	}

	if current.CanRefresh(m.clock.Now()) {
		session, err := m.grant(ctx, purpose, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {current.RefreshToken},
		})
		if err == nil {
			return session, nil
		}
		if platform.KindOf(err) != platform.KindAuthenticationFailed {
			return nil, err
		}
		if purpose == platform.PurposePrimary {
			return m.reauthenticate(ctx, err)
		}
		m.logger.Warn("refresh token rejected, deriving session from primary", "purpose", purpose, "error", err)
	}

	switch purpose {
	case platform.PurposeLauncher, platform.PurposeChat:
		return m.exchangeSession(ctx, platform.PurposePrimary, purpose)
	case platform.PurposePrimary:
		return m.reauthenticate(ctx, errors.New("refresh token expired"))
	default:
		return nil, fmt.Errorf("no refresh strategy for %s session", purpose)
	}
}

// reauthenticate replaces the primary session from the known device
// credential, once. Without one, cause is returned as an
// authentication failure.
func (m *Manager) reauthenticate(ctx context.Context, cause error) (*Session, error) {
	credential, ok := m.DeviceAuth()
	if !ok {
		if errors.Is(cause, platform.ErrAuthenticationFailed) {
			return nil, cause
		}
		return nil, fmt.Errorf("%w: %w", platform.ErrAuthenticationFailed, cause)
	}
	m.logger.Warn("primary refresh failed, re-authenticating with device credential",
		"account_id", credential.AccountID,
		"error", cause,
	)
	return m.grant(ctx, platform.PurposePrimary, credential.form())
}

// waitForRefresh waits, bounded by RefreshTimeout, while a refresh of
// purpose is in flight.
func (m *Manager) waitForRefresh(ctx context.Context, purpose platform.Purpose) error {
	g := m.store.gate(purpose)
	if !g.IsClosed() {
		return nil
	}
	timer := m.clock.NewTimer(m.refreshTimeout)
	defer timer.Stop()
	if err := g.Wait(ctx, timer.C); err != nil {
		if errors.Is(err, gate.ErrExpired) {
			return &platform.TimeoutError{Operation: string(purpose) + " session refresh", Timeout: m.refreshTimeout}
		}
		return err
	}
	return nil
}

// tokenSource adapts the Manager to rest.TokenSource.
type tokenSource struct{ m *Manager }

func (s tokenSource) AccessToken(ctx context.Context, purpose platform.Purpose) (string, error) {
	return s.m.AccessToken(ctx, purpose)
}

// Refresh refreshes purpose unless the session already moved past the
// rejected token, which happens when several requests fail with the
// same token and the first one's refresh has completed.
func (s tokenSource) Refresh(ctx context.Context, purpose platform.Purpose, stale string) error {
	if err := s.m.waitForRefresh(ctx, purpose); err != nil {
		return err
	}
	if current := s.m.store.Get(purpose); current != nil && current.AccessToken != stale {
		return nil
	}
	_, err := s.m.Refresh(ctx, purpose)
	return err
}
