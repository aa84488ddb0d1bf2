// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bureau-foundation/partyline/platform"
	"github.com/bureau-foundation/partyline/rest"
)

const (
	tokenPath    = "/account/api/oauth/token"
	exchangePath = "/account/api/oauth/exchange"
	killPath     = "/account/api/oauth/sessions/kill"
)

// grant posts an OAuth grant with the purpose's client and converts
// the response into a session of that purpose.
func (m *Manager) grant(ctx context.Context, purpose platform.Purpose, form url.Values) (*Session, error) {
	client := m.clients.For(purpose)
	grantType := form.Get("grant_type")
	form.Set("token_type", "eg1")

	var response tokenResponse
	err := m.rest.Do(ctx, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.Account + tokenPath,
		Form:   form,
		Client: &client,
	}, &response)
	if err != nil {
		return nil, fmt.Errorf("%s grant for %s session: %w", grantType, purpose, err)
	}
	if response.AccessToken == "" {
		return nil, fmt.Errorf("%s grant for %s session returned no access token", grantType, purpose)
	}
	session := response.session(purpose, m.clock.Now())
	m.logger.Info("granted session",
		"purpose", purpose,
		"grant_type", grantType,
		"account_id", session.AccountID,
		"expires_at", session.AccessExpiry,
	)
	return session, nil
}

// exchangeCode asks the from session for a one-time exchange code.
func (m *Manager) exchangeCode(ctx context.Context, from platform.Purpose) (string, error) {
	var response struct {
		Code             string `json:"code"`
		ExpiresInSeconds int    `json:"expiresInSeconds"`
	}
	err := m.rest.DoAuthenticated(ctx, from, &rest.Request{
		Method: http.MethodGet,
		URL:    m.endpoints.Account + exchangePath,
	}, &response)
	if err != nil {
		return "", fmt.Errorf("creating exchange code from %s session: %w", from, err)
	}
	if response.Code == "" {
		return "", fmt.Errorf("exchange code response from %s session is empty", from)
	}
	return response.Code, nil
}

// exchangeSession derives a session of purpose from the from session.
func (m *Manager) exchangeSession(ctx context.Context, from, purpose platform.Purpose) (*Session, error) {
	code, err := m.exchangeCode(ctx, from)
	if err != nil {
		return nil, err
	}
	return m.grant(ctx, purpose, url.Values{
		"grant_type":    {"exchange_code"},
		"exchange_code": {code},
	})
}

// createDeviceAuth issues a new device credential for the account
// through the launcher session.
func (m *Manager) createDeviceAuth(ctx context.Context, accountID string) (DeviceAuth, error) {
	var credential DeviceAuth
	err := m.rest.DoAuthenticated(ctx, platform.PurposeLauncher, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.Account + "/account/api/public/account/" + url.PathEscape(accountID) + "/deviceAuth",
	}, &credential)
	if err != nil {
		return DeviceAuth{}, fmt.Errorf("creating device credential: %w", err)
	}
	if credential.AccountID == "" {
		credential.AccountID = accountID
	}
	if !credential.valid() {
		return DeviceAuth{}, fmt.Errorf("device credential response is incomplete")
	}
	return credential, nil
}

// killToken invalidates one access token server-side. A token the
// server no longer knows counts as killed.
func (m *Manager) killToken(ctx context.Context, token string) error {
	err := m.rest.Do(ctx, &rest.Request{
		Method: http.MethodDelete,
		URL:    m.endpoints.Account + killPath + "/" + url.PathEscape(token),
		Header: http.Header{"Authorization": {"bearer " + token}},
	}, nil)
	switch platform.KindOf(err) {
	case platform.KindTokenExpired, platform.KindNotFound:
		return nil
	}
	return err
}

// killOtherSessions invalidates every other session of the account.
func (m *Manager) killOtherSessions(ctx context.Context) error {
	err := m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodDelete,
		URL:    m.endpoints.Account + killPath,
		Query:  url.Values{"killType": {"OTHERS_ACCOUNT_CLIENT_SERVICE"}},
	}, nil)
	if err != nil {
		return fmt.Errorf("killing other sessions: %w", err)
	}
	return nil
}

// acceptAgreement accepts a pending end user license agreement, then
// requests game access. An account with nothing pending gets an empty
// response and is left alone.
func (m *Manager) acceptAgreement(ctx context.Context, accountID string) error {
	base := m.endpoints.EULA + "/eulatracking/api/public/agreements/fn"
	var pending struct {
		Version int `json:"version"`
	}
	err := m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodGet,
		URL:    base + "/account/" + url.PathEscape(accountID),
		Query:  url.Values{"locale": {"en"}},
	}, &pending)
	if err != nil {
		return fmt.Errorf("checking license agreement: %w", err)
	}
	if pending.Version == 0 {
		return nil
	}

	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/version/%d/account/%s/accept", base, pending.Version, url.PathEscape(accountID)),
		Query:  url.Values{"locale": {"en"}},
	}, nil)
	if err != nil {
		return fmt.Errorf("accepting license agreement version %d: %w", pending.Version, err)
	}
	m.logger.Info("accepted license agreement", "version", pending.Version, "account_id", accountID)

	err = m.rest.DoAuthenticated(ctx, platform.PurposePrimary, &rest.Request{
		Method: http.MethodPost,
		URL:    m.endpoints.Game + "/fortnite/api/game/v2/grant_access/" + url.PathEscape(accountID),
	}, nil)
	if err != nil {
		// Accounts that already hold access are rejected here.
		m.logger.Warn("requesting game access failed", "account_id", accountID, "error", err)
	}
	return nil
}
