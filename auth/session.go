// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/bureau-foundation/partyline/platform"
)

// Session is one OAuth session. Sessions are immutable: a refresh
// replaces the stored *Session wholesale, so a pointer obtained from
// the store stays internally consistent.
type Session struct {
	Purpose     platform.Purpose
	AccountID   string
	DisplayName string
	ClientID    string

	AccessToken  string
	AccessExpiry time.Time

	// RefreshToken is empty for grants that issue none (client
	// credentials).
	RefreshToken  string
	RefreshExpiry time.Time
}

// Expired reports whether the access token expires within skew of now.
// A zero expiry never expires.
func (s *Session) Expired(now time.Time, skew time.Duration) bool {
	if s.AccessExpiry.IsZero() {
		return false
	}
	return !now.Add(skew).Before(s.AccessExpiry)
}

// CanRefresh reports whether the session carries a refresh token that
// is still valid at now.
func (s *Session) CanRefresh(now time.Time) bool {
	if s.RefreshToken == "" {
		return false
	}
	return s.RefreshExpiry.IsZero() || now.Before(s.RefreshExpiry)
}

// tokenResponse is the token endpoint's grant response.
type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	ExpiresIn        int       `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	TokenType        string    `json:"token_type"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpires   int       `json:"refresh_expires"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	AccountID        string    `json:"account_id"`
	ClientID         string    `json:"client_id"`
	DisplayName      string    `json:"displayName"`
}

// session converts a grant response into a Session. The access expiry
// comes from expires_at, then the token's own exp claim, then
// expires_in relative to now.
func (r *tokenResponse) session(purpose platform.Purpose, now time.Time) *Session {
	session := &Session{
		Purpose:       purpose,
		AccountID:     r.AccountID,
		DisplayName:   r.DisplayName,
		ClientID:      r.ClientID,
		AccessToken:   r.AccessToken,
		AccessExpiry:  r.ExpiresAt,
		RefreshToken:  r.RefreshToken,
		RefreshExpiry: r.RefreshExpiresAt,
	}
	if session.AccessExpiry.IsZero() {
		if expiry, ok := tokenExpiry(r.AccessToken); ok {
			session.AccessExpiry = expiry
		} else if r.ExpiresIn > 0 {
			session.AccessExpiry = now.Add(time.Duration(r.ExpiresIn) * time.Second)
		}
	}
	if session.RefreshExpiry.IsZero() && r.RefreshToken != "" && r.RefreshExpires > 0 {
		session.RefreshExpiry = now.Add(time.Duration(r.RefreshExpires) * time.Second)
	}
	return session
}

// tokenExpiry reads the exp claim of an "eg1~"-prefixed JWT access
// token without verifying its signature. The platform is the only
// party that verifies these tokens; the client only schedules
// refreshes from them.
func tokenExpiry(token string) (time.Time, bool) {
	token = strings.TrimPrefix(token, "eg1~")
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
