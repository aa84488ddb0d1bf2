// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAPIErrorKind(t *testing.T) {
	tests := []struct {
		name  string
		err   *APIError
		kind  Kind
		match error
	}{
		{"invalid token", &APIError{Code: ErrCodeInvalidToken, StatusCode: 401}, KindTokenExpired, ErrTokenExpired},
		{"invalid refresh token", &APIError{Code: ErrCodeInvalidRefreshToken, StatusCode: 400}, KindAuthenticationFailed, ErrAuthenticationFailed},
		{"oauth prefix", &APIError{Code: "errors.com.epicgames.account.oauth.expired_exchange_code_session", StatusCode: 400}, KindAuthenticationFailed, ErrAuthenticationFailed},
		{"throttled code", &APIError{Code: ErrCodeThrottled, StatusCode: 429}, KindRateLimited, ErrRateLimited},
		{"bare 429", &APIError{StatusCode: http.StatusTooManyRequests}, KindRateLimited, ErrRateLimited},
		{"stale revision", &APIError{Code: ErrCodeStaleRevision, StatusCode: 409}, KindStaleRevision, ErrStaleRevision},
		{"server error", &APIError{StatusCode: 503}, KindTransientServer, ErrTransientServer},
		{"not leader", &APIError{Code: ErrCodeNotLeader, StatusCode: 403}, KindPermissionDenied, ErrPermissionDenied},
		{"bare 403", &APIError{StatusCode: 403}, KindPermissionDenied, ErrPermissionDenied},
		{"party not found", &APIError{Code: ErrCodePartyNotFound, StatusCode: 404}, KindNotFound, ErrNotFound},
		{"suffix not found", &APIError{Code: "errors.com.epicgames.social.party.ping_not_found", StatusCode: 400}, KindNotFound, ErrNotFound},
		{"other client error", &APIError{Code: "errors.com.epicgames.common.bad_request", StatusCode: 400}, KindUnknown, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require.Equal(t, test.kind, test.err.Kind())
			wrapped := fmt.Errorf("party: patch: %w", test.err)
			require.Equal(t, test.kind, KindOf(wrapped))
			if test.match != nil {
				require.ErrorIs(t, wrapped, test.match)
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	t.Run("message vars first", func(t *testing.T) {
		err := &APIError{Code: ErrCodeThrottled, MessageVars: []string{"7"}, Message: "try again in 3 second(s)"}
		delay, ok := err.RetryAfterHint()
		require.True(t, ok)
		require.Equal(t, 7*time.Second, delay)
	})
	t.Run("message text fallback", func(t *testing.T) {
		err := &APIError{Code: ErrCodeThrottled, Message: "Operation access is limited by throttling policy, please try again in 3 second(s)."}
		delay, ok := err.RetryAfterHint()
		require.True(t, ok)
		require.Equal(t, 3*time.Second, delay)
	})
	t.Run("absent", func(t *testing.T) {
		_, ok := (&APIError{Code: ErrCodeThrottled}).RetryAfterHint()
		require.False(t, ok)
	})
}

func TestStaleRevision(t *testing.T) {
	err := &APIError{Code: ErrCodeStaleRevision, MessageVars: []string{"5", "7"}}
	revision, ok := err.StaleRevision()
	require.True(t, ok)
	require.Equal(t, int64(7), revision)

	_, ok = (&APIError{Code: ErrCodeStaleRevision, MessageVars: []string{"5"}}).StaleRevision()
	require.False(t, ok)

	_, ok = (&APIError{Code: ErrCodePartyNotFound, MessageVars: []string{"5", "7"}}).StaleRevision()
	require.False(t, ok)
}

func TestTimeoutError(t *testing.T) {
	err := fmt.Errorf("xmpp: join room: %w", &TimeoutError{Operation: "room join", Timeout: time.Second})
	require.ErrorIs(t, err, ErrEventTimeout)
	require.Equal(t, KindEventTimeout, KindOf(err))
	require.False(t, Retryable(err))
	require.True(t, Retryable(&APIError{StatusCode: 502}))
	require.False(t, Retryable(errors.New("plain")))
}

func TestIsAPIError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &APIError{Code: ErrCodePartyNotFound})
	require.True(t, IsAPIError(err, ErrCodePartyNotFound))
	require.False(t, IsAPIError(err, ErrCodeStaleRevision))
	require.False(t, IsAPIError(errors.New("plain"), ErrCodePartyNotFound))
}
