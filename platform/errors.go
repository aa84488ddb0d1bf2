// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package platform

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failure by how a caller should react to it.
type Kind int

const (
	// KindUnknown is any failure that fits no other kind. Not retried.
	KindUnknown Kind = iota

	// KindAuthenticationFailed is a bad or expired credential. Not
	// retryable without new input.
	KindAuthenticationFailed

	// KindTokenExpired is an invalid or expired access token. Retryable
	// after a session refresh.
	KindTokenExpired

	// KindRateLimited is a throttling response. Retryable after the
	// server-provided delay.
	KindRateLimited

	// KindTransientServer is a 5xx response. Retryable a bounded number
	// of times.
	KindTransientServer

	// KindStaleRevision is a meta patch submitted against an outdated
	// revision. Absorbed by the party patch queue.
	KindStaleRevision

	// KindPermissionDenied is a forbidden operation (e.g. a non-captain
	// patching party meta). Fatal for that mutation.
	KindPermissionDenied

	// KindNotFound is an absent party, user or friend.
	KindNotFound

	// KindEventTimeout is a waited-for condition that did not occur in
	// time.
	KindEventTimeout
)

var kindNames = map[Kind]string{
	KindUnknown:              "unknown",
	KindAuthenticationFailed: "authentication_failed",
	KindTokenExpired:         "token_expired",
	KindRateLimited:          "rate_limited",
	KindTransientServer:      "transient_server_error",
	KindStaleRevision:        "stale_revision",
	KindPermissionDenied:     "permission_denied",
	KindNotFound:             "not_found",
	KindEventTimeout:         "event_timeout",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinels, one per Kind. *APIError and *TimeoutError match these via
// errors.Is.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTokenExpired         = errors.New("token expired")
	ErrRateLimited          = errors.New("rate limited")
	ErrTransientServer      = errors.New("transient server error")
	ErrStaleRevision        = errors.New("stale revision")
	ErrPermissionDenied     = errors.New("permission denied")
	ErrNotFound             = errors.New("not found")
	ErrEventTimeout         = errors.New("event timeout")
)

var kindSentinels = map[Kind]error{
	KindAuthenticationFailed: ErrAuthenticationFailed,
	KindTokenExpired:         ErrTokenExpired,
	KindRateLimited:          ErrRateLimited,
	KindTransientServer:      ErrTransientServer,
	KindStaleRevision:        ErrStaleRevision,
	KindPermissionDenied:     ErrPermissionDenied,
	KindNotFound:             ErrNotFound,
	KindEventTimeout:         ErrEventTimeout,
}

// Platform error codes the engine reacts to.
const (
	ErrCodeInvalidToken            = "errors.com.epicgames.common.oauth.invalid_token"
	ErrCodeTokenVerificationFailed = "errors.com.epicgames.common.authentication.token_verification_failed"
	ErrCodeAuthenticationFailed    = "errors.com.epicgames.common.authentication.authentication_failed"
	ErrCodeInvalidRefreshToken     = "errors.com.epicgames.account.auth_token.invalid_refresh_token"
	ErrCodeInvalidAccountCreds     = "errors.com.epicgames.account.invalid_account_credentials"
	ErrCodeExchangeCodeNotFound    = "errors.com.epicgames.account.oauth.exchange_code_not_found"
	ErrCodeAuthCodeNotFound        = "errors.com.epicgames.account.oauth.authorization_code_not_found"
	ErrCodeThrottled               = "errors.com.epicgames.common.throttled"
	ErrCodeStaleRevision           = "errors.com.epicgames.social.party.stale_revision"
	ErrCodePartyNotFound           = "errors.com.epicgames.social.party.party_not_found"
	ErrCodeMemberNotFound          = "errors.com.epicgames.social.party.member_not_found"
	ErrCodePartyChangeForbidden    = "errors.com.epicgames.social.party.party_change_forbidden"
	ErrCodeMemberChangeForbidden   = "errors.com.epicgames.social.party.member_state_change_forbidden"
	ErrCodeNotLeader               = "errors.com.epicgames.social.party.party_not_leader"
	ErrCodeAccountNotFound         = "errors.com.epicgames.account.account_not_found"
	ErrCodeFriendshipNotFound      = "errors.com.epicgames.friends.friendship_not_found"
	ErrCodeMissingPermission       = "errors.com.epicgames.common.missing_permission"
)

// APIError is a structured error response from a platform service.
// Callers extract it with errors.As:
//
//	var apiErr *platform.APIError
//	if errors.As(err, &apiErr) && apiErr.Code == platform.ErrCodePartyNotFound { ... }
type APIError struct {
	// Code is the dotted platform error code.
	Code string `json:"errorCode"`
	// Message is the human-readable description.
	Message string `json:"errorMessage"`
	// MessageVars are the positional values substituted into Message.
	// Stale revision errors carry the authoritative revision at index 1;
	// throttling errors carry the retry delay in seconds at index 0.
	MessageVars []string `json:"messageVars"`
	// NumericCode is the numeric form of Code.
	NumericCode int `json:"numericErrorCode"`
	// Service is the originating service name.
	Service string `json:"originatingService"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
	// Method and URL identify the failed request.
	Method string `json:"-"`
	URL    string `json:"-"`
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = http.StatusText(e.StatusCode)
	}
	if e.Message == "" {
		return fmt.Sprintf("platform: %s (%d) from %s %s", code, e.StatusCode, e.Method, e.URL)
	}
	return fmt.Sprintf("platform: %s (%d) from %s %s: %s", code, e.StatusCode, e.Method, e.URL, e.Message)
}

// Kind classifies the error from its code first and its HTTP status
// second.
func (e *APIError) Kind() Kind {
	switch e.Code {
	case ErrCodeInvalidToken, ErrCodeTokenVerificationFailed:
		return KindTokenExpired
	case ErrCodeInvalidRefreshToken, ErrCodeInvalidAccountCreds, ErrCodeExchangeCodeNotFound,
		ErrCodeAuthCodeNotFound, ErrCodeAuthenticationFailed:
		return KindAuthenticationFailed
	case ErrCodeThrottled:
		return KindRateLimited
	case ErrCodeStaleRevision:
		return KindStaleRevision
	case ErrCodePartyChangeForbidden, ErrCodeMemberChangeForbidden, ErrCodeNotLeader, ErrCodeMissingPermission:
		return KindPermissionDenied
	case ErrCodePartyNotFound, ErrCodeMemberNotFound, ErrCodeAccountNotFound, ErrCodeFriendshipNotFound:
		return KindNotFound
	}

	switch {
	case strings.HasPrefix(e.Code, "errors.com.epicgames.account.oauth."):
		return KindAuthenticationFailed
	case e.StatusCode == http.StatusTooManyRequests:
		return KindRateLimited
	case e.StatusCode >= 500:
		return KindTransientServer
	case e.StatusCode == http.StatusForbidden:
		return KindPermissionDenied
	case e.StatusCode == http.StatusNotFound, strings.HasSuffix(e.Code, "not_found"):
		return KindNotFound
	}
	return KindUnknown
}

// Is matches the sentinel of the error's Kind.
func (e *APIError) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind()]
	return ok && sentinel == target
}

// throttleMessagePattern extracts the delay from messages like
// "... please try again in 5 second(s)."
var throttleMessagePattern = regexp.MustCompile(`(\d+)\s*second`)

// RetryAfterHint returns the retry delay carried in the error body:
// first the structured message variable, then the message text.
// Returns false when neither carries a delay.
func (e *APIError) RetryAfterHint() (time.Duration, bool) {
	if len(e.MessageVars) > 0 {
		if seconds, err := strconv.Atoi(strings.TrimSpace(e.MessageVars[0])); err == nil && seconds >= 0 {
			return time.Duration(seconds) * time.Second, true
		}
	}
	if match := throttleMessagePattern.FindStringSubmatch(e.Message); match != nil {
		if seconds, err := strconv.Atoi(match[1]); err == nil {
			return time.Duration(seconds) * time.Second, true
		}
	}
	return 0, false
}

// StaleRevision returns the authoritative revision carried by a stale
// revision error (message variable index 1).
func (e *APIError) StaleRevision() (int64, bool) {
	if e.Kind() != KindStaleRevision || len(e.MessageVars) < 2 {
		return 0, false
	}
	revision, err := strconv.ParseInt(strings.TrimSpace(e.MessageVars[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return revision, true
}

// IsAPIError reports whether err is an *APIError with the given code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// KindOf returns the Kind of err: the APIError kind, KindEventTimeout
// for timeouts, KindUnknown otherwise.
func KindOf(err error) Kind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind()
	}
	if errors.Is(err, ErrEventTimeout) {
		return KindEventTimeout
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// Retryable reports whether err is transient (rate limiting, server
// errors, expired tokens). PermissionDenied, NotFound and
// AuthenticationFailed are not.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransientServer, KindTokenExpired:
		return true
	}
	return false
}

// TimeoutError reports that a bounded wait expired.
type TimeoutError struct {
	// Operation names what was being waited for.
	Operation string
	// Timeout is the bound that expired.
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for %s", e.Timeout, e.Operation)
}

// Is matches ErrEventTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrEventTimeout }
