// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rest is the HTTP transport every partyline REST call goes
// through.
//
// [Client.Do] issues one logical request and applies the retry policy
// before an error ever reaches the caller:
//
//   - 5xx responses are retried immediately, up to MaxRetries extra
//     attempts.
//   - 429 responses and the throttling error code are retried once,
//     after sleeping for the server's retry-after delay (Retry-After
//     header, then messageVars[0], then the message text). The rate
//     limit retry happens at the same attempt count and does not spend
//     the 5xx budget.
//   - Everything else is returned as a *platform.APIError with the
//     remote error code and HTTP status preserved.
//
// [Client.DoAuthenticated] resolves a bearer token for a session
// purpose through the configured [TokenSource] (which blocks while that
// session is refreshing) and, when the response says the token is
// invalid or expired, refreshes once and retries once.
//
// Request URLs are absolute: callers build them from
// platform.Endpoints.
package rest
