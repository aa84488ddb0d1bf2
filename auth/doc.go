// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package auth manages the OAuth sessions of one platform account.
//
// A [Manager] holds one [Session] per [platform.Purpose] in a [Store].
// [Manager.Authenticate] turns a credential (device secret, exchange
// code, authorization code, refresh token, or a launcher chain) into
// the primary session and then derives the auxiliary sessions the
// configuration asks for. Sessions are refreshed proactively shortly
// before they expire and on demand when the REST client sees a
// rejected token.
//
// Refresh is deduplicated per purpose: concurrent callers share one
// network refresh and all observe the same resulting session. While a
// refresh is in flight the purpose's gate is closed and token readers
// wait for it to reopen instead of reading a token that is about to be
// replaced.
//
// The manager never writes files. Newly issued device credentials are
// handed to Config.OnDeviceAuthCreated for the caller to persist.
package auth
