// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package platform holds the vocabulary shared by every partyline
// component: session purposes, OAuth client identities, service
// endpoints, and the error taxonomy.
//
// All remote failures surface as [*APIError], carrying the platform's
// dotted error code (errors.com.epicgames.*), the message variables,
// the numeric code, and the HTTP status. An APIError classifies itself
// into a [Kind], and implements Is so callers can match the sentinel
// for its kind through any amount of wrapping:
//
//	if errors.Is(err, platform.ErrNotFound) { ... }
//
// Waits that did not complete in time return [*TimeoutError], which
// matches [ErrEventTimeout].
package platform
