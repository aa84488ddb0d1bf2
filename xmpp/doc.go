// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package xmpp maintains the presence connection: XMPP over WebSocket
// (RFC 7395) to the platform's presence service.
//
// A [Conn] authenticates with SASL PLAIN using the account id and a
// fresh access token, binds a per-connection resource, and then keeps
// the stream alive with XEP-0199 pings. When the stream breaks it
// reconnects with exponential backoff, re-broadcasts the last presence
// and rejoins every tracked group room exactly once before calling
// OnReconnect.
//
// Inbound stanzas are classified into typed events ([RelationshipEvent],
// [PresenceEvent], [PartyNotification], [ChatMessage]) and handed to the
// configured handler from a dedicated dispatch goroutine, in arrival
// order. The read loop never waits on handler work, so a handler may
// itself call back into the Conn.
//
// This is not a general XMPP client: only the stanzas the platform
// uses are understood, and everything else is logged and dropped.
package xmpp
