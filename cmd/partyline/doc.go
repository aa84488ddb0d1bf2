// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Partyline logs in to the social platform, keeps presence connected
// and mirrors the account's party and friend list until interrupted.
//
// Credentials are taken, in order, from --exchange-code,
// --authorization-code, the stored device credential, or an
// interactive authorization code prompt. A device credential is issued
// after the first interactive login and stored under paths.state, as
// JSON or sealed to paths.identity with age.
//
// Usage:
//
//	partyline --config partyline.yaml
//	partyline --config partyline.yaml --authorization-code <code>
package main
