// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed provides age encryption of small credential files.
// It wraps filippo.io/age for the operations partyline needs: generate
// x25519 keypairs, encrypt to recipients, and decrypt with an identity
// file.
//
// Ciphertext is ASCII-armored so sealed files stay printable. [Open]
// also accepts binary age files produced by the age command.
//
// Key exports:
//
//   - [GenerateKeypair] -- new age x25519 keypair
//   - [LoadIdentity] / [ParseIdentity] -- identities from a key file or string
//   - [Encrypt] -- encrypt to age public key recipients
//   - [Identity.Seal] / [Identity.Open] -- encrypt to and decrypt with one identity
//   - [Identity.WriteFile] / [Identity.ReadFile] -- sealed files, written atomically
//
// Used by the partyline binary to persist device credentials.
package sealed
