// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for partyline packages.
//
// [RequireReceive], [RequireClosed], [RequireNoReceive] and
// [Eventually] wrap the timeout safety valve (select with a wall-clock
// fallback) so tests never hang when an expected event does not
// arrive. They are the only place test code uses real timeouts; the
// code under test always runs on a fake clock or completes on its own.
//
// All helpers call Fatalf on failure.
package testutil
