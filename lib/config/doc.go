// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for partyline.
//
// Configuration is loaded from a single file specified by either the
// PARTYLINE_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search.
//
// The configuration file supports environment-specific sections
// (development, production) that override base values when
// [Config].Environment matches. Production without an explicit section
// logs at info level as JSON.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${PARTYLINE_STATE}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
//
// Durations are written as Go duration strings ("15s", "2m").
package config
