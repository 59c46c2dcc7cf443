// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for statesync-agent.
//
// Configuration is loaded from a single file specified by either the
// STATESYNC_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no automatic file search.
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. Production defaults to gzip-compressed submissions.
//
// After loading, ${VAR} and ${VAR:-default} patterns in path fields are
// expanded, and the three endpoint URLs may be replaced by
// STATESYNC_MANIFEST_URL, STATESYNC_VERSION_URL, and STATESYNC_SUBMIT_URL.
// No other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Endpoints, Submission, Manifest, Query, Socket, Metrics
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other statesync packages.
package config
