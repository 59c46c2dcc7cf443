// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for the
// statesync binaries.
//
// Release builds stamp the commit with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/statesync/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Builds without the stamp report the VCS revision the go command
// embeds, so a plain "go build" inside a checkout is still traceable.
//
// [UserAgent] is sent on every request to the remote sync service so
// that the server can tell agent releases apart.
package version
