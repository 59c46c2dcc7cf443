// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] and [SocketPath] create short temporary paths for unix
// sockets; sun_path is limited to 108 bytes and t.TempDir() paths can
// exceed it. [WriteFile] drops a fixture file into a temporary
// directory.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so that tests never hang on a channel that is never
// written. They are the only place tests use wall-clock timeouts.
package testutil
