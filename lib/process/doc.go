// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the entrypoint error handler for the
// statesync binaries. Fatal is the one place raw error output is
// written to stderr, for failures from run() before or after the
// structured logger exists. Errors implementing ExitCoder choose their
// own exit status.
package process
