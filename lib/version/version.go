// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Release is the semantic version, bumped by hand for releases.
var Release = "0.1.0-dev"

// Stamped with -ldflags -X. Empty values fall back to the VCS
// settings the go command embeds in the binary.
var (
	GitCommit string
	GitDirty  string
	BuildTime string
)

// Build identifies the binary's source.
type Build struct {
	Commit string
	Dirty  bool
	Time   string
}

// Current returns the build stamp: -ldflags values first, then the
// embedded VCS settings, then "unknown".
func Current() Build {
	build := Build{Commit: GitCommit, Dirty: GitDirty == "true", Time: BuildTime}
	if info, ok := debug.ReadBuildInfo(); ok {
		build = build.withSettings(info.Settings)
	}
	if build.Commit == "" {
		build.Commit = "unknown"
	}
	if build.Time == "" {
		build.Time = "unknown"
	}
	return build
}

func (b Build) withSettings(settings []debug.BuildSetting) Build {
	stamped := b.Commit != ""
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if !stamped {
				b.Commit = setting.Value
				if len(b.Commit) > 12 {
					b.Commit = b.Commit[:12]
				}
			}
		case "vcs.modified":
			if !stamped {
				b.Dirty = setting.Value == "true"
			}
		case "vcs.time":
			if b.Time == "" {
				b.Time = setting.Value
			}
		}
	}
	return b
}

// Info returns the one-line form used by --version:
// "0.1.0-dev (abc123-dirty, 2026-01-02T03:04:05Z)".
func Info() string {
	build := Current()
	commit := build.Commit
	if build.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s (%s, %s)", Release, commit, build.Time)
}

// Print writes binary's --version line to stdout, with the Go
// toolchain and platform.
func Print(binary string) {
	fmt.Printf("%s %s %s %s/%s\n", binary, Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent is sent on every request to the remote sync service.
func UserAgent() string {
	return "statesync-agent/" + Release
}
