// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of Huddle binaries.
//
// Release builds inject values with -ldflags:
//
//	go build -ldflags "-X github.com/huddle-dev/huddle/lib/version.Version=1.2.0 -X github.com/huddle-dev/huddle/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Development builds fall back to the VCS stamp the Go toolchain embeds
// in the binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set via -ldflags at build time.
var (
	Version   = "0.1.0-dev"
	GitCommit = ""
	BuildTime = ""
)

// Commit returns the short commit of the build, or "unknown".
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		var revision string
		var modified bool
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				revision = setting.Value
			case "vcs.modified":
				modified = setting.Value == "true"
			}
		}
		if len(revision) > 12 {
			revision = revision[:12]
		}
		if revision != "" && modified {
			revision += "-dirty"
		}
		if revision != "" {
			return revision
		}
	}
	return "unknown"
}

// Info returns "version (commit)" or "version (commit, time)".
func Info() string {
	if BuildTime != "" {
		return fmt.Sprintf("%s (%s, %s)", Version, Commit(), BuildTime)
	}
	return fmt.Sprintf("%s (%s)", Version, Commit())
}

// Full adds the Go version and platform to Info.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s", Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent returns the HTTP User-Agent for a Huddle component.
func UserAgent(component string) string {
	return fmt.Sprintf("%s/%s", component, Version)
}
