// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
)

// BwrapMode selects whether commands run inside bubblewrap.
type BwrapMode string

const (
	// BwrapAuto confines commands when bwrap is installed.
	BwrapAuto BwrapMode = "auto"

	// BwrapAlways requires bwrap; Spawn fails without it.
	BwrapAlways BwrapMode = "always"

	// BwrapNever runs commands directly in the workspace.
	BwrapNever BwrapMode = "never"
)

// ParseBwrapMode parses a configuration value. Empty means auto.
func ParseBwrapMode(value string) (BwrapMode, error) {
	switch BwrapMode(value) {
	case "", BwrapAuto:
		return BwrapAuto, nil
	case BwrapAlways, BwrapNever:
		return BwrapMode(value), nil
	default:
		return "", fmt.Errorf("unknown bwrap mode %q (want auto, always, or never)", value)
	}
}

// WorkspaceMount is where the project workspace appears inside the
// sandbox.
const WorkspaceMount = "/workspace"

// DefaultSystemBinds are host paths bound read-only into the sandbox
// when they exist: enough for a toolchain such as node and npm to run
// and reach package registries.
var DefaultSystemBinds = []string{
	"/usr",
	"/bin",
	"/sbin",
	"/lib",
	"/lib32",
	"/lib64",
	"/opt",
	"/etc/alternatives",
	"/etc/ssl",
	"/etc/ca-certificates",
	"/etc/pki",
	"/etc/resolv.conf",
	"/etc/hosts",
	"/etc/nsswitch.conf",
	"/etc/passwd",
	"/etc/group",
	"/etc/localtime",
}

// BwrapOptions holds options for building a bwrap command.
type BwrapOptions struct {
	// Workspace is the host directory bound read-write at /workspace.
	Workspace string

	// Command is the command to run inside the sandbox.
	Command []string

	// Env is the complete environment inside the sandbox.
	Env map[string]string

	// SystemBinds overrides DefaultSystemBinds.
	SystemBinds []string
}

// BwrapBuilder builds bubblewrap command-line arguments.
type BwrapBuilder struct {
	args []string

	// exists reports whether a host path exists. Tests replace it.
	exists func(path string) bool
}

// NewBwrapBuilder creates a new builder.
func NewBwrapBuilder() *BwrapBuilder {
	return &BwrapBuilder{
		exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Build constructs the bwrap arguments from options.
func (b *BwrapBuilder) Build(opts *BwrapOptions) ([]string, error) {
	if opts.Workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	b.args = []string{}

	// The network namespace stays shared: the dev server must be
	// reachable from the host, and installs need the registry.
	b.args = append(b.args, "--unshare-pid", "--unshare-ipc", "--unshare-uts")
	b.args = append(b.args, "--die-with-parent")

	b.args = append(b.args, "--proc", "/proc")
	b.args = append(b.args, "--dev", "/dev")
	b.args = append(b.args, "--tmpfs", "/tmp")

	binds := opts.SystemBinds
	if binds == nil {
		binds = DefaultSystemBinds
	}
	for _, path := range binds {
		if b.exists(path) {
			b.args = append(b.args, "--ro-bind", path, path)
		}
	}

	b.args = append(b.args, "--bind", opts.Workspace, WorkspaceMount)
	b.args = append(b.args, "--chdir", WorkspaceMount)

	b.args = append(b.args, "--clearenv")
	keys := make([]string, 0, len(opts.Env))
	for key := range opts.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		b.args = append(b.args, "--setenv", key, opts.Env[key])
	}

	b.args = append(b.args, "--")
	b.args = append(b.args, opts.Command...)
	return b.args, nil
}

// BwrapPath returns the path to the bwrap executable.
func BwrapPath() (string, error) {
	for _, path := range []string{"/usr/bin/bwrap", "/usr/local/bin/bwrap", "/bin/bwrap"} {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	if path, err := exec.LookPath("bwrap"); err == nil {
		return path, nil
	}
	return "", fmt.Errorf("bwrap not found in standard locations or PATH")
}
