// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox runs a project's file tree as a live program.
//
// An [Adapter] materializes a file tree ([Adapter.Mount]), spawns
// commands against it ([Adapter.Spawn]), and reports when a spawned
// process starts serving ([Adapter.OnServerReady]). The room session
// consumes Adapter and never depends on a concrete implementation.
//
// [Local] is the implementation for a developer machine. Each project
// gets a workspace directory; Mount writes the tree over it without
// removing other files, so installed dependencies survive remounts.
// Spawned processes run in their own process group so [Process.Kill]
// reaches every child, and their combined stdout and stderr go to an
// output buffer that never blocks the process. Output lines are scanned
// for a listening URL or port to detect readiness.
//
// When bubblewrap is available (or required by [BwrapAlways]), commands
// run inside it: system directories are bound read-only, the workspace
// is bound read-write at /workspace, and the pid, ipc, and uts
// namespaces are unshared. The network namespace is shared so the
// server is reachable from the host. [BwrapBuilder] assembles the
// arguments.
package sandbox
