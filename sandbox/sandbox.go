// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/huddle-dev/huddle/lib/filetree"
)

// ErrSandboxUnavailable is returned when no sandbox can serve a request:
// the workspace cannot be prepared, or confinement is required but
// bubblewrap is missing.
var ErrSandboxUnavailable = errors.New("sandbox unavailable")

// ServerReady describes a spawned process that has started listening.
type ServerReady struct {
	Port int
	URL  string
}

// Adapter is an execution sandbox for one project.
type Adapter interface {
	// Mount materializes tree. The adapter may keep tree; callers pass
	// a copy.
	Mount(ctx context.Context, tree filetree.Tree) error

	// Spawn starts command with args in the mounted tree.
	Spawn(ctx context.Context, command string, args ...string) (Process, error)

	// OnServerReady registers callback for readiness events of spawned
	// processes. Each process reports readiness at most once. The
	// returned function unregisters the callback.
	OnServerReady(callback func(ServerReady)) (unregister func())
}

// Process is a running command.
type Process interface {
	// Output returns a reader over the combined stdout and stderr from
	// the beginning. Reads block until output arrives and return io.EOF
	// once the process has exited and all output has been read.
	Output() io.Reader

	// Wait blocks until the process exits or ctx is done. It returns
	// the exit code; a process killed by a signal reports -1.
	Wait(ctx context.Context) (int, error)

	// Kill terminates the process and its children. It is idempotent
	// and returns once the process has exited.
	Kill() error

	// Done is closed when the process has exited.
	Done() <-chan struct{}
}

// ExitError is a non-zero exit from a command whose success was
// required.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
