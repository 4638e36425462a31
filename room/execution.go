// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"sync"

	"github.com/huddle-dev/huddle/sandbox"
)

// RunPlan is the pair of commands Run executes. Install runs to
// completion first and must exit zero; Start becomes the execution.
type RunPlan struct {
	Install []string
	Start   []string
}

// DefaultRunPlan installs and starts a Node project, the shape the
// assistant generates.
var DefaultRunPlan = RunPlan{
	Install: []string{"npm", "install"},
	Start:   []string{"npm", "start"},
}

// Execution is the running start command of one Run. Its ready future
// resolves exactly once: with the sandbox's readiness report, or with
// ErrExitedBeforeReady.
type Execution struct {
	process sandbox.Process

	readyOnce sync.Once
	ready     chan struct{}
	server    sandbox.ServerReady
	readyErr  error

	unregister func()
}

func newExecution() *Execution {
	return &Execution{ready: make(chan struct{})}
}

// resolve settles the ready future. Later calls are ignored. It reports
// whether this call settled it.
func (e *Execution) resolve(server sandbox.ServerReady, err error) bool {
	resolved := false
	e.readyOnce.Do(func() {
		e.server = server
		e.readyErr = err
		close(e.ready)
		resolved = true
	})
	return resolved
}

// Process returns the start command's process.
func (e *Execution) Process() sandbox.Process { return e.process }

// Ready is closed when the ready future has resolved.
func (e *Execution) Ready() <-chan struct{} { return e.ready }

// AwaitReady blocks until the future resolves or ctx is done.
func (e *Execution) AwaitReady(ctx context.Context) (sandbox.ServerReady, error) {
	select {
	case <-e.ready:
		return e.server, e.readyErr
	case <-ctx.Done():
		return sandbox.ServerReady{}, ctx.Err()
	}
}

// Done is closed when the process has exited.
func (e *Execution) Done() <-chan struct{} { return e.process.Done() }

// Kill terminates the process. It is idempotent.
func (e *Execution) Kill() error {
	return e.process.Kill()
}

// watch waits for the process to exit, drops the readiness
// registration, settles the future if it is still open, and calls
// onExit.
func (e *Execution) watch(onExit func()) {
	<-e.process.Done()
	e.unregister()
	e.resolve(sandbox.ServerReady{}, ErrExitedBeforeReady)
	onExit()
}
