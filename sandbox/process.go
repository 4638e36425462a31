// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultKillGrace is how long Kill waits after SIGTERM before sending
// SIGKILL.
const DefaultKillGrace = 3 * time.Second

type localProcess struct {
	command   string
	cmd       *exec.Cmd
	output    *outputBuffer
	killGrace time.Duration
	logger    *slog.Logger

	done     chan struct{}
	exitCode int
	waitErr  error

	killOnce sync.Once
}

var _ Process = (*localProcess)(nil)

func (p *localProcess) Output() io.Reader { return p.output.newReader() }

func (p *localProcess) Done() <-chan struct{} { return p.done }

func (p *localProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		return p.exitCode, p.waitErr
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kill sends SIGTERM to the process group, then SIGKILL if the process
// is still running after the grace period, and waits for exit.
func (p *localProcess) Kill() error {
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.signal(unix.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(p.killGrace):
			p.logger.Warn("process ignored SIGTERM, killing", "command", p.command, "grace", p.killGrace)
			p.signal(unix.SIGKILL)
			<-p.done
		}
	})
	return nil
}

func (p *localProcess) signal(signal unix.Signal) {
	// A negative pid addresses the whole process group, which Spawn
	// created with the child as leader.
	err := unix.Kill(-p.cmd.Process.Pid, signal)
	if err != nil && !errors.Is(err, unix.ESRCH) {
		p.logger.Warn("signalling process group failed",
			"command", p.command,
			"pid", p.cmd.Process.Pid,
			"signal", signal.String(),
			"error", err,
		)
	}
}

func (p *localProcess) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
		p.waitErr = err
	}
	p.output.close()
	p.logger.Debug("process exited", "command", p.command, "exit_code", p.exitCode)
	close(p.done)
}
