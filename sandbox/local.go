// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/huddle-dev/huddle/lib/filetree"
)

// LocalConfig configures a Local sandbox.
type LocalConfig struct {
	// Workspace is the host directory the tree is mounted into. It is
	// created if missing.
	Workspace string

	// Bwrap selects confinement. Empty means BwrapAuto.
	Bwrap BwrapMode

	// Env is added to the environment of spawned commands.
	Env map[string]string

	// KillGrace overrides DefaultKillGrace.
	KillGrace time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Local runs commands on this machine against a workspace directory.
type Local struct {
	workspace string
	bwrapPath string
	env       map[string]string
	killGrace time.Duration
	logger    *slog.Logger

	mu           sync.Mutex
	callbacks    map[uint64]func(ServerReady)
	nextCallback uint64
}

var _ Adapter = (*Local)(nil)

// NewLocal prepares the workspace and resolves confinement. Failures
// wrap ErrSandboxUnavailable.
func NewLocal(config LocalConfig) (*Local, error) {
	if config.Workspace == "" {
		return nil, fmt.Errorf("%w: workspace is required", ErrSandboxUnavailable)
	}
	workspace, err := filepath.Abs(config.Workspace)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving workspace path: %v", ErrSandboxUnavailable, err)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating workspace: %v", ErrSandboxUnavailable, err)
	}

	mode := config.Bwrap
	if mode == "" {
		mode = BwrapAuto
	}
	var bwrapPath string
	switch mode {
	case BwrapAlways:
		bwrapPath, err = BwrapPath()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSandboxUnavailable, err)
		}
	case BwrapAuto:
		bwrapPath, _ = BwrapPath()
	case BwrapNever:
	default:
		return nil, fmt.Errorf("%w: unknown bwrap mode %q", ErrSandboxUnavailable, mode)
	}

	killGrace := config.KillGrace
	if killGrace <= 0 {
		killGrace = DefaultKillGrace
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("sandbox ready", "workspace", workspace, "confined", bwrapPath != "")
	return &Local{
		workspace: workspace,
		bwrapPath: bwrapPath,
		env:       config.Env,
		killGrace: killGrace,
		logger:    logger,
		callbacks: make(map[uint64]func(ServerReady)),
	}, nil
}

// Workspace returns the absolute workspace path.
func (l *Local) Workspace() string { return l.workspace }

// Confined reports whether commands run inside bubblewrap.
func (l *Local) Confined() bool { return l.bwrapPath != "" }

// Mount writes every file and directory of tree into the workspace.
// Entries not in tree are left alone. A file where tree has a directory
// (or the reverse) is replaced.
func (l *Local) Mount(ctx context.Context, tree filetree.Tree) error {
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("mounting tree: %w", err)
	}
	err := tree.Walk(func(path string, node filetree.Node) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		hostPath := filepath.Join(l.workspace, filepath.FromSlash(path))
		if node.IsDirectory() {
			return ensureDirectory(hostPath)
		}
		return writeFile(hostPath, node.File.Contents)
	})
	if err != nil {
		return fmt.Errorf("mounting tree into %s: %w", l.workspace, err)
	}
	l.logger.Debug("mounted tree", "workspace", l.workspace, "files", len(tree.Files()))
	return nil
}

func ensureDirectory(path string) error {
	info, err := os.Lstat(path)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		if err := os.Remove(path); err != nil {
			return err
		}
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}
	return os.Mkdir(path, 0o755)
}

// writeFile replaces path atomically so a running dev server never
// reads a half-written file.
func writeFile(path, contents string) error {
	if info, err := os.Lstat(path); err == nil && info.IsDir() {
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	temporary, err := os.CreateTemp(filepath.Dir(path), ".huddle-*")
	if err != nil {
		return err
	}
	defer os.Remove(temporary.Name())
	if _, err := temporary.WriteString(contents); err != nil {
		temporary.Close()
		return err
	}
	if err := temporary.Chmod(0o644); err != nil {
		temporary.Close()
		return err
	}
	if err := temporary.Close(); err != nil {
		return err
	}
	return os.Rename(temporary.Name(), path)
}

// Spawn starts command in the workspace. ctx bounds only the start; the
// process runs until it exits or is killed.
func (l *Local) Spawn(ctx context.Context, command string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	argv := append([]string{command}, args...)

	var cmd *exec.Cmd
	if l.bwrapPath != "" {
		env := map[string]string{
			"PATH": "/usr/local/bin:/usr/bin:/bin",
			"HOME": WorkspaceMount,
			"TERM": "dumb",
		}
		for key, value := range l.env {
			env[key] = value
		}
		bwrapArgs, err := NewBwrapBuilder().Build(&BwrapOptions{
			Workspace: l.workspace,
			Command:   argv,
			Env:       env,
		})
		if err != nil {
			return nil, fmt.Errorf("building bwrap command: %w", err)
		}
		cmd = exec.Command(l.bwrapPath, bwrapArgs...)
		// bwrap itself gets a minimal environment; the sandbox
		// environment is passed with --setenv.
		cmd.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	} else {
		cmd = exec.Command(command, args...)
		cmd.Env = os.Environ()
		for key, value := range l.env {
			cmd.Env = append(cmd.Env, key+"="+value)
		}
	}
	cmd.Dir = l.workspace
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	process := &localProcess{
		command:   command,
		cmd:       cmd,
		killGrace: l.killGrace,
		logger:    l.logger,
		done:      make(chan struct{}),
	}
	var readyOnce sync.Once
	process.output = newOutputBuffer(func(line string) {
		ready, ok := DetectReady(line)
		if !ok {
			return
		}
		readyOnce.Do(func() {
			l.logger.Info("server ready", "command", command, "port", ready.Port, "url", ready.URL)
			go l.fireReady(process, ready)
		})
	})
	cmd.Stdout = process.output
	cmd.Stderr = process.output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", command, err)
	}
	l.logger.Info("spawned process", "command", argv, "pid", cmd.Process.Pid, "confined", l.bwrapPath != "")
	go process.wait()
	return process, nil
}

func (l *Local) OnServerReady(callback func(ServerReady)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextCallback++
	id := l.nextCallback
	l.callbacks[id] = callback
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.callbacks, id)
	}
}

// fireReady passes ready to the registered callbacks unless process
// has exited. Kill waits for exit, so a late ready line from a killed
// process never reaches callbacks registered after the kill.
func (l *Local) fireReady(process *localProcess, ready ServerReady) {
	l.mu.Lock()
	select {
	case <-process.done:
		l.mu.Unlock()
		l.logger.Debug("dropping ready from exited process", "command", process.command, "url", ready.URL)
		return
	default:
	}
	callbacks := make([]func(ServerReady), 0, len(l.callbacks))
	for _, callback := range l.callbacks {
		callbacks = append(callbacks, callback)
	}
	l.mu.Unlock()
	for _, callback := range callbacks {
		callback(ready)
	}
}
