// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/sandbox"
)

// fakeSandbox records what the channel asks of it. Install commands
// exit immediately with installCode unless holdInstall is set; other
// commands run until killed.
type fakeSandbox struct {
	installCode int
	holdInstall bool

	// mountGate, when set, holds Mount until closed. mountEntered is
	// closed once Mount starts waiting.
	mountGate    chan struct{}
	mountEntered chan struct{}

	mu        sync.Mutex
	events    []string
	mounts    []filetree.Tree
	processes []*fakeProcess
	callbacks map[int]func(sandbox.ServerReady)
	nextID    int
}

var _ sandbox.Adapter = (*fakeSandbox)(nil)

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{callbacks: make(map[int]func(sandbox.ServerReady))}
}

func (f *fakeSandbox) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSandbox) Mount(ctx context.Context, tree filetree.Tree) error {
	if f.mountGate != nil {
		close(f.mountEntered)
		<-f.mountGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "mount")
	f.mounts = append(f.mounts, tree)
	return nil
}

func (f *fakeSandbox) Spawn(ctx context.Context, command string, args ...string) (sandbox.Process, error) {
	line := strings.Join(append([]string{command}, args...), " ")
	f.mu.Lock()
	process := &fakeProcess{
		name:    fmt.Sprintf("%s#%d", line, len(f.processes)+1),
		sandbox: f,
		done:    make(chan struct{}),
	}
	f.processes = append(f.processes, process)
	f.events = append(f.events, "spawn "+process.name)
	installCode, hold := f.installCode, f.holdInstall
	f.mu.Unlock()

	if len(args) > 0 && args[0] == "install" && !hold {
		process.exit(installCode)
	}
	return process, nil
}

func (f *fakeSandbox) OnServerReady(callback func(sandbox.ServerReady)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.callbacks[id] = callback
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.callbacks, id)
	}
}

// announce fires every registered readiness callback.
func (f *fakeSandbox) announce(ready sandbox.ServerReady) {
	f.mu.Lock()
	callbacks := make([]func(sandbox.ServerReady), 0, len(f.callbacks))
	for _, callback := range f.callbacks {
		callbacks = append(callbacks, callback)
	}
	f.mu.Unlock()
	for _, callback := range callbacks {
		callback(ready)
	}
}

func (f *fakeSandbox) snapshot() (events []string, mounts []filetree.Tree, processes []*fakeProcess) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...),
		append([]filetree.Tree(nil), f.mounts...),
		append([]*fakeProcess(nil), f.processes...)
}

func (f *fakeSandbox) registered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.callbacks)
}

type fakeProcess struct {
	name    string
	sandbox *fakeSandbox
	done    chan struct{}

	mu     sync.Mutex
	exited bool
	kills  int
	code   int
}

// exit ends the process with code unless it has already ended. It
// reports whether this call ended it.
func (p *fakeProcess) exit(code int) bool {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return false
	}
	p.exited = true
	p.code = code
	p.mu.Unlock()
	close(p.done)
	return true
}

func (p *fakeProcess) Output() io.Reader {
	return strings.NewReader("output of " + p.name + "\n")
}

func (p *fakeProcess) Wait(ctx context.Context) (int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil
	}
	p.exited = true
	p.code = -1
	p.kills++
	p.mu.Unlock()
	p.sandbox.record("kill " + p.name)
	close(p.done)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}
