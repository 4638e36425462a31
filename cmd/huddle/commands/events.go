// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/huddle-dev/huddle/room"
)

const (
	errorBacklog  = 16
	outputBacklog = 512
)

// sessionEvents carries channel callbacks into the bubbletea loop. The
// channel calls notify, report, and Write from its own goroutines;
// the view drains them through wait.
type sessionEvents struct {
	changed chan struct{}
	errors  chan error
	output  chan string

	mu      sync.Mutex
	partial []byte
}

// Messages delivered to the view.
type (
	sessionChangedMsg struct{}
	sessionErrorMsg   struct{ err error }
	outputLineMsg     struct{ line string }
)

func newSessionEvents() *sessionEvents {
	return &sessionEvents{
		changed: make(chan struct{}, 1),
		errors:  make(chan error, errorBacklog),
		output:  make(chan string, outputBacklog),
	}
}

// notify records that something changed. The view re-reads the whole
// session, so pending signals collapse into one.
func (e *sessionEvents) notify(room.Change) {
	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// report queues an error for the banner, dropping it when the view is
// far behind.
func (e *sessionEvents) report(err error) {
	select {
	case e.errors <- err:
	default:
	}
}

// Write splits run output into lines. A trailing partial line waits for
// its newline.
func (e *sessionEvents) Write(data []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.partial = append(e.partial, data...)
	for {
		newline := bytes.IndexByte(e.partial, '\n')
		if newline < 0 {
			break
		}
		line := string(bytes.TrimRight(e.partial[:newline], "\r"))
		e.partial = e.partial[newline+1:]
		select {
		case e.output <- line:
		default:
		}
	}
	return len(data), nil
}

// wait returns a command that delivers the next event.
func (e *sessionEvents) wait() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-e.changed:
			return sessionChangedMsg{}
		case err := <-e.errors:
			return sessionErrorMsg{err: err}
		case line := <-e.output:
			return outputLineMsg{line: line}
		}
	}
}
