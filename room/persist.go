// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"sync"

	"github.com/huddle-dev/huddle/lib/filetree"
)

// persister writes file-tree snapshots through save, one at a time.
// While a write is in flight, newer snapshots replace the queued one,
// so the last write to reach the gateway is always the newest snapshot
// and a burst of edits costs at most two writes.
type persister struct {
	save   func(ctx context.Context, tree filetree.Tree) error
	report func(err error)

	mu         sync.Mutex
	pending    filetree.Tree
	hasPending bool
	running    bool
	waiters    []chan struct{}

	// err is the result of the newest completed write.
	err error
}

// schedule queues tree, which the persister now owns.
func (p *persister) schedule(tree filetree.Tree) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = tree
	p.hasPending = true
	if !p.running {
		p.running = true
		go p.drain()
	}
}

func (p *persister) drain() {
	for {
		p.mu.Lock()
		if !p.hasPending {
			p.running = false
			for _, waiter := range p.waiters {
				close(waiter)
			}
			p.waiters = nil
			p.mu.Unlock()
			return
		}
		tree := p.pending
		p.pending = nil
		p.hasPending = false
		p.mu.Unlock()

		err := p.save(context.Background(), tree)
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		if err != nil {
			p.report(err)
		}
	}
}

// flush waits until every scheduled snapshot has been written (or has
// failed) or ctx is done. It returns the failure of the newest write,
// so a later successful write clears an earlier failure.
func (p *persister) flush(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		defer p.mu.Unlock()
		return p.err
	}
	waiter := make(chan struct{})
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	select {
	case <-waiter:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
