// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"sync"
)

// Subscription is a registered event handler. Cancel is idempotent.
type Subscription struct {
	event   string
	handler Handler
	owner   *dispatcher

	once      sync.Once
	cancelled chan struct{}
}

// Event returns the event name the subscription receives.
func (s *Subscription) Event() string { return s.event }

// Cancel stops deliveries to the handler. A delivery already in
// progress completes. Cancel may be called from inside the handler.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.cancelled)
		s.owner.remove(s)
	})
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} { return s.cancelled }

func (s *Subscription) active() bool {
	select {
	case <-s.cancelled:
		return false
	default:
		return true
	}
}

// dispatcher holds the subscriptions of one connection and delivers
// events to them. Transports call dispatch from a single goroutine per
// connection, which is what makes handler calls sequential.
type dispatcher struct {
	mu            sync.Mutex
	subscriptions map[string][]*Subscription

	// deliver keeps handler calls sequential even when a transport
	// dispatches from more than one goroutine.
	deliver sync.Mutex
}

func (d *dispatcher) subscribe(event string, handler Handler) *Subscription {
	subscription := &Subscription{
		event:     event,
		handler:   handler,
		owner:     d,
		cancelled: make(chan struct{}),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subscriptions == nil {
		d.subscriptions = make(map[string][]*Subscription)
	}
	d.subscriptions[event] = append(d.subscriptions[event], subscription)
	return subscription
}

func (d *dispatcher) remove(target *Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	list := d.subscriptions[target.event]
	for index, subscription := range list {
		if subscription == target {
			d.subscriptions[target.event] = append(list[:index:index], list[index+1:]...)
			break
		}
	}
	if len(d.subscriptions[target.event]) == 0 {
		delete(d.subscriptions, target.event)
	}
}

// dispatch delivers payload to every active subscription for event.
func (d *dispatcher) dispatch(event string, payload json.RawMessage) {
	d.deliver.Lock()
	defer d.deliver.Unlock()

	d.mu.Lock()
	handlers := append([]*Subscription(nil), d.subscriptions[event]...)
	d.mu.Unlock()

	for _, subscription := range handlers {
		if subscription.active() {
			subscription.handler(payload)
		}
	}
}

// lifecycle tracks the end of a connection: Done, Err, and the
// once-only transition into the closed state. Construct with the done
// channel set.
type lifecycle struct {
	done chan struct{}
	once sync.Once

	mu  sync.Mutex
	err error
}

// finish records err (nil for an explicit close) and closes Done. It
// reports whether this call performed the transition.
func (l *lifecycle) finish(err error) bool {
	finished := false
	l.once.Do(func() {
		l.mu.Lock()
		l.err = err
		l.mu.Unlock()
		close(l.done)
		finished = true
	})
	return finished
}

func (l *lifecycle) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Done implements Conn.
func (l *lifecycle) Done() <-chan struct{} { return l.done }

// Err implements Conn.
func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
