// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

var _ Dialer = (*Hub)(nil)

// Hub is an in-process bus. Rooms are keyed by project ID and exist
// while they have members. Each member has its own delivery goroutine,
// so a slow handler delays only its own connection, and every member
// sees a given sender's events in send order.
//
// The endpoint and credential passed to Connect are ignored.
type Hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[ref.ProjectID]map[*hubConn]struct{}
	closed bool
}

// NewHub returns an empty hub. A nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		rooms:  make(map[ref.ProjectID]map[*hubConn]struct{}),
	}
}

// Connect joins a new member to the room of projectID.
func (h *Hub) Connect(ctx context.Context, endpoint string, credential identity.Credential, projectID ref.ProjectID) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	if projectID.IsZero() {
		return nil, fmt.Errorf("%w: project ID is required", ErrTransportUnavailable)
	}

	conn := &hubConn{
		lifecycle: lifecycle{done: make(chan struct{})},
		hub:       h,
		projectID: projectID,
		wake:      make(chan struct{}, 1),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, fmt.Errorf("%w: hub is closed", ErrTransportUnavailable)
	}
	members := h.rooms[projectID]
	if members == nil {
		members = make(map[*hubConn]struct{})
		h.rooms[projectID] = members
	}
	members[conn] = struct{}{}
	h.mu.Unlock()

	go conn.run()
	h.logger.Debug("hub member joined", "project_id", projectID)
	return conn, nil
}

// Inject delivers an event from outside the room (the assistant, a
// test) to every member.
func (h *Hub) Inject(projectID ref.ProjectID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	h.broadcast(projectID, nil, event, data)
	return nil
}

// Members returns the number of live connections in a room.
func (h *Hub) Members(projectID ref.ProjectID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[projectID])
}

// Disconnect fails every connection in a room with cause, as a network
// partition would.
func (h *Hub) Disconnect(projectID ref.ProjectID, cause error) {
	h.mu.Lock()
	members := h.rooms[projectID]
	delete(h.rooms, projectID)
	h.mu.Unlock()

	for member := range members {
		member.fail(cause)
	}
}

// Close fails every connection and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := h.rooms
	h.rooms = make(map[ref.ProjectID]map[*hubConn]struct{})
	h.mu.Unlock()

	for _, members := range rooms {
		for member := range members {
			member.fail(errors.New("hub closed"))
		}
	}
}

func (h *Hub) broadcast(projectID ref.ProjectID, sender *hubConn, event string, payload json.RawMessage) {
	h.mu.Lock()
	recipients := make([]*hubConn, 0, len(h.rooms[projectID]))
	for member := range h.rooms[projectID] {
		if member != sender {
			recipients = append(recipients, member)
		}
	}
	// Enqueue under the hub lock so two concurrent senders' events
	// reach every recipient in the same relative order.
	for _, recipient := range recipients {
		recipient.enqueue(event, payload)
	}
	h.mu.Unlock()
}

func (h *Hub) remove(conn *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members := h.rooms[conn.projectID]
	delete(members, conn)
	if len(members) == 0 {
		delete(h.rooms, conn.projectID)
	}
}

type hubDelivery struct {
	event   string
	payload json.RawMessage
}

type hubConn struct {
	lifecycle
	dispatcher

	hub       *Hub
	projectID ref.ProjectID

	queueMu sync.Mutex
	queue   []hubDelivery
	wake    chan struct{}
}

func (c *hubConn) Send(ctx context.Context, event string, payload any) error {
	if c.closed() {
		return fmt.Errorf("%w: connection closed", ErrTransportUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	c.hub.broadcast(c.projectID, c, event, data)
	return nil
}

func (c *hubConn) Subscribe(event string, handler Handler) *Subscription {
	return c.subscribe(event, handler)
}

func (c *hubConn) Close() error {
	if c.finish(nil) {
		c.hub.remove(c)
	}
	return nil
}

func (c *hubConn) fail(cause error) {
	if c.finish(fmt.Errorf("%w: %v", ErrTransportUnavailable, cause)) {
		c.hub.remove(c)
	}
}

func (c *hubConn) enqueue(event string, payload json.RawMessage) {
	c.queueMu.Lock()
	c.queue = append(c.queue, hubDelivery{event: event, payload: payload})
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// run delivers queued events until the connection ends. Events still
// queued at that point are dropped.
func (c *hubConn) run() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
		c.queueMu.Lock()
		batch := c.queue
		c.queue = nil
		c.queueMu.Unlock()

		for _, delivery := range batch {
			if c.closed() {
				return
			}
			c.dispatch(delivery.event, delivery.payload)
		}
	}
}
