// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

// ErrTransportUnavailable wraps every connect, send, and stream failure.
var ErrTransportUnavailable = errors.New("transport unavailable")

// Event names carried on the bus.
const (
	// EventJoinRoom is the join step. Stream transports perform it as
	// part of the handshake; it is never sent explicitly.
	EventJoinRoom = "join-room"

	// EventProjectMessage carries a ProjectMessage.
	EventProjectMessage = "project-message"
)

// ProjectMessage is the payload of a project-message event.
type ProjectMessage struct {
	Sender  identity.Identity `json:"sender"`
	Message string            `json:"message"`
}

// JoinRoom is the payload of the join-room step.
type JoinRoom struct {
	RoomID ref.ProjectID `json:"roomId"`
}

// Handler receives the raw JSON payload of one event. Handlers for a
// connection are never called concurrently.
type Handler func(payload json.RawMessage)

// Dialer opens connections to project rooms.
type Dialer interface {
	// Connect opens one duplex stream to the room of projectID, joining
	// the room as the holder of credential. Failures wrap
	// ErrTransportUnavailable.
	Connect(ctx context.Context, endpoint string, credential identity.Credential, projectID ref.ProjectID) (Conn, error)
}

// Conn is a live connection to one project room.
type Conn interface {
	// Send JSON-encodes payload and emits it as event to the other
	// members of the room. Failures wrap ErrTransportUnavailable.
	Send(ctx context.Context, event string, payload any) error

	// Subscribe registers handler for event. Cancel the returned
	// subscription to stop deliveries.
	Subscribe(event string, handler Handler) *Subscription

	// Close ends the stream. It is idempotent.
	Close() error

	// Done is closed when the stream ends, by Close or by failure.
	Done() <-chan struct{}

	// Err is nil while the stream is live and after an explicit Close.
	// After a failure it wraps ErrTransportUnavailable.
	Err() error
}
