// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the Huddle message bus client: a room-scoped,
// duplex event stream between the members of one project room.
//
// A [Dialer] opens a [Conn] for a project room. Each successful Connect
// yields exactly one live stream; there is no internal retry and no
// reconnection, so a failed Connect or a dropped stream is reported to
// the caller (as [ErrTransportUnavailable]) and the caller decides what
// to do next. Events are JSON payloads addressed by name. Handlers
// registered with [Conn.Subscribe] run one at a time, in the order the
// transport delivered the events. Broadcast excludes the sender: a
// member never receives its own events back.
//
// Three transports implement Dialer:
//
//   - [Hub]: an in-process room hub, for tests and single-process use.
//   - [StreamDialer]: the framed stream protocol spoken by huddle-relay,
//     over TCP or a Unix socket.
//   - [MatrixDialer]: a Matrix homeserver, where the project room is the
//     alias #huddle-<project>:<server> and events are custom room events.
//
// [Router] selects among them by endpoint scheme.
package messaging
