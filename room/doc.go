// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package room implements the room session channel: the per-view object
// that binds one bus connection to one project room.
//
// A [Channel] moves through Idle, Connecting, Joined, and Closed. While
// Joined it relays chat in both directions, keeps the ordered in-memory
// message log, owns the authoritative in-session snapshot of the
// project's file tree, persists that snapshot to the gateway in the
// background, and sequences runs against the execution sandbox.
//
// The session is local-first. File-tree edits apply to the snapshot
// immediately and persistence failures are reported, never rolled back.
// Messages are appended optimistically before they are sent. Neither
// is retried. Failures that do not belong to the caller of an operation
// go to the configured [ErrorSink] and never end the session.
//
// Transport callbacks arrive on transport goroutines. The channel keeps
// all state behind one mutex and never calls out (sink, notify, gateway,
// sandbox, transport) while holding it. Everything that crosses the
// channel boundary is a copy of the snapshot, never the snapshot itself.
// After Leave returns no callback fires.
package room
