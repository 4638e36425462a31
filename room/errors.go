// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"errors"

	"github.com/huddle-dev/huddle/messaging"
	"github.com/huddle-dev/huddle/sandbox"
)

var (
	// ErrNotJoined is returned by operations that need a joined session.
	ErrNotJoined = errors.New("room: not joined")

	// ErrAlreadyJoined is returned by Join on a channel that has left
	// Idle.
	ErrAlreadyJoined = errors.New("room: already joined")

	// ErrEmptyMessage is returned by PostMessage for blank bodies.
	ErrEmptyMessage = errors.New("room: empty message")

	// ErrMalformedAIPayload is reported to the sink when a synthetic
	// message body is not a valid assistant payload. The message is
	// still shown, as plain text.
	ErrMalformedAIPayload = errors.New("room: malformed assistant payload")

	// ErrPersistenceFailure is reported to the sink when the gateway
	// could not load or store the project. The snapshot is kept.
	ErrPersistenceFailure = errors.New("room: persistence failure")

	// ErrExitedBeforeReady resolves an execution's ready future when
	// the start command exits without ever reporting readiness.
	ErrExitedBeforeReady = errors.New("room: process exited before it was ready")

	// ErrTransportUnavailable and ErrSandboxUnavailable are the
	// messaging and sandbox sentinels, re-exported so callers of this
	// package can check them without further imports.
	ErrTransportUnavailable = messaging.ErrTransportUnavailable
	ErrSandboxUnavailable   = sandbox.ErrSandboxUnavailable
)

// ErrorSink receives failures that happen in the background or do not
// belong to the caller of the operation that caused them.
type ErrorSink func(error)
