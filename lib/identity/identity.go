// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"fmt"

	"github.com/huddle-dev/huddle/lib/ref"
)

// Identity is a verified user: the account identifier and its email.
// The JSON field names follow the persistence gateway's wire format,
// which is also the sender shape on the bus.
type Identity struct {
	ID    ref.UserID `json:"_id"`
	Email string     `json:"email,omitempty"`
}

// AI is the identity of the synthetic assistant participant.
var AI = Identity{ID: ref.AIUserID, Email: "ai"}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool { return i.ID.IsZero() }

// String returns the email when present, falling back to the ID. Used
// as the display name in chat logs.
func (i Identity) String() string {
	if i.Email != "" {
		return i.Email
	}
	return i.ID.String()
}

// Validate checks that the identity carries a user ID.
func (i Identity) Validate() error {
	if i.ID.IsZero() {
		return fmt.Errorf("identity has no user ID")
	}
	return nil
}

// SenderKind distinguishes human participants from the synthetic
// assistant.
type SenderKind int

const (
	// Human is a real user with an account.
	Human SenderKind = iota

	// Synthetic is the AI participant. Messages from a synthetic sender
	// carry a structured payload in their body.
	Synthetic
)

// String returns "human" or "synthetic".
func (k SenderKind) String() string {
	switch k {
	case Human:
		return "human"
	case Synthetic:
		return "synthetic"
	default:
		return fmt.Sprintf("SenderKind(%d)", int(k))
	}
}

// Sender is the resolved author of a chat message. Construct with
// [NewSender]; the zero value is a human sender with no identity.
type Sender struct {
	kind     SenderKind
	identity Identity
}

// NewSender resolves the sender variant for an identity. The reserved
// "ai" user ID produces a synthetic sender; everything else is human.
func NewSender(identity Identity) Sender {
	if identity.ID.IsAI() {
		return Sender{kind: Synthetic, identity: identity}
	}
	return Sender{kind: Human, identity: identity}
}

// Kind returns the sender variant.
func (s Sender) Kind() SenderKind { return s.kind }

// IsSynthetic reports whether the sender is the AI participant.
func (s Sender) IsSynthetic() bool { return s.kind == Synthetic }

// Identity returns the identity the sender was constructed from.
func (s Sender) Identity() Identity { return s.identity }

// String returns the display name of the sender.
func (s Sender) String() string { return s.identity.String() }
