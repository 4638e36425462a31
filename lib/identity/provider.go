// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import "errors"

// ErrNoIdentity is returned by a Provider that has no signed-in user.
var ErrNoIdentity = errors.New("no identity available")

// Provider supplies the current user and their bearer credential.
// Implementations must be safe for concurrent use.
type Provider interface {
	// CurrentIdentity returns the signed-in user, or ErrNoIdentity.
	CurrentIdentity() (Identity, error)

	// Credential returns the bearer credential for the signed-in user,
	// or ErrNoIdentity.
	Credential() (Credential, error)
}

// Static is a Provider with a fixed identity and credential, as loaded
// from configuration at startup.
type Static struct {
	identity   Identity
	credential Credential
}

// NewStatic returns a Provider that always reports the given identity
// and credential.
func NewStatic(identity Identity, credential Credential) *Static {
	return &Static{identity: identity, credential: credential}
}

// CurrentIdentity implements Provider.
func (s *Static) CurrentIdentity() (Identity, error) {
	if s.identity.IsZero() {
		return Identity{}, ErrNoIdentity
	}
	return s.identity, nil
}

// Credential implements Provider.
func (s *Static) Credential() (Credential, error) {
	if s.credential.IsZero() {
		return Credential{}, ErrNoIdentity
	}
	return s.credential, nil
}
