// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// UserID identifies a user account. The identifier "ai" is reserved for
// the synthetic assistant participant; see [AIUserID].
//
// UserID is an immutable value type. The zero value is not valid; use
// IsZero to check.
type UserID struct {
	id string
}

// AIUserID is the reserved identifier of the synthetic assistant. Its
// messages carry structured payloads instead of plain text.
var AIUserID = UserID{id: "ai"}

// ParseUserID validates and wraps a raw user identifier.
func ParseUserID(raw string) (UserID, error) {
	if err := validateIdentifier(raw, "user ID"); err != nil {
		return UserID{}, err
	}
	return UserID{id: raw}, nil
}

// MustParseUserID is like ParseUserID but panics on error.
func MustParseUserID(raw string) UserID {
	id, err := ParseUserID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseUserID(%q): %v", raw, err))
	}
	return id
}

// String returns the raw identifier.
func (u UserID) String() string { return u.id }

// IsZero reports whether the UserID is the zero value (uninitialized).
func (u UserID) IsZero() bool { return u.id == "" }

// IsAI reports whether this is the reserved assistant identifier.
func (u UserID) IsAI() bool { return u.id == AIUserID.id }

// MarshalText implements encoding.TextMarshaler.
func (u UserID) MarshalText() ([]byte, error) {
	return []byte(u.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (u *UserID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*u = UserID{}
		return nil
	}
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
