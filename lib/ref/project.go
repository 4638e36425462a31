// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// ProjectID identifies a project in the persistence gateway. A project
// is also the unit of room membership: every connection opened for a
// project joins the room named by its ProjectID.
//
// ProjectID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type ProjectID struct {
	id string
}

// ParseProjectID validates and wraps a raw project identifier.
func ParseProjectID(raw string) (ProjectID, error) {
	if err := validateIdentifier(raw, "project ID"); err != nil {
		return ProjectID{}, err
	}
	return ProjectID{id: raw}, nil
}

// MustParseProjectID is like ParseProjectID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseProjectID(raw string) ProjectID {
	id, err := ParseProjectID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseProjectID(%q): %v", raw, err))
	}
	return id
}

// String returns the raw identifier.
func (p ProjectID) String() string { return p.id }

// IsZero reports whether the ProjectID is the zero value (uninitialized).
func (p ProjectID) IsZero() bool { return p.id == "" }

// RoomAlias returns the Matrix room alias that carries this project's
// room on the given homeserver: #huddle-<id>:<server>. Matrix alias
// localparts are case-sensitive in practice but conventionally
// lowercase, so the identifier is lowercased.
func (p ProjectID) RoomAlias(server string) (RoomAlias, error) {
	if p.id == "" {
		return RoomAlias{}, fmt.Errorf("project ID is zero")
	}
	if server == "" {
		return RoomAlias{}, fmt.Errorf("server name is required")
	}
	return newRoomAlias("huddle-"+strings.ToLower(p.id), server), nil
}

// MarshalText implements encoding.TextMarshaler.
func (p ProjectID) MarshalText() ([]byte, error) {
	return []byte(p.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (p *ProjectID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*p = ProjectID{}
		return nil
	}
	parsed, err := ParseProjectID(string(data))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
