// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"fmt"
	"strings"
)

// RoomAlias is a validated Matrix room alias ("#huddle-p1:example.org").
// Project rooms on a Matrix bus are addressed by alias; see
// [ProjectID.RoomAlias].
type RoomAlias struct {
	alias string
}

// ParseRoomAlias validates and wraps a raw Matrix room alias.
func ParseRoomAlias(raw string) (RoomAlias, error) {
	if _, _, err := splitRoomAlias(raw); err != nil {
		return RoomAlias{}, err
	}
	return RoomAlias{alias: raw}, nil
}

func newRoomAlias(localpart, server string) RoomAlias {
	return RoomAlias{alias: "#" + localpart + ":" + server}
}

// String returns the full alias.
func (a RoomAlias) String() string { return a.alias }

// IsZero reports whether the RoomAlias is the zero value (uninitialized).
func (a RoomAlias) IsZero() bool { return a.alias == "" }

// Localpart returns the alias without the '#' prefix and ':server' suffix.
func (a RoomAlias) Localpart() string {
	localpart, _, _ := splitRoomAlias(a.alias)
	return localpart
}

// Server returns the server part of the alias.
func (a RoomAlias) Server() string {
	_, server, _ := splitRoomAlias(a.alias)
	return server
}

// MarshalText implements encoding.TextMarshaler.
func (a RoomAlias) MarshalText() ([]byte, error) {
	return []byte(a.alias), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty input
// produces the zero value.
func (a *RoomAlias) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*a = RoomAlias{}
		return nil
	}
	parsed, err := ParseRoomAlias(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// splitRoomAlias splits "#local:server" at the first colon. Matrix server
// names may carry a port, so everything after the first colon is the
// server.
func splitRoomAlias(raw string) (localpart, server string, err error) {
	if raw == "" {
		return "", "", fmt.Errorf("empty room alias")
	}
	if raw[0] != '#' {
		return "", "", fmt.Errorf("room alias must start with '#': %q", raw)
	}
	colon := strings.IndexByte(raw, ':')
	if colon < 0 {
		return "", "", fmt.Errorf("room alias missing ':server' suffix: %q", raw)
	}
	localpart = raw[1:colon]
	server = raw[colon+1:]
	if localpart == "" {
		return "", "", fmt.Errorf("room alias has empty localpart: %q", raw)
	}
	if server == "" {
		return "", "", fmt.Errorf("room alias has empty server name: %q", raw)
	}
	return localpart, server, nil
}
