// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/huddle-dev/huddle/lib/ref"
)

// WhoAmIResponse is returned by /account/whoami.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id,omitempty"`
}

// ResolveAliasResponse is returned by /directory/room/{alias}.
type ResolveAliasResponse struct {
	RoomID  ref.RoomID `json:"room_id"`
	Servers []string   `json:"servers,omitempty"`
}

// JoinResponse is returned by /join/{roomIdOrAlias}.
type JoinResponse struct {
	RoomID ref.RoomID `json:"room_id"`
}

// SendEventResponse is returned by /rooms/{room}/send.
type SendEventResponse struct {
	EventID string `json:"event_id"`
}

// SyncOptions controls one /sync request.
type SyncOptions struct {
	// Since is the next_batch token of the previous sync. Empty for an
	// initial sync.
	Since string

	// Timeout is how long the server may hold the request open waiting
	// for events. Zero returns immediately.
	Timeout time.Duration

	// Filter is a filter ID or an inline JSON filter.
	Filter string
}

// SyncResponse is the subset of /sync the bus reads.
type SyncResponse struct {
	NextBatch string       `json:"next_batch"`
	Rooms     RoomsSection `json:"rooms"`
}

// RoomsSection holds per-room sync data.
type RoomsSection struct {
	Join map[string]JoinedRoom `json:"join,omitempty"`
}

// JoinedRoom holds the timeline of a joined room.
type JoinedRoom struct {
	Timeline Timeline `json:"timeline"`
}

// Timeline holds timeline events in server order.
type Timeline struct {
	Events  []Event `json:"events"`
	Limited bool    `json:"limited"`
}

// Event is a Matrix room event. Content is kept raw so the bus can hand
// it to subscribers without a decode/encode round trip.
type Event struct {
	EventID        string          `json:"event_id"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Content        json.RawMessage `json:"content"`
}

// ServerName returns the server part of a Matrix user ID
// ("@alice:example.org" yields "example.org"), or "" if malformed.
func ServerName(userID string) string {
	if !strings.HasPrefix(userID, "@") {
		return ""
	}
	colon := strings.IndexByte(userID, ':')
	if colon < 0 {
		return ""
	}
	return userID[colon+1:]
}

// RoomTimelineFilter returns an inline /sync filter that limits the
// response to timeline events of the given types in one room, with
// presence and account data suppressed.
func RoomTimelineFilter(roomID ref.RoomID, eventTypes []string) string {
	timeline := map[string]any{}
	if len(eventTypes) > 0 {
		timeline["types"] = eventTypes
	}
	filter := map[string]any{
		"room": map[string]any{
			"rooms":    []string{roomID.String()},
			"timeline": timeline,
			"state":    map[string]any{"types": []string{}},
			"ephemeral": map[string]any{
				"types": []string{},
			},
		},
		"presence":     map[string]any{"types": []string{}},
		"account_data": map[string]any{"types": []string{}},
	}
	data, _ := json.Marshal(filter)
	return string(data)
}
