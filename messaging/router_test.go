// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

func TestRouterRoute(t *testing.T) {
	router := &Router{
		Stream: &StreamDialer{},
		Matrix: &MatrixDialer{},
		Memory: NewHub(nil),
	}
	tests := []struct {
		endpoint string
		want     Dialer
	}{
		{"tcp://127.0.0.1:7460", router.Stream},
		{"unix:///run/huddle/relay.sock", router.Stream},
		{"matrix+https://matrix.example.org", router.Matrix},
		{"matrix+http://localhost:8008", router.Matrix},
		{"memory://", router.Memory},
	}
	for _, test := range tests {
		got, err := router.route(test.endpoint)
		if err != nil {
			t.Errorf("route(%q): %v", test.endpoint, err)
			continue
		}
		if got != test.want {
			t.Errorf("route(%q) = %T, want %T", test.endpoint, got, test.want)
		}
	}
}

func TestRouterRejects(t *testing.T) {
	router := &Router{Stream: &StreamDialer{}}
	for _, endpoint := range []string{"127.0.0.1:7460", "ws://example.org", "memory://"} {
		_, err := router.Connect(context.Background(), endpoint, identity.Credential{}, ref.MustParseProjectID("p1"))
		if !errors.Is(err, ErrTransportUnavailable) {
			t.Errorf("Connect(%q) = %v, want ErrTransportUnavailable", endpoint, err)
		}
	}
}

func TestRouterConnectsThroughHub(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	router := &Router{Memory: hub}
	conn, err := router.Connect(context.Background(), "memory://", identity.Credential{}, ref.MustParseProjectID("p1"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	if hub.Members(ref.MustParseProjectID("p1")) != 1 {
		t.Fatal("router did not join the hub room")
	}
}
