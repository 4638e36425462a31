// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/lib/testutil"
)

const testTimeout = 5 * time.Second

func connectHub(t *testing.T, hub *Hub, projectID ref.ProjectID) Conn {
	t.Helper()
	conn, err := hub.Connect(context.Background(), "memory://", identity.Credential{}, projectID)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// collect subscribes to project-message and forwards decoded messages.
func collect(t *testing.T, conn Conn) (<-chan ProjectMessage, *Subscription) {
	t.Helper()
	received := make(chan ProjectMessage, 64)
	subscription := conn.Subscribe(EventProjectMessage, func(payload json.RawMessage) {
		var message ProjectMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			t.Errorf("decoding payload %s: %v", payload, err)
			return
		}
		received <- message
	})
	return received, subscription
}

func message(user, body string) ProjectMessage {
	return ProjectMessage{
		Sender:  identity.Identity{ID: ref.MustParseUserID(user)},
		Message: body,
	}
}

func TestHubBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	projectID := ref.MustParseProjectID("p1")

	alice := connectHub(t, hub, projectID)
	bob := connectHub(t, hub, projectID)
	aliceInbox, _ := collect(t, alice)
	bobInbox, _ := collect(t, bob)

	for _, body := range []string{"one", "two", "three"} {
		if err := alice.Send(context.Background(), EventProjectMessage, message("alice", body)); err != nil {
			t.Fatalf("Send(%s): %v", body, err)
		}
	}
	for _, want := range []string{"one", "two", "three"} {
		got := testutil.RequireReceive(t, bobInbox, testTimeout, "waiting for %q", want)
		if got.Message != want || got.Sender.ID.String() != "alice" {
			t.Fatalf("bob received %+v, want %q from alice", got, want)
		}
	}
	testutil.RequireSilent(t, aliceInbox, 50*time.Millisecond, "sender received its own message")
}

func TestHubRoomsAreIsolated(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	sender := connectHub(t, hub, ref.MustParseProjectID("p1"))
	other := connectHub(t, hub, ref.MustParseProjectID("p2"))
	otherInbox, _ := collect(t, other)

	if err := sender.Send(context.Background(), EventProjectMessage, message("alice", "hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	testutil.RequireSilent(t, otherInbox, 50*time.Millisecond, "message leaked across rooms")
	if got := hub.Members(ref.MustParseProjectID("p1")); got != 1 {
		t.Fatalf("Members(p1) = %d, want 1", got)
	}
}

func TestHubInjectReachesEveryMember(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	projectID := ref.MustParseProjectID("p1")

	first, _ := collect(t, connectHub(t, hub, projectID))
	second, _ := collect(t, connectHub(t, hub, projectID))

	if err := hub.Inject(projectID, EventProjectMessage, ProjectMessage{Sender: identity.AI, Message: "hello"}); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	for _, inbox := range []<-chan ProjectMessage{first, second} {
		got := testutil.RequireReceive(t, inbox, testTimeout)
		if !got.Sender.ID.IsAI() {
			t.Fatalf("sender = %v, want ai", got.Sender)
		}
	}
}

func TestSubscriptionCancel(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	projectID := ref.MustParseProjectID("p1")

	sender := connectHub(t, hub, projectID)
	receiver := connectHub(t, hub, projectID)
	inbox, subscription := collect(t, receiver)

	select {
	case <-subscription.Done():
		t.Fatal("Done closed before Cancel")
	default:
	}
	subscription.Cancel()
	subscription.Cancel()
	testutil.RequireClosed(t, subscription.Done(), testTimeout, "subscription Done after Cancel")

	if err := sender.Send(context.Background(), EventProjectMessage, message("alice", "late")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	testutil.RequireSilent(t, inbox, 50*time.Millisecond, "cancelled subscription received an event")
}

func TestSubscriptionCancelFromHandler(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	projectID := ref.MustParseProjectID("p1")

	sender := connectHub(t, hub, projectID)
	receiver := connectHub(t, hub, projectID)

	calls := make(chan struct{}, 4)
	var subscription *Subscription
	subscription = receiver.Subscribe(EventProjectMessage, func(json.RawMessage) {
		subscription.Cancel()
		calls <- struct{}{}
	})

	for range 3 {
		if err := sender.Send(context.Background(), EventProjectMessage, message("alice", "x")); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	testutil.RequireReceive(t, calls, testTimeout)
	testutil.RequireSilent(t, calls, 50*time.Millisecond, "handler ran after cancelling itself")
}

func TestHubConnCloseIsIdempotent(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	projectID := ref.MustParseProjectID("p1")

	conn := connectHub(t, hub, projectID)
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	testutil.RequireClosed(t, conn.Done(), testTimeout)
	if err := conn.Err(); err != nil {
		t.Fatalf("Err after Close = %v, want nil", err)
	}
	if hub.Members(projectID) != 0 {
		t.Fatalf("closed member still in room")
	}
	if err := conn.Send(context.Background(), EventProjectMessage, message("alice", "x")); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Send after Close = %v, want ErrTransportUnavailable", err)
	}
}

func TestHubDisconnectFailsMembers(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()
	projectID := ref.MustParseProjectID("p1")

	conn := connectHub(t, hub, projectID)
	hub.Disconnect(projectID, errors.New("partition"))

	testutil.RequireClosed(t, conn.Done(), testTimeout)
	if err := conn.Err(); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Err = %v, want ErrTransportUnavailable", err)
	}
}

func TestHubConnectValidation(t *testing.T) {
	hub := NewHub(nil)
	if _, err := hub.Connect(context.Background(), "memory://", identity.Credential{}, ref.ProjectID{}); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect with zero project = %v, want ErrTransportUnavailable", err)
	}
	hub.Close()
	if _, err := hub.Connect(context.Background(), "memory://", identity.Credential{}, ref.MustParseProjectID("p1")); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect after Close = %v, want ErrTransportUnavailable", err)
	}
}
