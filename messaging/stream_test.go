// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/lib/testutil"
)

// fakeRelay accepts one connection on a Unix socket and hands the
// server side to the test after checking the Hello.
type fakeRelay struct {
	endpoint string
	hellos   chan Hello
	conns    chan net.Conn
}

func startFakeRelay(t *testing.T, respond func(Hello) (FrameType, any)) *fakeRelay {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "relay.sock")
	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	relay := &fakeRelay{
		endpoint: "unix://" + socketPath,
		hellos:   make(chan Hello, 1),
		conns:    make(chan net.Conn, 1),
	}
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		frame, err := ReadFrame(conn)
		if err != nil {
			conn.Close()
			return
		}
		var hello Hello
		if err := frame.Decode(&hello); err != nil {
			conn.Close()
			return
		}
		relay.hellos <- hello
		frameType, body := respond(hello)
		if err := WriteFrame(conn, frameType, body, codec.CompressionNone); err != nil {
			conn.Close()
			return
		}
		relay.conns <- conn
	}()
	return relay
}

func welcomeAll(hello Hello) (FrameType, any) {
	return FrameWelcome, Welcome{
		Identity: identity.Identity{ID: ref.MustParseUserID("u1")},
		Members:  1,
	}
}

func TestStreamDialerHandshake(t *testing.T) {
	relay := startFakeRelay(t, welcomeAll)
	dialer := &StreamDialer{Compression: codec.CompressionZstd}

	conn, err := dialer.Connect(context.Background(), relay.endpoint, identity.NewCredential("token-1"), ref.MustParseProjectID("p1"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	hello := testutil.RequireReceive(t, relay.hellos, testTimeout)
	if hello.Version != ProtocolVersion || hello.Token != "token-1" || hello.ProjectID.String() != "p1" {
		t.Fatalf("hello = %+v", hello)
	}
	if got := conn.(*streamConn).Identity().ID.String(); got != "u1" {
		t.Fatalf("identity = %q, want u1", got)
	}
}

func TestStreamDialerSendAndReceive(t *testing.T) {
	relay := startFakeRelay(t, welcomeAll)
	conn, err := (&StreamDialer{}).Connect(context.Background(), relay.endpoint, identity.NewCredential("t"), ref.MustParseProjectID("p1"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	server := testutil.RequireReceive(t, relay.conns, testTimeout)
	defer server.Close()
	inbox, _ := collect(t, conn)

	// Client to relay.
	if err := conn.Send(context.Background(), EventProjectMessage, message("u1", "hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	reader := bufio.NewReader(server)
	frame, err := ReadFrame(reader)
	if err != nil {
		t.Fatalf("relay ReadFrame: %v", err)
	}
	var event EventFrame
	if err := frame.Decode(&event); err != nil {
		t.Fatal(err)
	}
	var sent ProjectMessage
	if err := json.Unmarshal(event.Payload, &sent); err != nil {
		t.Fatal(err)
	}
	if event.Name != EventProjectMessage || sent.Message != "hello" {
		t.Fatalf("relay received %s %+v", event.Name, sent)
	}

	// Relay to client, in order.
	for _, body := range []string{"a", "b"} {
		payload, _ := json.Marshal(message("u2", body))
		if err := WriteFrame(server, FrameEvent, EventFrame{Name: EventProjectMessage, Payload: payload}, codec.CompressionNone); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"a", "b"} {
		if got := testutil.RequireReceive(t, inbox, testTimeout); got.Message != want {
			t.Fatalf("received %q, want %q", got.Message, want)
		}
	}
}

func TestStreamDialerRejected(t *testing.T) {
	relay := startFakeRelay(t, func(Hello) (FrameType, any) {
		return FrameError, ErrorFrame{Code: ErrorCodeUnauthorized, Message: "unknown token"}
	})
	_, err := (&StreamDialer{}).Connect(context.Background(), relay.endpoint, identity.NewCredential("bad"), ref.MustParseProjectID("p1"))
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect = %v, want ErrTransportUnavailable", err)
	}
	var rejection *ErrorFrame
	if !errors.As(err, &rejection) || rejection.Code != ErrorCodeUnauthorized {
		t.Fatalf("Connect error %v does not carry the unauthorized error frame", err)
	}
}

func TestStreamDialerUnreachable(t *testing.T) {
	endpoint := "unix://" + filepath.Join(t.TempDir(), "missing.sock")
	_, err := (&StreamDialer{}).Connect(context.Background(), endpoint, identity.NewCredential("t"), ref.MustParseProjectID("p1"))
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Connect = %v, want ErrTransportUnavailable", err)
	}
}

func TestStreamConnFailsWhenRelayCloses(t *testing.T) {
	relay := startFakeRelay(t, welcomeAll)
	conn, err := (&StreamDialer{}).Connect(context.Background(), relay.endpoint, identity.NewCredential("t"), ref.MustParseProjectID("p1"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	server := testutil.RequireReceive(t, relay.conns, testTimeout)

	server.Close()
	testutil.RequireClosed(t, conn.Done(), testTimeout)
	if !errors.Is(conn.Err(), ErrTransportUnavailable) {
		t.Fatalf("Err = %v, want ErrTransportUnavailable", conn.Err())
	}
	if err := conn.Send(context.Background(), EventProjectMessage, message("u1", "x")); !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Send after failure = %v", err)
	}
}

func TestStreamConnRelayErrorFrame(t *testing.T) {
	relay := startFakeRelay(t, welcomeAll)
	conn, err := (&StreamDialer{}).Connect(context.Background(), relay.endpoint, identity.NewCredential("t"), ref.MustParseProjectID("p1"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()
	server := testutil.RequireReceive(t, relay.conns, testTimeout)
	defer server.Close()

	if err := WriteFrame(server, FrameError, ErrorFrame{Code: ErrorCodeOverflow, Message: "too slow"}, codec.CompressionNone); err != nil {
		t.Fatal(err)
	}
	testutil.RequireClosed(t, conn.Done(), testTimeout)
	var relayErr *ErrorFrame
	if !errors.As(conn.Err(), &relayErr) || relayErr.Code != ErrorCodeOverflow {
		t.Fatalf("Err = %v, want overflow error frame", conn.Err())
	}
}

func TestStreamConnCloseIsClean(t *testing.T) {
	relay := startFakeRelay(t, welcomeAll)
	conn, err := (&StreamDialer{}).Connect(context.Background(), relay.endpoint, identity.NewCredential("t"), ref.MustParseProjectID("p1"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.Close()
	conn.Close()
	testutil.RequireClosed(t, conn.Done(), testTimeout)
	if err := conn.Err(); err != nil {
		t.Fatalf("Err after Close = %v, want nil", err)
	}
}
