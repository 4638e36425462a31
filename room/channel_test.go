// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/huddle-dev/huddle/gateway"
	"github.com/huddle-dev/huddle/lib/clock"
	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/lib/testutil"
	"github.com/huddle-dev/huddle/messaging"
	"github.com/huddle-dev/huddle/sandbox"
)

const testTimeout = 5 * time.Second

var (
	testProject = ref.MustParseProjectID("p1")
	testUser    = identity.Identity{ID: ref.MustParseUserID("u1"), Email: "u1@example.com"}
	testEpoch   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

// session is a channel wired to an in-process hub and gateway, with
// its sink and notifications captured.
type session struct {
	channel *Channel
	hub     *messaging.Hub
	gateway *gateway.Memory
	errors  chan error

	mu      sync.Mutex
	changes []Change
}

func newSession(t *testing.T, configure func(*Config)) *session {
	t.Helper()
	hub := messaging.NewHub(nil)
	t.Cleanup(hub.Close)
	memory := gateway.NewMemory(testUser)
	memory.PutProject(gateway.Project{
		ID:            testProject,
		Name:          "demo",
		Collaborators: []identity.Identity{testUser},
		FileTree:      filetree.Tree{"index.js": filetree.NewFile("console.log(1)")},
	})

	s := &session{hub: hub, gateway: memory, errors: make(chan error, 64)}
	config := Config{
		Dialer:    hub,
		Endpoint:  "memory://",
		Identity:  identity.NewStatic(testUser, identity.NewCredential("token-u1")),
		Gateway:   memory,
		ErrorSink: func(err error) { s.errors <- err },
		Notify: func(change Change) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.changes = append(s.changes, change)
		},
		Clock: clock.Fake(testEpoch),
	}
	if configure != nil {
		configure(&config)
	}
	channel, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.channel = channel
	t.Cleanup(func() { channel.Leave() })
	return s
}

func (s *session) join(t *testing.T) {
	t.Helper()
	if err := s.channel.Join(context.Background(), testProject, identity.Identity{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
}

func (s *session) changeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

// peer connects a second member to the room and collects what it
// receives.
func (s *session) peer(t *testing.T) (messaging.Conn, <-chan messaging.ProjectMessage) {
	t.Helper()
	conn, err := s.hub.Connect(context.Background(), "memory://", identity.Credential{}, testProject)
	if err != nil {
		t.Fatalf("connecting peer: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	received := make(chan messaging.ProjectMessage, 64)
	conn.Subscribe(messaging.EventProjectMessage, func(payload json.RawMessage) {
		var message messaging.ProjectMessage
		if err := json.Unmarshal(payload, &message); err != nil {
			t.Errorf("peer decoding %s: %v", payload, err)
			return
		}
		received <- message
	})
	return conn, received
}

func (s *session) injectAI(t *testing.T, body string) {
	t.Helper()
	err := s.hub.Inject(testProject, messaging.EventProjectMessage, messaging.ProjectMessage{
		Sender:  identity.AI,
		Message: body,
	})
	if err != nil {
		t.Fatalf("Inject: %v", err)
	}
}

// eventually polls condition until it holds or the test times out.
func eventually(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectError(t *testing.T, errs <-chan error, target error) error {
	t.Helper()
	err := testutil.RequireReceive(t, errs, testTimeout, "waiting for %v on the sink", target)
	if !errors.Is(err, target) {
		t.Fatalf("sink received %v, want %v", err, target)
	}
	return err
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New with empty config succeeded")
	}
	for _, field := range []string{"Dialer", "Endpoint", "Identity", "Gateway"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		Idle:       "idle",
		Connecting: "connecting",
		Joined:     "joined",
		Closed:     "closed",
		State(9):   "state(9)",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", uint8(state), got, want)
		}
	}
}

func TestJoinSeedsFileTree(t *testing.T) {
	s := newSession(t, nil)
	if got := s.channel.State(); got != Idle {
		t.Fatalf("initial state = %s, want idle", got)
	}
	s.join(t)

	if got := s.channel.State(); got != Joined {
		t.Fatalf("state after Join = %s, want joined", got)
	}
	if got := s.channel.ProjectID(); got != testProject {
		t.Fatalf("ProjectID = %s, want %s", got, testProject)
	}
	if got := s.channel.Identity(); got != testUser {
		t.Fatalf("Identity = %+v, want %+v", got, testUser)
	}
	want := filetree.Tree{"index.js": filetree.NewFile("console.log(1)")}
	if got := s.channel.FileTree(); !got.Equal(want) {
		t.Fatalf("FileTree = %v, want %v", got, want)
	}
	if got := s.channel.Project().Name; got != "demo" {
		t.Fatalf("Project().Name = %q, want demo", got)
	}
	if s.hub.Members(testProject) != 1 {
		t.Fatalf("hub has %d members, want 1", s.hub.Members(testProject))
	}
}

func TestJoinAsExplicitIdentity(t *testing.T) {
	s := newSession(t, nil)
	other := identity.Identity{ID: ref.MustParseUserID("u2")}
	if err := s.channel.Join(context.Background(), testProject, other); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if got := s.channel.Identity(); got != other {
		t.Fatalf("Identity = %+v, want %+v", got, other)
	}
}

func TestJoinRejectsSecondJoin(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	if err := s.channel.Join(context.Background(), testProject, identity.Identity{}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("second Join = %v, want ErrAlreadyJoined", err)
	}
	s.channel.Leave()
	if err := s.channel.Join(context.Background(), testProject, identity.Identity{}); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("Join after Leave = %v, want ErrAlreadyJoined", err)
	}
}

func TestJoinConnectFailureReturnsToIdle(t *testing.T) {
	s := newSession(t, nil)
	s.hub.Close()

	err := s.channel.Join(context.Background(), testProject, identity.Identity{})
	if !errors.Is(err, ErrTransportUnavailable) {
		t.Fatalf("Join on closed hub = %v, want ErrTransportUnavailable", err)
	}
	if got := s.channel.State(); got != Idle {
		t.Fatalf("state after failed connect = %s, want idle", got)
	}
}

func TestJoinWithoutIdentity(t *testing.T) {
	s := newSession(t, func(config *Config) {
		config.Identity = identity.NewStatic(identity.Identity{}, identity.Credential{})
	})
	err := s.channel.Join(context.Background(), testProject, identity.Identity{})
	if !errors.Is(err, identity.ErrNoIdentity) {
		t.Fatalf("Join = %v, want ErrNoIdentity", err)
	}
	if got := s.channel.State(); got != Idle {
		t.Fatalf("state = %s, want idle", got)
	}
}

func TestJoinLoadFailureIsReported(t *testing.T) {
	s := newSession(t, nil)
	missing := ref.MustParseProjectID("missing")
	if err := s.channel.Join(context.Background(), missing, identity.Identity{}); err != nil {
		t.Fatalf("Join: %v", err)
	}
	err := expectError(t, s.errors, ErrPersistenceFailure)
	if !gateway.IsNotFound(err) {
		t.Fatalf("sink error %v does not carry the gateway's not-found", err)
	}
	if got := s.channel.State(); got != Joined {
		t.Fatalf("state = %s, want joined", got)
	}
	if got := s.channel.FileTree(); len(got) != 0 {
		t.Fatalf("FileTree = %v, want empty", got)
	}
}

func TestOperationsRequireJoin(t *testing.T) {
	s := newSession(t, func(config *Config) { config.Sandbox = newFakeSandbox() })
	ctx := context.Background()

	if err := s.channel.PostMessage(ctx, "hello"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("PostMessage = %v, want ErrNotJoined", err)
	}
	if err := s.channel.UpdateFileTree("a.js", "x"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("UpdateFileTree = %v, want ErrNotJoined", err)
	}
	if err := s.channel.ReplaceFileTree(filetree.Tree{}); !errors.Is(err, ErrNotJoined) {
		t.Errorf("ReplaceFileTree = %v, want ErrNotJoined", err)
	}
	if _, err := s.channel.Run(ctx); !errors.Is(err, ErrNotJoined) {
		t.Errorf("Run = %v, want ErrNotJoined", err)
	}
}

func TestPostMessageRejectsBlankBody(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	for _, body := range []string{"", "   ", "\n\t"} {
		if err := s.channel.PostMessage(context.Background(), body); !errors.Is(err, ErrEmptyMessage) {
			t.Errorf("PostMessage(%q) = %v, want ErrEmptyMessage", body, err)
		}
	}
	if got := len(s.channel.Messages()); got != 0 {
		t.Fatalf("log has %d entries after blank posts, want 0", got)
	}
}

func TestSessionExample(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	_, peerInbox := s.peer(t)

	if err := s.channel.PostMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	messages := s.channel.Messages()
	if len(messages) != 1 {
		t.Fatalf("log has %d entries, want 1", len(messages))
	}
	first := messages[0]
	if first.Sender.Identity().ID.String() != "u1" || first.Body != "hello" || first.Sender.IsSynthetic() {
		t.Fatalf("first entry = %+v, want hello from u1", first)
	}
	if !first.Timestamp.Equal(testEpoch) {
		t.Fatalf("timestamp = %v, want %v", first.Timestamp, testEpoch)
	}

	relayed := testutil.RequireReceive(t, peerInbox, testTimeout, "peer waiting for hello")
	if relayed.Message != "hello" || relayed.Sender.ID.String() != "u1" {
		t.Fatalf("peer received %+v", relayed)
	}

	s.injectAI(t, `{"text":"hi","fileTree":{"a.js":{"file":{"contents":"x"}}}}`)
	eventually(t, "the assistant message", func() bool { return len(s.channel.Messages()) == 2 })

	want := filetree.Tree{"a.js": filetree.NewFile("x")}
	if got := s.channel.FileTree(); !got.Equal(want) {
		t.Fatalf("FileTree = %v, want %v", got, want)
	}
	reply := s.channel.Messages()[1]
	if !reply.Sender.IsSynthetic() || reply.AI == nil || reply.Display != "hi" {
		t.Fatalf("assistant entry = %+v, want parsed payload displaying hi", reply)
	}
	testutil.RequireSilent(t, s.errors, 20*time.Millisecond, "valid payload reported an error")
}

func TestMalformedAIMessageShownLiterally(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)

	for _, body := range []string{"plain words", `{"text": unterminated`, `["not", "an", "object"]`} {
		before := len(s.channel.Messages())
		s.injectAI(t, body)
		eventually(t, "the malformed message", func() bool { return len(s.channel.Messages()) == before+1 })

		got := s.channel.Messages()[before]
		if got.Display != body || got.AI != nil {
			t.Fatalf("entry for %q = %+v, want literal display", body, got)
		}
		expectError(t, s.errors, ErrMalformedAIPayload)
	}
	if got := s.channel.State(); got != Joined {
		t.Fatalf("state = %s, want joined", got)
	}
}

func TestReceiveMessageDirect(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	peerUser := identity.Identity{ID: ref.MustParseUserID("u2")}

	s.channel.ReceiveMessage(messaging.ProjectMessage{Sender: peerUser, Message: "from u2"})
	messages := s.channel.Messages()
	if len(messages) != 1 || messages[0].Display != "from u2" || messages[0].Sender.Identity() != peerUser {
		t.Fatalf("Messages = %+v", messages)
	}

	s.channel.Leave()
	s.channel.ReceiveMessage(messaging.ProjectMessage{Sender: peerUser, Message: "late"})
	if got := len(s.channel.Messages()); got != 1 {
		t.Fatalf("message after Leave was appended: log has %d entries", got)
	}
}

func TestMessagesAreCopies(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	s.channel.ReceiveMessage(messaging.ProjectMessage{
		Sender:  identity.AI,
		Message: `{"text":"t","fileTree":{"a.js":{"file":{"contents":"x"}}}}`,
	})

	messages := s.channel.Messages()
	messages[0].AI.FileTree.Set("a.js", "mutated")
	tree := s.channel.FileTree()
	tree.Set("a.js", "mutated too")

	if got, _ := s.channel.Messages()[0].AI.FileTree.Get("a.js"); got.File.Contents != "x" {
		t.Fatalf("log payload was mutated through a copy: %q", got.File.Contents)
	}
	if got, _ := s.channel.FileTree().Get("a.js"); got.File.Contents != "x" {
		t.Fatalf("snapshot was mutated through a copy: %q", got.File.Contents)
	}
}

func TestFileTreeIsLastApplied(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)

	steps := []func() error{
		func() error { return s.channel.UpdateFileTree("src/index.js", "v1") },
		func() error { return s.channel.UpdateFileTree("src/index.js", "v2") },
		func() error {
			return s.channel.ReplaceFileTree(filetree.Tree{"README.md": filetree.NewFile("# demo")})
		},
		func() error { return s.channel.UpdateFileTree("src/app.js", "app") },
	}
	for index, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", index, err)
		}
	}
	want := filetree.Tree{
		"README.md": filetree.NewFile("# demo"),
		"src":       filetree.NewDirectory(filetree.Tree{"app.js": filetree.NewFile("app")}),
	}
	if got := s.channel.FileTree(); !got.Equal(want) {
		t.Fatalf("snapshot = %v, want %v", got, want)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := s.channel.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	stored, err := s.gateway.GetProject(ctx, testProject)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if !stored.FileTree.Equal(want) {
		t.Fatalf("persisted tree = %v, want %v", stored.FileTree, want)
	}
}

func TestUpdateFileTreeRejectsBadPath(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	before := s.channel.FileTree()
	if err := s.channel.UpdateFileTree("index.js/inner", "x"); !errors.Is(err, filetree.ErrNotDirectory) {
		t.Fatalf("UpdateFileTree through a file = %v, want ErrNotDirectory", err)
	}
	if err := s.channel.UpdateFileTree("../escape", "x"); !errors.Is(err, filetree.ErrInvalidPath) {
		t.Fatalf("UpdateFileTree(../escape) = %v, want ErrInvalidPath", err)
	}
	if got := s.channel.FileTree(); !got.Equal(before) {
		t.Fatalf("failed updates changed the snapshot to %v", got)
	}
}

func TestPersistenceFailureKeepsSnapshot(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	s.gateway.BeforeUpdate = func(ref.ProjectID, filetree.Tree) error {
		return &gateway.APIError{StatusCode: 500, Message: "disk full"}
	}

	if err := s.channel.UpdateFileTree("a.js", "kept"); err != nil {
		t.Fatalf("UpdateFileTree returned the persistence failure: %v", err)
	}
	err := expectError(t, s.errors, ErrPersistenceFailure)
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("sink error %q does not carry the gateway message", err)
	}
	if got, ok := s.channel.FileTree().Get("a.js"); !ok || got.File.Contents != "kept" {
		t.Fatalf("snapshot lost the update after a persistence failure")
	}
}

func TestFlushAfterLeaveReturnsFailure(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	release := make(chan struct{})
	s.gateway.BeforeUpdate = func(ref.ProjectID, filetree.Tree) error {
		<-release
		return &gateway.APIError{StatusCode: 503, Message: "unavailable"}
	}

	if err := s.channel.UpdateFileTree("a.js", "last edit"); err != nil {
		t.Fatalf("UpdateFileTree: %v", err)
	}
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := s.channel.Flush(ctx); !errors.Is(err, ErrPersistenceFailure) {
		t.Fatalf("Flush after Leave = %v, want ErrPersistenceFailure", err)
	}
	testutil.RequireSilent(t, s.errors, 20*time.Millisecond, "sink received an error after Leave")
}

func TestPersistenceCoalesces(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)

	entered := make(chan struct{}, 8)
	release := make(chan struct{})
	var mu sync.Mutex
	var saved []string
	s.gateway.BeforeUpdate = func(_ ref.ProjectID, tree filetree.Tree) error {
		node, _ := tree.Get("a.js")
		mu.Lock()
		saved = append(saved, node.File.Contents)
		mu.Unlock()
		entered <- struct{}{}
		<-release
		return nil
	}

	if err := s.channel.UpdateFileTree("a.js", "v1"); err != nil {
		t.Fatal(err)
	}
	testutil.RequireReceive(t, entered, testTimeout, "waiting for the first write")
	for _, version := range []string{"v2", "v3", "v4"} {
		if err := s.channel.UpdateFileTree("a.js", version); err != nil {
			t.Fatal(err)
		}
	}
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := s.channel.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(saved) != 2 || saved[0] != "v1" || saved[1] != "v4" {
		t.Fatalf("writes = %v, want [v1 v4]", saved)
	}
}

func TestPostThenLeaveIsQuiet(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)
	_, peerInbox := s.peer(t)

	if err := s.channel.PostMessage(context.Background(), "bye"); err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	settled := s.changeCount()
	logged := len(s.channel.Messages())

	s.injectAI(t, `{"text":"too late"}`)
	s.channel.ReceiveMessage(messaging.ProjectMessage{Sender: identity.AI, Message: "not json"})
	testutil.RequireReceive(t, peerInbox, testTimeout, "peer waiting for bye")
	time.Sleep(50 * time.Millisecond)

	if got := s.changeCount(); got != settled {
		t.Fatalf("%d notifications fired after Leave", got-settled)
	}
	if got := len(s.channel.Messages()); got != logged {
		t.Fatalf("log grew after Leave: %d entries, want %d", got, logged)
	}
	testutil.RequireSilent(t, s.errors, 20*time.Millisecond, "sink received an error after Leave")
	if got := s.channel.State(); got != Closed {
		t.Fatalf("state = %s, want closed", got)
	}
	if got := s.hub.Members(testProject); got != 1 {
		t.Fatalf("hub has %d members after Leave, want only the peer", got)
	}
}

// countingDialer wraps the hub so tests can see how the channel
// treats its connection.
type countingDialer struct {
	*messaging.Hub

	mu    sync.Mutex
	conns []*countingConn
}

func (d *countingDialer) Connect(ctx context.Context, endpoint string, credential identity.Credential, projectID ref.ProjectID) (messaging.Conn, error) {
	conn, err := d.Hub.Connect(ctx, endpoint, credential, projectID)
	if err != nil {
		return nil, err
	}
	counted := &countingConn{Conn: conn}
	d.mu.Lock()
	d.conns = append(d.conns, counted)
	d.mu.Unlock()
	return counted, nil
}

type countingConn struct {
	messaging.Conn

	mu            sync.Mutex
	closes        int
	subscriptions []*messaging.Subscription
}

func (c *countingConn) Subscribe(event string, handler messaging.Handler) *messaging.Subscription {
	subscription := c.Conn.Subscribe(event, handler)
	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, subscription)
	c.mu.Unlock()
	return subscription
}

func (c *countingConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.Conn.Close()
}

func TestLeaveTwice(t *testing.T) {
	var dialer *countingDialer
	s := newSession(t, func(config *Config) {
		dialer = &countingDialer{Hub: config.Dialer.(*messaging.Hub)}
		config.Dialer = dialer
	})
	s.join(t)
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("first Leave: %v", err)
	}
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("second Leave: %v", err)
	}

	if len(dialer.conns) != 1 {
		t.Fatalf("channel dialed %d times, want 1", len(dialer.conns))
	}
	conn := dialer.conns[0]
	conn.mu.Lock()
	closes, subscriptions := conn.closes, conn.subscriptions
	conn.mu.Unlock()
	if closes != 1 {
		t.Fatalf("connection closed %d times across two Leaves, want 1", closes)
	}
	if len(subscriptions) != 1 {
		t.Fatalf("channel subscribed %d times, want 1", len(subscriptions))
	}
	select {
	case <-subscriptions[0].Done():
	default:
		t.Fatal("subscription still active after Leave")
	}

	idle := newSession(t, nil)
	if err := idle.channel.Leave(); err != nil {
		t.Fatalf("Leave before Join: %v", err)
	}
	if got := idle.channel.State(); got != Closed {
		t.Fatalf("state after Leave from idle = %s, want closed", got)
	}
}

func TestTransportFailureClosesSession(t *testing.T) {
	s := newSession(t, nil)
	s.join(t)

	s.hub.Disconnect(testProject, errors.New("partition"))
	expectError(t, s.errors, ErrTransportUnavailable)
	eventually(t, "the closed state", func() bool { return s.channel.State() == Closed })

	if err := s.channel.PostMessage(context.Background(), "anyone?"); !errors.Is(err, ErrNotJoined) {
		t.Fatalf("PostMessage after disconnect = %v, want ErrNotJoined", err)
	}
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("Leave after disconnect: %v", err)
	}
}

func TestRunWithoutSandbox(t *testing.T) {
	var logs bytes.Buffer
	s := newSession(t, func(config *Config) { config.Logger = slog.New(slog.NewTextHandler(&logs, nil)) })
	s.join(t)

	execution, err := s.channel.Run(context.Background())
	if !errors.Is(err, ErrSandboxUnavailable) || execution != nil {
		t.Fatalf("Run = (%v, %v), want ErrSandboxUnavailable", execution, err)
	}
	if !strings.Contains(logs.String(), "run requested without a sandbox") {
		t.Fatalf("no warning logged; logs:\n%s", logs.String())
	}
}

func TestRunInstallsThenStarts(t *testing.T) {
	fake := newFakeSandbox()
	var output syncBuffer
	s := newSession(t, func(config *Config) { config.RunOutput = &output })
	s.join(t)
	s.channel.AttachSandbox(fake)

	execution, err := s.channel.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.channel.Current() != execution {
		t.Fatal("Run did not make the execution current")
	}

	events, mounts, _ := fake.snapshot()
	want := []string{"mount", "spawn npm install#1", "spawn npm start#2"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("sandbox events = %v, want %v", events, want)
	}
	if !mounts[0].Equal(s.channel.FileTree()) {
		t.Fatalf("mounted %v, want the snapshot", mounts[0])
	}

	fake.announce(sandbox.ServerReady{Port: 3000, URL: "http://localhost:3000"})
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	ready, err := execution.AwaitReady(ctx)
	if err != nil || ready.Port != 3000 {
		t.Fatalf("AwaitReady = (%+v, %v), want port 3000", ready, err)
	}
	eventually(t, "run output", func() bool {
		return strings.Contains(output.String(), "output of npm install#1") &&
			strings.Contains(output.String(), "output of npm start#2")
	})
}

func TestLeaveDuringMountAbandonsRun(t *testing.T) {
	fake := newFakeSandbox()
	fake.mountGate = make(chan struct{})
	fake.mountEntered = make(chan struct{})
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)

	result := make(chan error, 1)
	go func() {
		_, err := s.channel.Run(context.Background())
		result <- err
	}()
	select {
	case <-fake.mountEntered:
	case <-time.After(testTimeout):
		t.Fatal("Run never reached Mount")
	}
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	close(fake.mountGate)

	select {
	case err := <-result:
		if !errors.Is(err, ErrNotJoined) {
			t.Fatalf("Run = %v, want ErrNotJoined", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after Leave")
	}
	events, _, _ := fake.snapshot()
	if strings.Join(events, ",") != "mount" {
		t.Fatalf("sandbox events = %v, want only the mount", events)
	}
	if s.channel.Current() != nil {
		t.Fatal("abandoned run left a current execution")
	}
}

func TestLeaveDuringInstallAbandonsRun(t *testing.T) {
	fake := newFakeSandbox()
	fake.holdInstall = true
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)

	result := make(chan error, 1)
	go func() {
		_, err := s.channel.Run(context.Background())
		result <- err
	}()
	eventually(t, "the install spawn", func() bool {
		events, _, _ := fake.snapshot()
		return len(events) == 2
	})
	if err := s.channel.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}

	select {
	case err := <-result:
		if !errors.Is(err, ErrNotJoined) {
			t.Fatalf("Run = %v, want ErrNotJoined", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not return after Leave")
	}
	events, _, _ := fake.snapshot()
	want := []string{"mount", "spawn npm install#1", "kill npm install#1"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("sandbox events = %v, want %v", events, want)
	}
}

func TestRunMountsCopy(t *testing.T) {
	fake := newFakeSandbox()
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)
	if _, err := s.channel.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, mounts, _ := fake.snapshot()
	mounts[0].Set("index.js", "changed by sandbox")
	if got, _ := s.channel.FileTree().Get("index.js"); got.File.Contents != "console.log(1)" {
		t.Fatalf("sandbox mutation reached the snapshot: %q", got.File.Contents)
	}
}

func TestRunTwiceKillsFirstOnce(t *testing.T) {
	fake := newFakeSandbox()
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)
	ctx := context.Background()

	first, err := s.channel.Run(ctx)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := s.channel.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	events, _, processes := fake.snapshot()
	want := []string{
		"mount", "spawn npm install#1", "spawn npm start#2",
		"kill npm start#2",
		"mount", "spawn npm install#3", "spawn npm start#4",
	}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("sandbox events = %v, want %v", events, want)
	}
	if got := processes[1].killCount(); got != 1 {
		t.Fatalf("first execution killed %d times, want 1", got)
	}
	if s.channel.Current() != second {
		t.Fatal("second execution is not current")
	}

	ctx, cancel := context.WithTimeout(ctx, testTimeout)
	defer cancel()
	if _, err := first.AwaitReady(ctx); !errors.Is(err, ErrExitedBeforeReady) {
		t.Fatalf("first execution ready = %v, want ErrExitedBeforeReady", err)
	}
	eventually(t, "the first readiness registration to drop", func() bool { return fake.registered() == 1 })
}

func TestRunAbortsOnInstallFailure(t *testing.T) {
	fake := newFakeSandbox()
	fake.installCode = 1
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)

	_, err := s.channel.Run(context.Background())
	code, ok := sandbox.IsExitError(err)
	if !ok || code != 1 {
		t.Fatalf("Run = %v, want exit error with code 1", err)
	}
	events, _, _ := fake.snapshot()
	for _, event := range events {
		if strings.HasPrefix(event, "spawn npm start") {
			t.Fatalf("start spawned after failed install: %v", events)
		}
	}
	if s.channel.Current() != nil {
		t.Fatal("failed run left a current execution")
	}
}

func TestRunCustomPlan(t *testing.T) {
	fake := newFakeSandbox()
	s := newSession(t, func(config *Config) {
		config.Sandbox = fake
		config.Plan = RunPlan{Start: []string{"node", "server.js"}}
	})
	s.join(t)
	if _, err := s.channel.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	events, _, _ := fake.snapshot()
	if want := "mount,spawn node server.js#1"; strings.Join(events, ",") != want {
		t.Fatalf("sandbox events = %v, want %s", events, want)
	}
}

func TestExecutionExitClearsCurrent(t *testing.T) {
	fake := newFakeSandbox()
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)
	execution, err := s.channel.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	_, _, processes := fake.snapshot()
	processes[len(processes)-1].exit(0)

	testutil.RequireClosed(t, execution.Ready(), testTimeout, "ready future never resolved")
	eventually(t, "the execution to clear", func() bool { return s.channel.Current() == nil })
}

func TestLeaveKillsExecution(t *testing.T) {
	fake := newFakeSandbox()
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)
	if _, err := s.channel.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	s.channel.Leave()
	_, _, processes := fake.snapshot()
	if got := processes[1].killCount(); got != 1 {
		t.Fatalf("execution killed %d times by Leave, want 1", got)
	}
	s.channel.Leave()
	if got := processes[1].killCount(); got != 1 {
		t.Fatalf("second Leave killed again: %d kills", got)
	}
}

func TestAssistantTreeIsMounted(t *testing.T) {
	fake := newFakeSandbox()
	s := newSession(t, func(config *Config) { config.Sandbox = fake })
	s.join(t)

	s.channel.ReceiveMessage(messaging.ProjectMessage{
		Sender:  identity.AI,
		Message: `{"text":"done","fileTree":{"b.js":{"file":{"contents":"y"}}}}`,
	})
	_, mounts, _ := fake.snapshot()
	if len(mounts) != 1 {
		t.Fatalf("%d mounts, want 1", len(mounts))
	}
	want := filetree.Tree{"b.js": filetree.NewFile("y")}
	if !mounts[0].Equal(want) {
		t.Fatalf("mounted %v, want %v", mounts[0], want)
	}
}

// syncBuffer is a bytes.Buffer safe for the concurrent output copies
// of one run.
type syncBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *syncBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(data)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}
