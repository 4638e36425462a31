// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/huddle-dev/huddle/gateway"
	"github.com/huddle-dev/huddle/lib/clock"
	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/messaging"
	"github.com/huddle-dev/huddle/sandbox"
)

// State is the lifecycle state of a Channel.
type State uint8

const (
	Idle State = iota
	Connecting
	Joined
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Change tells a Notify callback what part of the session changed.
type Change uint8

const (
	ChangeState Change = iota + 1
	ChangeMessages
	ChangeFileTree
	ChangeExecution
)

func (c Change) String() string {
	switch c {
	case ChangeState:
		return "state"
	case ChangeMessages:
		return "messages"
	case ChangeFileTree:
		return "file-tree"
	case ChangeExecution:
		return "execution"
	default:
		return fmt.Sprintf("change(%d)", uint8(c))
	}
}

// Config configures a Channel.
type Config struct {
	// Dialer and Endpoint reach the message bus.
	Dialer   messaging.Dialer
	Endpoint string

	// Identity supplies the bearer credential, and the identity when
	// Join is called without one.
	Identity identity.Provider

	// Gateway loads and persists the project.
	Gateway gateway.Gateway

	// Sandbox is optional; AttachSandbox can supply it later.
	Sandbox sandbox.Adapter

	// Plan is what Run executes. The zero value means DefaultRunPlan.
	Plan RunPlan

	// RunOutput, if set, receives the output of the install and start
	// commands of every Run.
	RunOutput io.Writer

	// ErrorSink receives background failures. Nil discards them after
	// logging.
	ErrorSink ErrorSink

	// Notify is called after every observable change. It must not call
	// back into the Channel's mutating methods.
	Notify func(Change)

	// Clock stamps messages. Nil means the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Channel is one room session. It is safe for concurrent use. A Channel
// joins at most one room; after Closed it cannot be reused.
type Channel struct {
	dialer    messaging.Dialer
	endpoint  string
	provider  identity.Provider
	gateway   gateway.Gateway
	plan      RunPlan
	runOutput io.Writer
	sink      ErrorSink
	notifyFn  func(Change)
	clock     clock.Clock
	logger    *slog.Logger
	persister *persister

	// runMu serializes Run.
	runMu sync.Mutex

	// deliver is held while a callback runs. Leave takes it once after
	// closing, which waits out a callback already in flight.
	deliver sync.Mutex

	mu           sync.Mutex
	state        State
	generation   uint64
	projectID    ref.ProjectID
	identity     identity.Identity
	project      gateway.Project
	conn         messaging.Conn
	subscription *messaging.Subscription
	tree         filetree.Tree
	treeVersion  uint64
	messages     []ChatMessage
	adapter      sandbox.Adapter
	current      *Execution
	installing   sandbox.Process
}

// New returns an Idle channel.
func New(config Config) (*Channel, error) {
	var errs []error
	if config.Dialer == nil {
		errs = append(errs, errors.New("Dialer is required"))
	}
	if config.Endpoint == "" {
		errs = append(errs, errors.New("Endpoint is required"))
	}
	if config.Identity == nil {
		errs = append(errs, errors.New("Identity is required"))
	}
	if config.Gateway == nil {
		errs = append(errs, errors.New("Gateway is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("room: invalid config: %w", err)
	}

	plan := config.Plan
	if len(plan.Install) == 0 && len(plan.Start) == 0 {
		plan = DefaultRunPlan
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	channel := &Channel{
		dialer:    config.Dialer,
		endpoint:  config.Endpoint,
		provider:  config.Identity,
		gateway:   config.Gateway,
		plan:      plan,
		runOutput: config.RunOutput,
		sink:      config.ErrorSink,
		notifyFn:  config.Notify,
		clock:     clk,
		logger:    logger,
		adapter:   config.Sandbox,
		tree:      filetree.Tree{},
	}
	channel.persister = &persister{
		save:   channel.saveTree,
		report: channel.reportPersistence,
	}
	return channel, nil
}

// Join connects to the room of projectID as who (or, when who is zero,
// as the provider's current identity), subscribes to chat, and seeds
// the file tree from the gateway. A failed connect returns the channel
// to Idle. A failed load is reported to the sink and the session
// continues with an empty tree.
func (c *Channel) Join(ctx context.Context, projectID ref.ProjectID, who identity.Identity) error {
	if projectID.IsZero() {
		return errors.New("room: project ID is required")
	}

	c.mu.Lock()
	if c.state != Idle {
		c.mu.Unlock()
		return ErrAlreadyJoined
	}
	c.state = Connecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	c.notify(gen, ChangeState)

	credential, err := c.resolveIdentity(&who)
	if err != nil {
		c.abortConnect(gen)
		return err
	}

	c.mu.Lock()
	c.projectID = projectID
	c.identity = who
	c.tree = filetree.Tree{}
	version := c.treeVersion
	c.mu.Unlock()

	logger := c.logger.With("project_id", projectID, "user_id", who.ID)
	conn, err := c.dialer.Connect(ctx, c.endpoint, credential, projectID)
	if err != nil {
		c.abortConnect(gen)
		logger.Warn("connecting to room failed", "error", err)
		return fmt.Errorf("joining %s: %w", projectID, err)
	}
	subscription := conn.Subscribe(messaging.EventProjectMessage, func(payload json.RawMessage) {
		c.handleInbound(gen, payload)
	})

	c.mu.Lock()
	if c.generation != gen || c.state != Connecting {
		c.mu.Unlock()
		subscription.Cancel()
		conn.Close()
		return fmt.Errorf("joining %s: %w", projectID, ErrNotJoined)
	}
	c.state = Joined
	c.conn = conn
	c.subscription = subscription
	c.mu.Unlock()

	go c.watchConnection(gen, conn)
	logger.Info("joined room")
	c.notify(gen, ChangeState)

	c.load(ctx, gen, projectID, version)
	return nil
}

func (c *Channel) resolveIdentity(who *identity.Identity) (identity.Credential, error) {
	if who.IsZero() {
		current, err := c.provider.CurrentIdentity()
		if err != nil {
			return identity.Credential{}, fmt.Errorf("room: resolving identity: %w", err)
		}
		*who = current
	}
	credential, err := c.provider.Credential()
	if err != nil {
		return identity.Credential{}, fmt.Errorf("room: reading credential: %w", err)
	}
	return credential, nil
}

func (c *Channel) abortConnect(gen uint64) {
	c.mu.Lock()
	reverted := c.generation == gen && c.state == Connecting
	if reverted {
		c.state = Idle
	}
	c.mu.Unlock()
	if reverted {
		c.notify(gen, ChangeState)
	}
}

// load seeds the snapshot from the gateway unless the session changed
// the tree while the request was in flight.
func (c *Channel) load(ctx context.Context, gen uint64, projectID ref.ProjectID, version uint64) {
	project, err := c.gateway.GetProject(ctx, projectID)
	if err != nil {
		c.report(gen, fmt.Errorf("%w: loading project %s: %w", ErrPersistenceFailure, projectID, err))
		return
	}

	c.mu.Lock()
	if c.generation != gen || c.state != Joined {
		c.mu.Unlock()
		return
	}
	seeded := c.treeVersion == version
	if seeded {
		c.tree = project.FileTree.Clone()
	}
	project.FileTree = nil
	c.project = project
	c.mu.Unlock()

	if seeded {
		c.notify(gen, ChangeFileTree)
	}
}

// watchConnection closes the session when the transport ends on its
// own. Leave bumps the generation first, so an intentional close is
// not reported.
func (c *Channel) watchConnection(gen uint64, conn messaging.Conn) {
	<-conn.Done()

	c.deliver.Lock()
	c.mu.Lock()
	if c.generation != gen || c.state != Joined {
		c.mu.Unlock()
		c.deliver.Unlock()
		return
	}
	c.state = Closed
	c.generation++
	subscription, current, installing := c.subscription, c.current, c.installing
	c.subscription, c.conn, c.current, c.installing = nil, nil, nil, nil
	projectID := c.projectID
	c.mu.Unlock()

	subscription.Cancel()
	err := conn.Err()
	if err == nil {
		err = fmt.Errorf("%w: connection closed", ErrTransportUnavailable)
	}
	c.logger.Warn("room connection lost", "project_id", projectID, "error", err)
	if c.sink != nil {
		c.sink(err)
	}
	if c.notifyFn != nil {
		c.notifyFn(ChangeState)
	}
	c.deliver.Unlock()

	stopProcesses(current, installing)
}

func (c *Channel) handleInbound(gen uint64, payload json.RawMessage) {
	var message messaging.ProjectMessage
	if err := json.Unmarshal(payload, &message); err != nil {
		c.logger.Warn("dropping undecodable chat event", "event", messaging.EventProjectMessage, "error", err)
		return
	}
	c.receive(gen, message)
}

// ReceiveMessage applies an inbound chat message. It is the handler of
// the session's subscription and may also be called directly. Messages
// are dropped silently once the channel is Closed.
func (c *Channel) ReceiveMessage(message messaging.ProjectMessage) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	c.receive(gen, message)
}

func (c *Channel) receive(gen uint64, message messaging.ProjectMessage) {
	sender := identity.NewSender(message.Sender)
	chat := ChatMessage{
		Sender:  sender,
		Body:    message.Message,
		Display: message.Message,
	}
	var malformed error
	if sender.IsSynthetic() {
		payload, err := ParseAIPayload(message.Message)
		if err != nil {
			malformed = fmt.Errorf("%w: %v", ErrMalformedAIPayload, err)
		} else {
			chat.AI = &payload
			chat.Display = payload.Text
		}
	}

	c.mu.Lock()
	if c.generation != gen || (c.state != Joined && c.state != Connecting) {
		c.mu.Unlock()
		return
	}
	chat.Timestamp = c.clock.Now()
	c.messages = append(c.messages, chat)
	treeChanged := chat.AI != nil && chat.AI.FileTree != nil
	var adapter sandbox.Adapter
	var mount filetree.Tree
	if treeChanged {
		c.tree = chat.AI.FileTree.Clone()
		c.treeVersion++
		if c.adapter != nil {
			adapter = c.adapter
			mount = c.tree.Clone()
		}
	}
	c.mu.Unlock()

	c.notify(gen, ChangeMessages)
	if malformed != nil {
		c.report(gen, malformed)
	}
	if treeChanged {
		c.notify(gen, ChangeFileTree)
	}
	if adapter != nil {
		if err := adapter.Mount(context.Background(), mount); err != nil {
			c.report(gen, fmt.Errorf("%w: mounting assistant file tree: %w", ErrSandboxUnavailable, err))
		}
	}
}

// PostMessage appends body to the log as the session's identity and
// sends it to the room. The entry stays in the log even if sending
// fails; there is no retry.
func (c *Channel) PostMessage(ctx context.Context, body string) error {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	if strings.TrimSpace(body) == "" {
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	gen, conn, who := c.generation, c.conn, c.identity
	c.messages = append(c.messages, ChatMessage{
		Sender:    identity.NewSender(who),
		Body:      body,
		Display:   body,
		Timestamp: c.clock.Now(),
	})
	c.mu.Unlock()
	c.notify(gen, ChangeMessages)

	err := conn.Send(ctx, messaging.EventProjectMessage, messaging.ProjectMessage{Sender: who, Message: body})
	if err != nil {
		if !errors.Is(err, ErrTransportUnavailable) {
			err = fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
		}
		c.logger.Warn("sending message failed", "project_id", c.ProjectID(), "error", err)
		return fmt.Errorf("posting message: %w", err)
	}
	return nil
}

// UpdateFileTree sets the file at path in the snapshot and schedules
// persistence of a copy. It does not wait for the gateway.
func (c *Channel) UpdateFileTree(path, contents string) error {
	return c.mutateTree(func(tree filetree.Tree) (filetree.Tree, error) {
		if err := tree.Set(path, contents); err != nil {
			return nil, fmt.Errorf("updating %s: %w", path, err)
		}
		return tree, nil
	})
}

// ReplaceFileTree replaces the whole snapshot with a copy of tree and
// schedules persistence.
func (c *Channel) ReplaceFileTree(tree filetree.Tree) error {
	if err := tree.Validate(); err != nil {
		return fmt.Errorf("replacing file tree: %w", err)
	}
	replacement := tree.Clone()
	return c.mutateTree(func(filetree.Tree) (filetree.Tree, error) {
		return replacement, nil
	})
}

func (c *Channel) mutateTree(mutate func(filetree.Tree) (filetree.Tree, error)) error {
	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return ErrNotJoined
	}
	updated, err := mutate(c.tree)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.tree = updated
	c.treeVersion++
	gen := c.generation
	snapshot := c.tree.Clone()
	c.mu.Unlock()

	c.persister.schedule(snapshot)
	c.notify(gen, ChangeFileTree)
	return nil
}

func (c *Channel) saveTree(ctx context.Context, tree filetree.Tree) error {
	projectID := c.ProjectID()
	if err := c.gateway.UpdateFileTree(ctx, projectID, tree); err != nil {
		return err
	}
	c.logger.Debug("file tree saved", "project_id", projectID, "digest", tree.Digest().Short())
	return nil
}

func (c *Channel) reportPersistence(err error) {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	c.report(gen, fmt.Errorf("%w: saving file tree: %w", ErrPersistenceFailure, err))
}

// Flush waits until every scheduled persistence has completed. It
// works after Leave, and returns ErrPersistenceFailure when the newest
// write failed.
func (c *Channel) Flush(ctx context.Context) error {
	err := c.persister.flush(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("%w: saving file tree: %w", ErrPersistenceFailure, err)
	}
	return err
}

// AttachSandbox attaches the execution sandbox after construction.
func (c *Channel) AttachSandbox(adapter sandbox.Adapter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.adapter = adapter
}

// Run executes the run plan against the sandbox: it stops the current
// execution, mounts a copy of the snapshot, runs the install command to
// completion, and starts the start command, which becomes the current
// execution. Runs on one channel are serialized.
func (c *Channel) Run(ctx context.Context) (*Execution, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.mu.Lock()
	if c.state != Joined {
		c.mu.Unlock()
		return nil, ErrNotJoined
	}
	adapter := c.adapter
	if adapter == nil {
		projectID := c.projectID
		c.mu.Unlock()
		c.logger.Warn("run requested without a sandbox", "project_id", projectID)
		return nil, ErrSandboxUnavailable
	}
	gen := c.generation
	previous := c.current
	c.current = nil
	tree := c.tree.Clone()
	projectID := c.projectID
	c.mu.Unlock()

	logger := c.logger.With("project_id", projectID)
	if previous != nil {
		logger.Info("stopping previous execution")
		if err := previous.Kill(); err != nil {
			logger.Warn("stopping previous execution failed", "error", err)
		}
	}

	if err := adapter.Mount(ctx, tree); err != nil {
		return nil, fmt.Errorf("mounting project: %w", err)
	}
	if !c.active(gen) {
		logger.Info("session ended during mount; run abandoned")
		return nil, ErrNotJoined
	}

	if len(c.plan.Install) > 0 {
		if err := c.install(ctx, gen, adapter); err != nil {
			return nil, err
		}
	}
	if len(c.plan.Start) == 0 {
		return nil, errors.New("room: run plan has no start command")
	}

	execution := newExecution()
	execution.unregister = adapter.OnServerReady(func(ready sandbox.ServerReady) {
		if execution.resolve(ready, nil) {
			logger.Info("execution ready", "url", ready.URL)
			c.notify(gen, ChangeExecution)
		}
	})
	process, err := adapter.Spawn(ctx, c.plan.Start[0], c.plan.Start[1:]...)
	if err != nil {
		execution.unregister()
		return nil, fmt.Errorf("starting %s: %w", c.plan.Start[0], err)
	}
	execution.process = process
	c.copyOutput(process)

	c.mu.Lock()
	if c.generation != gen || c.state != Joined {
		c.mu.Unlock()
		execution.unregister()
		process.Kill()
		return nil, ErrNotJoined
	}
	c.current = execution
	c.mu.Unlock()

	go execution.watch(func() {
		c.mu.Lock()
		if c.current == execution {
			c.current = nil
		}
		c.mu.Unlock()
		c.notify(gen, ChangeExecution)
	})
	logger.Info("execution started", "command", c.plan.Start)
	c.notify(gen, ChangeExecution)
	return execution, nil
}

// active reports whether gen is still the joined session.
func (c *Channel) active(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen && c.state == Joined
}

// install runs the install command to completion. Leave kills it; the
// run then ends with ErrNotJoined.
func (c *Channel) install(ctx context.Context, gen uint64, adapter sandbox.Adapter) error {
	command := c.plan.Install
	process, err := adapter.Spawn(ctx, command[0], command[1:]...)
	if err != nil {
		return fmt.Errorf("starting %s: %w", command[0], err)
	}
	c.mu.Lock()
	if c.generation != gen || c.state != Joined {
		c.mu.Unlock()
		process.Kill()
		return ErrNotJoined
	}
	c.installing = process
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.installing == process {
			c.installing = nil
		}
		c.mu.Unlock()
	}()

	copied := c.copyOutput(process)
	code, err := process.Wait(ctx)
	if err != nil {
		process.Kill()
		return fmt.Errorf("waiting for %s: %w", command[0], err)
	}
	<-copied
	if !c.active(gen) {
		return ErrNotJoined
	}
	if code != 0 {
		return &sandbox.ExitError{Command: strings.Join(command, " "), Code: code}
	}
	return nil
}

// copyOutput streams process output to RunOutput. The returned channel
// is closed when the copy is complete.
func (c *Channel) copyOutput(process sandbox.Process) <-chan struct{} {
	done := make(chan struct{})
	if c.runOutput == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		io.Copy(c.runOutput, process.Output())
	}()
	return done
}

// Leave ends the session: it cancels the subscription, closes the
// connection, and stops the current execution. No callback fires after
// Leave returns. Leave is idempotent.
func (c *Channel) Leave() error {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	previous := c.state
	c.state = Closed
	c.generation++
	subscription, conn := c.subscription, c.conn
	current, installing := c.current, c.installing
	c.subscription, c.conn, c.current, c.installing = nil, nil, nil, nil
	projectID := c.projectID
	c.mu.Unlock()

	// Wait out a callback already in flight.
	c.deliver.Lock()
	c.deliver.Unlock()

	if subscription != nil {
		subscription.Cancel()
	}
	var err error
	if conn != nil {
		if closeErr := conn.Close(); closeErr != nil {
			err = fmt.Errorf("closing connection: %w", closeErr)
		}
	}
	stopProcesses(current, installing)
	if previous != Idle {
		c.logger.Info("left room", "project_id", projectID)
	}
	return err
}

func stopProcesses(current *Execution, installing sandbox.Process) {
	if installing != nil {
		installing.Kill()
	}
	if current != nil {
		current.Kill()
	}
}

// notify calls Notify if the session is still the one identified by
// gen.
func (c *Channel) notify(gen uint64, change Change) {
	if c.notifyFn == nil {
		return
	}
	c.emit(gen, func() { c.notifyFn(change) })
}

// report logs err and hands it to the sink if the session is still the
// one identified by gen.
func (c *Channel) report(gen uint64, err error) {
	c.emit(gen, func() {
		c.logger.Warn("room session error", "project_id", c.ProjectID(), "error", err)
		if c.sink != nil {
			c.sink(err)
		}
	})
}

func (c *Channel) emit(gen uint64, fn func()) {
	c.deliver.Lock()
	defer c.deliver.Unlock()
	c.mu.Lock()
	live := c.generation == gen && c.state != Closed
	c.mu.Unlock()
	if live {
		fn()
	}
}

// State returns the lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the session log in arrival order.
func (c *Channel) Messages() []ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	messages := make([]ChatMessage, len(c.messages))
	for index, message := range c.messages {
		messages[index] = message.clone()
	}
	return messages
}

// FileTree returns a copy of the snapshot.
func (c *Channel) FileTree() filetree.Tree {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Clone()
}

// ProjectID returns the project of the session, zero before Join.
func (c *Channel) ProjectID() ref.ProjectID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

// Identity returns the identity the session posts as.
func (c *Channel) Identity() identity.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Project returns the project metadata loaded at join, without its
// tree. It is zero if the load failed.
func (c *Channel) Project() gateway.Project {
	c.mu.Lock()
	defer c.mu.Unlock()
	project := c.project
	project.Collaborators = append([]identity.Identity(nil), project.Collaborators...)
	return project
}

// Current returns the current execution, or nil.
func (c *Channel) Current() *Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
