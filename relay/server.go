// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/netutil"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/messaging"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultQueueDepth       = 256
)

// Config configures a Server.
type Config struct {
	// Authenticator verifies Hello tokens. Required.
	Authenticator Authenticator

	// HandshakeTimeout bounds the wait for a connection's Hello.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write to a member.
	WriteTimeout time.Duration

	// QueueDepth is the number of outbound events a member may have
	// pending before it is disconnected.
	QueueDepth int

	// Compression applies to outbound frames above
	// messaging.CompressionThreshold.
	Compression codec.Compression

	// Assistant, if set, answers messages that mention it.
	Assistant *Assistant

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the relay. Rooms exist while they have members.
type Server struct {
	authenticator    Authenticator
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	queueDepth       int
	compression      codec.Compression
	assistant        *Assistant
	logger           *slog.Logger

	// connections tracks connection handlers and assistant replies so
	// Serve can wait for them on shutdown.
	connections sync.WaitGroup

	mu       sync.Mutex
	rooms    map[ref.ProjectID]map[*member]struct{}
	stopping bool
}

// NewServer validates config and returns a Server.
func NewServer(config Config) (*Server, error) {
	if config.Authenticator == nil {
		return nil, errors.New("relay: Authenticator is required")
	}
	if config.QueueDepth < 0 {
		return nil, fmt.Errorf("relay: negative queue depth %d", config.QueueDepth)
	}
	server := &Server{
		authenticator:    config.Authenticator,
		handshakeTimeout: config.HandshakeTimeout,
		writeTimeout:     config.WriteTimeout,
		queueDepth:       config.QueueDepth,
		compression:      config.Compression,
		assistant:        config.Assistant,
		logger:           config.Logger,
		rooms:            make(map[ref.ProjectID]map[*member]struct{}),
	}
	if server.handshakeTimeout <= 0 {
		server.handshakeTimeout = DefaultHandshakeTimeout
	}
	if server.writeTimeout <= 0 {
		server.writeTimeout = DefaultWriteTimeout
	}
	if server.queueDepth == 0 {
		server.queueDepth = DefaultQueueDepth
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server, nil
}

// Listen opens a listener for a tcp:// or unix:// endpoint. A stale
// socket file at a unix endpoint is removed first.
func Listen(endpoint string) (net.Listener, error) {
	address, err := netutil.ParseStreamEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	if address.Network == "unix" {
		if err := os.Remove(address.Address); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("removing stale socket %s: %w", address.Address, err)
		}
	}
	listener, err := net.Listen(address.Network, address.Address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return listener, nil
}

// ListenAndServe listens on endpoint and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, endpoint string) error {
	listener, err := Listen(endpoint)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve accepts connections on listener until ctx is cancelled, then
// disconnects every member with a shutdown error and waits for their
// handlers to finish. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("relay listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.connections.Add(1)
		go func() {
			defer s.connections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.shutdown()
	s.connections.Wait()
	s.logger.Info("relay stopped")
	return nil
}

func (s *Server) shutdown() {
	s.mu.Lock()
	s.stopping = true
	var members []*member
	for _, room := range s.rooms {
		for m := range room {
			members = append(members, m)
		}
	}
	s.mu.Unlock()

	for _, m := range members {
		m.close(&messaging.ErrorFrame{Code: messaging.ErrorCodeShutdown, Message: "relay is shutting down"})
	}
}

// Members returns the number of members in a room.
func (s *Server) Members(projectID ref.ProjectID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rooms[projectID])
}

// handleConnection runs one connection from Hello to disconnect.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	logger := s.logger.With("remote", conn.RemoteAddr().String())
	reader := bufio.NewReader(conn)

	hello, user, rejection := s.handshake(ctx, conn, reader)
	if rejection != nil {
		logger.Info("rejected connection", "code", rejection.Code, "reason", rejection.Message)
		conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		if err := messaging.WriteFrame(conn, messaging.FrameError, rejection, codec.CompressionNone); err != nil {
			logger.Debug("writing rejection failed", "error", err)
		}
		conn.Close()
		return
	}

	m := &member{
		server:    s,
		conn:      conn,
		identity:  user,
		projectID: hello.ProjectID,
		queue:     make(chan messaging.EventFrame, s.queueDepth),
		done:      make(chan struct{}),
		logger:    logger.With("project_id", hello.ProjectID, "user_id", user.ID),
	}
	members, ok := s.join(m)
	if !ok {
		m.close(&messaging.ErrorFrame{Code: messaging.ErrorCodeShutdown, Message: "relay is shutting down"})
		return
	}

	err := m.write(messaging.FrameWelcome, messaging.Welcome{Identity: user, Members: members}, codec.CompressionNone)
	if err != nil {
		m.logger.Info("writing welcome failed", "error", err)
		m.close(nil)
		return
	}
	m.logger.Info("member joined", "client", hello.Client, "members", members)

	go m.writeLoop()
	s.readLoop(ctx, m, reader)
	m.close(nil)
	m.logger.Info("member left")
}

// handshake reads and checks the Hello. A non-nil ErrorFrame is the
// rejection to send.
func (s *Server) handshake(ctx context.Context, conn net.Conn, reader *bufio.Reader) (messaging.Hello, identity.Identity, *messaging.ErrorFrame) {
	conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() { conn.SetReadDeadline(time.Now()) })
	defer stop()

	badRequest := func(format string, args ...any) *messaging.ErrorFrame {
		return &messaging.ErrorFrame{Code: messaging.ErrorCodeBadRequest, Message: fmt.Sprintf(format, args...)}
	}

	frame, err := messaging.ReadFrame(reader)
	if err != nil {
		return messaging.Hello{}, identity.Identity{}, badRequest("reading hello: %v", err)
	}
	if frame.Type != messaging.FrameHello {
		return messaging.Hello{}, identity.Identity{}, badRequest("expected hello, got %s", frame.Type)
	}
	var hello messaging.Hello
	if err := frame.Decode(&hello); err != nil {
		return messaging.Hello{}, identity.Identity{}, badRequest("%v", err)
	}
	if hello.Version != messaging.ProtocolVersion {
		return hello, identity.Identity{}, badRequest("unsupported protocol version %d", hello.Version)
	}
	if hello.ProjectID.IsZero() {
		return hello, identity.Identity{}, badRequest("hello has no project ID")
	}

	user, err := s.authenticator.Authenticate(ctx, hello.Token)
	if err != nil {
		message := "invalid credential"
		if !errors.Is(err, ErrUnauthorized) {
			s.logger.Error("authenticator failed", "error", err)
			message = "authentication unavailable"
		}
		return hello, identity.Identity{}, &messaging.ErrorFrame{Code: messaging.ErrorCodeUnauthorized, Message: message}
	}
	return hello, user, nil
}

// readLoop reads event frames until the connection fails or the member
// is closed.
func (s *Server) readLoop(ctx context.Context, m *member, reader *bufio.Reader) {
	for {
		frame, err := messaging.ReadFrame(reader)
		if err != nil {
			if !netutil.IsExpectedCloseError(err) && !m.closed() {
				m.logger.Info("read failed", "error", err)
			}
			return
		}
		if frame.Type != messaging.FrameEvent {
			m.logger.Warn("unexpected frame from member", "frame", frame.Type)
			continue
		}
		var event messaging.EventFrame
		if err := frame.Decode(&event); err != nil {
			m.logger.Warn("dropping undecodable event", "error", err, "frame", frame.Diagnose())
			continue
		}
		if event.Name != messaging.EventProjectMessage {
			m.logger.Debug("ignoring event", "event", event.Name)
			continue
		}

		var message messaging.ProjectMessage
		if err := json.Unmarshal(event.Payload, &message); err != nil {
			m.logger.Warn("dropping malformed project message", "error", err)
			continue
		}
		message.Sender = m.identity
		s.publish(m.projectID, m, message)

		if s.assistant != nil {
			s.assistant.Observe(m.projectID, message)
			if s.assistant.Mentioned(message.Message) {
				s.connections.Add(1)
				go func() {
					defer s.connections.Done()
					s.assistant.Respond(ctx, m.projectID, message, func(reply messaging.ProjectMessage) {
						s.publish(m.projectID, nil, reply)
					})
				}()
			}
		}
	}
}

// publish sends message to every member of the room except sender. A
// nil sender reaches everyone.
func (s *Server) publish(projectID ref.ProjectID, sender *member, message messaging.ProjectMessage) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("encoding project message", "project_id", projectID, "error", err)
		return
	}
	event := messaging.EventFrame{Name: messaging.EventProjectMessage, Payload: payload}

	s.mu.Lock()
	defer s.mu.Unlock()
	for m := range s.rooms[projectID] {
		if m != sender {
			m.enqueue(event)
		}
	}
}

// Inject sends message to every member of a room, as the assistant
// does.
func (s *Server) Inject(projectID ref.ProjectID, message messaging.ProjectMessage) {
	s.publish(projectID, nil, message)
}

// join adds m to its room and returns the member count. It fails once
// the server is stopping.
func (s *Server) join(m *member) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return 0, false
	}
	room := s.rooms[m.projectID]
	if room == nil {
		room = make(map[*member]struct{})
		s.rooms[m.projectID] = room
	}
	room[m] = struct{}{}
	return len(room), true
}

// leave removes m from its room. The assistant forgets a room once its
// last member is gone.
func (s *Server) leave(m *member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[m.projectID]
	delete(room, m)
	if len(room) == 0 {
		delete(s.rooms, m.projectID)
		if s.assistant != nil {
			s.assistant.Forget(m.projectID)
		}
	}
}

// member is one joined connection.
type member struct {
	server    *Server
	conn      net.Conn
	identity  identity.Identity
	projectID ref.ProjectID
	queue     chan messaging.EventFrame
	logger    *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// enqueue queues event without blocking. A full queue disconnects the
// member. Called with the server lock held.
func (m *member) enqueue(event messaging.EventFrame) {
	select {
	case <-m.done:
		return
	default:
	}
	select {
	case m.queue <- event:
	default:
		m.logger.Warn("outbound queue full, disconnecting member", "queue_depth", cap(m.queue))
		go m.close(&messaging.ErrorFrame{Code: messaging.ErrorCodeOverflow, Message: "too far behind"})
	}
}

func (m *member) writeLoop() {
	for {
		select {
		case event := <-m.queue:
			if err := m.write(messaging.FrameEvent, event, m.server.compression); err != nil {
				if !m.closed() {
					m.logger.Info("write failed", "error", err)
				}
				m.close(nil)
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *member) write(frameType messaging.FrameType, body any, compression codec.Compression) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.conn.SetWriteDeadline(time.Now().Add(m.server.writeTimeout))
	return messaging.WriteFrame(m.conn, frameType, body, compression)
}

// close removes the member from its room and closes the connection,
// first sending reason if it is set. It is idempotent.
func (m *member) close(reason *messaging.ErrorFrame) {
	m.closeOnce.Do(func() {
		close(m.done)
		m.server.leave(m)
		if reason != nil {
			if err := m.write(messaging.FrameError, reason, codec.CompressionNone); err != nil {
				m.logger.Debug("writing error frame failed", "error", err)
			}
		}
		m.conn.Close()
	})
}

func (m *member) closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}
