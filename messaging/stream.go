// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/netutil"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/lib/version"
)

var _ Dialer = (*StreamDialer)(nil)

// StreamDialer connects to huddle-relay over tcp://host:port or
// unix:///path endpoints.
type StreamDialer struct {
	// Compression applies to frames above CompressionThreshold.
	Compression codec.Compression

	// HandshakeTimeout bounds the Hello/Welcome exchange when the
	// context has no earlier deadline. Zero means 10 seconds.
	HandshakeTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Connect dials the relay, performs the handshake, and starts the read
// loop.
func (d *StreamDialer) Connect(ctx context.Context, endpoint string, credential identity.Credential, projectID ref.ProjectID) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	address, err := netutil.ParseStreamEndpoint(endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, address.Network, address.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrTransportUnavailable, address, err)
	}

	welcome, reader, err := d.handshake(ctx, netConn, credential, projectID)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	conn := &streamConn{
		lifecycle:   lifecycle{done: make(chan struct{})},
		netConn:     netConn,
		reader:      reader,
		compression: d.Compression,
		identity:    welcome.Identity,
		logger:      logger.With("project_id", projectID, "endpoint", address.String()),
	}
	go conn.readLoop()
	conn.logger.Debug("joined relay room", "user_id", welcome.Identity.ID, "members", welcome.Members)
	return conn, nil
}

func (d *StreamDialer) handshake(ctx context.Context, netConn net.Conn, credential identity.Credential, projectID ref.ProjectID) (*Welcome, *bufio.Reader, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)
	if contextDeadline, ok := ctx.Deadline(); ok && contextDeadline.Before(deadline) {
		deadline = contextDeadline
	}
	if err := netConn.SetDeadline(deadline); err != nil {
		return nil, nil, fmt.Errorf("setting handshake deadline: %w", err)
	}

	// Unblock the handshake if ctx is cancelled mid-exchange.
	stop := context.AfterFunc(ctx, func() { netConn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	hello := Hello{
		Version:   ProtocolVersion,
		Token:     credential.Reveal(),
		ProjectID: projectID,
		Client:    version.UserAgent("huddle"),
	}
	if err := WriteFrame(netConn, FrameHello, hello, d.Compression); err != nil {
		return nil, nil, err
	}

	reader := bufio.NewReader(netConn)
	frame, err := ReadFrame(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading handshake response: %w", err)
	}
	switch frame.Type {
	case FrameWelcome:
		var welcome Welcome
		if err := frame.Decode(&welcome); err != nil {
			return nil, nil, err
		}
		if err := netConn.SetDeadline(time.Time{}); err != nil {
			return nil, nil, fmt.Errorf("clearing handshake deadline: %w", err)
		}
		return &welcome, reader, nil
	case FrameError:
		var rejection ErrorFrame
		if err := frame.Decode(&rejection); err != nil {
			return nil, nil, err
		}
		return nil, nil, &rejection
	default:
		return nil, nil, fmt.Errorf("unexpected %s frame during handshake", frame.Type)
	}
}

type streamConn struct {
	lifecycle
	dispatcher

	netConn     net.Conn
	reader      *bufio.Reader
	compression codec.Compression
	identity    identity.Identity
	logger      *slog.Logger

	writeMu sync.Mutex
}

// Identity returns the identity the relay verified during the handshake.
func (c *streamConn) Identity() identity.Identity { return c.identity }

func (c *streamConn) Send(ctx context.Context, event string, payload any) error {
	if c.closed() {
		return fmt.Errorf("%w: connection closed", ErrTransportUnavailable)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, _ := ctx.Deadline()
	if err := c.netConn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	if err := WriteFrame(c.netConn, FrameEvent, EventFrame{Name: event, Payload: data}, c.compression); err != nil {
		wrapped := fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		c.fail(wrapped)
		return wrapped
	}
	return nil
}

func (c *streamConn) Subscribe(event string, handler Handler) *Subscription {
	return c.subscribe(event, handler)
}

func (c *streamConn) Close() error {
	if c.finish(nil) {
		return c.netConn.Close()
	}
	return nil
}

func (c *streamConn) fail(err error) {
	if c.finish(err) {
		c.netConn.Close()
	}
}

func (c *streamConn) readLoop() {
	for {
		frame, err := ReadFrame(c.reader)
		if err != nil {
			if c.closed() {
				return
			}
			if netutil.IsExpectedCloseError(err) {
				c.logger.Info("relay closed the connection")
			} else {
				c.logger.Warn("relay stream failed", "error", err)
			}
			c.fail(fmt.Errorf("%w: %v", ErrTransportUnavailable, err))
			return
		}

		switch frame.Type {
		case FrameEvent:
			var event EventFrame
			if err := frame.Decode(&event); err != nil {
				c.logger.Warn("dropping undecodable event frame", "error", err)
				continue
			}
			if c.closed() {
				return
			}
			c.dispatch(event.Name, event.Payload)
		case FrameError:
			var relayErr ErrorFrame
			if err := frame.Decode(&relayErr); err != nil {
				relayErr = ErrorFrame{Code: "unknown", Message: err.Error()}
			}
			c.logger.Warn("relay ended the connection", "code", relayErr.Code, "message", relayErr.Message)
			c.fail(fmt.Errorf("%w: %w", ErrTransportUnavailable, &relayErr))
			return
		default:
			c.logger.Warn("ignoring unexpected frame", "type", frame.Type)
		}
	}
}
