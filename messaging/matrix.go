// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/huddle-dev/huddle/lib/clock"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/messaging/matrix"
)

// MatrixEventPrefix namespaces bus events as Matrix event types:
// project-message travels as dev.huddle.project-message.
const MatrixEventPrefix = "dev.huddle."

// DefaultSyncTimeout is how long each /sync long poll may be held open.
const DefaultSyncTimeout = 30 * time.Second

// maxSyncFailures is the number of consecutive /sync failures after
// which the connection is considered lost.
const maxSyncFailures = 5

var _ Dialer = (*MatrixDialer)(nil)

// MatrixDialer connects to project rooms hosted on a Matrix homeserver.
// Endpoints have the form matrix+https://homeserver (or matrix+http).
// The credential is a Matrix access token.
type MatrixDialer struct {
	// HTTPClient is used for every request. Nil means a client with
	// no overall timeout, since /sync requests are long polls.
	HTTPClient *http.Client

	// SyncTimeout overrides DefaultSyncTimeout.
	SyncTimeout time.Duration

	// Clock times retry backoff. Nil means the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Assistant is the Matrix user ID the AI participant posts as.
	// Project messages claiming the AI sender from any other account
	// are dropped. Empty means no account may speak as the AI.
	Assistant string
}

// Connect resolves #huddle-<projectID>:<server> on the homeserver that
// owns the credential, joins it, and starts the sync loop. Events
// already in the room's history are not delivered.
func (d *MatrixDialer) Connect(ctx context.Context, endpoint string, credential identity.Credential, projectID ref.ProjectID) (Conn, error) {
	homeserver, ok := strings.CutPrefix(endpoint, "matrix+")
	if !ok {
		return nil, fmt.Errorf("%w: endpoint %q is not a matrix+http(s) endpoint", ErrTransportUnavailable, endpoint)
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client, err := matrix.NewClient(matrix.ClientConfig{
		HomeserverURL: homeserver,
		AccessToken:   credential,
		HTTPClient:    d.HTTPClient,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}

	userID, err := client.WhoAmI(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	server := matrix.ServerName(userID)
	if server == "" {
		return nil, fmt.Errorf("%w: malformed matrix user ID %q", ErrTransportUnavailable, userID)
	}
	alias, err := projectID.RoomAlias(server)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	roomID, err := client.ResolveAlias(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	if _, err := client.JoinRoom(ctx, roomID.String()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}

	filter := matrix.RoomTimelineFilter(roomID, []string{MatrixEventPrefix + "*"})
	initial, err := client.Sync(ctx, matrix.SyncOptions{Filter: filter})
	if err != nil {
		return nil, fmt.Errorf("%w: initial sync: %w", ErrTransportUnavailable, err)
	}

	syncTimeout := d.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = DefaultSyncTimeout
	}
	clk := d.Clock
	if clk == nil {
		clk = clock.Real()
	}
	loopContext, cancel := context.WithCancel(context.Background())
	conn := &matrixConn{
		lifecycle:   lifecycle{done: make(chan struct{})},
		client:      client,
		userID:      userID,
		assistant:   d.Assistant,
		roomID:      roomID,
		filter:      filter,
		syncTimeout: syncTimeout,
		clock:       clk,
		cancel:      cancel,
		logger:      logger.With("project_id", projectID, "room_id", roomID),
	}
	go conn.syncLoop(loopContext, initial.NextBatch)
	conn.logger.Debug("joined matrix room", "user_id", userID)
	return conn, nil
}

type matrixConn struct {
	lifecycle
	dispatcher

	client      *matrix.Client
	userID      string
	assistant   string
	roomID      ref.RoomID
	filter      string
	syncTimeout time.Duration
	clock       clock.Clock
	cancel      context.CancelFunc
	logger      *slog.Logger
}

func (c *matrixConn) Send(ctx context.Context, event string, payload any) error {
	if c.closed() {
		return fmt.Errorf("%w: connection closed", ErrTransportUnavailable)
	}
	if _, err := c.client.SendEvent(ctx, c.roomID, MatrixEventPrefix+event, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	return nil
}

func (c *matrixConn) Subscribe(event string, handler Handler) *Subscription {
	return c.subscribe(event, handler)
}

func (c *matrixConn) Close() error {
	if c.finish(nil) {
		c.cancel()
		c.client.CloseIdleConnections()
	}
	return nil
}

func (c *matrixConn) fail(err error) {
	if c.finish(err) {
		c.cancel()
	}
}

// syncLoop long-polls /sync and dispatches room events sent by other
// users. Consecutive failures back off linearly; after
// maxSyncFailures, or on an auth error, the connection fails.
func (c *matrixConn) syncLoop(ctx context.Context, since string) {
	failures := 0
	for {
		response, err := c.client.Sync(ctx, matrix.SyncOptions{
			Since:   since,
			Timeout: c.syncTimeout,
			Filter:  c.filter,
		})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if matrix.IsAuthError(err) || failures >= maxSyncFailures {
				c.logger.Warn("matrix sync failed, closing connection", "error", err, "failures", failures)
				c.fail(fmt.Errorf("%w: %w", ErrTransportUnavailable, err))
				return
			}
			c.logger.Debug("matrix sync failed, retrying", "error", err, "failures", failures)
			c.client.CloseIdleConnections()
			select {
			case <-c.clock.After(time.Duration(failures) * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}
		failures = 0
		since = response.NextBatch

		joined, ok := response.Rooms.Join[c.roomID.String()]
		if !ok {
			continue
		}
		for _, event := range joined.Timeline.Events {
			if event.Sender == c.userID {
				continue
			}
			name, ok := strings.CutPrefix(event.Type, MatrixEventPrefix)
			if !ok {
				continue
			}
			if name == EventProjectMessage && !c.trusted(event) {
				c.logger.Warn("dropping project message that claims the ai sender",
					"sender", event.Sender, "event_id", event.EventID)
				continue
			}
			if c.closed() {
				return
			}
			c.dispatch(name, event.Content)
		}
	}
}

// trusted reports whether a project message may carry the sender its
// content claims. Only the assistant account may speak as the AI.
// Undecodable content passes through and fails in the handler.
func (c *matrixConn) trusted(event matrix.Event) bool {
	var message ProjectMessage
	if err := json.Unmarshal(event.Content, &message); err != nil {
		return true
	}
	if !message.Sender.ID.IsAI() {
		return true
	}
	return c.assistant != "" && event.Sender == c.assistant
}
