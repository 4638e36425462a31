// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/netutil"
	"github.com/huddle-dev/huddle/lib/ref"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// HomeserverURL is the base URL, e.g. "https://matrix.example.org".
	HomeserverURL string

	// AccessToken authenticates every request.
	AccessToken identity.Credential

	// HTTPClient is used for all requests. Nil means http.DefaultClient.
	// Long-poll syncs hold requests open for up to 30 seconds, so a
	// client-wide Timeout must be longer than that.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an authenticated Matrix client for one access token. It is
// safe for concurrent use.
type Client struct {
	baseURL     string
	accessToken identity.Credential
	httpClient  *http.Client
	logger      *slog.Logger

	transactionCounter atomic.Uint64
}

// NewClient validates the configuration and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.HomeserverURL == "" {
		return nil, fmt.Errorf("matrix: HomeserverURL is required")
	}
	parsed, err := url.Parse(config.HomeserverURL)
	if err != nil {
		return nil, fmt.Errorf("matrix: invalid HomeserverURL %q: %w", config.HomeserverURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("matrix: HomeserverURL must be http or https: %q", config.HomeserverURL)
	}
	if config.AccessToken.IsZero() {
		return nil, fmt.Errorf("matrix: AccessToken is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Request URLs are built by concatenation, which sidesteps
	// url.URL re-encoding escaped room IDs in the path.
	return &Client{
		baseURL:     strings.TrimRight(config.HomeserverURL, "/"),
		accessToken: config.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// CloseIdleConnections drops pooled connections, so the next request
// after a network fault dials fresh.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// WhoAmI returns the Matrix user ID that owns the access token.
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	var response WhoAmIResponse
	if err := c.call(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, nil, &response); err != nil {
		return "", fmt.Errorf("matrix: whoami: %w", err)
	}
	if response.UserID == "" {
		return "", fmt.Errorf("matrix: whoami returned an empty user ID")
	}
	return response.UserID, nil
}

// ResolveAlias resolves a room alias to its room ID.
func (c *Client) ResolveAlias(ctx context.Context, alias ref.RoomAlias) (ref.RoomID, error) {
	var response ResolveAliasResponse
	path := "/_matrix/client/v3/directory/room/" + url.PathEscape(alias.String())
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("matrix: resolve alias %s: %w", alias, err)
	}
	return response.RoomID, nil
}

// JoinRoom joins a room by ID or alias and returns the joined room ID.
func (c *Client) JoinRoom(ctx context.Context, roomIDOrAlias string) (ref.RoomID, error) {
	var response JoinResponse
	path := "/_matrix/client/v3/join/" + url.PathEscape(roomIDOrAlias)
	if err := c.call(ctx, http.MethodPost, path, nil, struct{}{}, &response); err != nil {
		return ref.RoomID{}, fmt.Errorf("matrix: join %s: %w", roomIDOrAlias, err)
	}
	return response.RoomID, nil
}

// SendEvent sends a timeline event with the idempotent PUT form of the
// send endpoint and returns the event ID.
func (c *Client) SendEvent(ctx context.Context, roomID ref.RoomID, eventType string, content any) (string, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/%s/%s",
		url.PathEscape(roomID.String()),
		url.PathEscape(eventType),
		url.PathEscape(c.nextTransactionID()),
	)
	var response SendEventResponse
	if err := c.call(ctx, http.MethodPut, path, nil, content, &response); err != nil {
		return "", fmt.Errorf("matrix: send %s to %s: %w", eventType, roomID, err)
	}
	return response.EventID, nil
}

// Sync performs one /sync request.
func (c *Client) Sync(ctx context.Context, options SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if options.Since != "" {
		query.Set("since", options.Since)
	}
	query.Set("timeout", strconv.FormatInt(options.Timeout.Milliseconds(), 10))
	if options.Filter != "" {
		query.Set("filter", options.Filter)
	}
	var response SyncResponse
	if err := c.call(ctx, http.MethodGet, "/_matrix/client/v3/sync", query, nil, &response); err != nil {
		return nil, fmt.Errorf("matrix: sync: %w", err)
	}
	return &response, nil
}

func (c *Client) nextTransactionID() string {
	return fmt.Sprintf("huddle-%d-%d", time.Now().UnixMilli(), c.transactionCounter.Add(1))
}

// call performs a JSON request and decodes the response into result
// when result is non-nil.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, result any) error {
	responseBody, err := c.doRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(responseBody, result); err != nil {
		return fmt.Errorf("parsing response from %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+c.accessToken.Reveal())

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return responseBody, nil
	}

	matrixErr := &Error{StatusCode: response.StatusCode}
	if jsonErr := json.Unmarshal(responseBody, matrixErr); jsonErr != nil || matrixErr.Code == "" {
		matrixErr.Code = "M_UNKNOWN"
		matrixErr.Message = strings.TrimSpace(string(responseBody))
	}
	c.logger.Debug("matrix request failed",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"errcode", matrixErr.Code,
	)
	return nil, matrixErr
}
