// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/netutil"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/lib/version"
)

var _ Gateway = (*Client)(nil)

// ClientConfig configures a Client.
type ClientConfig struct {
	// BaseURL is the gateway root, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Credentials supplies the bearer token, read on every request so
	// a provider that refreshes tokens takes effect immediately.
	Credentials identity.Provider

	// HTTPClient is used for all requests. Nil means a client with
	// Timeout.
	HTTPClient *http.Client

	// Timeout bounds each request when HTTPClient is nil. Zero means 30
	// seconds.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to the persistence gateway over HTTP.
type Client struct {
	baseURL     string
	credentials identity.Provider
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient validates the configuration and returns a Client.
func NewClient(config ClientConfig) (*Client, error) {
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("gateway: BaseURL must be http or https: %q", config.BaseURL)
	}
	if config.Credentials == nil {
		return nil, fmt.Errorf("gateway: Credentials is required")
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		credentials: config.Credentials,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

func (c *Client) CreateProject(ctx context.Context, name string) (Project, error) {
	var response struct {
		Project *Project `json:"project"`
	}
	raw, err := c.doRequest(ctx, http.MethodPost, "/projects/create", map[string]string{"name": name})
	if err != nil {
		return Project{}, fmt.Errorf("creating project %q: %w", name, err)
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return Project{}, fmt.Errorf("creating project %q: decoding response: %w", name, err)
	}
	if response.Project != nil {
		return *response.Project, nil
	}
	// Some gateway versions answer with the bare project document.
	var project Project
	if err := json.Unmarshal(raw, &project); err != nil {
		return Project{}, fmt.Errorf("creating project %q: decoding response: %w", name, err)
	}
	return project, nil
}

func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var response struct {
		Projects []Project `json:"projects"`
	}
	if err := c.call(ctx, http.MethodGet, "/projects/all", nil, &response); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return response.Projects, nil
}

func (c *Client) GetProject(ctx context.Context, projectID ref.ProjectID) (Project, error) {
	var response struct {
		Project Project `json:"project"`
	}
	path := "/projects/get-project/" + url.PathEscape(projectID.String())
	if err := c.call(ctx, http.MethodGet, path, nil, &response); err != nil {
		return Project{}, fmt.Errorf("getting project %s: %w", projectID, err)
	}
	return response.Project, nil
}

func (c *Client) UpdateFileTree(ctx context.Context, projectID ref.ProjectID, tree filetree.Tree) error {
	request := struct {
		ProjectID ref.ProjectID `json:"projectId"`
		FileTree  filetree.Tree `json:"fileTree"`
	}{projectID, tree}
	if err := c.call(ctx, http.MethodPut, "/projects/update-file-tree", request, nil); err != nil {
		return fmt.Errorf("updating file tree of %s: %w", projectID, err)
	}
	return nil
}

func (c *Client) AddCollaborators(ctx context.Context, projectID ref.ProjectID, userIDs []ref.UserID) (Project, error) {
	request := struct {
		ProjectID ref.ProjectID `json:"projectId"`
		Users     []ref.UserID  `json:"users"`
	}{projectID, userIDs}
	var response struct {
		Project Project `json:"project"`
	}
	if err := c.call(ctx, http.MethodPut, "/projects/add-user", request, &response); err != nil {
		return Project{}, fmt.Errorf("adding collaborators to %s: %w", projectID, err)
	}
	return response.Project, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]identity.Identity, error) {
	var response struct {
		Users []identity.Identity `json:"users"`
	}
	if err := c.call(ctx, http.MethodGet, "/users/all", nil, &response); err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return response.Users, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, result any) error {
	raw, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decoding response from %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	credential, err := c.credentials.Credential()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	request.Header.Set("Authorization", "Bearer "+credential.Reveal())
	request.Header.Set("User-Agent", version.UserAgent("huddle"))

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: response.StatusCode,
			Message:    errorMessage(netutil.ErrorBody(response.Body)),
		}
		c.logger.Debug("gateway request failed",
			"method", method,
			"path", path,
			"status", response.StatusCode,
		)
		return nil, apiErr
	}

	raw, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrUnavailable, err)
	}
	return raw, nil
}

// errorMessage extracts a message from the gateway's error bodies,
// which are {"error": "..."} or {"errors": [{"msg": "..."}]}, falling
// back to the raw text.
func errorMessage(body string) string {
	var parsed struct {
		Error  string `json:"error"`
		Errors []struct {
			Message string `json:"msg"`
		} `json:"errors"`
	}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		if len(parsed.Errors) > 0 {
			messages := make([]string, 0, len(parsed.Errors))
			for _, item := range parsed.Errors {
				messages = append(messages, item.Message)
			}
			return strings.Join(messages, "; ")
		}
	}
	return strings.TrimSpace(body)
}
