// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/huddle-dev/huddle/lib/netutil"
	"github.com/huddle-dev/huddle/lib/version"
)

// Provider is the interface for LLM API backends.
type Provider interface {
	// Complete sends a request and blocks until the full response is
	// available.
	Complete(ctx context.Context, request Request) (*Response, error)
}

// Role is the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// UserMessage returns a user turn.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage returns an assistant turn.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// Request is a completion request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int

	// Temperature is optional; nil uses the provider default.
	Temperature *float64

	StopSequences []string
}

// Validate checks the fields every provider requires.
func (request Request) Validate() error {
	var errs []error
	if request.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if request.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("max tokens must be positive: %d", request.MaxTokens))
	}
	if len(request.Messages) == 0 {
		errs = append(errs, errors.New("at least one message is required"))
	}
	return errors.Join(errs...)
}

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopReasonEndTurn      StopReason = "end_turn"
	StopReasonMaxTokens    StopReason = "max_tokens"
	StopReasonStopSequence StopReason = "stop_sequence"
)

// Usage holds token counts for one completion.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Response is a completed response.
type Response struct {
	// Text is the concatenated text content of the response.
	Text       string
	StopReason StopReason
	Model      string
	Usage      Usage
}

// ProviderError is returned when the LLM API responds with an error.
type ProviderError struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Type is the provider-specific error type string
	// (e.g., "invalid_request_error", "rate_limit_error").
	Type string

	// Message is the human-readable error description.
	Message string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true if the error is a rate limit response (HTTP 429).
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == http.StatusTooManyRequests
}

// Config selects and configures a provider.
type Config struct {
	// Provider is "anthropic" or "openai".
	Provider string

	// BaseURL overrides the vendor's default API root.
	BaseURL string

	APIKey string

	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client

	// Timeout applies when HTTPClient is nil. Defaults to two minutes.
	Timeout time.Duration
}

// New returns the provider named by config.Provider.
func New(config Config) (Provider, error) {
	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	switch strings.ToLower(config.Provider) {
	case "anthropic":
		return NewAnthropic(httpClient, config.BaseURL, config.APIKey), nil
	case "openai":
		return NewOpenAI(httpClient, config.BaseURL, config.APIKey), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", config.Provider)
	}
}

// doProviderRequest marshals wireRequest as JSON, POSTs it to endpoint
// with headers, and decodes a 200 response body into wireResponse.
// Other status codes return a ProviderError.
func doProviderRequest(ctx context.Context, httpClient *http.Client, endpoint string, headers http.Header, wireRequest, wireResponse any, prefix string) error {
	body, err := json.Marshal(wireRequest)
	if err != nil {
		return fmt.Errorf("%s: marshaling request: %w", prefix, err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", prefix, err)
	}
	for key, values := range headers {
		httpRequest.Header[key] = values
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("User-Agent", version.UserAgent("huddle-llm"))

	httpResponse, err := httpClient.Do(httpRequest)
	if err != nil {
		return fmt.Errorf("%s: sending request: %w", prefix, err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return parseProviderError(httpResponse.StatusCode, netutil.ErrorBody(httpResponse.Body))
	}
	if err := netutil.DecodeResponse(httpResponse.Body, wireResponse); err != nil {
		return fmt.Errorf("%s: %w", prefix, err)
	}
	return nil
}

// parseProviderError parses an error response body in the common
// provider error format used by Anthropic, OpenAI, and compatible APIs:
// {"error":{"type":"...","message":"..."}}. Extra fields in the error
// object (such as OpenAI's "code" and "param") are ignored.
func parseProviderError(statusCode int, body string) error {
	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: statusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{StatusCode: statusCode, Message: strings.TrimSpace(body)}
}

// endpointURL joins base (or fallback when base is empty) and path.
func endpointURL(base, fallback, path string) string {
	if base == "" {
		base = fallback
	}
	return strings.TrimSuffix(base, "/") + path
}
