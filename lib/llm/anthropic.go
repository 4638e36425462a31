// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	// AnthropicBaseURL is the default API root for Anthropic.
	AnthropicBaseURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"
)

var _ Provider = (*Anthropic)(nil)

// Anthropic implements [Provider] for the Anthropic Messages API.
type Anthropic struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewAnthropic creates an Anthropic provider. An empty baseURL means
// [AnthropicBaseURL].
func NewAnthropic(httpClient *http.Client, baseURL, apiKey string) *Anthropic {
	return &Anthropic{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// Complete sends a request and returns the full response.
func (provider *Anthropic) Complete(ctx context.Context, request Request) (*Response, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("llm/anthropic: %w", err)
	}

	headers := http.Header{}
	headers.Set("anthropic-version", anthropicVersion)
	if provider.apiKey != "" {
		headers.Set("x-api-key", provider.apiKey)
	}

	var wireResponse anthropicResponse
	err := doProviderRequest(ctx, provider.httpClient,
		endpointURL(provider.baseURL, AnthropicBaseURL, "/v1/messages"),
		headers, buildAnthropicRequest(request), &wireResponse, "llm/anthropic")
	if err != nil {
		return nil, err
	}
	return wireResponse.toResponse(), nil
}

func buildAnthropicRequest(request Request) anthropicRequest {
	wireRequest := anthropicRequest{
		Model:         request.Model,
		MaxTokens:     request.MaxTokens,
		System:        request.System,
		Temperature:   request.Temperature,
		StopSequences: request.StopSequences,
	}
	for _, message := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, anthropicMessage{
			Role:    string(message.Role),
			Content: []anthropicContentBlock{{Type: "text", Text: message.Content}},
		})
	}
	return wireRequest
}

// --- Anthropic wire types ---

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	System        string             `json:"system,omitempty"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type anthropicResponse struct {
	Model      string                  `json:"model"`
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// toResponse keeps text blocks only; tool use is never requested.
func (wireResponse *anthropicResponse) toResponse() *Response {
	var text strings.Builder
	for _, block := range wireResponse.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Text:       text.String(),
		StopReason: mapAnthropicStopReason(wireResponse.StopReason),
		Model:      wireResponse.Model,
		Usage: Usage{
			InputTokens:  wireResponse.Usage.InputTokens,
			OutputTokens: wireResponse.Usage.OutputTokens,
		},
	}
}

func mapAnthropicStopReason(reason string) StopReason {
	switch reason {
	case "end_turn":
		return StopReasonEndTurn
	case "max_tokens":
		return StopReasonMaxTokens
	case "stop_sequence":
		return StopReasonStopSequence
	default:
		return StopReason(reason)
	}
}
