// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"fmt"
	"net/http"
)

// OpenAIBaseURL is the default API root for OpenAI.
const OpenAIBaseURL = "https://api.openai.com"

var _ Provider = (*OpenAI)(nil)

// OpenAI implements [Provider] for the OpenAI Chat Completions API.
// This is compatible with any API that implements the chat completions
// wire format (OpenRouter, vLLM, Ollama, llama.cpp, etc.).
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewOpenAI creates an OpenAI-compatible provider. An empty baseURL
// means [OpenAIBaseURL].
func NewOpenAI(httpClient *http.Client, baseURL, apiKey string) *OpenAI {
	return &OpenAI{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiKey:     apiKey,
	}
}

// Complete sends a request and returns the full response.
func (provider *OpenAI) Complete(ctx context.Context, request Request) (*Response, error) {
	if err := request.Validate(); err != nil {
		return nil, fmt.Errorf("llm/openai: %w", err)
	}

	headers := http.Header{}
	if provider.apiKey != "" {
		headers.Set("Authorization", "Bearer "+provider.apiKey)
	}

	var wireResponse openaiResponse
	err := doProviderRequest(ctx, provider.httpClient,
		endpointURL(provider.baseURL, OpenAIBaseURL, "/v1/chat/completions"),
		headers, buildOpenAIRequest(request), &wireResponse, "llm/openai")
	if err != nil {
		return nil, err
	}
	return wireResponse.toResponse()
}

func buildOpenAIRequest(request Request) openaiRequest {
	wireRequest := openaiRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
		Stop:        request.StopSequences,
	}
	// System prompt becomes the first message with role "system".
	if request.System != "" {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{Role: "system", Content: request.System})
	}
	for _, message := range request.Messages {
		wireRequest.Messages = append(wireRequest.Messages, openaiMessage{
			Role:    string(message.Role),
			Content: message.Content,
		})
	}
	return wireRequest
}

// --- OpenAI wire types ---

type openaiRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []openaiMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

func (wireResponse *openaiResponse) toResponse() (*Response, error) {
	if len(wireResponse.Choices) == 0 {
		return nil, fmt.Errorf("llm/openai: response has no choices")
	}
	choice := wireResponse.Choices[0]
	return &Response{
		Text:       choice.Message.Content,
		StopReason: mapOpenAIFinishReason(choice.FinishReason),
		Model:      wireResponse.Model,
		Usage: Usage{
			InputTokens:  wireResponse.Usage.PromptTokens,
			OutputTokens: wireResponse.Usage.CompletionTokens,
		},
	}, nil
}

func mapOpenAIFinishReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopReasonEndTurn
	case "length":
		return StopReasonMaxTokens
	default:
		return StopReason(reason)
	}
}
