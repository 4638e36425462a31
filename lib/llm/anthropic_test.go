// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testRequest() Request {
	return Request{
		Model:     "claude-sonnet-4-5",
		System:    "You are helpful.",
		MaxTokens: 1024,
		Messages: []Message{
			UserMessage("Hello"),
			AssistantMessage("Hi!"),
			UserMessage("Write a server"),
		},
	}
}

func TestAnthropicComplete(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", func(writer http.ResponseWriter, request *http.Request) {
		if got := request.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("x-api-key = %q, want sk-test", got)
		}
		if got := request.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		var wireRequest struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			System    string `json:"system"`
			Messages  []struct {
				Role    string `json:"role"`
				Content []struct {
					Type string `json:"type"`
					Text string `json:"text"`
				} `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(request.Body).Decode(&wireRequest); err != nil {
			writer.WriteHeader(http.StatusBadRequest)
			return
		}
		if wireRequest.Model != "claude-sonnet-4-5" || wireRequest.MaxTokens != 1024 {
			t.Errorf("model/max_tokens = %q/%d", wireRequest.Model, wireRequest.MaxTokens)
		}
		if wireRequest.System != "You are helpful." {
			t.Errorf("system = %q", wireRequest.System)
		}
		if len(wireRequest.Messages) != 3 || wireRequest.Messages[1].Role != "assistant" ||
			wireRequest.Messages[2].Content[0].Text != "Write a server" {
			t.Errorf("messages = %+v", wireRequest.Messages)
		}

		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Here "},
				{"type": "thinking"},
				{"type": "text", "text": "it is."}
			],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	provider := NewAnthropic(server.Client(), server.URL+"/", "sk-test")
	response, err := provider.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if response.Text != "Here it is." {
		t.Errorf("Text = %q", response.Text)
	}
	if response.StopReason != StopReasonEndTurn {
		t.Errorf("StopReason = %q", response.StopReason)
	}
	if response.Usage.InputTokens != 12 || response.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", response.Usage)
	}
}

func TestAnthropicProviderError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		status      int
		body        string
		wantType    string
		wantMessage string
		rateLimited bool
	}{
		{
			name:        "structured",
			status:      http.StatusTooManyRequests,
			body:        `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`,
			wantType:    "rate_limit_error",
			wantMessage: "slow down",
			rateLimited: true,
		},
		{
			name:        "plain",
			status:      http.StatusBadGateway,
			body:        "upstream unavailable\n",
			wantMessage: "upstream unavailable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				writer.WriteHeader(tt.status)
				writer.Write([]byte(tt.body))
			}))
			t.Cleanup(server.Close)

			_, err := NewAnthropic(server.Client(), server.URL, "").Complete(context.Background(), testRequest())
			var providerErr *ProviderError
			if !errors.As(err, &providerErr) {
				t.Fatalf("Complete = %v, want *ProviderError", err)
			}
			if providerErr.StatusCode != tt.status || providerErr.Type != tt.wantType || providerErr.Message != tt.wantMessage {
				t.Fatalf("ProviderError = %+v", providerErr)
			}
			if providerErr.IsRateLimited() != tt.rateLimited {
				t.Fatalf("IsRateLimited = %v, want %v", providerErr.IsRateLimited(), tt.rateLimited)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	t.Parallel()

	_, err := NewAnthropic(http.DefaultClient, "http://127.0.0.1:1", "").Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("Complete with empty request succeeded")
	}
	if err := testRequest().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]string{"anthropic": "*llm.Anthropic", "OpenAI": "*llm.OpenAI"} {
		provider, err := New(Config{Provider: name})
		if err != nil {
			t.Fatalf("New(%s): %v", name, err)
		}
		if got := typeName(provider); got != want {
			t.Errorf("New(%s) = %s, want %s", name, got, want)
		}
	}
	if _, err := New(Config{Provider: "gemini"}); err == nil {
		t.Fatal("New accepted an unknown provider")
	}
}

func typeName(provider Provider) string {
	switch provider.(type) {
	case *Anthropic:
		return "*llm.Anthropic"
	case *OpenAI:
		return "*llm.OpenAI"
	default:
		return "unknown"
	}
}
