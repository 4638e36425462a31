// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/llm"
	"github.com/huddle-dev/huddle/lib/ref"
	"github.com/huddle-dev/huddle/messaging"
	"github.com/huddle-dev/huddle/room"
)

const (
	DefaultAssistantMaxTokens = 4096
	DefaultAssistantHistory   = 20
	DefaultAssistantTimeout   = 2 * time.Minute
	DefaultAssistantParallel  = 4
)

// mentionPattern matches "@ai" as a word, in any case.
var mentionPattern = regexp.MustCompile(`(?i)(^|[^\w@])@ai\b`)

const systemPrompt = `You are a coding assistant taking part in a group chat about a small web project.
Reply with a single JSON object and nothing else, of the form:
{"text": "<your reply in Markdown>", "fileTree": <optional file tree>}
Include "fileTree" only when you create or change files. A file tree maps names to nodes;
a node is {"file": {"contents": "<text>"}} or {"directory": <file tree>}.
A fileTree replaces the whole project, so include every file the project needs.
Generated Node projects must start with "npm start" and listen on process.env.PORT or 3000.`

// AssistantConfig configures an Assistant.
type AssistantConfig struct {
	// Provider answers prompts. Required.
	Provider llm.Provider

	// Model is passed to the provider. Required.
	Model string

	// MaxTokens bounds each reply.
	MaxTokens int

	// History is the number of recent room messages sent as context.
	History int

	// Timeout bounds one provider call.
	Timeout time.Duration

	// Parallel bounds concurrent provider calls across all rooms.
	Parallel int

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Assistant is the AI participant. It keeps a short per-room history
// and answers messages that mention "@ai".
type Assistant struct {
	provider  llm.Provider
	model     string
	maxTokens int
	history   int
	timeout   time.Duration
	slots     chan struct{}
	logger    *slog.Logger

	mu    sync.Mutex
	rooms map[ref.ProjectID][]messaging.ProjectMessage
}

// NewAssistant validates config and returns an Assistant.
func NewAssistant(config AssistantConfig) (*Assistant, error) {
	var errs []error
	if config.Provider == nil {
		errs = append(errs, errors.New("Provider is required"))
	}
	if config.Model == "" {
		errs = append(errs, errors.New("Model is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("relay: invalid assistant config: %w", err)
	}

	assistant := &Assistant{
		provider:  config.Provider,
		model:     config.Model,
		maxTokens: config.MaxTokens,
		history:   config.History,
		timeout:   config.Timeout,
		logger:    config.Logger,
		rooms:     make(map[ref.ProjectID][]messaging.ProjectMessage),
	}
	if assistant.maxTokens <= 0 {
		assistant.maxTokens = DefaultAssistantMaxTokens
	}
	if assistant.history <= 0 {
		assistant.history = DefaultAssistantHistory
	}
	if assistant.timeout <= 0 {
		assistant.timeout = DefaultAssistantTimeout
	}
	parallel := config.Parallel
	if parallel <= 0 {
		parallel = DefaultAssistantParallel
	}
	assistant.slots = make(chan struct{}, parallel)
	if assistant.logger == nil {
		assistant.logger = slog.Default()
	}
	return assistant, nil
}

// Mentioned reports whether body addresses the assistant.
func (a *Assistant) Mentioned(body string) bool {
	return mentionPattern.MatchString(body)
}

// Observe records a room message as context for later replies.
func (a *Assistant) Observe(projectID ref.ProjectID, message messaging.ProjectMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	recent := append(a.rooms[projectID], message)
	if len(recent) > a.history {
		recent = append([]messaging.ProjectMessage(nil), recent[len(recent)-a.history:]...)
	}
	a.rooms[projectID] = recent
}

// Forget drops the history of a room.
func (a *Assistant) Forget(projectID ref.ProjectID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.rooms, projectID)
}

// Respond asks the provider to answer prompt and passes the reply,
// sent as the assistant, to emit. Failures are logged and emit nothing.
func (a *Assistant) Respond(ctx context.Context, projectID ref.ProjectID, prompt messaging.ProjectMessage, emit func(messaging.ProjectMessage)) {
	logger := a.logger.With("project_id", projectID, "user_id", prompt.Sender.ID)

	select {
	case a.slots <- struct{}{}:
		defer func() { <-a.slots }()
	case <-ctx.Done():
		return
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	started := time.Now()
	response, err := a.provider.Complete(ctx, llm.Request{
		Model:     a.model,
		System:    systemPrompt,
		MaxTokens: a.maxTokens,
		Messages:  []llm.Message{llm.UserMessage(a.conversation(projectID, prompt))},
	})
	if err != nil {
		logger.Error("assistant request failed", "error", err)
		return
	}

	payload := parseReply(response.Text)
	body, err := payload.Encode()
	if err != nil {
		logger.Error("encoding assistant reply", "error", err)
		return
	}
	reply := messaging.ProjectMessage{Sender: identity.AI, Message: body}
	a.Observe(projectID, messaging.ProjectMessage{Sender: identity.AI, Message: payload.Text})
	logger.Info("assistant replied",
		"duration", time.Since(started),
		"files", len(payload.FileTree.Files()),
		"output_tokens", response.Usage.OutputTokens,
	)
	emit(reply)
}

// conversation renders the room history ending with prompt as one
// user turn.
func (a *Assistant) conversation(projectID ref.ProjectID, prompt messaging.ProjectMessage) string {
	a.mu.Lock()
	recent := append([]messaging.ProjectMessage(nil), a.rooms[projectID]...)
	a.mu.Unlock()

	var builder strings.Builder
	if len(recent) > 1 {
		builder.WriteString("Recent conversation:\n")
		for _, message := range recent[:len(recent)-1] {
			fmt.Fprintf(&builder, "%s: %s\n", message.Sender, message.Message)
		}
		builder.WriteString("\n")
	}
	fmt.Fprintf(&builder, "%s asks: %s", prompt.Sender, strings.TrimSpace(mentionPattern.ReplaceAllString(prompt.Message, "$1")))
	return builder.String()
}

// parseReply extracts the assistant payload from a model reply. Models
// sometimes wrap the object in a Markdown fence; a reply that is not a
// valid payload becomes a text-only one.
func parseReply(text string) room.AIPayload {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "```") {
		if newline := strings.IndexByte(trimmed, '\n'); newline >= 0 {
			trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed[newline+1:]), "```")
		}
	}
	payload, err := room.ParseAIPayload(trimmed)
	if err != nil {
		return room.AIPayload{Text: strings.TrimSpace(text)}
	}
	return payload
}
