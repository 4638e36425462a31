// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package room

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/lib/identity"
)

// ChatMessage is one entry of the session log.
type ChatMessage struct {
	Sender    identity.Sender
	Body      string
	Timestamp time.Time

	// Display is the text to show: the assistant's text for a valid
	// synthetic payload, the raw body otherwise.
	Display string

	// AI is the parsed payload of a synthetic message. It is nil for
	// human messages and for synthetic bodies that failed to parse.
	AI *AIPayload
}

func (m ChatMessage) clone() ChatMessage {
	if m.AI != nil {
		payload := *m.AI
		if payload.FileTree != nil {
			payload.FileTree = payload.FileTree.Clone()
		}
		m.AI = &payload
	}
	return m
}

// AIPayload is the JSON document carried in the body of assistant
// messages.
type AIPayload struct {
	Text     string        `json:"text"`
	FileTree filetree.Tree `json:"fileTree,omitempty"`
}

// ParseAIPayload decodes a synthetic message body. The body must be a
// single JSON object; a file tree, when present, must be valid.
func ParseAIPayload(body string) (AIPayload, error) {
	trimmed := bytes.TrimSpace([]byte(body))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return AIPayload{}, fmt.Errorf("body is not a JSON object")
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	var payload AIPayload
	if err := decoder.Decode(&payload); err != nil {
		return AIPayload{}, err
	}
	if decoder.More() {
		return AIPayload{}, fmt.Errorf("trailing data after JSON object")
	}
	if payload.FileTree != nil {
		if err := payload.FileTree.Validate(); err != nil {
			return AIPayload{}, fmt.Errorf("file tree: %w", err)
		}
	}
	return payload, nil
}

// Encode returns the JSON body for the payload.
func (p AIPayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
