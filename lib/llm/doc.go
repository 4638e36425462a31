// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm is a small provider-agnostic client for Large Language
// Model completion APIs.
//
// The abstraction is [Provider], which sends one [Request] and blocks
// until the full [Response] is available. Provider implementations
// translate between the common types in this package and each
// vendor's wire format.
//
// Current provider implementations:
//   - [Anthropic]: Claude models via the Messages API (/v1/messages)
//   - [OpenAI]: the Chat Completions API (/v1/chat/completions) as
//     served by OpenAI and compatible servers
//
// [New] builds a provider from a [Config]. API keys are passed in by
// the caller; this package never reads the environment.
package llm
