// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix is a minimal Matrix client-server API client: the
// calls a project room needs when the message bus is a Matrix
// homeserver. It identifies the token's user, resolves and joins room
// aliases, sends custom room events, and long-polls /sync for new
// timeline events.
//
// Every request goes through [Client.doRequest], which attaches the
// bearer token, bounds the response size, and turns Matrix error
// bodies into [*Error] values for errors.As.
package matrix
