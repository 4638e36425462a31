// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the bus server that stream clients
// ([messaging.StreamDialer]) connect to.
//
// A connection opens with a Hello frame naming the room (project) and
// carrying a bearer token. The [Server] authenticates the token through
// an [Authenticator], answers with Welcome or an Error frame, and joins
// the connection to the room. From then on every project-message event
// a member sends is broadcast to the other members of its room. The
// relay stamps each message with the sender's verified identity, so a
// member cannot speak as someone else (or as the assistant).
//
// Each member has a bounded outbound queue drained by its own writer
// goroutine. A member that falls behind far enough to fill its queue
// is disconnected with an overflow error rather than buffered without
// bound.
//
// An optional [Assistant] watches for messages that mention it and
// answers through an LLM provider with an assistant payload, which the
// relay sends to every member of the room, the asker included.
package relay
