// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the client side of the persistence gateway, the
// HTTP service that durably stores projects, their collaborators, and
// their file trees.
//
// [Gateway] is the interface the room session and the CLI consume.
// [Client] implements it over HTTP with bearer authentication; [Memory]
// implements it in process for tests and local use. The gateway owns
// the durable copy of every project. Anything a caller holds is a
// possibly stale snapshot.
package gateway
