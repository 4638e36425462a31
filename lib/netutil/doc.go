// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides the small network helpers shared by the bus
// transports, the relay, and the gateway client: stream endpoint
// parsing, size-bounded HTTP response reads, and classification of
// errors that occur during normal connection teardown.
package netutil
