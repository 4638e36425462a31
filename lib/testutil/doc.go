// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by Huddle's tests.
//
// [RequireReceive], [RequireSend], [RequireClosed], and [RequireSilent]
// wrap the select-with-timeout pattern for channel waits, so tests never
// hang and never call time.After directly. [SocketDir] returns a short
// directory for Unix sockets, whose paths are limited to 108 bytes.
// [UniqueID] produces distinguishable identifiers without reading the
// clock.
//
// Helpers call Fatalf on failure; setup failures are not recoverable.
package testutil
