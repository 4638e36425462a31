// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides validated, immutable identifier types shared by
// every Huddle component: [ProjectID] and [UserID] for the workspace
// domain, and [RoomID] and [RoomAlias] for the Matrix-backed message bus.
//
// All constructors validate their input and return errors for malformed
// identifiers. The zero value of each type is "unset" and reports true
// from IsZero. JSON and CBOR serialization use the plain string form
// via encoding.TextMarshaler, so identifiers round-trip through the
// persistence gateway and the bus without custom codecs.
package ref
