// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity is the Identity Context consumed by every Huddle
// client: who the current user is and which bearer credential proves it.
//
// The package defines three things:
//
//   - [Identity], the {_id, email} record that travels on the bus as a
//     message sender and in the gateway as a project collaborator.
//   - [Sender], the tagged variant attached to every chat message. A
//     sender is either a human identity or the synthetic assistant; the
//     distinction is resolved once, when the message is constructed,
//     so no downstream code compares identifiers against "ai".
//   - [Credential], an opaque bearer token that refuses to print. Its
//     String, GoString, and slog LogValue all produce "[redacted]".
//
// Credentials are read from a token file that may be age-encrypted
// (binary or ASCII-armored) to an x25519 identity held by the user. See
// [ReadCredentialFile].
package identity
