// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Huddle's shared binary encodings: the CBOR
// configuration used by the relay stream protocol, and the tagged
// payload compression applied to large frames.
//
// JSON is the format of every external interface (the persistence
// gateway, Matrix events, the assistant's payloads). CBOR is used only
// on the relay stream, where frames carry an event name and an opaque
// JSON payload. The encoder uses Core Deterministic Encoding (RFC 8949
// section 4.2), so the same frame always produces the same bytes.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Compression is selected per frame by a one-byte [Compression] tag.
// [Compress] falls back to [CompressionNone] when the algorithm does not
// shrink the input, and reports which tag it actually used.
package codec
