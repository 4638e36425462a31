// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

// Stream protocol
//
// The relay stream is a sequence of frames:
//
//	[1 byte type][1 byte compression][4 byte big-endian length][payload]
//
// The payload is a CBOR-encoded frame body, compressed according to the
// compression byte. A connection opens with the client's Hello; the
// relay answers with Welcome or Error. After that both sides exchange
// Event frames until either closes. An Error frame from the relay ends
// the connection.

// FrameType identifies the body of a frame.
type FrameType uint8

const (
	FrameHello   FrameType = 1
	FrameWelcome FrameType = 2
	FrameEvent   FrameType = 3
	FrameError   FrameType = 4
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameWelcome:
		return "welcome"
	case FrameEvent:
		return "event"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

// ProtocolVersion is sent in Hello. The relay rejects other versions.
const ProtocolVersion = 1

const frameHeaderLength = 6

// MaxFrameLength bounds both the wire length and the decompressed size
// of a frame body. File trees ride in assistant messages, so the bound
// is generous.
const MaxFrameLength = 16 << 20

// CompressionThreshold is the body size above which frames are
// compressed. Chat lines stay uncompressed.
const CompressionThreshold = 1024

// Hello opens a connection: it authenticates and names the room to
// join, which is the join-room step of the protocol.
type Hello struct {
	Version   int           `cbor:"version"`
	Token     string        `cbor:"token"`
	ProjectID ref.ProjectID `cbor:"project_id"`
	Client    string        `cbor:"client,omitempty"`
}

// Welcome accepts a Hello and reports the identity the relay verified.
type Welcome struct {
	Identity identity.Identity `cbor:"identity"`
	Members  int               `cbor:"members"`
}

// EventFrame carries one bus event. Payload is the JSON encoding of the
// event body.
type EventFrame struct {
	Name    string          `cbor:"name"`
	Payload json.RawMessage `cbor:"payload"`
}

// ErrorFrame rejects a Hello or reports why the relay is closing the
// connection.
type ErrorFrame struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
}

// Error codes sent in ErrorFrame.
const (
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeBadRequest   = "bad_request"
	ErrorCodeOverflow     = "overflow"
	ErrorCodeShutdown     = "shutdown"
)

func (e *ErrorFrame) Error() string {
	return fmt.Sprintf("relay error %s: %s", e.Code, e.Message)
}

// Frame is a frame read from the wire, not yet decoded.
type Frame struct {
	Type        FrameType
	Compression codec.Compression
	Body        []byte
}

// Decode decompresses and CBOR-decodes the body into v.
func (f Frame) Decode(v any) error {
	body, err := codec.Decompress(f.Body, f.Compression, MaxFrameLength)
	if err != nil {
		return fmt.Errorf("decompressing %s frame: %w", f.Type, err)
	}
	if err := codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding %s frame: %w", f.Type, err)
	}
	return nil
}

// Diagnose renders the body in CBOR diagnostic notation for logging.
func (f Frame) Diagnose() string {
	body, err := codec.Decompress(f.Body, f.Compression, MaxFrameLength)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	diagnostic, err := codec.Diagnose(body)
	if err != nil {
		return fmt.Sprintf("<%d undecodable bytes>", len(body))
	}
	return diagnostic
}

// WriteFrame encodes body as CBOR, compresses it with compression when
// it exceeds CompressionThreshold, and writes one frame. The header and
// body go out in a single Write so concurrent writers serialized by a
// mutex never interleave partial frames.
func WriteFrame(w io.Writer, frameType FrameType, body any, compression codec.Compression) error {
	encoded, err := codec.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s frame: %w", frameType, err)
	}
	if len(encoded) > MaxFrameLength {
		return fmt.Errorf("%s frame body %d bytes exceeds maximum %d", frameType, len(encoded), MaxFrameLength)
	}
	used := codec.CompressionNone
	if len(encoded) > CompressionThreshold {
		encoded, used, err = codec.Compress(encoded, compression)
		if err != nil {
			return fmt.Errorf("compressing %s frame: %w", frameType, err)
		}
	}

	frame := make([]byte, frameHeaderLength+len(encoded))
	frame[0] = byte(frameType)
	frame[1] = byte(used)
	binary.BigEndian.PutUint32(frame[2:frameHeaderLength], uint32(len(encoded)))
	copy(frame[frameHeaderLength:], encoded)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %s frame: %w", frameType, err)
	}
	return nil
}

// ReadFrame reads one frame. Frames longer than MaxFrameLength are
// rejected before the body is read.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [frameHeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("reading frame header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[2:])
	if length > MaxFrameLength {
		return Frame{}, fmt.Errorf("frame length %d exceeds maximum %d", length, MaxFrameLength)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("reading frame body: %w", err)
	}
	return Frame{
		Type:        FrameType(header[0]),
		Compression: codec.Compression(header[1]),
		Body:        body,
	}, nil
}
