// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"github.com/huddle-dev/huddle/lib/codec"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

func TestFrameRoundTrip(t *testing.T) {
	large := strings.Repeat(`{"contents":"console.log('hello')"}`, 200)

	tests := []struct {
		name            string
		payload         string
		compression     codec.Compression
		wantCompression codec.Compression
	}{
		{"small stays uncompressed", `{"message":"hi"}`, codec.CompressionZstd, codec.CompressionNone},
		{"large zstd", large, codec.CompressionZstd, codec.CompressionZstd},
		{"large lz4", large, codec.CompressionLZ4, codec.CompressionLZ4},
		{"compression disabled", large, codec.CompressionNone, codec.CompressionNone},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			payload, err := json.Marshal(test.payload)
			if err != nil {
				t.Fatal(err)
			}
			var buffer bytes.Buffer
			sent := EventFrame{Name: EventProjectMessage, Payload: payload}
			if err := WriteFrame(&buffer, FrameEvent, sent, test.compression); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}

			frame, err := ReadFrame(&buffer)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if frame.Type != FrameEvent {
				t.Fatalf("type = %s, want event", frame.Type)
			}
			if frame.Compression != test.wantCompression {
				t.Fatalf("compression = %s, want %s", frame.Compression, test.wantCompression)
			}
			var received EventFrame
			if err := frame.Decode(&received); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if received.Name != sent.Name || !bytes.Equal(received.Payload, sent.Payload) {
				t.Fatalf("received %s %s, want %s %s", received.Name, received.Payload, sent.Name, sent.Payload)
			}
			if buffer.Len() != 0 {
				t.Fatalf("%d bytes left after one frame", buffer.Len())
			}
		})
	}
}

func TestHandshakeFramesCarryIdentity(t *testing.T) {
	var buffer bytes.Buffer
	hello := Hello{
		Version:   ProtocolVersion,
		Token:     "secret",
		ProjectID: ref.MustParseProjectID("p1"),
		Client:    "huddle/test",
	}
	welcome := Welcome{
		Identity: identity.Identity{ID: ref.MustParseUserID("u1"), Email: "u1@example.org"},
		Members:  2,
	}
	if err := WriteFrame(&buffer, FrameHello, hello, codec.CompressionZstd); err != nil {
		t.Fatal(err)
	}
	if err := WriteFrame(&buffer, FrameWelcome, welcome, codec.CompressionZstd); err != nil {
		t.Fatal(err)
	}

	var gotHello Hello
	frame, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatal(err)
	}
	if err := frame.Decode(&gotHello); err != nil {
		t.Fatal(err)
	}
	if gotHello != hello {
		t.Fatalf("hello = %+v, want %+v", gotHello, hello)
	}

	var gotWelcome Welcome
	frame, err = ReadFrame(&buffer)
	if err != nil {
		t.Fatal(err)
	}
	if err := frame.Decode(&gotWelcome); err != nil {
		t.Fatal(err)
	}
	if gotWelcome != welcome {
		t.Fatalf("welcome = %+v, want %+v", gotWelcome, welcome)
	}
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	header := make([]byte, frameHeaderLength)
	header[0] = byte(FrameEvent)
	binary.BigEndian.PutUint32(header[2:], MaxFrameLength+1)
	if _, err := ReadFrame(bytes.NewReader(header)); err == nil {
		t.Fatal("ReadFrame accepted a frame longer than MaxFrameLength")
	}
}

func TestReadFrameTruncated(t *testing.T) {
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, FrameError, ErrorFrame{Code: ErrorCodeShutdown, Message: "bye"}, codec.CompressionNone); err != nil {
		t.Fatal(err)
	}
	truncated := buffer.Bytes()[:buffer.Len()-1]
	if _, err := ReadFrame(bytes.NewReader(truncated)); err == nil {
		t.Fatal("ReadFrame accepted a truncated body")
	}
}

func TestFrameTypeString(t *testing.T) {
	if got := FrameWelcome.String(); got != "welcome" {
		t.Fatalf("FrameWelcome.String() = %q", got)
	}
	if got := FrameType(99).String(); got != "frame(99)" {
		t.Fatalf("FrameType(99).String() = %q", got)
	}
}

func TestFrameDiagnose(t *testing.T) {
	var buffer bytes.Buffer
	event := EventFrame{Name: EventProjectMessage, Payload: json.RawMessage(`{"message":"hi"}`)}
	if err := WriteFrame(&buffer, FrameEvent, event, codec.CompressionNone); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	frame, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if diagnostic := frame.Diagnose(); !strings.Contains(diagnostic, `"project-message"`) {
		t.Fatalf("Diagnose() = %q, want the event name", diagnostic)
	}

	garbage := Frame{Type: FrameEvent, Compression: codec.CompressionNone, Body: []byte{0xff, 0xff}}
	if diagnostic := garbage.Diagnose(); !strings.HasPrefix(diagnostic, "<") {
		t.Fatalf("Diagnose() of garbage = %q", diagnostic)
	}
}
