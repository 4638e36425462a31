// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/huddle-dev/huddle/lib/testutil"
)

func TestOutputBufferLines(t *testing.T) {
	var lines []string
	buffer := newOutputBuffer(func(line string) { lines = append(lines, line) })
	buffer.Write([]byte("first\r\nsec"))
	buffer.Write([]byte("ond\nthird"))
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines = %q", lines)
	}
}

func TestOutputReaderFollows(t *testing.T) {
	buffer := newOutputBuffer(nil)
	buffer.Write([]byte("early "))

	result := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(buffer.newReader())
		result <- string(data)
	}()

	testutil.RequireSilent(t, result, 50*time.Millisecond, "reader finished before close")
	buffer.Write([]byte("late"))
	buffer.close()
	if got := testutil.RequireReceive(t, result, time.Second); got != "early late" {
		t.Fatalf("read %q", got)
	}
}

func TestOutputBufferTruncates(t *testing.T) {
	buffer := newOutputBuffer(nil)
	chunk := []byte(strings.Repeat("x", 1<<20))
	for range 10 {
		if n, err := buffer.Write(chunk); n != len(chunk) || err != nil {
			t.Fatalf("Write = %d, %v", n, err)
		}
	}
	buffer.close()
	data, _ := io.ReadAll(buffer.newReader())
	if len(data) != MaxOutput+len(truncationNotice) {
		t.Fatalf("kept %d bytes, want %d", len(data), MaxOutput+len(truncationNotice))
	}
	if !strings.HasSuffix(string(data), truncationNotice) {
		t.Fatal("truncation notice missing")
	}
}
