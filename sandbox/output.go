// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"io"
	"sync"
)

// MaxOutput bounds the output kept per process. Output past the bound
// is discarded and the readers see a truncation notice instead.
const MaxOutput = 8 << 20

const truncationNotice = "\n[huddle: output truncated]\n"

// outputBuffer collects process output. Write never blocks on readers.
// Each reader returned by newReader sees the output from the start.
type outputBuffer struct {
	mu        sync.Mutex
	changed   *sync.Cond
	data      []byte
	truncated bool
	closed    bool

	// onLine, if set, is called with each complete line (without the
	// newline) as it is written. It runs with the buffer unlocked.
	onLine  func(line string)
	pending []byte
}

func newOutputBuffer(onLine func(string)) *outputBuffer {
	buffer := &outputBuffer{onLine: onLine}
	buffer.changed = sync.NewCond(&buffer.mu)
	return buffer
}

// Write appends p. It always reports len(p) written so the process
// never sees a short write.
func (b *outputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	if !b.truncated {
		room := MaxOutput - len(b.data)
		if len(p) <= room {
			b.data = append(b.data, p...)
		} else {
			b.data = append(b.data, p[:room]...)
			b.data = append(b.data, truncationNotice...)
			b.truncated = true
		}
		b.changed.Broadcast()
	}
	b.mu.Unlock()

	if b.onLine != nil {
		b.scanLines(p)
	}
	return len(p), nil
}

// scanLines is only called from Write, which exec serializes.
func (b *outputBuffer) scanLines(p []byte) {
	b.pending = append(b.pending, p...)
	for {
		newline := bytes.IndexByte(b.pending, '\n')
		if newline < 0 {
			break
		}
		line := string(bytes.TrimRight(b.pending[:newline], "\r"))
		b.pending = b.pending[newline+1:]
		b.onLine(line)
	}
	// A progress bar without newlines must not grow pending forever.
	if len(b.pending) > 64<<10 {
		b.pending = b.pending[:0]
	}
}

func (b *outputBuffer) close() {
	b.mu.Lock()
	b.closed = true
	b.changed.Broadcast()
	b.mu.Unlock()
}

func (b *outputBuffer) newReader() io.Reader {
	return &outputReader{buffer: b}
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}

type outputReader struct {
	buffer *outputBuffer
	offset int
}

func (r *outputReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b := r.buffer
	b.mu.Lock()
	defer b.mu.Unlock()
	for r.offset >= len(b.data) && !b.closed {
		b.changed.Wait()
	}
	if r.offset >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[r.offset:])
	r.offset += n
	return n, nil
}
