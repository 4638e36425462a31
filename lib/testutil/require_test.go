// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

// recorder captures Fatalf instead of stopping the test. Fatalf panics
// with a sentinel so the helper under test stops as it would under
// testing.T.
type recorder struct {
	message string
}

type fatalSentinel struct{}

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(fatalSentinel{})
}

func capture(fn func(r *recorder)) (message string) {
	r := &recorder{}
	defer func() {
		if recovered := recover(); recovered != nil {
			if _, ok := recovered.(fatalSentinel); !ok {
				panic(recovered)
			}
			message = r.message
		}
	}()
	fn(r)
	return ""
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}

	message := capture(func(r *recorder) {
		RequireReceive(r, make(chan int), 10*time.Millisecond, "waiting for %s", "value")
	})
	if !strings.Contains(message, "timed out") || !strings.Contains(message, "waiting for value") {
		t.Errorf("timeout message = %q", message)
	}

	closed := make(chan int)
	close(closed)
	message = capture(func(r *recorder) { RequireReceive(r, closed, time.Second) })
	if !strings.Contains(message, "closed") {
		t.Errorf("closed message = %q", message)
	}
}

func TestRequireSendAndClosed(t *testing.T) {
	ch := make(chan string, 1)
	RequireSend(t, ch, "x", time.Second)
	if <-ch != "x" {
		t.Error("RequireSend did not send")
	}

	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second)

	message := capture(func(r *recorder) { RequireClosed(r, make(chan struct{}), 10*time.Millisecond) })
	if !strings.Contains(message, "channel close") {
		t.Errorf("RequireClosed message = %q", message)
	}
}

func TestRequireSilent(t *testing.T) {
	RequireSilent(t, make(chan int), 10*time.Millisecond)

	ch := make(chan int, 1)
	ch <- 1
	message := capture(func(r *recorder) { RequireSilent(r, ch, time.Second, "after leave") })
	if !strings.Contains(message, "unexpected value 1") {
		t.Errorf("RequireSilent message = %q", message)
	}
}

func TestUniqueID(t *testing.T) {
	first, second := UniqueID("txn"), UniqueID("txn")
	if first == second || !strings.HasPrefix(first, "txn-") {
		t.Errorf("UniqueID returned %q then %q", first, second)
	}
}
