// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations Huddle components depend
// on (message timestamps, handshake deadlines, readiness timeouts, sync
// retry backoff) so tests can control time deterministically.
//
// Production code injects [Real]; tests inject [Fake] and move time
// forward with [FakeClock.Advance]. [FakeClock.WaitForTimers] closes the
// race between a goroutine registering a timer and the test advancing
// past it.
package clock

import "time"

// Clock is the subset of the time package Huddle uses.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d
	// has elapsed. If d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
