// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// UsageError reports a command line the user should fix: a wrong
// argument count, an unknown flag, an ambiguous project name.
type UsageError struct {
	Err  error
	Hint string
}

func (e *UsageError) Error() string {
	if e.Hint == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + "\n\n" + e.Hint
}

func (e *UsageError) Unwrap() error { return e.Err }

// Usage returns a UsageError with a formatted message.
func Usage(format string, args ...any) *UsageError {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// WithHint attaches a suggestion printed after the message.
func (e *UsageError) WithHint(hint string) *UsageError {
	e.Hint = hint
	return e
}

// ExitError ends the process with Code without printing anything; the
// command has already reported the outcome.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// ExitCode returns the code main should exit with.
func (e *ExitError) ExitCode() int { return e.Code }

// RequireArgs checks the positional argument count.
func RequireArgs(args []string, minimum, maximum int, usage string) error {
	switch {
	case len(args) < minimum:
		return Usage("missing arguments\n\nUsage:\n  %s", usage)
	case maximum >= 0 && len(args) > maximum:
		return Usage("unexpected argument %q\n\nUsage:\n  %s", args[maximum], usage)
	}
	return nil
}
