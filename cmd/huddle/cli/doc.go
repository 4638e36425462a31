// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework behind the huddle binary:
// a tree of [Command] values dispatched by name, pflag flag sets parsed
// per command, generated help, and "did you mean" suggestions for
// mistyped commands and flags.
package cli
