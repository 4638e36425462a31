// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui holds the pieces shared by Huddle's terminal views: the
// color theme, a scrollbar for the message log, and overlay splicing for
// pop-up panels such as the file picker. Views are bubbletea models
// owned by the commands that run them; this package has no model of its
// own.
package tui
