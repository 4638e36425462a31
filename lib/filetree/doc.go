// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package filetree is the project file-tree data model: a map from entry
// name to [Node], where each node is exactly one of a file (its contents)
// or a directory (a nested [Tree]).
//
// The JSON form is the one the persistence gateway stores and the
// assistant emits:
//
//	{"a.js": {"file": {"contents": "x"}}, "src": {"directory": {...}}}
//
// Trees have value semantics by convention: every component boundary
// (bus, gateway, sandbox) receives a [Tree.Clone], so no two owners ever
// share a nested map. Paths are slash-separated names; "." and ".."
// segments are rejected rather than resolved, so a tree can never
// address anything outside itself.
package filetree
