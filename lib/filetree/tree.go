// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package filetree

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidPath is returned for empty paths and paths containing
	// empty, ".", or ".." segments.
	ErrInvalidPath = errors.New("invalid path")

	// ErrNotDirectory is returned when a path traverses a file as if it
	// were a directory.
	ErrNotDirectory = errors.New("not a directory")
)

// Tree maps entry names to nodes. A nil Tree is a valid empty tree for
// reading; mutating operations require a non-nil map.
type Tree map[string]Node

// Node is one entry in a Tree. Exactly one of File and Directory is set;
// use [NewFile] and [NewDirectory] to construct nodes.
type Node struct {
	File      *File
	Directory Tree
}

// File holds the contents of a file node.
type File struct {
	Contents string `json:"contents"`
}

// NewFile returns a file node with the given contents.
func NewFile(contents string) Node {
	return Node{File: &File{Contents: contents}}
}

// NewDirectory returns a directory node wrapping children. A nil
// children map produces an empty directory.
func NewDirectory(children Tree) Node {
	if children == nil {
		children = Tree{}
	}
	return Node{Directory: children}
}

// IsFile reports whether the node is a file.
func (n Node) IsFile() bool { return n.File != nil }

// IsDirectory reports whether the node is a directory.
func (n Node) IsDirectory() bool { return n.File == nil && n.Directory != nil }

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	if n.File != nil {
		return NewFile(n.File.Contents)
	}
	if n.Directory != nil {
		return Node{Directory: n.Directory.Clone()}
	}
	return Node{}
}

// MarshalJSON encodes the node as {"file": {...}} or {"directory": {...}}.
func (n Node) MarshalJSON() ([]byte, error) {
	switch {
	case n.File != nil && n.Directory != nil:
		return nil, fmt.Errorf("node has both file and directory set")
	case n.File != nil:
		return json.Marshal(struct {
			File *File `json:"file"`
		}{n.File})
	case n.Directory != nil:
		return json.Marshal(struct {
			Directory Tree `json:"directory"`
		}{n.Directory})
	default:
		return nil, fmt.Errorf("node has neither file nor directory set")
	}
}

// UnmarshalJSON decodes a node, rejecting nodes that are both or neither
// a file and a directory.
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw struct {
		File      *File `json:"file"`
		Directory *Tree `json:"directory"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.File != nil && raw.Directory != nil:
		return fmt.Errorf("node has both file and directory")
	case raw.File != nil:
		*n = Node{File: raw.File}
	case raw.Directory != nil:
		*n = NewDirectory(*raw.Directory)
	default:
		return fmt.Errorf("node has neither file nor directory")
	}
	return nil
}

// MarshalJSON encodes a nil tree as {} so the gateway never sees null.
func (t Tree) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]Node(t))
}

// Clone returns a deep copy of the tree. Cloning a nil tree returns an
// empty, non-nil tree.
func (t Tree) Clone() Tree {
	clone := make(Tree, len(t))
	for name, node := range t {
		clone[name] = node.Clone()
	}
	return clone
}

// Equal reports whether two trees have the same structure and contents.
// A nil tree equals an empty tree.
func (t Tree) Equal(other Tree) bool {
	if len(t) != len(other) {
		return false
	}
	for name, node := range t {
		otherNode, ok := other[name]
		if !ok || !node.equal(otherNode) {
			return false
		}
	}
	return true
}

func (n Node) equal(other Node) bool {
	if n.IsFile() != other.IsFile() || n.IsDirectory() != other.IsDirectory() {
		return false
	}
	if n.IsFile() {
		return n.File.Contents == other.File.Contents
	}
	return n.Directory.Equal(other.Directory)
}

// SplitPath validates a slash-separated path and returns its segments.
// Leading and trailing slashes are ignored.
func SplitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if err := ValidateName(segment); err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidPath, path, err)
		}
	}
	return segments, nil
}

// ValidateName checks a single entry name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("name %q is reserved", name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("name %q contains '/'", name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("name %q contains a NUL byte", name)
	}
	return nil
}

// Get returns the node at path.
func (t Tree) Get(path string) (Node, bool) {
	segments, err := SplitPath(path)
	if err != nil {
		return Node{}, false
	}
	current := t
	for index, segment := range segments {
		node, ok := current[segment]
		if !ok {
			return Node{}, false
		}
		if index == len(segments)-1 {
			return node, true
		}
		if !node.IsDirectory() {
			return Node{}, false
		}
		current = node.Directory
	}
	return Node{}, false
}

// Set writes a file at path, creating intermediate directories. An
// existing file or directory at the leaf is replaced. Traversing an
// existing file returns ErrNotDirectory and leaves the tree unchanged.
func (t Tree) Set(path, contents string) error {
	return t.put(path, NewFile(contents))
}

func (t Tree) put(path string, node Node) error {
	if t == nil {
		return fmt.Errorf("set %q: nil tree", path)
	}
	segments, err := SplitPath(path)
	if err != nil {
		return err
	}

	// Check the whole path before mutating so a failure leaves the
	// tree untouched.
	current := t
	for index, segment := range segments[:len(segments)-1] {
		existing, ok := current[segment]
		if !ok {
			break
		}
		if !existing.IsDirectory() {
			return fmt.Errorf("set %q: %s: %w", path, strings.Join(segments[:index+1], "/"), ErrNotDirectory)
		}
		current = existing.Directory
	}

	current = t
	for _, segment := range segments[:len(segments)-1] {
		existing, ok := current[segment]
		if !ok {
			existing = NewDirectory(nil)
			current[segment] = existing
		}
		current = existing.Directory
	}
	current[segments[len(segments)-1]] = node
	return nil
}

// Delete removes the node at path. It reports whether anything was
// removed.
func (t Tree) Delete(path string) bool {
	segments, err := SplitPath(path)
	if err != nil {
		return false
	}
	current := t
	for _, segment := range segments[:len(segments)-1] {
		node, ok := current[segment]
		if !ok || !node.IsDirectory() {
			return false
		}
		current = node.Directory
	}
	leaf := segments[len(segments)-1]
	if _, ok := current[leaf]; !ok {
		return false
	}
	delete(current, leaf)
	return true
}

// WalkFunc is called for every node in a tree, parents before children.
type WalkFunc func(path string, node Node) error

// Walk visits every node in lexical order. Returning an error stops the
// walk and returns that error.
func (t Tree) Walk(fn WalkFunc) error {
	return t.walk("", fn)
}

func (t Tree) walk(prefix string, fn WalkFunc) error {
	for _, name := range t.names() {
		node := t[name]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if err := fn(path, node); err != nil {
			return err
		}
		if node.IsDirectory() {
			if err := node.Directory.walk(path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Files returns the slash paths of every file in the tree, sorted.
func (t Tree) Files() []string {
	var paths []string
	_ = t.Walk(func(path string, node Node) error {
		if node.IsFile() {
			paths = append(paths, path)
		}
		return nil
	})
	sort.Strings(paths)
	return paths
}

// Validate checks every node in the tree and reports all problems.
func (t Tree) Validate() error {
	var errs []error
	t.validate("", &errs)
	return errors.Join(errs...)
}

func (t Tree) validate(prefix string, errs *[]error) {
	for _, name := range t.names() {
		node := t[name]
		path := name
		if prefix != "" {
			path = prefix + "/" + name
		}
		if err := ValidateName(name); err != nil {
			*errs = append(*errs, fmt.Errorf("%s: %w", path, err))
		}
		switch {
		case node.File != nil && node.Directory != nil:
			*errs = append(*errs, fmt.Errorf("%s: node has both file and directory", path))
		case node.File == nil && node.Directory == nil:
			*errs = append(*errs, fmt.Errorf("%s: node has neither file nor directory", path))
		case node.Directory != nil:
			node.Directory.validate(path, errs)
		}
	}
}

func (t Tree) names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
