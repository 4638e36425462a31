// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// maxIdentifierLength bounds project and user identifiers. The gateway
// issues 24-character hex object IDs; the bound leaves room for other
// identifier schemes without letting arbitrary payloads through.
const maxIdentifierLength = 128

// identifierChars is the set of characters permitted in project and
// user identifiers. The set is a subset of what Matrix allows in alias
// localparts, so a project ID can always be embedded in a room alias.
var identifierChars [256]bool

func init() {
	for c := byte('a'); c <= 'z'; c++ {
		identifierChars[c] = true
	}
	for c := byte('A'); c <= 'Z'; c++ {
		identifierChars[c] = true
	}
	for c := byte('0'); c <= '9'; c++ {
		identifierChars[c] = true
	}
	identifierChars['.'] = true
	identifierChars['_'] = true
	identifierChars['-'] = true
}

// validateIdentifier enforces the shared identifier rules: non-empty,
// bounded length, restricted character set, no leading dot.
func validateIdentifier(raw, label string) error {
	if raw == "" {
		return fmt.Errorf("empty %s", label)
	}
	if len(raw) > maxIdentifierLength {
		return fmt.Errorf("%s too long: %d characters (maximum %d)", label, len(raw), maxIdentifierLength)
	}
	for i := 0; i < len(raw); i++ {
		if !identifierChars[raw[i]] {
			return fmt.Errorf("%s: invalid character %q at position %d (allowed: a-z, A-Z, 0-9, ., _, -)", label, raw[i], i)
		}
	}
	if raw[0] == '.' {
		return fmt.Errorf("%s must not start with '.': %q", label, raw)
	}
	return nil
}
