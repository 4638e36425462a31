// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package fuzzy ranks candidate strings against a short pattern with
// fzf's matching algorithm. The CLI uses it to resolve project names
// typed on the command line and to filter the file picker.
package fuzzy

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/junegunn/fzf/src/algo"
	"github.com/junegunn/fzf/src/util"
)

var initOnce sync.Once

// Match is one candidate that matched the pattern.
type Match struct {
	// Index is the position of the candidate in the input slice.
	Index int

	// Text is the candidate itself.
	Text string

	// Score is fzf's score; higher is better.
	Score int

	// Positions are the rune offsets of the matched characters, in
	// ascending order.
	Positions []int
}

// Matcher holds the scratch memory fzf needs between calls. A Matcher
// is not safe for concurrent use; the zero value is not usable, call
// [NewMatcher].
type Matcher struct {
	slab *util.Slab
}

// NewMatcher returns a Matcher with its own slab.
func NewMatcher() *Matcher {
	initOnce.Do(func() { algo.Init("default") })
	return &Matcher{slab: util.MakeSlab(100*1024, 2048)}
}

// Match scores a single candidate. Matching is case-insensitive unless
// the pattern contains an upper-case letter. An empty pattern matches
// everything with score zero.
func (m *Matcher) Match(pattern, text string) (Match, bool) {
	if pattern == "" {
		return Match{Text: text}, true
	}
	runes := []rune(pattern)
	caseSensitive := hasUpper(runes)
	if !caseSensitive {
		runes = []rune(strings.ToLower(pattern))
	}
	chars := util.ToChars([]byte(text))
	result, positions := algo.FuzzyMatchV2(caseSensitive, true, true, &chars, runes, true, m.slab)
	if result.Start < 0 {
		return Match{}, false
	}
	match := Match{Text: text, Score: result.Score}
	if positions != nil {
		match.Positions = append([]int(nil), *positions...)
		sort.Ints(match.Positions)
	}
	return match, true
}

// Filter returns the candidates matching pattern, best first. Ties keep
// shorter candidates first, then input order. An empty pattern returns
// every candidate in input order.
func Filter(pattern string, candidates []string) []Match {
	matcher := NewMatcher()
	var matches []Match
	for index, candidate := range candidates {
		match, ok := matcher.Match(pattern, candidate)
		if !ok {
			continue
		}
		match.Index = index
		matches = append(matches, match)
	}
	if pattern == "" {
		return matches
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return len(matches[i].Text) < len(matches[j].Text)
	})
	return matches
}

func hasUpper(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
