// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package fuzzy

import "testing"

func TestFilter(t *testing.T) {
	candidates := []string{"demo-app", "weather-dashboard", "todo", "Demo Server", "dashboard"}
	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{name: "empty matches all in order", pattern: "", want: candidates},
		{name: "exact prefers shorter", pattern: "dashboard", want: []string{"dashboard", "weather-dashboard"}},
		{name: "smart case insensitive", pattern: "demo", want: []string{"demo-app", "Demo Server"}},
		{name: "smart case sensitive", pattern: "Demo", want: []string{"Demo Server"}},
		{name: "scattered", pattern: "wdb", want: []string{"weather-dashboard"}},
		{name: "no match", pattern: "xyz", want: nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			matches := Filter(test.pattern, candidates)
			if len(matches) != len(test.want) {
				t.Fatalf("Filter(%q) = %v, want %v", test.pattern, texts(matches), test.want)
			}
			for index, match := range matches {
				if match.Text != test.want[index] {
					t.Fatalf("Filter(%q) = %v, want %v", test.pattern, texts(matches), test.want)
				}
				if candidates[match.Index] != match.Text {
					t.Fatalf("match %+v has wrong index", match)
				}
			}
		})
	}
}

func TestMatchPositions(t *testing.T) {
	match, ok := NewMatcher().Match("tdo", "todo")
	if !ok {
		t.Fatal("tdo did not match todo")
	}
	if len(match.Positions) != 3 {
		t.Fatalf("Positions = %v, want three offsets", match.Positions)
	}
	for index := 1; index < len(match.Positions); index++ {
		if match.Positions[index] <= match.Positions[index-1] {
			t.Fatalf("Positions = %v, want ascending", match.Positions)
		}
	}
	if match.Positions[0] != 0 {
		t.Fatalf("Positions = %v, want the match to start at the first rune", match.Positions)
	}
}

func texts(matches []Match) []string {
	var out []string
	for _, match := range matches {
		out = append(out, match.Text)
	}
	return out
}
