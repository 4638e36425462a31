// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

func TestScrollbar(t *testing.T) {
	tests := []struct {
		name                    string
		height, total, visible  int
		offset                  int
		wantThumbStart, wantLen int
	}{
		{name: "fits", height: 4, total: 3, visible: 4, wantThumbStart: 0, wantLen: 4},
		{name: "top", height: 10, total: 100, visible: 10, offset: 0, wantThumbStart: 0, wantLen: 1},
		{name: "bottom", height: 10, total: 100, visible: 10, offset: 90, wantThumbStart: 9, wantLen: 1},
		{name: "half", height: 10, total: 20, visible: 10, offset: 10, wantThumbStart: 5, wantLen: 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rows := strings.Split(ansi.Strip(Scrollbar(DefaultTheme, test.height, test.total, test.visible, test.offset)), "\n")
			if len(rows) != test.height {
				t.Fatalf("got %d rows, want %d", len(rows), test.height)
			}
			start, length := -1, 0
			for index, row := range rows {
				if row == "┃" {
					if start < 0 {
						start = index
					}
					length++
				}
			}
			if start != test.wantThumbStart || length != test.wantLen {
				t.Fatalf("thumb at %d length %d, want %d length %d", start, length, test.wantThumbStart, test.wantLen)
			}
		})
	}
	if Scrollbar(DefaultTheme, 0, 10, 5, 0) != "" {
		t.Fatal("zero height scrollbar rendered something")
	}
}

func TestSplice(t *testing.T) {
	view := "aaaaaaaa\nbbbbbbbb\ncccccccc"
	got := ansi.Strip(Splice(view, []string{"XX", "YY", "ZZ", "dropped"}, 3, 1))
	want := "aaaaaaaa\nbbbXXbbb\ncccYYccc"
	if got != want {
		t.Fatalf("Splice =\n%s\nwant\n%s", got, want)
	}
	if Splice(view, nil, 0, 0) != view {
		t.Fatal("empty panel changed the view")
	}
}

func TestPanel(t *testing.T) {
	lines := Panel(DefaultTheme, "files", []string{"index.js", strings.Repeat("x", 40)}, 12)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	for _, line := range lines {
		if width := ansi.StringWidth(line); width != 14 {
			t.Fatalf("line %q is %d wide, want 14", ansi.Strip(line), width)
		}
	}
	if !strings.Contains(ansi.Strip(lines[0]), "files") {
		t.Fatalf("title missing from %q", ansi.Strip(lines[0]))
	}
}

func TestPeerColorIsStable(t *testing.T) {
	if DefaultTheme.PeerColor("alice") != DefaultTheme.PeerColor("alice") {
		t.Fatal("PeerColor is not deterministic")
	}
	if (Theme{NormalText: "1"}).PeerColor("alice") != "1" {
		t.Fatal("empty palette should fall back to NormalText")
	}
	if DefaultTheme.StateColor("joined") != DefaultTheme.StateJoined {
		t.Fatal("joined state color")
	}
}
