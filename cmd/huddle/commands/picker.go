// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/huddle-dev/huddle/lib/fuzzy"
	"github.com/huddle-dev/huddle/lib/tui"
)

// pickerRows is the number of files the picker shows at once.
const pickerRows = 12

// filePicker lists the project's files, optionally narrowed by a fuzzy
// pattern.
type filePicker struct {
	pattern  string
	matches  []fuzzy.Match
	selected int
}

func newFilePicker(files []string, pattern string) *filePicker {
	return &filePicker{pattern: pattern, matches: fuzzy.Filter(pattern, files)}
}

func (p *filePicker) move(delta int) {
	if len(p.matches) == 0 {
		return
	}
	p.selected = (p.selected + delta + len(p.matches)) % len(p.matches)
}

// choice returns the selected path.
func (p *filePicker) choice() (string, bool) {
	if len(p.matches) == 0 {
		return "", false
	}
	return p.matches[p.selected].Text, true
}

// lines renders the visible window of matches, the selection
// highlighted and matched characters colored.
func (p *filePicker) lines(theme tui.Theme, width int) []string {
	title := "files"
	if p.pattern != "" {
		title = "files matching " + p.pattern
	}
	if len(p.matches) == 0 {
		return tui.Panel(theme, title, []string{"(no files)"}, width)
	}

	start := max(0, min(p.selected-pickerRows/2, len(p.matches)-pickerRows))
	end := min(len(p.matches), start+pickerRows)
	normal := lipgloss.NewStyle().Foreground(theme.NormalText)
	matched := lipgloss.NewStyle().Foreground(theme.MatchForeground).Bold(true)

	var rows []string
	for index := start; index < end; index++ {
		match := p.matches[index]
		marked := make(map[int]bool, len(match.Positions))
		for _, position := range match.Positions {
			marked[position] = true
		}
		var row strings.Builder
		row.WriteString(" ")
		for position, character := range []rune(match.Text) {
			style := normal
			if marked[position] {
				style = matched
			}
			if index == p.selected {
				style = style.Background(theme.SelectedBackground)
			}
			row.WriteString(style.Render(string(character)))
		}
		rows = append(rows, row.String())
	}
	return tui.Panel(theme, title, rows, width)
}
