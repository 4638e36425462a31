// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Scrollbar renders a one-column scrollbar of height rows for a log of
// totalLines of which visibleLines are shown starting at offset. When
// everything fits the thumb fills the track.
func Scrollbar(theme Theme, height, totalLines, visibleLines, offset int) string {
	if height <= 0 {
		return ""
	}
	track := lipgloss.NewStyle().Foreground(theme.BorderColor).Render("│")
	thumb := lipgloss.NewStyle().Foreground(theme.FaintText).Render("┃")

	start, size := 0, height
	if totalLines > visibleLines && totalLines > 0 {
		size = max(1, height*visibleLines/totalLines)
		if span := totalLines - visibleLines; span > 0 {
			start = offset * (height - size) / span
		}
		start = min(max(start, 0), height-size)
	}

	rows := make([]string, height)
	for index := range rows {
		if index >= start && index < start+size {
			rows[index] = thumb
		} else {
			rows[index] = track
		}
	}
	return strings.Join(rows, "\n")
}
