// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

const resetSGR = "\x1b[0m"

// Splice draws panel over view with its top-left corner at column x,
// row y. Rows of panel that fall outside view are dropped. Styling in
// view on either side of the panel survives.
func Splice(view string, panel []string, x, y int) string {
	if len(panel) == 0 {
		return view
	}
	rows := strings.Split(view, "\n")
	panelWidth := ansi.StringWidth(panel[0])

	for offset, panelRow := range panel {
		row := y + offset
		if row < 0 || row >= len(rows) {
			continue
		}
		line := rows[row]

		var out strings.Builder
		if x > 0 {
			left := ansi.Truncate(line, x, "")
			out.WriteString(left)
			if gap := x - ansi.StringWidth(left); gap > 0 {
				out.WriteString(strings.Repeat(" ", gap))
			}
		}
		out.WriteString(resetSGR + panelRow + resetSGR)
		if right := x + panelWidth; right < ansi.StringWidth(line) {
			out.WriteString(ansi.TruncateLeft(line, right, ""))
		}
		rows[row] = out.String()
	}
	return strings.Join(rows, "\n")
}

// Panel boxes lines in a bordered panel of the given inner width,
// truncating long lines and padding short ones.
func Panel(theme Theme, title string, lines []string, width int) []string {
	width = max(width, 4)
	border := lipgloss.NewStyle().Foreground(theme.BorderColor)
	titleText := ansi.Truncate(" "+title+" ", width, "…")

	out := []string{border.Render("╭" + titleText + strings.Repeat("─", width-ansi.StringWidth(titleText)) + "╮")}
	for _, line := range lines {
		line = ansi.Truncate(line, width, "…")
		pad := width - ansi.StringWidth(line)
		out = append(out, border.Render("│")+line+strings.Repeat(" ", pad)+border.Render("│"))
	}
	out = append(out, border.Render("╰"+strings.Repeat("─", width)+"╯"))
	return out
}
