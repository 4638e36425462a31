// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Theme is the palette of the room view and the chat renderer. Colors
// are ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Chrome.
	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Picker rows and fuzzy match highlighting.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color
	MatchForeground    lipgloss.Color

	// Senders. Peers cycle through PeerColors by name so a person keeps
	// the same color for the whole session.
	SelfColor  lipgloss.Color
	AIColor    lipgloss.Color
	PeerColors []lipgloss.Color

	// Session states and banners.
	StateConnecting lipgloss.Color
	StateJoined     lipgloss.Color
	StateClosed     lipgloss.Color
	ErrorForeground lipgloss.Color
	ReadyForeground lipgloss.Color

	// Inline code and links in rendered Markdown.
	CodeForeground lipgloss.Color
	LinkForeground lipgloss.Color
}

// PeerColor returns the color for a sender name.
func (theme Theme) PeerColor(name string) lipgloss.Color {
	if len(theme.PeerColors) == 0 {
		return theme.NormalText
	}
	var sum uint32
	for _, character := range name {
		sum = sum*31 + uint32(character)
	}
	return theme.PeerColors[sum%uint32(len(theme.PeerColors))]
}

// StateColor returns the color for a session state name as printed by
// room.State.
func (theme Theme) StateColor(state string) lipgloss.Color {
	switch state {
	case "connecting":
		return theme.StateConnecting
	case "joined":
		return theme.StateJoined
	case "closed":
		return theme.StateClosed
	default:
		return theme.FaintText
	}
}

// DefaultTheme suits a dark 256-color terminal.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	HeaderForeground: lipgloss.Color("255"),
	BorderColor:      lipgloss.Color("240"),
	HelpText:         lipgloss.Color("241"),

	SelectedBackground: lipgloss.Color("236"),
	SelectedForeground: lipgloss.Color("255"),
	MatchForeground:    lipgloss.Color("214"),

	SelfColor: lipgloss.Color("114"),
	AIColor:   lipgloss.Color("141"),
	PeerColors: []lipgloss.Color{
		lipgloss.Color("75"),
		lipgloss.Color("208"),
		lipgloss.Color("80"),
		lipgloss.Color("176"),
		lipgloss.Color("185"),
	},

	StateConnecting: lipgloss.Color("220"),
	StateJoined:     lipgloss.Color("114"),
	StateClosed:     lipgloss.Color("196"),
	ErrorForeground: lipgloss.Color("203"),
	ReadyForeground: lipgloss.Color("81"),

	CodeForeground: lipgloss.Color("180"),
	LinkForeground: lipgloss.Color("75"),
}
