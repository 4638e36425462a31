// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the huddle command tree.
package commands

import (
	"github.com/huddle-dev/huddle/cmd/huddle/cli"
)

// Root returns the top-level huddle command.
func Root() *cli.Command {
	return &cli.Command{
		Name: "huddle",
		Description: `Huddle is a shared coding room: chat with collaborators and the @ai
assistant, edit the project's files together, and run the result.`,
		Subcommands: []*cli.Command{
			joinCommand(),
			sayCommand(),
			runCommand(),
			projectCommand(),
			userCommand(),
			versionCommand(),
		},
	}
}
