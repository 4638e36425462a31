// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/lib/version"
)

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(_ context.Context, args []string) error {
			if err := cli.RequireArgs(args, 0, 0, "huddle version"); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "huddle %s\n", version.Full())
			return nil
		},
	}
}
