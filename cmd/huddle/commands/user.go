// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/gateway"
)

func userCommand() *cli.Command {
	var (
		flags  configFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "user",
		Summary: "List users",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Summary: "List the users you can add to projects",
				Flags: func() *pflag.FlagSet {
					flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
					flags.AddFlags(flagSet)
					output.AddFlags(flagSet)
					return flagSet
				},
				Run: func(ctx context.Context, args []string) error {
					if err := cli.RequireArgs(args, 0, 0, "huddle user list"); err != nil {
						return err
					}
					env, err := flags.environment()
					if err != nil {
						return err
					}
					return listUsers(ctx, env.gateway, os.Stdout, &output)
				},
			},
		},
	}
}

func listUsers(ctx context.Context, gw gateway.Gateway, w io.Writer, output *cli.JSONOutput) error {
	users, err := gw.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	type userSummary struct {
		ID    string `json:"id"`
		Email string `json:"email,omitempty"`
	}
	summaries := make([]userSummary, 0, len(users))
	for _, user := range users {
		summaries = append(summaries, userSummary{ID: user.ID.String(), Email: user.Email})
	}
	if done, err := output.Emit(w, summaries); done {
		return err
	}
	table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintln(table, "ID\tEMAIL")
	for _, summary := range summaries {
		fmt.Fprintf(table, "%s\t%s\n", summary.ID, summary.Email)
	}
	return table.Flush()
}
