// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/lib/identity"
)

func sayCommand() *cli.Command {
	var flags configFlags
	return &cli.Command{
		Name:    "say",
		Summary: "Post one message to a project room",
		Usage:   "huddle say <project> <message>... [flags]",
		Description: `Join the project's room, post a message, and leave.

Mention @ai to ask the assistant; its reply arrives in the room after
this command has returned.`,
		Examples: []cli.Example{
			{Description: "Ask the assistant for a server", Command: `huddle say weather "@ai build an express server that serves /forecast"`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("say", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 2, -1, "huddle say <project> <message>..."); err != nil {
				return err
			}
			env, err := flags.environment()
			if err != nil {
				return err
			}
			return say(ctx, env, os.Stdout, args[0], strings.Join(args[1:], " "))
		},
	}
}

func say(ctx context.Context, env *environment, w io.Writer, argument, body string) error {
	project, err := resolveProject(ctx, env.gateway, argument)
	if err != nil {
		return err
	}
	channel, err := env.newChannel(channelOptions{errorSink: env.logSessionError})
	if err != nil {
		return err
	}
	if err := channel.Join(ctx, project.ID, identity.Identity{}); err != nil {
		return err
	}
	defer channel.Leave()

	if err := channel.PostMessage(ctx, body); err != nil {
		return err
	}
	fmt.Fprintf(w, "posted to %s\n", project.Name)
	return nil
}

func (e *environment) logSessionError(err error) {
	e.logger.Warn("session error", "error", err)
}
