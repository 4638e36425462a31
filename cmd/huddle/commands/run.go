// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/room"
	"github.com/huddle-dev/huddle/sandbox"
)

func runCommand() *cli.Command {
	var flags configFlags
	return &cli.Command{
		Name:    "run",
		Summary: "Run a project's server locally",
		Usage:   "huddle run <project> [flags]",
		Description: `Join the project's room, install and start the current file tree in
the local sandbox, and print the server's URL once it is listening.
Output streams to the terminal until interrupted.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "huddle run <project>"); err != nil {
				return err
			}
			env, err := flags.environment()
			if err != nil {
				return err
			}
			return runProject(ctx, env, os.Stdout, args[0])
		},
	}
}

func runProject(ctx context.Context, env *environment, w io.Writer, argument string) error {
	project, err := resolveProject(ctx, env.gateway, argument)
	if err != nil {
		return err
	}
	channel, err := env.newChannel(channelOptions{runOutput: w, errorSink: env.logSessionError})
	if err != nil {
		return err
	}
	if err := channel.Join(ctx, project.ID, identity.Identity{}); err != nil {
		return err
	}
	defer channel.Leave()
	if unconfined(env.attachSandbox(channel, project.ID)) {
		fmt.Fprintf(w, "running %s without bubblewrap confinement\n", project.Name)
	}

	execution, err := channel.Run(ctx)
	if err != nil {
		if code, ok := sandbox.IsExitError(err); ok {
			return fmt.Errorf("install failed with exit code %d", code)
		}
		return fmt.Errorf("running %s: %w", project.Name, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, env.config.Sandbox.ReadyTimeout)
	server, err := execution.AwaitReady(readyCtx)
	cancel()
	switch {
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, room.ErrExitedBeforeReady):
		return fmt.Errorf("%s exited before it was ready", project.Name)
	case err != nil:
		return fmt.Errorf("waiting for %s to listen: %w", project.Name, err)
	}
	fmt.Fprintf(w, "%s is ready at %s\n", project.Name, server.URL)

	select {
	case <-ctx.Done():
	case <-execution.Done():
		fmt.Fprintf(w, "%s exited\n", project.Name)
	}
	return nil
}
