// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/room"
)

func joinCommand() *cli.Command {
	var flags configFlags
	return &cli.Command{
		Name:    "join",
		Summary: "Open a project room in the terminal",
		Usage:   "huddle join <project> [flags]",
		Description: `Join the project's room and open the interactive view: the chat log,
the assistant's replies rendered as markdown, and the project's files.

The project may be named by ID, by exact name, or by a fuzzy pattern
that matches exactly one project. Type /help inside the room for the
available commands.

The view owns the terminal, so logs go to huddle-join.log in the
configured logs directory.`,
		Examples: []cli.Example{
			{Description: "Join by name", Command: "huddle join weather"},
			{Description: "Join by project ID", Command: "huddle join 65f1c2a9e4b0d3f2a1c0b9e8"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("join", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "huddle join <project>"); err != nil {
				return err
			}
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			level, _ := cfg.LogLevel()
			logger, closer, err := cli.NewFileLogger(cfg.Paths.Logs, "huddle-join.log", level)
			if err != nil {
				return err
			}
			defer closer.Close()

			env, err := newEnvironment(cfg, logger)
			if err != nil {
				return err
			}
			return joinRoom(ctx, env, args[0])
		},
	}
}

func joinRoom(ctx context.Context, env *environment, argument string) error {
	project, err := resolveProject(ctx, env.gateway, argument)
	if err != nil {
		return err
	}

	events := newSessionEvents()
	channel, err := env.newChannel(channelOptions{
		runOutput: events,
		errorSink: events.report,
		notify:    events.notify,
	})
	if err != nil {
		return err
	}
	if err := channel.Join(ctx, project.ID, identity.Identity{}); err != nil {
		return err
	}
	env.attachSandbox(channel, project.ID)
	env.logger.Info("joined room", "project_id", project.ID, "project", project.Name)

	model := newRoomModel(ctx, channel, events, project.Name, env.config.Sandbox.ReadyTimeout)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil
	}
	return errors.Join(err, closeSession(channel, flushTimeout))
}

// flushTimeout bounds how long quitting waits for the last file-tree
// write.
const flushTimeout = 10 * time.Second

// closeSession waits up to timeout for pending file-tree writes, then
// leaves the room. It runs after the interrupt context is done, so it
// has its own deadline.
func closeSession(channel *room.Channel, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var errs []error
	if err := channel.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("last edits may not be saved: %w", err))
	}
	if err := channel.Leave(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
