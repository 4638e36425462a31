// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/gateway"
	"github.com/huddle-dev/huddle/lib/fuzzy"
	"github.com/huddle-dev/huddle/lib/ref"
)

func projectCommand() *cli.Command {
	return &cli.Command{
		Name:    "project",
		Summary: "List, create, and share projects",
		Subcommands: []*cli.Command{
			projectListCommand(),
			projectCreateCommand(),
			projectShowCommand(),
			projectAddUserCommand(),
		},
	}
}

// projectSummary is the JSON shape of list output.
type projectSummary struct {
	ID            ref.ProjectID `json:"id"`
	Name          string        `json:"name"`
	Collaborators []string      `json:"collaborators"`
}

func summarize(project gateway.Project) projectSummary {
	summary := projectSummary{ID: project.ID, Name: project.Name, Collaborators: []string{}}
	for _, collaborator := range project.Collaborators {
		summary.Collaborators = append(summary.Collaborators, collaborator.String())
	}
	return summary
}

func projectListCommand() *cli.Command {
	var (
		flags  configFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "list",
		Summary: "List projects, optionally filtered by a fuzzy pattern",
		Usage:   "huddle project list [filter] [flags]",
		Examples: []cli.Example{
			{Description: "Projects whose name looks like 'weather'", Command: "huddle project list wthr"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("list", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			output.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 0, 1, "huddle project list [filter]"); err != nil {
				return err
			}
			env, err := flags.environment()
			if err != nil {
				return err
			}
			var filter string
			if len(args) == 1 {
				filter = args[0]
			}
			return listProjects(ctx, env.gateway, os.Stdout, filter, &output)
		},
	}
}

func listProjects(ctx context.Context, gw gateway.Gateway, w io.Writer, filter string, output *cli.JSONOutput) error {
	projects, err := gw.ListProjects(ctx)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	if filter != "" {
		names := make([]string, len(projects))
		for index, project := range projects {
			names[index] = project.Name
		}
		var filtered []gateway.Project
		for _, match := range fuzzy.Filter(filter, names) {
			filtered = append(filtered, projects[match.Index])
		}
		projects = filtered
	}

	summaries := make([]projectSummary, 0, len(projects))
	for _, project := range projects {
		summaries = append(summaries, summarize(project))
	}
	if done, err := output.Emit(w, summaries); done {
		return err
	}
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no projects")
		return nil
	}
	table := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintln(table, "ID\tNAME\tCOLLABORATORS")
	for _, summary := range summaries {
		fmt.Fprintf(table, "%s\t%s\t%s\n", summary.ID, summary.Name, strings.Join(summary.Collaborators, ", "))
	}
	return table.Flush()
}

func projectCreateCommand() *cli.Command {
	var (
		flags  configFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "create",
		Summary: "Create a project",
		Usage:   "huddle project create <name> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("create", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			output.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, -1, "huddle project create <name>"); err != nil {
				return err
			}
			env, err := flags.environment()
			if err != nil {
				return err
			}
			return createProject(ctx, env.gateway, os.Stdout, strings.Join(args, " "), &output)
		},
	}
}

func createProject(ctx context.Context, gw gateway.Gateway, w io.Writer, name string, output *cli.JSONOutput) error {
	project, err := gw.CreateProject(ctx, name)
	if err != nil {
		return fmt.Errorf("creating project %q: %w", name, err)
	}
	if done, err := output.Emit(w, summarize(project)); done {
		return err
	}
	fmt.Fprintf(w, "created %s (%s)\n", project.Name, project.ID)
	return nil
}

func projectShowCommand() *cli.Command {
	var (
		flags  configFlags
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "show",
		Summary: "Show a project's collaborators and files",
		Usage:   "huddle project show <project> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("show", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			output.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 1, 1, "huddle project show <project>"); err != nil {
				return err
			}
			env, err := flags.environment()
			if err != nil {
				return err
			}
			return showProject(ctx, env.gateway, os.Stdout, args[0], &output)
		},
	}
}

func showProject(ctx context.Context, gw gateway.Gateway, w io.Writer, argument string, output *cli.JSONOutput) error {
	project, err := resolveProject(ctx, gw, argument)
	if err != nil {
		return err
	}
	files := project.FileTree.Files()
	if done, err := output.Emit(w, struct {
		projectSummary
		Files []string `json:"files"`
	}{summarize(project), append([]string{}, files...)}); done {
		return err
	}

	fmt.Fprintf(w, "%s (%s)\n", project.Name, project.ID)
	fmt.Fprintf(w, "collaborators: %s\n", strings.Join(summarize(project).Collaborators, ", "))
	if len(files) == 0 {
		fmt.Fprintln(w, "no files")
		return nil
	}
	fmt.Fprintln(w, "files:")
	for _, file := range files {
		fmt.Fprintf(w, "  %s\n", file)
	}
	return nil
}

func projectAddUserCommand() *cli.Command {
	var flags configFlags
	return &cli.Command{
		Name:    "add-user",
		Summary: "Add collaborators to a project",
		Usage:   "huddle project add-user <project> <user>... [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("add-user", pflag.ContinueOnError)
			flags.AddFlags(flagSet)
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if err := cli.RequireArgs(args, 2, -1, "huddle project add-user <project> <user>..."); err != nil {
				return err
			}
			env, err := flags.environment()
			if err != nil {
				return err
			}
			return addUsers(ctx, env.gateway, os.Stdout, args[0], args[1:])
		},
	}
}

func addUsers(ctx context.Context, gw gateway.Gateway, w io.Writer, argument string, users []string) error {
	userIDs := make([]ref.UserID, 0, len(users))
	for _, user := range users {
		userID, err := ref.ParseUserID(user)
		if err != nil {
			return cli.Usage("invalid user %q: %v", user, err)
		}
		if userID.IsAI() {
			return cli.Usage("the assistant is in every project and cannot be added")
		}
		userIDs = append(userIDs, userID)
	}
	project, err := resolveProject(ctx, gw, argument)
	if err != nil {
		return err
	}
	updated, err := gw.AddCollaborators(ctx, project.ID, userIDs)
	if err != nil {
		return fmt.Errorf("adding collaborators to %s: %w", project.Name, err)
	}
	fmt.Fprintf(w, "%s collaborators: %s\n", updated.Name, strings.Join(summarize(updated).Collaborators, ", "))
	return nil
}
