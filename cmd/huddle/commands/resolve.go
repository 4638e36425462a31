// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/huddle-dev/huddle/cmd/huddle/cli"
	"github.com/huddle-dev/huddle/gateway"
	"github.com/huddle-dev/huddle/lib/fuzzy"
	"github.com/huddle-dev/huddle/lib/ref"
)

// maxCandidates bounds the list printed for an ambiguous name.
const maxCandidates = 5

// resolveProject finds the project named by argument: an exact project
// ID first, then an exact name (ignoring case), then the single best
// fuzzy match on names.
func resolveProject(ctx context.Context, gw gateway.Gateway, argument string) (gateway.Project, error) {
	if projectID, err := ref.ParseProjectID(argument); err == nil {
		project, err := gw.GetProject(ctx, projectID)
		if err == nil {
			return project, nil
		}
		if !gateway.IsNotFound(err) {
			return gateway.Project{}, fmt.Errorf("looking up project %s: %w", projectID, err)
		}
	}

	projects, err := gw.ListProjects(ctx)
	if err != nil {
		return gateway.Project{}, fmt.Errorf("listing projects: %w", err)
	}
	for _, project := range projects {
		if strings.EqualFold(project.Name, argument) {
			return project, nil
		}
	}

	names := make([]string, len(projects))
	for index, project := range projects {
		names[index] = project.Name
	}
	matches := fuzzy.Filter(argument, names)
	switch {
	case len(matches) == 0:
		return gateway.Project{}, cli.Usage("no project matches %q", argument).
			WithHint("Run 'huddle project list' to see your projects.")
	case len(matches) == 1 || matches[0].Score > matches[1].Score:
		return projects[matches[0].Index], nil
	}

	var candidates []string
	for _, match := range matches[:min(len(matches), maxCandidates)] {
		project := projects[match.Index]
		candidates = append(candidates, fmt.Sprintf("  %s  %s", project.ID, project.Name))
	}
	return gateway.Project{}, cli.Usage("%q matches several projects:\n%s", argument, strings.Join(candidates, "\n")).
		WithHint("Use a longer name or the project ID.")
}
