// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

var _ Gateway = (*Memory)(nil)

// Memory is an in-process Gateway. The caller acts as owner: projects
// it creates list the owner as their first collaborator. Every tree
// crossing the boundary is copied.
type Memory struct {
	owner identity.Identity

	// BeforeUpdate, if set, runs before UpdateFileTree stores a tree.
	// A non-nil return fails the update. Tests use it to block or fail
	// persistence.
	BeforeUpdate func(projectID ref.ProjectID, tree filetree.Tree) error

	mu       sync.Mutex
	projects map[ref.ProjectID]*Project
	users    map[ref.UserID]identity.Identity
	sequence int
}

// NewMemory returns an empty gateway whose caller is owner.
func NewMemory(owner identity.Identity) *Memory {
	memory := &Memory{
		owner:    owner,
		projects: make(map[ref.ProjectID]*Project),
		users:    make(map[ref.UserID]identity.Identity),
	}
	if !owner.IsZero() {
		memory.users[owner.ID] = owner
	}
	return memory
}

// AddUser registers a user so it can be listed and added to projects.
func (m *Memory) AddUser(user identity.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
}

// PutProject stores a copy of project, replacing any project with the
// same ID.
func (m *Memory) PutProject(project Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := project.Clone()
	m.projects[project.ID] = &clone
}

func (m *Memory) CreateProject(ctx context.Context, name string) (Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Project{}, &APIError{StatusCode: 400, Message: "name is required"}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.projects {
		if strings.EqualFold(existing.Name, name) {
			return Project{}, &APIError{StatusCode: 400, Message: "project name already exists"}
		}
	}
	m.sequence++
	project := Project{
		ID:       ref.MustParseProjectID(fmt.Sprintf("%024x", m.sequence)),
		Name:     name,
		FileTree: filetree.Tree{},
	}
	if !m.owner.IsZero() {
		project.Collaborators = []identity.Identity{m.owner}
	}
	m.projects[project.ID] = &project
	return project.Clone(), nil
}

func (m *Memory) ListProjects(ctx context.Context) ([]Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	projects := make([]Project, 0, len(m.projects))
	for _, project := range m.projects {
		projects = append(projects, project.Clone())
	}
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].ID.String() < projects[j].ID.String()
	})
	return projects, nil
}

func (m *Memory) GetProject(ctx context.Context, projectID ref.ProjectID) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return Project{}, notFound(projectID)
	}
	return project.Clone(), nil
}

func (m *Memory) UpdateFileTree(ctx context.Context, projectID ref.ProjectID, tree filetree.Tree) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tree.Validate(); err != nil {
		return &APIError{StatusCode: 400, Message: err.Error()}
	}
	if m.BeforeUpdate != nil {
		if err := m.BeforeUpdate(projectID, tree.Clone()); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return notFound(projectID)
	}
	project.FileTree = tree.Clone()
	return nil
}

func (m *Memory) AddCollaborators(ctx context.Context, projectID ref.ProjectID, userIDs []ref.UserID) (Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	project, ok := m.projects[projectID]
	if !ok {
		return Project{}, notFound(projectID)
	}
	for _, userID := range userIDs {
		user, known := m.users[userID]
		if !known {
			return Project{}, &APIError{StatusCode: 400, Message: fmt.Sprintf("unknown user %s", userID)}
		}
		if !project.HasCollaborator(userID) {
			project.Collaborators = append(project.Collaborators, user)
		}
	}
	return project.Clone(), nil
}

// ListUsers omits the owner, as the gateway omits the caller.
func (m *Memory) ListUsers(ctx context.Context) ([]identity.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]identity.Identity, 0, len(m.users))
	for _, user := range m.users {
		if user.ID != m.owner.ID {
			users = append(users, user)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID.String() < users[j].ID.String() })
	return users, nil
}

func notFound(projectID ref.ProjectID) error {
	return &APIError{StatusCode: 404, Message: fmt.Sprintf("project %s not found", projectID)}
}
