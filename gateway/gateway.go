// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/huddle-dev/huddle/lib/filetree"
	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

var (
	// ErrUnauthorized is returned when the gateway rejects the
	// credential (HTTP 401). The credential is expired or revoked and
	// the user must log in again.
	ErrUnauthorized = errors.New("gateway: unauthorized")

	// ErrUnavailable wraps transport failures: the gateway could not be
	// reached or the response could not be read.
	ErrUnavailable = errors.New("gateway unavailable")
)

// APIError is a non-2xx response other than 401.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}

// Gateway is the persistence gateway as consumed by Huddle clients.
// Every method may return ErrUnauthorized, *APIError, or an error
// wrapping ErrUnavailable. Trees passed in are not retained; trees
// returned are owned by the caller.
type Gateway interface {
	CreateProject(ctx context.Context, name string) (Project, error)
	ListProjects(ctx context.Context) ([]Project, error)
	GetProject(ctx context.Context, projectID ref.ProjectID) (Project, error)
	UpdateFileTree(ctx context.Context, projectID ref.ProjectID, tree filetree.Tree) error
	AddCollaborators(ctx context.Context, projectID ref.ProjectID, userIDs []ref.UserID) (Project, error)
	ListUsers(ctx context.Context) ([]identity.Identity, error)
}

// Project is a project as stored by the gateway.
type Project struct {
	ID            ref.ProjectID       `json:"_id"`
	Name          string              `json:"name"`
	Collaborators []identity.Identity `json:"users,omitempty"`
	FileTree      filetree.Tree       `json:"fileTree,omitempty"`
}

// UnmarshalJSON accepts collaborators either populated ({_id, email})
// or as bare user ID strings, since list endpoints do not populate
// them.
func (p *Project) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       ref.ProjectID     `json:"_id"`
		Name     string            `json:"name"`
		Users    []json.RawMessage `json:"users"`
		FileTree filetree.Tree     `json:"fileTree"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	collaborators := make([]identity.Identity, 0, len(raw.Users))
	for _, user := range raw.Users {
		var collaborator identity.Identity
		if len(user) > 0 && user[0] == '"' {
			if err := json.Unmarshal(user, &collaborator.ID); err != nil {
				return fmt.Errorf("project %s: collaborator: %w", raw.ID, err)
			}
		} else if err := json.Unmarshal(user, &collaborator); err != nil {
			return fmt.Errorf("project %s: collaborator: %w", raw.ID, err)
		}
		collaborators = append(collaborators, collaborator)
	}
	*p = Project{
		ID:            raw.ID,
		Name:          raw.Name,
		Collaborators: collaborators,
		FileTree:      raw.FileTree,
	}
	return nil
}

// Clone returns a deep copy of the project.
func (p Project) Clone() Project {
	clone := p
	clone.Collaborators = append([]identity.Identity(nil), p.Collaborators...)
	clone.FileTree = p.FileTree.Clone()
	return clone
}

// HasCollaborator reports whether userID is a member of the project.
func (p Project) HasCollaborator(userID ref.UserID) bool {
	for _, collaborator := range p.Collaborators {
		if collaborator.ID == userID {
			return true
		}
	}
	return false
}
