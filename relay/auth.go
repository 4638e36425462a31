// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

// ErrUnauthorized is returned by an Authenticator for unknown or
// revoked tokens.
var ErrUnauthorized = errors.New("relay: unauthorized")

// Authenticator maps a bearer token to the identity it belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (identity.Identity, error)
}

var _ Authenticator = (*StaticAuthenticator)(nil)

// tokenKey is the BLAKE3 hash of a token. Tables are keyed by hash so
// token plaintext is not held for the life of the process.
type tokenKey [32]byte

func hashToken(token string) tokenKey {
	return tokenKey(blake3.Sum256([]byte(token)))
}

// StaticAuthenticator is a fixed token table with a revocation list.
// It is safe for concurrent use.
type StaticAuthenticator struct {
	mu      sync.RWMutex
	tokens  map[tokenKey]identity.Identity
	revoked map[tokenKey]struct{}
}

// NewStaticAuthenticator returns an empty table.
func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{
		tokens:  make(map[tokenKey]identity.Identity),
		revoked: make(map[tokenKey]struct{}),
	}
}

// Add maps token to user.
func (a *StaticAuthenticator) Add(token string, user identity.Identity) error {
	if token == "" {
		return errors.New("empty token")
	}
	if err := user.Validate(); err != nil {
		return err
	}
	if user.ID.IsAI() {
		return fmt.Errorf("token for %s: the assistant identity cannot authenticate", user.ID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[hashToken(token)] = user
	return nil
}

// Revoke rejects token from now on, whether or not it is in the table.
// Connections already authenticated with it are not affected.
func (a *StaticAuthenticator) Revoke(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[hashToken(token)] = struct{}{}
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, token string) (identity.Identity, error) {
	if token == "" {
		return identity.Identity{}, fmt.Errorf("%w: no token", ErrUnauthorized)
	}
	key := hashToken(token)
	a.mu.RLock()
	defer a.mu.RUnlock()
	if _, revoked := a.revoked[key]; revoked {
		return identity.Identity{}, fmt.Errorf("%w: token revoked", ErrUnauthorized)
	}
	user, ok := a.tokens[key]
	if !ok {
		return identity.Identity{}, fmt.Errorf("%w: unknown token", ErrUnauthorized)
	}
	return user, nil
}

// Len returns the number of tokens in the table.
func (a *StaticAuthenticator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tokens)
}

// tokensFile is the on-disk form of a token table:
//
//	users:
//	  - token: "..."
//	    user_id: 64f0c2...
//	    email: dev@example.com
//	revoked:
//	  - "..."
type tokensFile struct {
	Users []struct {
		Token  string `yaml:"token"`
		UserID string `yaml:"user_id"`
		Email  string `yaml:"email"`
	} `yaml:"users"`
	Revoked []string `yaml:"revoked"`
}

// LoadTokensFile reads a token table. Files ending in .json or .jsonc
// are JSON with comments; anything else is YAML. Every problem in the
// file is reported.
func LoadTokensFile(path string) (*StaticAuthenticator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tokens file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}

	var file tokensFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing tokens file %s: %w", path, err)
	}

	authenticator := NewStaticAuthenticator()
	var errs []error
	for index, entry := range file.Users {
		userID, err := ref.ParseUserID(entry.UserID)
		if err != nil {
			errs = append(errs, fmt.Errorf("users[%d]: %w", index, err))
			continue
		}
		if err := authenticator.Add(entry.Token, identity.Identity{ID: userID, Email: entry.Email}); err != nil {
			errs = append(errs, fmt.Errorf("users[%d]: %w", index, err))
		}
	}
	for _, token := range file.Revoked {
		authenticator.Revoke(token)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("tokens file %s: %w", path, err)
	}
	return authenticator, nil
}
