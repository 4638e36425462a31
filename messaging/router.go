// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/huddle-dev/huddle/lib/identity"
	"github.com/huddle-dev/huddle/lib/ref"
)

var _ Dialer = (*Router)(nil)

// Router picks a transport by endpoint scheme:
//
//	tcp://, unix://                 Stream
//	matrix+http://, matrix+https:// Matrix
//	memory://                       Memory
//
// A nil transport makes its schemes fail with ErrTransportUnavailable.
type Router struct {
	Stream *StreamDialer
	Matrix *MatrixDialer
	Memory *Hub
}

// Connect implements Dialer.
func (r *Router) Connect(ctx context.Context, endpoint string, credential identity.Credential, projectID ref.ProjectID) (Conn, error) {
	dialer, err := r.route(endpoint)
	if err != nil {
		return nil, err
	}
	return dialer.Connect(ctx, endpoint, credential, projectID)
}

func (r *Router) route(endpoint string) (Dialer, error) {
	scheme, _, found := strings.Cut(endpoint, "://")
	if !found {
		return nil, fmt.Errorf("%w: endpoint %q has no scheme", ErrTransportUnavailable, endpoint)
	}
	var dialer Dialer
	switch scheme {
	case "tcp", "unix":
		if r.Stream != nil {
			dialer = r.Stream
		}
	case "matrix+http", "matrix+https":
		if r.Matrix != nil {
			dialer = r.Matrix
		}
	case "memory":
		if r.Memory != nil {
			dialer = r.Memory
		}
	default:
		return nil, fmt.Errorf("%w: unsupported endpoint scheme %q", ErrTransportUnavailable, scheme)
	}
	if dialer == nil {
		return nil, fmt.Errorf("%w: no %s transport configured", ErrTransportUnavailable, scheme)
	}
	return dialer, nil
}
