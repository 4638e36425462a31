// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"errors"
	"fmt"
)

// Error is a Matrix error response. Non-JSON error bodies are reported
// with code M_UNKNOWN and the raw body as the message.
type Error struct {
	Code       string `json:"errcode"`
	Message    string `json:"error"`
	StatusCode int    `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes the bus distinguishes.
const (
	ErrCodeForbidden    = "M_FORBIDDEN"
	ErrCodeUnknownToken = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound     = "M_NOT_FOUND"
)

// IsError reports whether err is a Matrix error with the given code.
func IsError(err error, code string) bool {
	var matrixErr *Error
	return errors.As(err, &matrixErr) && matrixErr.Code == code
}

// IsAuthError reports whether err means the access token is not
// accepted (401, or M_UNKNOWN_TOKEN).
func IsAuthError(err error) bool {
	var matrixErr *Error
	if !errors.As(err, &matrixErr) {
		return false
	}
	return matrixErr.StatusCode == 401 || matrixErr.Code == ErrCodeUnknownToken
}
