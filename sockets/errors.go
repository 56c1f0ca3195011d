// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sockets

import (
	"errors"
	"fmt"
)

// ResolveError reports that a host name could not be resolved to an
// address.
type ResolveError struct {
	Host string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving %q: %v", e.Host, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

var (
	// ErrHandleInUse is returned by Listen and Connect when the handle
	// already names a live or pending socket.
	ErrHandleInUse = errors.New("handle already in use")

	// ErrManagerClosed is returned by Listen and Connect once CloseAll
	// has started.
	ErrManagerClosed = errors.New("socket manager closed")
)
