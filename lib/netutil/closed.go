// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies errors seen while tearing down sockets.
//
// The socket manager closes connections from one goroutine while
// another goroutine is blocked in Read, Write, or Accept on the same
// socket. The blocked call then fails with an error that only means
// "this socket is gone". [IsExpectedCloseError] recognises those
// errors so they are not reported to the host as socket errors.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, use of a closed connection, broken pipe, or
// connection reset.
//
// Full-close teardown (closing the whole socket rather than CloseWrite)
// produces ECONNRESET and EPIPE instead of EOF on the surviving side,
// so all four count as expected.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsLocalCloseError reports whether err came from an operation on a
// socket this process already closed. Unlike IsExpectedCloseError it
// does not match errors caused by the peer.
func IsLocalCloseError(err error) bool {
	return err != nil && errors.Is(err, net.ErrClosed)
}
