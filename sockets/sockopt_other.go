// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package sockets

import (
	"fmt"
	"runtime"
	"syscall"
)

const reusePortSupported = false

func reusePortControl(network, address string, raw syscall.RawConn) error {
	return fmt.Errorf("SO_REUSEPORT is not supported on %s", runtime.GOOS)
}
