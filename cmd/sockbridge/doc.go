// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Sockbridge gives a host application TCP networking through a local
// socket. The host connects to a Unix socket (or, with --stdio, speaks
// over the daemon's stdin and stdout), sends listen, connect, write,
// end and destroy commands, and receives connection, connect, data,
// close and error events.
//
// The daemon serves one host session and exits when the host sends
// teardown, disconnects, or the process receives SIGINT or SIGTERM.
// Every open socket is closed before it exits.
package main
