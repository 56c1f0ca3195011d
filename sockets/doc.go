// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sockets owns real TCP sockets on behalf of a host that only
// knows integer connection handles.
//
// A [Manager] keeps a table from handle to socket. The host picks the
// handle for every socket it opens with [Manager.Listen] or
// [Manager.Connect]; connections accepted on a listening socket get
// handles from a counter starting at [Options].ClientHandleBase.
// Everything the sockets do afterwards is reported through the five
// callbacks of a [Listener]:
//
//   - OnConnection: a listening socket accepted a client
//   - OnConnect: an outbound connection was established
//   - OnData: bytes arrived
//   - OnClose: the socket is gone, with an error message when the
//     close was not clean
//   - OnError: a write failed
//
// Each socket has one goroutine that performs its accept notification,
// its reads, and its final OnClose, so callbacks for a single handle
// arrive in order (connection, then data, then close). Callbacks for
// different handles may interleave.
//
// [Manager.CloseAll] closes every socket and waits for every socket
// goroutine to exit. Callbacks may still fire while it runs; the
// caller decides whether to report them.
//
// Name resolution failures are returned as [*ResolveError] so callers
// can tell them apart from bind and dial failures.
package sockets
