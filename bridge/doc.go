// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge exposes TCP sockets to a host application through
// fire-and-forget commands and asynchronous events.
//
// The host names every socket by an integer handle it chooses. [Bridge]
// accepts five commands, Listen, Connect, Write, End and Destroy, and
// returns from each immediately after starting one goroutine that
// performs the operation on a [SocketManager]. Failures never come back
// to the caller: they are logged and reported as error events on the
// command's handle. A panic inside a command is recovered and reported
// the same way.
//
// Socket activity comes back through the [sockets.Listener] callbacks,
// which Bridge implements by translating each into an [Event] and
// handing it to the [Sink]:
//
//	OnConnection -> connection {id, info: {id, address}}
//	OnConnect    -> connect    {id, address}
//	OnData       -> data       {id, data}
//	OnClose      -> error {id, error} (if the close failed), close {id, hadError}
//	OnError      -> error      {id, error}
//
// Write payloads arrive as hex strings and are decoded with
// [hexcodec.DecodeCommand]. Received bytes are rendered for data events
// with the configured [hexcodec.EventEncoding].
//
// [Bridge.Shutdown] sets the shutdown flag, then blocks until the
// socket manager has closed every socket. From the moment the flag is
// set no event reaches the sink, including events from callbacks
// already running, and new commands are dropped. Shutdown is
// idempotent.
package bridge
