// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package hostlink carries bridge commands and events between the host
// application and the bridge over a byte stream: a Unix socket
// connection or the daemon's stdin and stdout.
//
// # Frames
//
// Every message is a frame:
//
//	[1 byte type] [1 byte compression] [4 byte big-endian length] [payload]
//
// Types are hello (0x01), command (0x02), event (0x03) and ack (0x04).
// Compression is none (0), lz4 (1, LZ4 block) or zstd (2). A
// compressed payload starts with its 4-byte big-endian uncompressed
// length. Payloads are capped at 16 MiB before and after
// decompression. Payloads below the sender's threshold, or that do not
// shrink, are sent uncompressed. [WriteFrame] and [ReadFrame]
// implement the format; payloads are CBOR (lib/codec).
//
// # Handshake
//
// The host sends a [Hello] with its protocol version and the
// compression it wants for events. The bridge replies with its own
// Hello carrying a session ID and the compression it will actually
// use. A host that stays silent for the handshake timeout is
// disconnected. A version mismatch, or a second host while a session is
// active, is answered with a refusing Hello and the stream is closed;
// [Client] reports these as [ErrVersionMismatch] and [ErrSessionActive].
//
// # Session
//
// After the handshake the host sends [Command] frames and the bridge
// sends [EventMessage] and [Ack] frames. [Session] decodes commands
// into calls on a [Commander] (a *bridge.Bridge in production) and
// implements bridge.Sink by encoding events. The session ends when the
// host sends a teardown command, closes the stream, or the context is
// cancelled; each of these shuts the commander down before Serve
// returns.
//
// [Server] listens on a Unix socket and serves exactly one session.
// [RunSession] serves a single already-open stream such as stdio.
package hostlink
