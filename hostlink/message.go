// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostlink

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/sockbridge/lib/codec"
)

// ProtocolVersion is the host link protocol version carried in hello
// frames. Both sides must agree.
const ProtocolVersion = 1

// Hello is the payload of the first frame in each direction.
type Hello struct {
	// Version is the sender's ProtocolVersion.
	Version int `cbor:"version"`

	// Session is the session ID assigned by the bridge. Empty in the
	// host's hello.
	Session string `cbor:"session,omitempty"`

	// Compression is, in the host's hello, the algorithm the host
	// asks the bridge to use, and in the bridge's reply, the
	// algorithm the bridge will use.
	Compression string `cbor:"compression,omitempty"`

	// Reason and Error are set when the bridge refuses the session.
	Reason string `cbor:"reason,omitempty"`
	Error  string `cbor:"error,omitempty"`
}

// Refusal reasons carried in Hello.Reason.
const (
	reasonVersionMismatch = "version_mismatch"
	reasonSessionActive   = "session_active"
)

var (
	// ErrVersionMismatch means the two sides speak different protocol
	// versions.
	ErrVersionMismatch = errors.New("protocol version mismatch")

	// ErrSessionActive means the bridge is already serving a host.
	ErrSessionActive = errors.New("host session already active")

	// ErrHandshakeTimeout means the host did not send its hello in
	// time.
	ErrHandshakeTimeout = errors.New("handshake timed out")
)

// refusalError maps a refusing hello to the matching sentinel.
func refusalError(hello Hello) error {
	switch hello.Reason {
	case reasonVersionMismatch:
		return fmt.Errorf("%w: %s", ErrVersionMismatch, hello.Error)
	case reasonSessionActive:
		return ErrSessionActive
	default:
		return fmt.Errorf("session refused: %s", hello.Error)
	}
}

// Actions accepted in Command.Action.
const (
	ActionListen   = "listen"
	ActionConnect  = "connect"
	ActionWrite    = "write"
	ActionEnd      = "end"
	ActionDestroy  = "destroy"
	ActionTeardown = "teardown"
)

// Command is the payload of a command frame.
type Command struct {
	Action string `cbor:"action"`
	ID     int    `cbor:"id"`
	Host   string `cbor:"host,omitempty"`
	Port   int    `cbor:"port,omitempty"`

	// Data is the hex payload of a write.
	Data string `cbor:"data,omitempty"`

	// Ack, when non-zero, asks for an ack frame carrying the same
	// token once the write has been handed to the socket.
	Ack uint64 `cbor:"ack,omitempty"`

	Options map[string]any `cbor:"options,omitempty"`
}

// EventMessage is the payload of an event frame.
type EventMessage struct {
	Event string `cbor:"event"`
	Body  any    `cbor:"body"`
}

// Ack is the payload of an ack frame.
type Ack struct {
	Ack uint64 `cbor:"ack"`
}

// ReceivedEvent is an event as seen by a [Client]. Body stays encoded
// until the caller knows which body type to decode into.
type ReceivedEvent struct {
	Event string           `cbor:"event"`
	Body  codec.RawMessage `cbor:"body"`
}

// Decode unmarshals the event body into v, typically one of the
// bridge body types.
func (e ReceivedEvent) Decode(v any) error {
	if err := codec.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decoding %s event body: %w", e.Event, err)
	}
	return nil
}

// encodeFrame marshals v as the payload of a frame of type frameType.
func encodeFrame(frameType FrameType, v any) (Frame, error) {
	payload, err := codec.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encoding %s frame: %w", frameType, err)
	}
	return Frame{Type: frameType, Payload: payload}, nil
}
