// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import "github.com/bureau-foundation/sockbridge/sockets"

// EventName identifies the kind of an [Event].
type EventName string

const (
	EventConnection EventName = "connection"
	EventConnect    EventName = "connect"
	EventData       EventName = "data"
	EventClose      EventName = "close"
	EventError      EventName = "error"
)

// Event is one message for the host. Body is one of the *Body types
// below, matching Name.
type Event struct {
	Name   EventName
	Handle int
	Body   any
}

// ConnectionBody reports a client accepted on listening socket ID.
type ConnectionBody struct {
	ID   int            `json:"id"`
	Info ConnectionInfo `json:"info"`
}

// ConnectionInfo describes the accepted client.
type ConnectionInfo struct {
	ID      int              `json:"id"`
	Address sockets.Endpoint `json:"address"`
}

// ConnectBody reports an established outbound connection.
type ConnectBody struct {
	ID      int              `json:"id"`
	Address sockets.Endpoint `json:"address"`
}

// DataBody carries received bytes rendered as text. Data is nil when
// there is nothing to render.
type DataBody struct {
	ID   int     `json:"id"`
	Data *string `json:"data"`
}

// CloseBody reports that a socket is gone.
type CloseBody struct {
	ID       int  `json:"id"`
	HadError bool `json:"hadError"`
}

// ErrorBody reports a failure on a socket.
type ErrorBody struct {
	ID    int    `json:"id"`
	Error string `json:"error"`
}

// Sink receives events for the host. Publish is called from socket
// and command goroutines, possibly concurrently, and must not call
// back into the Bridge.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(Event)

// Publish calls f(event).
func (f SinkFunc) Publish(event Event) {
	f(event)
}
