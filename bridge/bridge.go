// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/bureau-foundation/sockbridge/lib/hexcodec"
	"github.com/bureau-foundation/sockbridge/sockets"
)

// SocketManager performs socket operations for the bridge.
// [*sockets.Manager] is the production implementation.
type SocketManager interface {
	Listen(handle int, host string, port int) error
	Connect(handle int, host string, port int) error
	Write(handle int, data []byte)
	Close(handle int)
	CloseAll() error
}

// Options configures a Bridge.
type Options struct {
	// Sink receives every event. A nil Sink drops them.
	Sink Sink

	// Encoding renders received bytes for data events. Default
	// hexcodec.EventGBK.
	Encoding hexcodec.EventEncoding

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-command and per-event traffic is logged at Debug level.
	Logger *slog.Logger

	// NewManager builds the socket manager, given the bridge as its
	// listener. If nil, a *sockets.Manager with ManagerOptions is used.
	NewManager func(listener sockets.Listener) SocketManager

	// ManagerOptions configures the default socket manager.
	ManagerOptions sockets.Options
}

// Bridge dispatches host commands to a socket manager and turns socket
// callbacks into host events.
type Bridge struct {
	sink     Sink
	encoding hexcodec.EventEncoding
	logger   *slog.Logger
	manager  SocketManager

	// shuttingDown is set once, under the write side of gate. Every
	// publish and every command dispatch holds the read side while it
	// checks the flag, so nothing is emitted or started after the flag
	// is observably set.
	shuttingDown atomic.Bool
	gate         sync.RWMutex

	commands conc.WaitGroup
}

// New creates a Bridge and its socket manager.
func New(options Options) *Bridge {
	bridge := &Bridge{
		sink:     options.Sink,
		encoding: options.Encoding,
		logger:   options.Logger,
	}
	if bridge.sink == nil {
		bridge.sink = SinkFunc(func(Event) {})
	}
	if bridge.encoding == "" {
		bridge.encoding = hexcodec.EventGBK
	}
	if bridge.logger == nil {
		bridge.logger = slog.Default()
	}

	if options.NewManager != nil {
		bridge.manager = options.NewManager(bridge)
	} else {
		bridge.manager = sockets.NewManager(bridge, options.ManagerOptions, bridge.logger)
	}
	return bridge
}

// Listen opens a listening socket under handle.
func (b *Bridge) Listen(handle int, host string, port int) {
	b.dispatch("listen", handle, func() error {
		return b.manager.Listen(handle, host, port)
	})
}

// Connect opens an outbound connection under handle. options is
// accepted for compatibility and ignored.
func (b *Bridge) Connect(handle int, host string, port int, options map[string]any) {
	b.dispatch("connect", handle, func() error {
		return b.manager.Connect(handle, host, port)
	})
}

// Write decodes hexPayload and writes the bytes to handle. ack, if not
// nil, is called once the socket manager has accepted the write, not
// when the bytes are delivered.
func (b *Bridge) Write(handle int, hexPayload string, ack func()) {
	b.dispatch("write", handle, func() error {
		b.manager.Write(handle, hexcodec.DecodeCommand(hexPayload))
		if ack != nil {
			ack()
		}
		return nil
	})
}

// End closes the socket under handle.
func (b *Bridge) End(handle int) {
	b.dispatch("end", handle, func() error {
		b.manager.Close(handle)
		return nil
	})
}

// Destroy is End.
func (b *Bridge) Destroy(handle int) {
	b.End(handle)
}

// Shutdown stops event emission and closes every socket. It blocks
// until the socket manager has finished closing. Errors are logged,
// not returned. Calls after the first return immediately.
func (b *Bridge) Shutdown() {
	b.gate.Lock()
	first := b.shuttingDown.CompareAndSwap(false, true)
	b.gate.Unlock()
	if !first {
		return
	}

	b.logger.Info("bridge shutting down")

	var closer conc.WaitGroup
	closer.Go(func() {
		if err := b.manager.CloseAll(); err != nil {
			b.logger.Error("closing sockets failed", "error", err)
		}
	})
	if recovered := closer.WaitAndRecover(); recovered != nil {
		b.logger.Error("closing sockets panicked",
			"panic", recovered.Value,
			"stack", string(recovered.Stack),
		)
	}

	b.logger.Info("bridge shut down")
}

// ShuttingDown reports whether Shutdown has been called.
func (b *Bridge) ShuttingDown() bool {
	return b.shuttingDown.Load()
}

// Wait blocks until every command goroutine started so far has
// finished.
func (b *Bridge) Wait() {
	b.commands.Wait()
}

// dispatch runs task on its own goroutine. Failures and panics become
// error events on handle.
func (b *Bridge) dispatch(action string, handle int, task func() error) {
	b.gate.RLock()
	defer b.gate.RUnlock()

	if b.shuttingDown.Load() {
		b.logger.Debug("command dropped after shutdown",
			"action", action,
			"handle", handle,
		)
		return
	}

	b.logger.Debug("command", "action", action, "handle", handle)
	b.commands.Go(func() {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() {
			err = task()
		})

		if recovered := catcher.Recovered(); recovered != nil {
			b.logger.Error("command panicked",
				"action", action,
				"handle", handle,
				"panic", recovered.Value,
				"stack", string(recovered.Stack),
			)
			b.OnError(handle, fmt.Sprintf("internal error: %v", recovered.Value))
			return
		}
		if err == nil {
			return
		}

		var resolveError *sockets.ResolveError
		if errors.As(err, &resolveError) {
			b.logger.Error("host resolution failed",
				"action", action,
				"handle", handle,
				"host", resolveError.Host,
				"error", err,
			)
		} else {
			b.logger.Error("socket operation failed",
				"action", action,
				"handle", handle,
				"error", err,
			)
		}
		b.OnError(handle, err.Error())
	})
}

// publish hands events to the sink unless shutdown has begun. The
// events are published together: either all or none.
func (b *Bridge) publish(events ...Event) {
	b.gate.RLock()
	defer b.gate.RUnlock()

	if b.shuttingDown.Load() {
		return
	}
	for _, event := range events {
		b.logger.Debug("event", "event", event.Name, "handle", event.Handle)
		b.sink.Publish(event)
	}
}

// OnConnection implements sockets.Listener.
func (b *Bridge) OnConnection(serverHandle, clientHandle int, remote sockets.Endpoint) {
	b.publish(Event{
		Name:   EventConnection,
		Handle: serverHandle,
		Body: ConnectionBody{
			ID:   serverHandle,
			Info: ConnectionInfo{ID: clientHandle, Address: remote},
		},
	})
}

// OnConnect implements sockets.Listener.
func (b *Bridge) OnConnect(handle int, remote sockets.Endpoint) {
	b.publish(Event{
		Name:   EventConnect,
		Handle: handle,
		Body:   ConnectBody{ID: handle, Address: remote},
	})
}

// OnData implements sockets.Listener.
func (b *Bridge) OnData(handle int, data []byte) {
	if b.shuttingDown.Load() {
		return
	}
	body := DataBody{ID: handle}
	if text, ok := b.encoding.Encode(data); ok {
		body.Data = &text
	}
	b.publish(Event{Name: EventData, Handle: handle, Body: body})
}

// OnClose implements sockets.Listener. A non-nil errMessage produces an
// error event before the close event.
func (b *Bridge) OnClose(handle int, errMessage *string) {
	if errMessage == nil {
		b.publish(Event{
			Name:   EventClose,
			Handle: handle,
			Body:   CloseBody{ID: handle, HadError: false},
		})
		return
	}
	b.publish(
		Event{
			Name:   EventError,
			Handle: handle,
			Body:   ErrorBody{ID: handle, Error: *errMessage},
		},
		Event{
			Name:   EventClose,
			Handle: handle,
			Body:   CloseBody{ID: handle, HadError: true},
		},
	)
}

// OnError implements sockets.Listener.
func (b *Bridge) OnError(handle int, message string) {
	b.publish(Event{
		Name:   EventError,
		Handle: handle,
		Body:   ErrorBody{ID: handle, Error: message},
	})
}
