// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/bureau-foundation/sockbridge/lib/codec"
	"github.com/bureau-foundation/sockbridge/lib/netutil"
)

// ClientOptions configures a Client.
type ClientOptions struct {
	// Compression is requested from the bridge and used for command
	// frames the client sends.
	Compression Compression

	// CompressionThreshold is the smallest command payload the client
	// compresses.
	CompressionThreshold int

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// Client is the host side of a host link.
type Client struct {
	stream  io.ReadWriteCloser
	options ClientOptions
	logger  *slog.Logger

	session     string
	compression Compression

	events  chan ReceivedEvent
	acks    chan uint64
	done    chan struct{}
	closing chan struct{}

	writeMutex sync.Mutex
	closeOnce  sync.Once
	readErr    error
}

// Dial connects to a bridge listening on socketPath and performs the
// handshake.
func Dial(ctx context.Context, socketPath string, options ClientOptions) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	client, err := NewClient(conn, options)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return client, nil
}

// NewClient performs the handshake over stream and starts reading
// events. The returned error wraps ErrVersionMismatch or
// ErrSessionActive when the bridge refuses the session.
func NewClient(stream io.ReadWriteCloser, options ClientOptions) (*Client, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hello, err := encodeFrame(FrameHello, Hello{
		Version:     ProtocolVersion,
		Compression: options.Compression.String(),
	})
	if err != nil {
		return nil, err
	}
	if err := WriteFrame(stream, hello, CompressionNone, 0); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	frame, err := ReadFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("reading bridge hello: %w", err)
	}
	if frame.Type != FrameHello {
		return nil, fmt.Errorf("expected hello frame, got %s", frame.Type)
	}
	var reply Hello
	if err := codec.Unmarshal(frame.Payload, &reply); err != nil {
		return nil, fmt.Errorf("decoding bridge hello: %w", err)
	}
	if reply.Reason != "" || reply.Error != "" {
		return nil, refusalError(reply)
	}
	if reply.Version != ProtocolVersion {
		return nil, fmt.Errorf("%w: bridge speaks version %d", ErrVersionMismatch, reply.Version)
	}
	compression, err := ParseCompression(reply.Compression)
	if err != nil {
		return nil, fmt.Errorf("bridge hello: %w", err)
	}

	client := &Client{
		stream:      stream,
		options:     options,
		logger:      logger.With("session", reply.Session),
		session:     reply.Session,
		compression: compression,
		events:      make(chan ReceivedEvent, 256),
		acks:        make(chan uint64, 64),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
	}
	go client.readLoop()
	return client, nil
}

// Session returns the session ID assigned by the bridge.
func (c *Client) Session() string {
	return c.session
}

// Compression returns the algorithm the bridge uses for event frames.
func (c *Client) Compression() Compression {
	return c.compression
}

// Events delivers events in arrival order. The channel is closed when
// the bridge closes the link or Close is called.
func (c *Client) Events() <-chan ReceivedEvent {
	return c.events
}

// Acks delivers write acknowledgment tokens. Closed with Events.
func (c *Client) Acks() <-chan uint64 {
	return c.acks
}

// Err returns the error that ended the read loop, or nil after a clean
// end of stream. Only meaningful once Events is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.readErr
	default:
		return nil
	}
}

// Send writes one command frame.
func (c *Client) Send(command Command) error {
	frame, err := encodeFrame(FrameCommand, command)
	if err != nil {
		return err
	}

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	return WriteFrame(c.stream, frame, c.options.Compression, c.options.CompressionThreshold)
}

// Close closes the link. The bridge treats this as the host going
// away and shuts down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closing)
		err = c.stream.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.events)
	defer close(c.acks)
	defer close(c.done)

	for {
		frame, err := ReadFrame(c.stream)
		if err != nil {
			if !errors.Is(err, io.EOF) && !netutil.IsExpectedCloseError(err) {
				c.readErr = err
				c.logger.Debug("host link read failed", "error", err)
			}
			return
		}

		switch frame.Type {
		case FrameEvent:
			var event ReceivedEvent
			if err := codec.Unmarshal(frame.Payload, &event); err != nil {
				c.logger.Warn("undecodable event", "error", err)
				continue
			}
			select {
			case c.events <- event:
			case <-c.closing:
				return
			}

		case FrameAck:
			var ack Ack
			if err := codec.Unmarshal(frame.Payload, &ack); err != nil {
				c.logger.Warn("undecodable ack", "error", err)
				continue
			}
			select {
			case c.acks <- ack.Ack:
			case <-c.closing:
				return
			}

		default:
			c.logger.Warn("ignoring unexpected frame from bridge", "frame", frame.Type.String())
		}
	}
}
