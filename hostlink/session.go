// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package hostlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/sockbridge/bridge"
	"github.com/bureau-foundation/sockbridge/lib/clock"
	"github.com/bureau-foundation/sockbridge/lib/codec"
	"github.com/bureau-foundation/sockbridge/lib/netutil"
)

// Commander executes host commands. [*bridge.Bridge] implements it.
type Commander interface {
	Listen(handle int, host string, port int)
	Connect(handle int, host string, port int, options map[string]any)
	Write(handle int, hexPayload string, ack func())
	End(handle int)
	Destroy(handle int)

	// OnError reports a malformed command as an error event.
	OnError(handle int, message string)

	// Shutdown is the host teardown signal.
	Shutdown()

	// Wait blocks until in-flight commands have finished.
	Wait()
}

// SessionOptions configures a Session.
type SessionOptions struct {
	// HandshakeTimeout bounds the wait for the host's hello. Default
	// 10s.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds each frame write when the stream supports
	// write deadlines. Zero disables deadlines.
	WriteTimeout time.Duration

	// Compression is "client" to use what the host asks for, or a
	// fixed algorithm name. Default "client".
	Compression string

	// CompressionThreshold is the smallest payload considered for
	// compression.
	CompressionThreshold int

	// Clock drives the handshake timeout. Default clock.Real().
	Clock clock.Clock

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

const defaultHandshakeTimeout = 10 * time.Second

// Session is one host connection. It decodes command frames into
// Commander calls and implements bridge.Sink by writing event frames.
type Session struct {
	stream  io.ReadWriteCloser
	options SessionOptions
	logger  *slog.Logger

	id          string
	compression Compression

	writeMutex sync.Mutex
	closed     atomic.Bool
}

// writeDeadliner is implemented by net.Conn and os.File.
type writeDeadliner interface {
	SetWriteDeadline(time.Time) error
}

// NewSession wraps stream. Call Handshake before anything else.
func NewSession(stream io.ReadWriteCloser, options SessionOptions) *Session {
	if options.HandshakeTimeout <= 0 {
		options.HandshakeTimeout = defaultHandshakeTimeout
	}
	if options.Compression == "" {
		options.Compression = "client"
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		stream:  stream,
		options: options,
		logger:  logger.With("session", id),
		id:      id,
	}
}

// ID returns the session ID sent to the host.
func (s *Session) ID() string {
	return s.id
}

// Compression returns the algorithm negotiated for outgoing frames.
func (s *Session) Compression() Compression {
	return s.compression
}

// Handshake reads the host's hello and replies. If the hello does not
// arrive within HandshakeTimeout the stream is closed and
// ErrHandshakeTimeout returned. A version mismatch is answered with a
// refusing hello and returns ErrVersionMismatch.
func (s *Session) Handshake() error {
	var timedOut atomic.Bool
	timer := s.options.Clock.AfterFunc(s.options.HandshakeTimeout, func() {
		timedOut.Store(true)
		s.Close()
	})
	frame, err := ReadFrame(s.stream)
	timer.Stop()
	if timedOut.Load() {
		return ErrHandshakeTimeout
	}
	if err != nil {
		return fmt.Errorf("reading host hello: %w", err)
	}
	if frame.Type != FrameHello {
		s.refuse("", fmt.Sprintf("expected hello frame, got %s", frame.Type))
		return fmt.Errorf("expected hello frame, got %s", frame.Type)
	}

	var hello Hello
	if err := codec.Unmarshal(frame.Payload, &hello); err != nil {
		s.refuse("", "malformed hello")
		return fmt.Errorf("decoding host hello: %w", err)
	}
	if hello.Version != ProtocolVersion {
		message := fmt.Sprintf("bridge speaks version %d, host sent %d", ProtocolVersion, hello.Version)
		s.refuse(reasonVersionMismatch, message)
		return fmt.Errorf("%w: %s", ErrVersionMismatch, message)
	}

	s.compression = s.negotiate(hello.Compression)
	reply, err := encodeFrame(FrameHello, Hello{
		Version:     ProtocolVersion,
		Session:     s.id,
		Compression: s.compression.String(),
	})
	if err != nil {
		return err
	}
	if err := s.writeFrame(reply, CompressionNone); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}

	s.logger.Info("host session established",
		"compression", s.compression.String(),
		"host_compression", hello.Compression,
	)
	return nil
}

// negotiate picks the compression for outgoing frames.
func (s *Session) negotiate(requested string) Compression {
	name := s.options.Compression
	if name == "client" {
		name = requested
	}
	compression, err := ParseCompression(name)
	if err != nil {
		s.logger.Warn("unsupported compression requested, sending uncompressed",
			"compression", name,
		)
		return CompressionNone
	}
	return compression
}

// refuse sends a refusing hello and closes the stream.
func (s *Session) refuse(reason, message string) {
	frame, err := encodeFrame(FrameHello, Hello{
		Version: ProtocolVersion,
		Reason:  reason,
		Error:   message,
	})
	if err == nil {
		if err := s.writeFrame(frame, CompressionNone); err != nil {
			s.logger.Debug("sending refusal failed", "error", err)
		}
	}
	s.Close()
}

// Serve reads command frames and dispatches them to commander until
// the host sends teardown, the stream ends, or ctx is cancelled. In
// every case it then calls commander.Shutdown and commander.Wait
// before returning. The returned error is nil for those three endings
// and describes the failure otherwise.
func (s *Session) Serve(ctx context.Context, commander Commander) error {
	stop := context.AfterFunc(ctx, func() {
		s.logger.Info("host session cancelled")
		s.Close()
	})
	defer stop()

	err := s.readCommands(commander)
	if ctx.Err() != nil {
		err = nil
	}

	commander.Shutdown()
	commander.Wait()
	return err
}

func (s *Session) readCommands(commander Commander) error {
	for {
		frame, err := ReadFrame(s.stream)
		if err != nil {
			if errors.Is(err, io.EOF) || s.closed.Load() || netutil.IsExpectedCloseError(err) {
				s.logger.Info("host disconnected")
				return nil
			}
			return fmt.Errorf("reading command: %w", err)
		}

		if frame.Type != FrameCommand {
			s.logger.Warn("ignoring unexpected frame from host", "frame", frame.Type.String())
			continue
		}

		var command Command
		if err := codec.Unmarshal(frame.Payload, &command); err != nil {
			diagnostic, _ := codec.Diagnose(frame.Payload)
			s.logger.Error("undecodable command",
				"error", err,
				"payload", diagnostic,
			)
			commander.OnError(command.ID, fmt.Sprintf("invalid command: %v", err))
			continue
		}

		if command.Action == ActionTeardown {
			s.logger.Info("host requested teardown")
			return nil
		}
		s.dispatch(commander, command)
	}
}

func (s *Session) dispatch(commander Commander, command Command) {
	switch command.Action {
	case ActionListen:
		commander.Listen(command.ID, command.Host, command.Port)
	case ActionConnect:
		commander.Connect(command.ID, command.Host, command.Port, command.Options)
	case ActionWrite:
		var ack func()
		if command.Ack != 0 {
			token := command.Ack
			ack = func() { s.sendAck(token) }
		}
		commander.Write(command.ID, command.Data, ack)
	case ActionEnd:
		commander.End(command.ID)
	case ActionDestroy:
		commander.Destroy(command.ID)
	default:
		s.logger.Error("unknown command action",
			"action", command.Action,
			"handle", command.ID,
		)
		commander.OnError(command.ID, fmt.Sprintf("unknown action %q", command.Action))
	}
}

// Publish implements bridge.Sink.
func (s *Session) Publish(event bridge.Event) {
	frame, err := encodeFrame(FrameEvent, EventMessage{
		Event: string(event.Name),
		Body:  event.Body,
	})
	if err != nil {
		s.logger.Error("encoding event failed",
			"event", event.Name,
			"handle", event.Handle,
			"error", err,
		)
		return
	}
	if err := s.writeFrame(frame, s.compression); err != nil {
		s.logWriteFailure("event", err)
	}
}

func (s *Session) sendAck(token uint64) {
	frame, err := encodeFrame(FrameAck, Ack{Ack: token})
	if err != nil {
		s.logger.Error("encoding ack failed", "error", err)
		return
	}
	if err := s.writeFrame(frame, CompressionNone); err != nil {
		s.logWriteFailure("ack", err)
	}
}

func (s *Session) logWriteFailure(kind string, err error) {
	if s.closed.Load() || netutil.IsExpectedCloseError(err) {
		s.logger.Debug("host gone, dropping "+kind, "error", err)
		return
	}
	s.logger.Error("writing to host failed", "frame", kind, "error", err)
}

// writeFrame serializes frame writes and applies the write deadline.
func (s *Session) writeFrame(frame Frame, compression Compression) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if deadliner, ok := s.stream.(writeDeadliner); ok && s.options.WriteTimeout > 0 {
		// Pipes and terminals reject deadlines; frames are written
		// without one there.
		_ = deadliner.SetWriteDeadline(time.Now().Add(s.options.WriteTimeout))
	}
	return WriteFrame(s.stream, frame, compression, s.options.CompressionThreshold)
}

// Close closes the stream. Safe to call more than once.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.stream.Close()
}
