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
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sockbridge/bridge"
)

// NewCommanderFunc builds the commander for a session, given the
// session as the sink for its events.
type NewCommanderFunc func(sink bridge.Sink) Commander

// RunSession performs the handshake on stream, then serves commands
// until the host tears the session down, disconnects, or ctx is
// cancelled. The stream is closed on return.
func RunSession(ctx context.Context, stream io.ReadWriteCloser, options SessionOptions, newCommander NewCommanderFunc) error {
	session := NewSession(stream, options)
	defer session.Close()

	if err := session.Handshake(); err != nil {
		return fmt.Errorf("host handshake: %w", err)
	}
	return session.Serve(ctx, newCommander(session))
}

// Server accepts host connections on a Unix socket and serves exactly
// one host session. While that session is active, further connections
// are refused with ErrSessionActive.
type Server struct {
	socketPath string
	options    SessionOptions
	logger     *slog.Logger

	ready     chan struct{}
	readyOnce sync.Once
}

// NewServer creates a server that will listen on socketPath.
func NewServer(socketPath string, options SessionOptions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if options.Logger == nil {
		options.Logger = logger
	}
	return &Server{
		socketPath: socketPath,
		options:    options,
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once the socket is listening.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// refusalTimeout bounds how long a refused connection may take to send
// its hello.
const refusalTimeout = 5 * time.Second

// Serve listens on the socket path, waits for a host, and runs its
// session. Connections that fail the handshake do not count; Serve
// keeps waiting. It returns when the first established session ends or
// when ctx is cancelled before one is established.
//
// Any existing socket file at the path is removed before listening.
// The socket file is removed on return.
func (s *Server) Serve(ctx context.Context, newCommander NewCommanderFunc) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("host link listening", "path", s.socketPath)
	s.readyOnce.Do(func() { close(s.ready) })

	var sessionActive atomic.Bool
	var sessions, refusals sync.WaitGroup
	var sessionErr error
	defer refusals.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		if !sessionActive.CompareAndSwap(false, true) {
			refusals.Add(1)
			go func() {
				defer refusals.Done()
				s.refuse(conn)
			}()
			continue
		}

		sessions.Add(1)
		go func() {
			defer sessions.Done()
			session := NewSession(conn, s.options)
			defer session.Close()

			stopHandshake := context.AfterFunc(ctx, func() { session.Close() })
			err := session.Handshake()
			stopHandshake()
			if err != nil {
				s.logger.Warn("host handshake failed", "error", err)
				sessionActive.Store(false)
				return
			}

			sessionErr = session.Serve(ctx, newCommander(session))
			s.logger.Info("host session ended", "session", session.ID(), "error", sessionErr)
			// One session per server: stop accepting.
			listener.Close()
		}()
	}

	sessions.Wait()
	return sessionErr
}

// refuse tells a second host that a session is already active.
func (s *Server) refuse(conn net.Conn) {
	defer conn.Close()
	s.logger.Warn("refusing host connection, session already active")

	conn.SetDeadline(time.Now().Add(refusalTimeout))
	if _, err := ReadFrame(conn); err != nil {
		s.logger.Debug("refused connection sent no hello", "error", err)
	}
	frame, err := encodeFrame(FrameHello, Hello{
		Version: ProtocolVersion,
		Reason:  reasonSessionActive,
		Error:   ErrSessionActive.Error(),
	})
	if err != nil {
		return
	}
	if err := WriteFrame(conn, frame, CompressionNone, 0); err != nil {
		s.logger.Debug("sending refusal failed", "error", err)
	}
}
