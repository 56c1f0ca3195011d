// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sockbridge/lib/clock"
)

// errStdoutStalled is returned once a write to stdout has outlived the
// write timeout. The stream stays failed: the stalled write may still
// complete later, so nothing else may be written after it.
var errStdoutStalled = errors.New("host stopped reading stdout")

// stdioStream joins the daemon's stdin and stdout into one host link.
//
// Inherited stdio descriptors do not support write deadlines, so each
// write runs on its own goroutine and is abandoned after writeTimeout,
// so a host that stops reading cannot hold up event publication or
// bridge shutdown.
type stdioStream struct {
	reader       io.Reader
	writer       io.Writer
	closers      []io.Closer
	writeTimeout time.Duration
	clock        clock.Clock
	stalled      atomic.Bool
}

// newStdioStream joins in and out. A writeTimeout of zero disables the
// timeout.
func newStdioStream(in io.ReadCloser, out io.WriteCloser, writeTimeout time.Duration) *stdioStream {
	return &stdioStream{
		reader:       in,
		writer:       out,
		closers:      []io.Closer{in, out},
		writeTimeout: writeTimeout,
		clock:        clock.Real(),
	}
}

func (s *stdioStream) Read(p []byte) (int, error) {
	return s.reader.Read(p)
}

func (s *stdioStream) Write(p []byte) (int, error) {
	if s.stalled.Load() {
		return 0, errStdoutStalled
	}
	if s.writeTimeout <= 0 {
		return s.writer.Write(p)
	}

	type result struct {
		written int
		err     error
	}
	done := make(chan result, 1)
	buffer := slices.Clone(p)
	go func() {
		written, err := s.writer.Write(buffer)
		done <- result{written, err}
	}()

	expired := make(chan struct{})
	timer := s.clock.AfterFunc(s.writeTimeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case r := <-done:
		return r.written, r.err
	case <-expired:
		s.stalled.Store(true)
		return 0, fmt.Errorf("writing %d bytes after %s: %w", len(p), s.writeTimeout, errStdoutStalled)
	}
}

// Close closes both halves.
func (s *stdioStream) Close() error {
	var errs []error
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
