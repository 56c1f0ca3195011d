// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sockets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/sockbridge/lib/netutil"
)

// Listener receives socket lifecycle callbacks from a [Manager].
// Callbacks run on socket goroutines and must not block for long: a
// slow callback stalls reads on that socket.
type Listener interface {
	// OnConnection reports a client accepted on serverHandle. The
	// client's socket is already registered under clientHandle.
	OnConnection(serverHandle, clientHandle int, remote Endpoint)

	// OnConnect reports an established outbound connection.
	OnConnect(handle int, remote Endpoint)

	// OnData delivers bytes read from a socket. The slice is owned by
	// the callee.
	OnData(handle int, data []byte)

	// OnClose reports that the socket is gone. errMessage is nil for a
	// clean close.
	OnClose(handle int, errMessage *string)

	// OnError reports a failure that does not by itself close the
	// socket.
	OnError(handle int, message string)
}

// Options configures a Manager. Zero values select the defaults noted
// on each field.
type Options struct {
	// ConnectTimeout bounds Connect. Zero leaves only the operating
	// system's timeout.
	ConnectTimeout time.Duration

	// KeepAlive is the TCP keep-alive period for outbound connections.
	// Zero selects the net package default; negative disables it.
	KeepAlive time.Duration

	// ReadBufferSize is the per-socket read buffer. Default 64 KiB.
	ReadBufferSize int

	// ClientHandleBase is the first handle assigned to accepted
	// connections. Default 10000.
	ClientHandleBase int

	// ReusePort sets SO_REUSEPORT on listening sockets.
	ReusePort bool

	// Resolver resolves host names. Default net.DefaultResolver.
	Resolver *net.Resolver
}

const (
	defaultReadBufferSize   = 64 * 1024
	defaultClientHandleBase = 10000
)

// Manager owns the handle table and the sockets in it.
type Manager struct {
	listener Listener
	options  Options
	logger   *slog.Logger

	mutex      sync.Mutex
	sockets    map[int]*socket
	nextClient int
	closing    bool

	// active counts socket goroutines and in-flight Listen/Connect
	// calls. Add is only called under mutex while closing is false.
	active sync.WaitGroup
}

// socket is one entry in the handle table. conn and server are nil
// while Listen or Connect is still resolving, binding, or dialing.
type socket struct {
	handle int
	conn   net.Conn
	server net.Listener
	cancel context.CancelFunc

	// closed is set before the manager closes the socket, so the
	// socket goroutine can tell its own teardown from a failure.
	closed atomic.Bool

	writeMutex sync.Mutex
}

// NewManager creates a Manager reporting to listener. A nil logger
// uses slog.Default().
func NewManager(listener Listener, options Options, logger *slog.Logger) *Manager {
	if options.ReadBufferSize <= 0 {
		options.ReadBufferSize = defaultReadBufferSize
	}
	if options.ClientHandleBase <= 0 {
		options.ClientHandleBase = defaultClientHandleBase
	}
	if options.Resolver == nil {
		options.Resolver = net.DefaultResolver
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		listener:   listener,
		options:    options,
		logger:     logger,
		sockets:    make(map[int]*socket),
		nextClient: options.ClientHandleBase,
	}
}

// Listen binds a listening socket on host:port under handle and starts
// accepting. It returns once the socket is bound. Accepted clients are
// reported through OnConnection; when the listening socket closes,
// OnClose fires for handle.
func (m *Manager) Listen(handle int, host string, port int) error {
	entry, ctx, err := m.reserve(handle)
	if err != nil {
		return err
	}
	defer m.active.Done()
	defer entry.cancel()

	address, err := m.resolve(ctx, host, port)
	if err != nil {
		m.release(entry)
		return err
	}

	listenConfig := net.ListenConfig{}
	if m.options.ReusePort {
		listenConfig.Control = reusePortControl
	}
	server, err := listenConfig.Listen(ctx, "tcp", address.String())
	if err != nil {
		m.release(entry)
		if entry.closed.Load() {
			m.logger.Debug("listen abandoned", "handle", handle, "error", err)
			return nil
		}
		return fmt.Errorf("listening on %s: %w", address, err)
	}

	if !m.attach(entry, func() { entry.server = server }) {
		server.Close()
		m.logger.Debug("listen abandoned after bind", "handle", handle)
		return nil
	}

	m.logger.Info("listening",
		"handle", handle,
		"local_addr", server.Addr().String(),
	)
	go m.acceptLoop(entry)
	return nil
}

// Connect dials host:port under handle. On success the socket is
// registered, OnConnect fires, and reads begin.
func (m *Manager) Connect(handle int, host string, port int) error {
	entry, ctx, err := m.reserve(handle)
	if err != nil {
		return err
	}
	defer m.active.Done()
	defer entry.cancel()

	address, err := m.resolve(ctx, host, port)
	if err != nil {
		m.release(entry)
		return err
	}

	if m.options.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.options.ConnectTimeout)
		defer cancel()
	}
	dialer := net.Dialer{KeepAlive: m.options.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", address.String())
	if err != nil {
		m.release(entry)
		if entry.closed.Load() {
			m.logger.Debug("connect abandoned", "handle", handle, "error", err)
			return nil
		}
		return fmt.Errorf("connecting to %s: %w", address, err)
	}

	if !m.attach(entry, func() { entry.conn = conn }) {
		conn.Close()
		m.logger.Debug("connect abandoned after dial", "handle", handle)
		return nil
	}

	remote := EndpointFromAddr(conn.RemoteAddr())
	m.logger.Debug("connected",
		"handle", handle,
		"remote_addr", conn.RemoteAddr().String(),
	)
	m.listener.OnConnect(handle, remote)
	go m.readLoop(entry)
	return nil
}

// Write sends data on handle. Unknown handles and listening sockets
// are ignored. A failed write is reported through OnError.
func (m *Manager) Write(handle int, data []byte) {
	if len(data) == 0 {
		return
	}

	m.mutex.Lock()
	entry := m.sockets[handle]
	var conn net.Conn
	if entry != nil {
		conn = entry.conn
	}
	m.mutex.Unlock()

	if conn == nil {
		m.logger.Debug("write to unknown or non-stream handle ignored",
			"handle", handle,
			"bytes", len(data),
		)
		return
	}

	entry.writeMutex.Lock()
	_, err := conn.Write(data)
	entry.writeMutex.Unlock()
	if err == nil {
		return
	}

	if entry.closed.Load() && netutil.IsLocalCloseError(err) {
		m.logger.Debug("write raced with close", "handle", handle)
		return
	}
	if netutil.IsExpectedCloseError(err) {
		m.logger.Debug("write to closed peer", "handle", handle, "error", err)
	} else {
		m.logger.Error("write failed", "handle", handle, "error", err)
	}
	m.listener.OnError(handle, err.Error())
}

// Close closes the socket under handle. The socket goroutine reports
// OnClose(handle, nil). Unknown handles are ignored. A pending Listen
// or Connect on handle is abandoned.
func (m *Manager) Close(handle int) {
	m.mutex.Lock()
	entry := m.sockets[handle]
	if entry != nil {
		delete(m.sockets, handle)
		entry.closed.Store(true)
	}
	m.mutex.Unlock()

	if entry == nil {
		m.logger.Debug("close of unknown handle ignored", "handle", handle)
		return
	}
	if err := entry.closeResources(); err != nil && !netutil.IsLocalCloseError(err) {
		m.logger.Debug("close failed", "handle", handle, "error", err)
	}
}

// CloseAll closes every socket, abandons pending Listen and Connect
// calls, and waits for every socket goroutine to exit. Later Listen and
// Connect calls fail with ErrManagerClosed. The returned error joins
// any close failures.
func (m *Manager) CloseAll() error {
	m.mutex.Lock()
	m.closing = true
	entries := make([]*socket, 0, len(m.sockets))
	for _, entry := range m.sockets {
		entry.closed.Store(true)
		entries = append(entries, entry)
	}
	clear(m.sockets)
	m.mutex.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := entry.closeResources(); err != nil && !netutil.IsLocalCloseError(err) {
			errs = append(errs, fmt.Errorf("closing handle %d: %w", entry.handle, err))
		}
	}

	m.active.Wait()
	m.logger.Info("all sockets closed", "count", len(entries))
	return errors.Join(errs...)
}

// LocalAddr returns the local address of the socket under handle, or
// nil if the handle is unknown or still pending.
func (m *Manager) LocalAddr(handle int) net.Addr {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	entry := m.sockets[handle]
	switch {
	case entry == nil:
		return nil
	case entry.server != nil:
		return entry.server.Addr()
	case entry.conn != nil:
		return entry.conn.LocalAddr()
	}
	return nil
}

// reserve claims handle for a Listen or Connect in progress and
// registers the call with active. The returned context is cancelled
// when the socket is closed before it is attached.
func (m *Manager) reserve(handle int) (*socket, context.Context, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closing {
		return nil, nil, ErrManagerClosed
	}
	if _, exists := m.sockets[handle]; exists {
		return nil, nil, fmt.Errorf("handle %d: %w", handle, ErrHandleInUse)
	}

	ctx, cancel := context.WithCancel(context.Background())
	entry := &socket{handle: handle, cancel: cancel}
	m.sockets[handle] = entry
	m.active.Add(1)
	return entry, ctx, nil
}

// attach installs the opened resource on a reserved entry and adds the
// entry's goroutine to active. It returns false if the entry was
// closed while pending.
func (m *Manager) attach(entry *socket, install func()) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if entry.closed.Load() || m.closing {
		return false
	}
	install()
	m.active.Add(1)
	return true
}

// release removes entry from the table if it is still the socket
// registered under its handle.
func (m *Manager) release(entry *socket) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.sockets[entry.handle] == entry {
		delete(m.sockets, entry.handle)
	}
}

// registerAccepted assigns the next free client handle to conn. It
// returns nil once CloseAll has started.
func (m *Manager) registerAccepted(conn net.Conn) *socket {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closing {
		return nil
	}
	for {
		if _, exists := m.sockets[m.nextClient]; !exists {
			break
		}
		m.nextClient++
	}
	entry := &socket{handle: m.nextClient, conn: conn}
	m.nextClient++
	m.sockets[entry.handle] = entry
	m.active.Add(1)
	return entry
}

// resolve turns host and port into a TCP address. An empty host binds
// or dials the unspecified address.
func (m *Manager) resolve(ctx context.Context, host string, port int) (*net.TCPAddr, error) {
	if port < 0 || port > 65535 {
		return nil, fmt.Errorf("port %d out of range", port)
	}
	if host == "" {
		return &net.TCPAddr{Port: port}, nil
	}
	if ip, zone, ok := parseIP(host); ok {
		return &net.TCPAddr{IP: ip, Zone: zone, Port: port}, nil
	}

	addresses, err := m.options.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, &ResolveError{Host: host, Err: err}
	}
	if len(addresses) == 0 {
		return nil, &ResolveError{Host: host, Err: errors.New("no addresses")}
	}
	return &net.TCPAddr{IP: addresses[0].IP, Zone: addresses[0].Zone, Port: port}, nil
}

func parseIP(host string) (net.IP, string, bool) {
	address, zone, _ := cutZone(host)
	ip := net.ParseIP(address)
	if ip == nil {
		return nil, "", false
	}
	return ip, zone, true
}

func cutZone(host string) (string, string, bool) {
	for i := len(host) - 1; i >= 0; i-- {
		if host[i] == '%' {
			return host[:i], host[i+1:], true
		}
	}
	return host, "", false
}

func (m *Manager) acceptLoop(server *socket) {
	defer m.active.Done()

	logger := m.logger.With("handle", server.handle)
	for {
		conn, err := server.server.Accept()
		if err != nil {
			var message *string
			if !server.closed.Load() && !netutil.IsLocalCloseError(err) {
				logger.Error("accept failed", "error", err)
				text := err.Error()
				message = &text
			}
			server.server.Close()
			m.release(server)
			logger.Info("listener closed")
			m.listener.OnClose(server.handle, message)
			return
		}

		client := m.registerAccepted(conn)
		if client == nil {
			conn.Close()
			continue
		}

		logger.Debug("connection accepted",
			"client_handle", client.handle,
			"remote_addr", conn.RemoteAddr().String(),
		)
		m.listener.OnConnection(server.handle, client.handle, EndpointFromAddr(conn.RemoteAddr()))
		go m.readLoop(client)
	}
}

func (m *Manager) readLoop(entry *socket) {
	defer m.active.Done()

	buffer := make([]byte, m.options.ReadBufferSize)
	for {
		count, err := entry.conn.Read(buffer)
		if count > 0 {
			m.listener.OnData(entry.handle, bytes.Clone(buffer[:count]))
		}
		if err == nil {
			continue
		}

		entry.conn.Close()
		m.release(entry)

		var message *string
		if !errors.Is(err, io.EOF) && !entry.closed.Load() && !netutil.IsLocalCloseError(err) {
			text := err.Error()
			message = &text
			m.logger.Debug("socket failed", "handle", entry.handle, "error", err)
		} else {
			m.logger.Debug("socket closed", "handle", entry.handle)
		}
		m.listener.OnClose(entry.handle, message)
		return
	}
}

// closeResources closes whatever the socket holds. For a pending
// socket this cancels the resolve, bind, or dial in progress.
func (s *socket) closeResources() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		return s.server.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
