// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"errors"
	"io"
	"net"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sockbridge/lib/hexcodec"
	"github.com/bureau-foundation/sockbridge/lib/testutil"
	"github.com/bureau-foundation/sockbridge/sockets"
)

// managerCall records one SocketManager call.
type managerCall struct {
	method string
	handle int
	host   string
	port   int
	data   []byte
}

// fakeManager records calls. Hook functions, when set, run inside the
// corresponding method and may block or panic.
type fakeManager struct {
	mutex sync.Mutex
	calls []managerCall

	listenHook   func(handle int) error
	connectHook  func(handle int) error
	writeHook    func(handle int, data []byte)
	closeAllHook func() error

	closeAllCount int
}

func (f *fakeManager) record(call managerCall) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeManager) Listen(handle int, host string, port int) error {
	f.record(managerCall{method: "Listen", handle: handle, host: host, port: port})
	if f.listenHook != nil {
		return f.listenHook(handle)
	}
	return nil
}

func (f *fakeManager) Connect(handle int, host string, port int) error {
	f.record(managerCall{method: "Connect", handle: handle, host: host, port: port})
	if f.connectHook != nil {
		return f.connectHook(handle)
	}
	return nil
}

func (f *fakeManager) Write(handle int, data []byte) {
	f.record(managerCall{method: "Write", handle: handle, data: data})
	if f.writeHook != nil {
		f.writeHook(handle, data)
	}
}

func (f *fakeManager) Close(handle int) {
	f.record(managerCall{method: "Close", handle: handle})
}

func (f *fakeManager) CloseAll() error {
	f.mutex.Lock()
	f.closeAllCount++
	f.mutex.Unlock()
	if f.closeAllHook != nil {
		return f.closeAllHook()
	}
	return nil
}

func (f *fakeManager) snapshot() []managerCall {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return slices.Clone(f.calls)
}

// channelSink buffers published events.
type channelSink chan Event

func (c channelSink) Publish(event Event) {
	c <- event
}

func newTestBridge(t *testing.T, manager *fakeManager, encoding hexcodec.EventEncoding) (*Bridge, channelSink) {
	t.Helper()
	sink := make(channelSink, 64)
	bridge := New(Options{
		Sink:     sink,
		Encoding: encoding,
		NewManager: func(listener sockets.Listener) SocketManager {
			return manager
		},
	})
	return bridge, sink
}

func receiveEvent(t *testing.T, sink channelSink, description string) Event {
	t.Helper()
	return testutil.RequireReceive(t, sink, 5*time.Second, description)
}

func TestCommandsReachManager(t *testing.T) {
	manager := &fakeManager{}
	bridge, sink := newTestBridge(t, manager, hexcodec.EventHex)

	bridge.Listen(1, "0.0.0.0", 8080)
	bridge.Wait()
	bridge.Connect(2, "example.com", 443, map[string]any{"tls": true})
	bridge.Wait()
	bridge.End(1)
	bridge.Wait()
	bridge.Destroy(2)
	bridge.Wait()

	want := []managerCall{
		{method: "Listen", handle: 1, host: "0.0.0.0", port: 8080},
		{method: "Connect", handle: 2, host: "example.com", port: 443},
		{method: "Close", handle: 1},
		{method: "Close", handle: 2},
	}
	if got := manager.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("manager calls = %+v, want %+v", got, want)
	}
	testutil.RequireNoReceive(t, sink, 10*time.Millisecond, "successful commands emit nothing")
}

func TestCommandsReturnBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	manager := &fakeManager{
		connectHook: func(int) error {
			<-release
			return nil
		},
	}
	bridge, _ := newTestBridge(t, manager, hexcodec.EventHex)

	returned := make(chan struct{})
	go func() {
		bridge.Connect(1, "127.0.0.1", 9, nil)
		close(returned)
	}()
	testutil.RequireClosed(t, returned, 5*time.Second, "Connect should not wait for the manager")

	close(release)
	bridge.Wait()
}

func TestWriteDecodesHexAndAcks(t *testing.T) {
	tests := []struct {
		name string
		hex  string
		want []byte
	}{
		{name: "lowercase", hex: "48656c6c6f", want: []byte("Hello")},
		{name: "odd length", hex: "ABC", want: []byte{0x0A, 0xBC}},
		{name: "empty", hex: "", want: nil},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			acked := make(chan struct{})
			manager := &fakeManager{
				writeHook: func(int, []byte) {
					select {
					case <-acked:
						t.Error("ack ran before the manager write")
					default:
					}
				},
			}
			bridge, _ := newTestBridge(t, manager, hexcodec.EventHex)

			bridge.Write(3, test.hex, func() { close(acked) })
			testutil.RequireClosed(t, acked, 5*time.Second, "waiting for ack")
			bridge.Wait()

			calls := manager.snapshot()
			if len(calls) != 1 || calls[0].method != "Write" || calls[0].handle != 3 {
				t.Fatalf("manager calls = %+v, want one Write on handle 3", calls)
			}
			if !reflect.DeepEqual(calls[0].data, test.want) {
				t.Errorf("written bytes = %#v, want %#v", calls[0].data, test.want)
			}
		})
	}
}

func TestWriteWithoutAck(t *testing.T) {
	manager := &fakeManager{}
	bridge, _ := newTestBridge(t, manager, hexcodec.EventHex)

	bridge.Write(1, "00", nil)
	bridge.Wait()

	if calls := manager.snapshot(); len(calls) != 1 {
		t.Errorf("manager calls = %+v, want one Write", calls)
	}
}

func TestConcurrentWritesOnDifferentHandles(t *testing.T) {
	// The write on handle 1 cannot finish until the write on handle 2
	// has started, so the test only passes if the two run concurrently.
	secondStarted := make(chan struct{})
	var once sync.Once
	var mutex sync.Mutex
	received := map[int][]byte{}
	manager := &fakeManager{
		writeHook: func(handle int, data []byte) {
			if handle == 2 {
				once.Do(func() { close(secondStarted) })
			} else {
				<-secondStarted
			}
			mutex.Lock()
			received[handle] = append(received[handle], data...)
			mutex.Unlock()
		},
	}
	bridge, _ := newTestBridge(t, manager, hexcodec.EventHex)

	bridge.Write(1, "DEADBEEF", nil)
	bridge.Write(2, "CAFE", nil)
	bridge.Wait()

	if got := received[1]; !reflect.DeepEqual(got, []byte{0xDE, 0xAD, 0xBE, 0xEF}) {
		t.Errorf("handle 1 received %X", got)
	}
	if got := received[2]; !reflect.DeepEqual(got, []byte{0xCA, 0xFE}) {
		t.Errorf("handle 2 received %X", got)
	}
}

func TestCommandFailuresBecomeErrorEvents(t *testing.T) {
	tests := []struct {
		name    string
		hook    func(int) error
		command func(*Bridge)
		want    string
	}{
		{
			name:    "listen io failure",
			hook:    func(int) error { return errors.New("address already in use") },
			command: func(b *Bridge) { b.Listen(4, "127.0.0.1", 80) },
			want:    "address already in use",
		},
		{
			name: "connect resolution failure",
			hook: func(int) error {
				return &sockets.ResolveError{Host: "nowhere", Err: errors.New("no such host")}
			},
			command: func(b *Bridge) { b.Connect(4, "nowhere", 80, nil) },
			want:    `resolving "nowhere": no such host`,
		},
		{
			name:    "connect panic",
			hook:    func(int) error { panic("boom") },
			command: func(b *Bridge) { b.Connect(4, "127.0.0.1", 80, nil) },
			want:    "internal error: boom",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			manager := &fakeManager{listenHook: test.hook, connectHook: test.hook}
			bridge, sink := newTestBridge(t, manager, hexcodec.EventHex)

			test.command(bridge)
			event := receiveEvent(t, sink, "waiting for error event")
			want := Event{Name: EventError, Handle: 4, Body: ErrorBody{ID: 4, Error: test.want}}
			if !reflect.DeepEqual(event, want) {
				t.Errorf("event = %+v, want %+v", event, want)
			}
			bridge.Wait()
		})
	}
}

func TestOnConnection(t *testing.T) {
	bridge, sink := newTestBridge(t, &fakeManager{}, hexcodec.EventHex)

	bridge.OnConnection(1, 2, sockets.Endpoint{Address: "10.0.0.5", Port: 9000, Family: sockets.IPv4})

	want := Event{
		Name:   EventConnection,
		Handle: 1,
		Body: ConnectionBody{
			ID: 1,
			Info: ConnectionInfo{
				ID:      2,
				Address: sockets.Endpoint{Address: "10.0.0.5", Port: 9000, Family: "IPv4"},
			},
		},
	}
	if event := receiveEvent(t, sink, "connection"); !reflect.DeepEqual(event, want) {
		t.Errorf("event = %+v, want %+v", event, want)
	}
}

func TestOnConnect(t *testing.T) {
	bridge, sink := newTestBridge(t, &fakeManager{}, hexcodec.EventHex)

	endpoint := sockets.Endpoint{Address: "2001:db8::1", Port: 443, Family: sockets.IPv6}
	bridge.OnConnect(5, endpoint)

	want := Event{Name: EventConnect, Handle: 5, Body: ConnectBody{ID: 5, Address: endpoint}}
	if event := receiveEvent(t, sink, "connect"); !reflect.DeepEqual(event, want) {
		t.Errorf("event = %+v, want %+v", event, want)
	}
}

func TestOnData(t *testing.T) {
	tests := []struct {
		name     string
		encoding hexcodec.EventEncoding
		data     []byte
		want     *string
	}{
		{name: "gbk text", encoding: hexcodec.EventGBK, data: []byte{0xC4, 0xE3, 0xBA, 0xC3}, want: stringPointer("你好")},
		{name: "gbk ascii", encoding: hexcodec.EventGBK, data: []byte("ok"), want: stringPointer("ok")},
		{name: "hex", encoding: hexcodec.EventHex, data: []byte{0x00, 0xFF}, want: stringPointer("00FF")},
		{name: "empty is null", encoding: hexcodec.EventGBK, data: nil, want: nil},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			bridge, sink := newTestBridge(t, &fakeManager{}, test.encoding)

			bridge.OnData(8, test.data)
			event := receiveEvent(t, sink, "data")
			body, ok := event.Body.(DataBody)
			if event.Name != EventData || !ok || body.ID != 8 {
				t.Fatalf("event = %+v, want data on handle 8", event)
			}
			switch {
			case test.want == nil && body.Data != nil:
				t.Errorf("data = %q, want nil", *body.Data)
			case test.want != nil && body.Data == nil:
				t.Errorf("data = nil, want %q", *test.want)
			case test.want != nil && *body.Data != *test.want:
				t.Errorf("data = %q, want %q", *body.Data, *test.want)
			}
		})
	}
}

func TestOnClose(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		bridge, sink := newTestBridge(t, &fakeManager{}, hexcodec.EventHex)

		bridge.OnClose(3, stringPointer("boom"))

		first := receiveEvent(t, sink, "error event")
		second := receiveEvent(t, sink, "close event")
		wantFirst := Event{Name: EventError, Handle: 3, Body: ErrorBody{ID: 3, Error: "boom"}}
		wantSecond := Event{Name: EventClose, Handle: 3, Body: CloseBody{ID: 3, HadError: true}}
		if !reflect.DeepEqual(first, wantFirst) {
			t.Errorf("first event = %+v, want %+v", first, wantFirst)
		}
		if !reflect.DeepEqual(second, wantSecond) {
			t.Errorf("second event = %+v, want %+v", second, wantSecond)
		}
		testutil.RequireNoReceive(t, sink, 10*time.Millisecond, "exactly two events")
	})

	t.Run("clean", func(t *testing.T) {
		bridge, sink := newTestBridge(t, &fakeManager{}, hexcodec.EventHex)

		bridge.OnClose(3, nil)

		want := Event{Name: EventClose, Handle: 3, Body: CloseBody{ID: 3, HadError: false}}
		if event := receiveEvent(t, sink, "close event"); !reflect.DeepEqual(event, want) {
			t.Errorf("event = %+v, want %+v", event, want)
		}
		testutil.RequireNoReceive(t, sink, 10*time.Millisecond, "exactly one event")
	})
}

func TestOnError(t *testing.T) {
	bridge, sink := newTestBridge(t, &fakeManager{}, hexcodec.EventHex)

	bridge.OnError(6, "broken pipe")

	want := Event{Name: EventError, Handle: 6, Body: ErrorBody{ID: 6, Error: "broken pipe"}}
	if event := receiveEvent(t, sink, "error event"); !reflect.DeepEqual(event, want) {
		t.Errorf("event = %+v, want %+v", event, want)
	}
}

func TestShutdownSuppressesEventsAndCommands(t *testing.T) {
	manager := &fakeManager{}
	bridge, sink := newTestBridge(t, manager, hexcodec.EventHex)

	bridge.Shutdown()
	if !bridge.ShuttingDown() {
		t.Fatal("ShuttingDown() = false after Shutdown")
	}

	bridge.OnConnection(1, 2, sockets.Endpoint{})
	bridge.OnConnect(1, sockets.Endpoint{})
	bridge.OnData(1, []byte("late"))
	bridge.OnClose(1, stringPointer("late"))
	bridge.OnError(1, "late")
	testutil.RequireNoReceive(t, sink, 10*time.Millisecond, "callbacks after shutdown")

	bridge.Listen(1, "127.0.0.1", 0)
	bridge.Connect(2, "127.0.0.1", 0, nil)
	bridge.Write(2, "00", func() { t.Error("ack after shutdown") })
	bridge.End(2)
	bridge.Wait()
	if calls := manager.snapshot(); len(calls) != 0 {
		t.Errorf("manager calls after shutdown = %+v, want none", calls)
	}
}

func TestShutdownWaitsForInFlightPublish(t *testing.T) {
	entered := make(chan Event, 4)
	release := make(chan struct{})
	published := make(chan Event, 4)
	sink := SinkFunc(func(event Event) {
		entered <- event
		if event.Name == EventError {
			<-release
		}
		published <- event
	})
	bridge := New(Options{
		Sink:       sink,
		NewManager: func(sockets.Listener) SocketManager { return &fakeManager{} },
	})

	go bridge.OnClose(9, stringPointer("reset"))
	testutil.RequireReceive(t, entered, 5*time.Second, "error event entering sink")

	shutdownDone := make(chan struct{})
	go func() {
		bridge.Shutdown()
		close(shutdownDone)
	}()
	testutil.RequireNoReceive(t, shutdownDone, 20*time.Millisecond, "Shutdown must wait for the publish in progress")

	close(release)
	testutil.RequireReceive(t, entered, 5*time.Second, "close event entering sink")
	testutil.RequireClosed(t, shutdownDone, 5*time.Second, "Shutdown returning")

	// The error/close pair was already in progress, so both went out.
	first := testutil.RequireReceive(t, published, 5*time.Second, "error published")
	second := testutil.RequireReceive(t, published, 5*time.Second, "close published")
	if first.Name != EventError || second.Name != EventClose {
		t.Errorf("published %s then %s, want error then close", first.Name, second.Name)
	}

	bridge.OnData(9, []byte("after"))
	testutil.RequireNoReceive(t, entered, 10*time.Millisecond, "callback after shutdown")
}

func TestShutdownBlocksUntilSocketsClosed(t *testing.T) {
	release := make(chan struct{})
	manager := &fakeManager{
		closeAllHook: func() error {
			<-release
			return nil
		},
	}
	bridge, _ := newTestBridge(t, manager, hexcodec.EventHex)

	done := make(chan struct{})
	go func() {
		bridge.Shutdown()
		close(done)
	}()
	testutil.RequireNoReceive(t, done, 20*time.Millisecond, "Shutdown returned before CloseAll")

	close(release)
	testutil.RequireClosed(t, done, 5*time.Second, "Shutdown returning after CloseAll")
}

func TestShutdownIdempotent(t *testing.T) {
	manager := &fakeManager{}
	bridge, _ := newTestBridge(t, manager, hexcodec.EventHex)

	bridge.Shutdown()
	bridge.Shutdown()

	if manager.closeAllCount != 1 {
		t.Errorf("CloseAll called %d times, want 1", manager.closeAllCount)
	}
}

func TestShutdownSwallowsFailures(t *testing.T) {
	tests := map[string]func() error{
		"error": func() error { return errors.New("close failed") },
		"panic": func() error { panic("close exploded") },
	}
	for name, hook := range tests {
		t.Run(name, func(t *testing.T) {
			bridge, _ := newTestBridge(t, &fakeManager{closeAllHook: hook}, hexcodec.EventHex)
			done := make(chan struct{})
			go func() {
				bridge.Shutdown()
				close(done)
			}()
			testutil.RequireClosed(t, done, 5*time.Second, "Shutdown returning")
		})
	}
}

func TestBridgeWithSocketManager(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	go func() {
		connection, acceptError := listener.Accept()
		if acceptError != nil {
			return
		}
		defer connection.Close()
		io.Copy(connection, connection)
	}()

	sink := make(channelSink, 64)
	bridge := New(Options{
		Sink:           sink,
		Encoding:       hexcodec.EventHex,
		ManagerOptions: sockets.Options{ConnectTimeout: 5 * time.Second},
	})
	t.Cleanup(bridge.Shutdown)

	port := listener.Addr().(*net.TCPAddr).Port
	bridge.Connect(1, "127.0.0.1", port, nil)

	connect := receiveEvent(t, sink, "connect event")
	wantConnect := Event{
		Name:   EventConnect,
		Handle: 1,
		Body:   ConnectBody{ID: 1, Address: sockets.Endpoint{Address: "127.0.0.1", Port: port, Family: sockets.IPv4}},
	}
	if !reflect.DeepEqual(connect, wantConnect) {
		t.Fatalf("event = %+v, want %+v", connect, wantConnect)
	}

	acked := make(chan struct{})
	bridge.Write(1, "C0FFEE", func() { close(acked) })
	testutil.RequireClosed(t, acked, 5*time.Second, "write ack")

	var echoed string
	for len(echoed) < len("C0FFEE") {
		event := receiveEvent(t, sink, "data event")
		body, ok := event.Body.(DataBody)
		if !ok || body.Data == nil {
			t.Fatalf("event = %+v, want data", event)
		}
		echoed += *body.Data
	}
	if echoed != "C0FFEE" {
		t.Errorf("echoed %q, want C0FFEE", echoed)
	}

	bridge.End(1)
	closeEvent := receiveEvent(t, sink, "close event")
	wantClose := Event{Name: EventClose, Handle: 1, Body: CloseBody{ID: 1}}
	if !reflect.DeepEqual(closeEvent, wantClose) {
		t.Errorf("event = %+v, want %+v", closeEvent, wantClose)
	}
}

func stringPointer(s string) *string {
	return &s
}
