package netloop

import (
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ikilobyte/netloop/eventloop"
	"github.com/ikilobyte/netloop/iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) *eventloop.EventLoop {
	t.Helper()
	loop, err := eventloop.New()
	require.NoError(t, err)

	go func() {
		_ = loop.Run()
	}()
	require.Eventually(t, loop.IsRunning, time.Second, time.Millisecond)

	t.Cleanup(func() {
		loop.Stop()
		<-loop.Done()
	})
	return loop
}

//recorder 记录IHooks的回调
type recorder struct {
	opened   chan iface.IConnect
	closed   chan iface.IConnect
	failed   chan string
	messages chan string
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan iface.IConnect, 16),
		closed:   make(chan iface.IConnect, 16),
		failed:   make(chan string, 16),
		messages: make(chan string, 1024),
	}
}

func (r *recorder) OnOpen(connect iface.IConnect) {
	r.opened <- connect
}

func (r *recorder) OnMessage(_ iface.IConnect, data []byte) {
	r.messages <- string(data)
}

func (r *recorder) OnClose(connect iface.IConnect) {
	r.closed <- connect
}

func (r *recorder) OnConnectFailed(remoteAddr string) {
	r.failed <- remoteAddr
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("wait timeout")
	}
	var zero T
	return zero
}

//testServer 按 长度+数据 的格式原样返回，心跳包作为回包返回
type testServer struct {
	ln      net.Listener
	accepts atomic.Int32
	conns   chan net.Conn
	wg      sync.WaitGroup
}

func newTestServer(t *testing.T, echo bool) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{ln: ln, conns: make(chan net.Conn, 16)}
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			s.accepts.Add(1)
			s.conns <- conn
			if echo {
				s.wg.Add(1)
				go func() {
					defer s.wg.Done()
					echoFrames(conn)
				}()
			}
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		<-acceptDone
		close(s.conns)
		for conn := range s.conns {
			_ = conn.Close()
		}
		s.wg.Wait()
	})
	return s
}

func (s *testServer) Addr() string {
	return s.ln.Addr().String()
}

func echoFrames(conn net.Conn) {
	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header)
		if size == 0 {
			// 心跳包后面还有12个字节
			size = 12
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		if _, err := conn.Write(append(header, body...)); err != nil {
			return
		}
	}
}

func TestClientEcho(t *testing.T) {
	loop := startLoop(t)
	server := newTestServer(t, true)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(0))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.Name(), "netloop-"))
	assert.False(t, c.IsConnected())
	assert.Equal(t, int64(-1), c.RTT())
	assert.False(t, c.Send([]byte("not connected")))

	c.Connect()
	conn := waitFor(t, hooks.opened)
	assert.Equal(t, server.Addr(), conn.RemoteAddr())
	assert.True(t, c.IsConnected())

	for _, msg := range []string{"hello", "world", "netloop"} {
		require.True(t, c.Send([]byte(msg)))
	}
	assert.Equal(t, "hello", waitFor(t, hooks.messages))
	assert.Equal(t, "world", waitFor(t, hooks.messages))
	assert.Equal(t, "netloop", waitFor(t, hooks.messages))

	c.Disconnect()
	waitFor(t, hooks.closed)
	assert.False(t, c.IsConnected())
}

func TestClientSendInvalidSize(t *testing.T) {
	loop := startLoop(t)
	server := newTestServer(t, true)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(0), WithFrameLimits(5, 64))
	require.NoError(t, err)
	c.Connect()
	waitFor(t, hooks.opened)

	assert.False(t, c.Send(nil))
	assert.False(t, c.Send(make([]byte, 61)))
	assert.True(t, c.Send(make([]byte, 60)))
	assert.Len(t, waitFor(t, hooks.messages), 60)
}

func TestClientReconnectAfterClose(t *testing.T) {
	loop := startLoop(t)
	server := newTestServer(t, true)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(0), WithReconnectInterval(50*time.Millisecond))
	require.NoError(t, err)
	c.Connect()

	first := waitFor(t, hooks.opened)

	// 服务端主动断开
	peer := waitFor(t, server.conns)
	require.NoError(t, peer.Close())

	closed := waitFor(t, hooks.closed)
	assert.Equal(t, first.ID(), closed.ID())

	second := waitFor(t, hooks.opened)
	assert.NotEqual(t, first.ID(), second.ID())
	require.Eventually(t, func() bool {
		return server.accepts.Load() == 2
	}, time.Second, 5*time.Millisecond)

	require.True(t, c.Send([]byte("again")))
	assert.Equal(t, "again", waitFor(t, hooks.messages))
	c.Disconnect()
}

func TestClientDisconnectStopsReconnect(t *testing.T) {
	loop := startLoop(t)
	server := newTestServer(t, true)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(0), WithReconnectInterval(20*time.Millisecond))
	require.NoError(t, err)
	c.Connect()
	waitFor(t, hooks.opened)

	c.Disconnect()
	waitFor(t, hooks.closed)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), server.accepts.Load())
	assert.False(t, c.IsConnected())
}

func TestClientConnectWhileConnected(t *testing.T) {
	loop := startLoop(t)
	server := newTestServer(t, true)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(0))
	require.NoError(t, err)
	c.Connect()
	first := waitFor(t, hooks.opened)

	// 已经连接时再次Connect不会建立第二个连接
	c.Connect()
	c.Connect()
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(1), server.accepts.Load())
	assert.Len(t, hooks.opened, 0)
	require.NotNil(t, c.Connection())
	assert.Equal(t, first.ID(), c.Connection().ID())
	assert.True(t, first.IsConnected())

	require.True(t, c.Send([]byte("single")))
	assert.Equal(t, "single", waitFor(t, hooks.messages))

	c.Disconnect()
	waitFor(t, hooks.closed)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), server.accepts.Load())
}

func TestClientConnectFailed(t *testing.T) {
	loop := startLoop(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	hooks := newRecorder()
	c, err := NewClient(loop, addr, hooks, WithAutoReconnect(false))
	require.NoError(t, err)
	c.Connect()

	assert.Equal(t, addr, waitFor(t, hooks.failed))
	assert.False(t, c.IsConnected())
}

func TestClientInvalidAddress(t *testing.T) {
	loop := startLoop(t)

	_, err := NewClient(loop, "127.0.0.1", nil)
	assert.Error(t, err)

	_, err = NewClient(nil, "127.0.0.1:80", nil)
	assert.Error(t, err)
}

func TestClientQueueOverflow(t *testing.T) {
	loop := startLoop(t)

	// 服务端不读，socket缓冲区写满之后消息留在队列中
	server := newTestServer(t, false)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(0), WithMaxQueueSize(3))
	require.NoError(t, err)
	c.Connect()
	waitFor(t, hooks.opened)

	payload := make([]byte, 1400)
	for i := 0; i < 100000 && c.Dropped() == 0; i++ {
		require.True(t, c.Send(payload))
	}

	assert.Greater(t, c.Dropped(), int64(0))
	assert.LessOrEqual(t, c.QueueLen(), 3)
	assert.True(t, c.IsConnected())
	c.Disconnect()
}

func TestClientHeartbeat(t *testing.T) {
	loop := startLoop(t)
	server := newTestServer(t, true)
	hooks := newRecorder()

	c, err := NewClient(loop, server.Addr(), hooks, WithHeartbeatInterval(20*time.Millisecond))
	require.NoError(t, err)
	c.Connect()
	waitFor(t, hooks.opened)

	// 收到回包之后才会有输入
	require.Eventually(t, func() bool {
		conn := c.Connection()
		return conn != nil && conn.InputBytes() >= 16
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, c.RTT(), int64(0))

	// 心跳不会作为消息回调给上层
	select {
	case msg := <-hooks.messages:
		t.Fatalf("unexpected message %q", msg)
	default:
	}
	c.Disconnect()
}
