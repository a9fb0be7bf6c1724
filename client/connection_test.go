package client

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ikilobyte/netloop/common"
	"github.com/ikilobyte/netloop/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recorder struct {
	sync.Mutex
	messages   [][]byte
	remaining  [][]byte
	connStates []common.ConnStatus
	closed     int
	writeReady int
}

func (r *recorder) attach(conn *Connection) {
	conn.SetMessageCallback(func(conn *Connection, data []byte) {
		r.Lock()
		defer r.Unlock()
		r.messages = append(r.messages, data)
	})
	conn.SetConnectionCallback(func(conn *Connection) {
		r.Lock()
		defer r.Unlock()
		r.connStates = append(r.connStates, conn.Status())
	})
	conn.SetWriteCompleteCallback(func(conn *Connection, remaining []byte) {
		r.Lock()
		defer r.Unlock()
		r.remaining = append(r.remaining, remaining)
	})
	conn.SetCloseCallback(func(conn *Connection) {
		r.Lock()
		defer r.Unlock()
		r.closed++
	})
}

func (r *recorder) messageCount() int {
	r.Lock()
	defer r.Unlock()
	return len(r.messages)
}

func (r *recorder) closedCount() int {
	r.Lock()
	defer r.Unlock()
	return r.closed
}

func newTestConnection(t *testing.T, opts ...ConnectionOption) (*Connection, *recorder, int) {
	t.Helper()
	loop := startLoop(t)
	fds := socketPair(t)

	opts = append([]ConnectionOption{WithHeartbeat(0)}, opts...)
	conn := NewConnection(loop, "test", fds[0], "local", "remote", 1, opts...)
	rec := &recorder{}
	rec.attach(conn)
	return conn, rec, fds[1]
}

func TestConnectionAttach(t *testing.T) {
	conn, rec, _ := newTestConnection(t)

	assert.Equal(t, common.ConnConnecting, conn.Status())
	assert.False(t, conn.Send([]byte("x")))

	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	runSync(t, conn.Loop(), func() {})
	rec.Lock()
	assert.Equal(t, []common.ConnStatus{common.ConnConnected}, rec.connStates)
	rec.Unlock()

	assert.Equal(t, "test", conn.Name())
	assert.Equal(t, uint64(1), conn.ID())
	assert.Equal(t, "local->remote", conn.AddrString())
	assert.Equal(t, common.Outgoing, conn.Type())
}

func TestConnectionFramingAcrossReads(t *testing.T) {
	conn, rec, peer := newTestConnection(t)
	conn.Attach()

	head := make([]byte, 4)
	binary.BigEndian.PutUint32(head, 10)
	payload := []byte("abcdefghij")

	_, err := unix.Write(peer, append(head, payload[:3]...))
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.messageCount())

	_, err = unix.Write(peer, payload[3:])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.messageCount() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	rec.Lock()
	require.Len(t, rec.messages, 1)
	assert.Equal(t, payload, rec.messages[0])
	rec.Unlock()
	assert.Equal(t, int64(14), conn.InputBytes())
}

func TestConnectionMultipleFramesOneRead(t *testing.T) {
	conn, rec, peer := newTestConnection(t)
	conn.Attach()

	packer := util.NewDataPacker(util.DefaultMinFrameSize, util.DefaultMaxFrameSize)
	var stream []byte
	for _, msg := range []string{"one", "two", "three"} {
		bs, err := packer.Pack([]byte(msg))
		require.NoError(t, err)
		stream = append(stream, bs...)
	}
	_, err := unix.Write(peer, stream)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.messageCount() == 3
	}, time.Second, time.Millisecond)

	rec.Lock()
	assert.Equal(t, []byte("one"), rec.messages[0])
	assert.Equal(t, []byte("two"), rec.messages[1])
	assert.Equal(t, []byte("three"), rec.messages[2])
	rec.Unlock()
}

func TestConnectionSend(t *testing.T) {
	conn, rec, peer := newTestConnection(t)
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	require.True(t, conn.Send([]byte("hello")))
	assert.Equal(t, []byte("hello"), readFull(t, peer, 5))

	runSync(t, conn.Loop(), func() {})
	rec.Lock()
	require.Len(t, rec.remaining, 1)
	assert.Empty(t, rec.remaining[0])
	rec.Unlock()
	assert.Equal(t, int64(5), conn.OutputBytes())
}

func TestConnectionIdempotentClose(t *testing.T) {
	conn, rec, _ := newTestConnection(t)
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	conn.Close()
	conn.Close()
	runSync(t, conn.Loop(), func() {
		conn.handleClose()
	})

	require.Eventually(t, conn.IsDisconnected, time.Second, time.Millisecond)
	runSync(t, conn.Loop(), func() {})
	assert.Equal(t, 1, rec.closedCount())
	assert.False(t, conn.Send([]byte("late")))

	// 关闭回调时状态还是Disconnecting
	rec.Lock()
	assert.Equal(t, []common.ConnStatus{common.ConnConnected, common.ConnDisconnecting}, rec.connStates)
	rec.Unlock()

	conn.Close()
	runSync(t, conn.Loop(), func() {})
	assert.Equal(t, 1, rec.closedCount())
}

func TestConnectionOutgoingPeerClose(t *testing.T) {
	conn, rec, peer := newTestConnection(t)
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))

	require.Eventually(t, func() bool {
		return rec.closedCount() == 1
	}, time.Second, time.Millisecond)
	assert.True(t, conn.IsDisconnected())
}

func TestConnectionDelayedClose(t *testing.T) {
	conn, rec, peer := newTestConnection(t)
	conn.SetIncoming(true)
	require.NoError(t, conn.SetCloseDelay(50*time.Millisecond))
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	start := time.Now()
	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	time.Sleep(10 * time.Millisecond)

	// 延迟关闭期间还可以发送
	assert.Equal(t, 0, rec.closedCount())
	require.True(t, conn.Send([]byte("reply")))
	assert.Equal(t, []byte("reply"), readFull(t, peer, 5))

	require.Eventually(t, func() bool {
		return rec.closedCount() == 1
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.True(t, conn.IsDisconnected())
}

func TestConnectionIncomingImmediateClose(t *testing.T) {
	conn, rec, peer := newTestConnection(t)
	conn.SetIncoming(true)
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	require.NoError(t, unix.Shutdown(peer, unix.SHUT_WR))
	require.Eventually(t, func() bool {
		return rec.closedCount() == 1
	}, time.Second, time.Millisecond)
}

func TestSetCloseDelayOutgoing(t *testing.T) {
	conn, _, _ := newTestConnection(t)
	assert.ErrorIs(t, conn.SetCloseDelay(time.Second), util.ErrNotIncoming)

	conn.SetType(common.Incoming)
	assert.NoError(t, conn.SetCloseDelay(time.Second))
	assert.Equal(t, time.Second, conn.CloseDelay())
}

func TestConnectionInvalidFrame(t *testing.T) {
	conn, rec, peer := newTestConnection(t, WithFrameLimits(util.DefaultMinFrameSize, 64))
	conn.Attach()

	head := make([]byte, 4)
	binary.BigEndian.PutUint32(head, 100)
	_, err := unix.Write(peer, head)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.closedCount() == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, rec.messageCount())
}

func TestConnectionHeartbeat(t *testing.T) {
	var clock atomic.Int64
	clock.Store(1000)

	conn, rec, peer := newTestConnection(t, WithHeartbeat(10*time.Millisecond), WithClock(clock.Load))
	conn.Attach()

	first, err := util.UnmarshalPing(readFull(t, peer, util.PingRecordSize))
	require.NoError(t, err)
	assert.Equal(t, uint32(0), first.ID)
	assert.Equal(t, int64(1000), first.Time)

	second, err := util.UnmarshalPing(readFull(t, peer, util.PingRecordSize))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), second.ID)

	// 对端原样返回
	clock.Store(1025)
	_, err = unix.Write(peer, first.Marshal())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return conn.RTT() == 25
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, rec.messageCount())
}

func TestConnectionPingSkippedWhilePartial(t *testing.T) {
	conn, _, peer := newTestConnection(t, WithHeartbeat(5*time.Millisecond))
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// 数据中没有0字节，心跳包的头部是4个0
	payload := make([]byte, 8*1024*1024)
	for i := range payload {
		payload[i] = byte(i%250 + 1)
	}
	require.True(t, conn.Send(payload))
	time.Sleep(30 * time.Millisecond)

	got := readAvailable(peer)
	for len(got) >= util.PingRecordSize && binary.BigEndian.Uint32(got[:4]) == 0 {
		got = got[util.PingRecordSize:]
	}

	// 只写出去一部分，之后不能再插入心跳包
	require.Greater(t, len(got), 0)
	require.Less(t, len(got), len(payload))
	assert.Equal(t, payload[:len(got)], got)
}

func TestConnectionWriteReady(t *testing.T) {
	conn, _, _ := newTestConnection(t)

	var ready atomic.Int32
	conn.SetWriteReadyCallback(func(conn *Connection) {
		ready.Add(1)
		conn.DisableWrite()
	})
	conn.Attach()
	require.Eventually(t, conn.IsConnected, time.Second, time.Millisecond)

	conn.EnableWrite()
	require.Eventually(t, func() bool {
		return ready.Load() == 1
	}, time.Second, time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), ready.Load())
}
