package client

import (
	"strconv"
	"testing"
	"time"

	"github.com/ikilobyte/netloop/eventloop"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
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

func runSync(t *testing.T, loop *eventloop.EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.RunInLoop(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run in loop timeout")
	}
}

//socketPair fds[0]给Connection使用，fds[1]作为对端，读超时200ms
func socketPair(t *testing.T) [2]int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetsockoptTimeval(fds[1], unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{Usec: 200000}))
	t.Cleanup(func() {
		_ = unix.Close(fds[1])
	})
	return fds
}

//readFull 从对端读取n个字节
func readFull(t *testing.T, fd int, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < n && time.Now().Before(deadline) {
		m, err := unix.Read(fd, buf[got:])
		if err != nil || m <= 0 {
			continue
		}
		got += m
	}
	require.Equal(t, n, got)
	return buf
}

//readAvailable 读到超时为止
func readAvailable(fd int) []byte {
	var (
		result []byte
		buf    = make([]byte, 64*1024)
	)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil || n <= 0 {
			return result
		}
		result = append(result, buf[:n]...)
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
