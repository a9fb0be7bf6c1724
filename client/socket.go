package client

import (
	"errors"
	"time"

	"github.com/ikilobyte/netloop/util"
	"golang.org/x/sys/unix"
)

//IsRetriable 不是错误，稍后重试即可
func IsRetriable(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EWOULDBLOCK) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.EINPROGRESS) ||
		errors.Is(err, unix.EALREADY)
}

//IsRefused 连接被拒绝
func IsRefused(err error) bool {
	return errors.Is(err, unix.ECONNREFUSED)
}

//socketError 获取非阻塞connect的结果
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

//localAddress 获取fd绑定的本地地址
func localAddress(fd int) string {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return ""
	}
	return util.SockaddrToString(sa)
}

//setNoDelay 关闭Nagle算法
func setNoDelay(fd int, noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v)
}

//waitWritable 阻塞等待可写，最多等待timeout
func waitWritable(fd int, timeout time.Duration) bool {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	for {
		n, err := unix.Poll(fds, int(timeout/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		return err == nil && n > 0 && fds[0].Revents&unix.POLLOUT != 0
	}
}

//createSocket 创建非阻塞的tcp socket
func createSocket(family int, keepAlive time.Duration) (int, error) {
	fd, err := createNonblockingSocket(family)
	if err != nil {
		return -1, err
	}

	// 复用TIME_WAIT状态的端口
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}

	if secs := int(keepAlive / time.Second); secs >= 1 {
		if err := setKeepAlive(fd, secs); err != nil {
			_ = unix.Close(fd)
			return -1, err
		}
	}
	return fd, nil
}
