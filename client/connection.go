package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ikilobyte/netloop/common"
	"github.com/ikilobyte/netloop/eventloop"
	"github.com/ikilobyte/netloop/iface"
	"github.com/ikilobyte/netloop/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

//pingWriteTimeout 心跳直接写socket，缓冲区满时最多阻塞这么久
const pingWriteTimeout = 100 * time.Millisecond

//MessageCallback 收到一个完整的应用层消息
type MessageCallback func(conn *Connection, data []byte)

//ConnectionCallback 连接状态变化、可写、关闭时的回调
type ConnectionCallback func(conn *Connection)

//WriteCompleteCallback 一次发送结束，remaining为没有写出去的部分
type WriteCompleteCallback func(conn *Connection, remaining []byte)

//Connection 已经建立的tcp连接，负责读写、分包、心跳和关闭
//连接本身没有发送队列，上层通过WriteComplete和WriteReady回调自己做发送队列
type Connection struct {
	loop       *eventloop.EventLoop
	name       string
	id         uint64
	fd         int
	localAddr  string
	remoteAddr string
	options    *ConnectionOptions
	chanl      *eventloop.Channel
	packer     *util.DataPacker
	readBuff   []byte

	connType   atomic.Int32
	status     atomic.Int32
	closeDelay atomic.Int64
	rtt        atomic.Int64

	inputBytes  atomic.Int64
	outputBytes atomic.Int64

	pingTimer  *eventloop.InvokeTimer
	closeTimer *eventloop.InvokeTimer
	pingSeq    uint32
	partial    bool // 应用层数据只写出去一部分，这时不能插入心跳包
	closed     bool

	messageFn       MessageCallback
	connFn          ConnectionCallback
	writeCompleteFn WriteCompleteCallback
	writeReadyFn    ConnectionCallback
	closeFn         ConnectionCallback
}

func NewConnection(loop *eventloop.EventLoop, name string, fd int, localAddr, remoteAddr string, id uint64, opts ...ConnectionOption) *Connection {
	options := parseConnectionOption(opts...)
	conn := &Connection{
		loop:       loop,
		name:       name,
		id:         id,
		fd:         fd,
		localAddr:  localAddr,
		remoteAddr: remoteAddr,
		options:    options,
		chanl:      eventloop.NewChannel(loop, fd, false, false),
		packer:     util.NewDataPacker(options.MinFrameSize, options.MaxFrameSize),
		readBuff:   make([]byte, options.ReadBufferSize),
	}
	conn.status.Store(int32(common.ConnConnecting))
	conn.connType.Store(int32(common.Outgoing))
	conn.closeDelay.Store(int64(options.CloseDelay))
	return conn
}

//Attach 绑定到事件循环：开始读、开始心跳、通知上层连接建立
func (c *Connection) Attach() {
	c.loop.RunInLoop(c.attachInLoop)
}

func (c *Connection) attachInLoop() {
	if c.Status() != common.ConnConnecting {
		return
	}
	c.setStatus(common.ConnConnected)

	c.chanl.SetReadCallback(c.handleRead)
	c.chanl.SetWriteCallback(c.handleWrite)
	c.chanl.EnableRead()

	if c.options.HeartbeatInterval > 0 {
		c.pingTimer = c.loop.RunEvery(c.options.HeartbeatInterval, c.ping)
	}

	c.logger().Info("connection established")
	if c.connFn != nil {
		c.connFn(c)
	}
}

//Send 发送数据，任意goroutine都可以调用，未连接时返回false
func (c *Connection) Send(data []byte) bool {
	if c.Status() != common.ConnConnected {
		return false
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	c.loop.RunInLoop(func() {
		c.sendInLoop(buf)
	})
	return true
}

//sendInLoop 只写一次，剩下的通过WriteComplete交给上层
func (c *Connection) sendInLoop(buf []byte) {
	if c.Status() != common.ConnConnected {
		return
	}

	n, err := unix.Write(c.fd, buf)
	if n < 0 {
		n = 0
	}
	c.outputBytes.Add(int64(n))

	switch {
	case n == len(buf):
		c.partial = false
	case n > 0:
		c.partial = true
	}

	if c.writeCompleteFn != nil {
		c.writeCompleteFn(c, buf[n:])
	}

	if err != nil && !IsRetriable(err) {
		c.handleError(err)
	}
}

//EnableWrite 关注可写事件，可写时回调WriteReady
func (c *Connection) EnableWrite() {
	c.loop.RunInLoop(func() {
		if c.Status() == common.ConnConnected {
			c.chanl.EnableWrite()
		}
	})
}

func (c *Connection) DisableWrite() {
	c.loop.RunInLoop(func() {
		c.chanl.DisableWrite()
	})
}

func (c *Connection) handleWrite() {
	if c.writeReadyFn == nil {
		c.chanl.DisableWrite()
		return
	}
	c.writeReadyFn(c)
}

func (c *Connection) handleRead() {
	n, err := unix.Read(c.fd, c.readBuff)
	if err != nil {
		if IsRetriable(err) {
			return
		}
		c.handleError(err)
		return
	}

	// 对端关闭
	if n == 0 {
		c.handlePeerShutdown()
		return
	}

	c.inputBytes.Add(int64(n))
	c.packer.Feed(c.readBuff[:n])

	for c.Status() == common.ConnConnected {
		kind, data, err := c.packer.Next()
		if err != nil {
			c.logger().WithField("error", err).Warn("invalid frame, close connection")
			c.setStatus(common.ConnDisconnecting)
			c.handleClose()
			return
		}

		switch kind {
		case util.FrameNone:
			return
		case util.FramePong:
			c.pong(data)
		case util.FrameMessage:
			if c.messageFn != nil {
				c.messageFn(c, data)
			}
		}
	}
}

//handlePeerShutdown 主动发起的连接直接关闭，对端发起的连接延迟关闭，让回复还能发出去
func (c *Connection) handlePeerShutdown() {
	if c.Type() == common.Outgoing {
		c.logger().Info("peer closed, close connection")
		c.setStatus(common.ConnDisconnecting)
		c.handleClose()
		return
	}

	c.chanl.DisableRead()
	delay := c.CloseDelay()
	if delay <= 0 {
		c.delayClose()
		return
	}

	c.logger().WithField("delay", delay.String()).Info("peer closed, delay close connection")
	c.closeTimer = c.loop.RunAfter(delay, c.delayClose)
}

func (c *Connection) delayClose() {
	c.closeTimer = nil
	c.setStatus(common.ConnDisconnecting)
	c.handleClose()
}

//handleError 本地I/O错误（EPIPE、ECONNRESET等）和对端关闭一样处理
func (c *Connection) handleError(err error) {
	c.logger().WithField("error", err).Warn("connection error")
	c.setStatus(common.ConnDisconnecting)
	c.handleClose()
}

//Close 任意goroutine都可以调用，真正的关闭在事件循环中执行
func (c *Connection) Close() {
	for {
		status := c.Status()
		if status == common.ConnDisconnected {
			return
		}
		if c.status.CompareAndSwap(int32(status), int32(common.ConnDisconnecting)) {
			break
		}
	}
	c.loop.QueueInLoop(c.handleClose)
}

//handleClose 只会执行一次：停止定时器、关闭channel、回调上层，最后关闭fd
func (c *Connection) handleClose() {
	if c.closed || c.Status() == common.ConnDisconnected {
		return
	}
	c.closed = true
	c.setStatus(common.ConnDisconnecting)

	c.chanl.Close()

	if c.pingTimer != nil {
		c.pingTimer.Cancel()
		c.pingTimer = nil
	}
	if c.closeTimer != nil {
		c.closeTimer.Cancel()
		c.closeTimer = nil
	}

	// 状态还是Disconnecting，上层可以在这里决定是否重连
	if c.connFn != nil {
		c.connFn(c)
	}
	if c.closeFn != nil {
		c.closeFn(c)
	}

	c.setStatus(common.ConnDisconnected)
	if err := unix.Close(c.fd); err != nil {
		c.logger().WithField("error", err).Debug("close fd")
	}
	c.logger().Info("connection closed")
}

//ping 心跳包不经过上层的发送队列，直接写socket
func (c *Connection) ping() {
	if c.Status() != common.ConnConnected || c.partial {
		return
	}

	record := util.PingRecord{ID: c.pingSeq, Time: c.options.Clock()}
	c.pingSeq++
	buf := record.Marshal()

	written := 0
	for written < len(buf) {
		n, err := unix.Write(c.fd, buf[written:])
		if n > 0 {
			written += n
			continue
		}

		if IsRetriable(err) {
			if waitWritable(c.fd, pingWriteTimeout) {
				continue
			}
			// 一个字节都没写出去可以等下次，写了一半只能断开
			if written == 0 {
				return
			}
			err = fmt.Errorf("ping write timeout: %w", unix.ETIMEDOUT)
		}
		c.outputBytes.Add(int64(written))
		c.handleError(err)
		return
	}
	c.outputBytes.Add(int64(written))
}

//pong 心跳回包，rtt = 当前时间 - 发送时间
func (c *Connection) pong(record []byte) {
	p, err := util.UnmarshalPing(record)
	if err != nil {
		return
	}

	rtt := c.options.Clock() - p.Time
	if rtt < 0 {
		rtt = 0
	}
	c.rtt.Store(rtt)
	c.logger().WithField("rtt", rtt).Debug("pong")
}

//SetCloseDelay 只对Incoming连接有效
func (c *Connection) SetCloseDelay(delay time.Duration) error {
	if c.Type() != common.Incoming {
		return util.ErrNotIncoming
	}
	c.closeDelay.Store(int64(delay))
	return nil
}

func (c *Connection) CloseDelay() time.Duration {
	return time.Duration(c.closeDelay.Load())
}

//SetTCPNoDelay .
func (c *Connection) SetTCPNoDelay(noDelay bool) error {
	return setNoDelay(c.fd, noDelay)
}

func (c *Connection) SetType(t common.ConnType) {
	c.connType.Store(int32(t))
}

//SetIncoming true为对端发起的连接
func (c *Connection) SetIncoming(incoming bool) {
	if incoming {
		c.SetType(common.Incoming)
		return
	}
	c.SetType(common.Outgoing)
}

func (c *Connection) Type() common.ConnType {
	return common.ConnType(c.connType.Load())
}

//以下回调需要在Attach之前设置

func (c *Connection) SetMessageCallback(fn MessageCallback) {
	c.messageFn = fn
}

func (c *Connection) SetConnectionCallback(fn ConnectionCallback) {
	c.connFn = fn
}

func (c *Connection) SetWriteCompleteCallback(fn WriteCompleteCallback) {
	c.writeCompleteFn = fn
}

func (c *Connection) SetWriteReadyCallback(fn ConnectionCallback) {
	c.writeReadyFn = fn
}

func (c *Connection) SetCloseCallback(fn ConnectionCallback) {
	c.closeFn = fn
}

func (c *Connection) setStatus(status common.ConnStatus) {
	c.status.Store(int32(status))
}

func (c *Connection) Status() common.ConnStatus {
	return common.ConnStatus(c.status.Load())
}

func (c *Connection) IsConnected() bool {
	return c.Status() == common.ConnConnected
}

func (c *Connection) IsDisconnected() bool {
	return c.Status() == common.ConnDisconnected
}

func (c *Connection) Name() string {
	return c.name
}

func (c *Connection) ID() uint64 {
	return c.id
}

func (c *Connection) Fd() int {
	return c.fd
}

func (c *Connection) Loop() *eventloop.EventLoop {
	return c.loop
}

func (c *Connection) LocalAddr() string {
	return c.localAddr
}

func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

//AddrString local->remote
func (c *Connection) AddrString() string {
	return c.localAddr + "->" + c.remoteAddr
}

//RTT 最近一次心跳的往返时间，毫秒
func (c *Connection) RTT() int64 {
	return c.rtt.Load()
}

func (c *Connection) InputBytes() int64 {
	return c.inputBytes.Load()
}

func (c *Connection) OutputBytes() int64 {
	return c.outputBytes.Load()
}

func (c *Connection) logger() *logrus.Entry {
	return util.Logger.WithFields(logrus.Fields{
		"name": c.name,
		"fd":   c.fd,
		"addr": c.AddrString(),
	})
}

var _ iface.IConnect = (*Connection)(nil)
