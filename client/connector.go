package client

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/ikilobyte/netloop/common"
	"github.com/ikilobyte/netloop/eventloop"
	"github.com/ikilobyte/netloop/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

//NewConnectionCallback 连接结果，fd < 0 表示连接失败
type NewConnectionCallback func(fd int, localAddr string)

//Connector 负责 DNS解析 -> 非阻塞connect -> 把连接好的fd交给上层
//连接成功后fd的所有权归上层，Connector不再处理这个fd上的读写
type Connector struct {
	loop          *eventloop.EventLoop
	localAddr     string
	remoteAddr    string
	remoteHost    string
	remotePort    int
	raddr         unix.Sockaddr
	timeout       time.Duration
	autoReconnect bool
	interval      time.Duration
	options       *ConnectorOptions
	status        atomic.Int32
	fd            int
	chanl         *eventloop.Channel
	resolver      *Resolver
	timer         *eventloop.Watcher
	reconnect     *eventloop.InvokeTimer
	connFn        NewConnectionCallback
	attempts      atomic.Int64
}

//NewConnector remoteAddr 支持 host:port 以及 [ipv6]:port，localAddr为空表示不绑定本地地址
func NewConnector(loop *eventloop.EventLoop, localAddr, remoteAddr string, timeout time.Duration, autoReconnect bool, interval time.Duration, opts ...ConnectorOption) (*Connector, error) {
	host, port, err := util.SplitHostPort(remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("remote address %q: %w", remoteAddr, err)
	}
	if localAddr != "" {
		if _, ok := util.ParseSockaddr(localAddr); !ok {
			return nil, fmt.Errorf("local address %q: %w", localAddr, util.ErrInvalidAddress)
		}
	}

	return &Connector{
		loop:          loop,
		localAddr:     localAddr,
		remoteAddr:    remoteAddr,
		remoteHost:    host,
		remotePort:    port,
		timeout:       timeout,
		autoReconnect: autoReconnect,
		interval:      interval,
		options:       parseConnectorOption(opts...),
		fd:            -1,
	}, nil
}

//SetNewConnectionCallback 需要在Start之前设置
func (c *Connector) SetNewConnectionCallback(fn NewConnectionCallback) {
	c.connFn = fn
}

//Start 发起连接，任意goroutine都可以调用，正在连接时调用会被忽略
func (c *Connector) Start() {
	c.loop.RunInLoop(c.startInLoop)
}

func (c *Connector) startInLoop() {
	status := c.Status()
	if status != common.ConnectorDisconnected && status != common.ConnectorConnected {
		c.logger().Debug("connector is busy, ignore start")
		return
	}

	if c.reconnect != nil {
		c.reconnect.Cancel()
		c.reconnect = nil
	}
	c.attempts.Add(1)

	// 1、超时计时覆盖解析和连接两个阶段
	if c.timeout > 0 {
		c.timer = eventloop.NewDelayWatcher(c.loop, c.onConnectTimeout, c.timeout)
		if err := c.timer.Init(); err != nil {
			c.handleError(err)
			return
		}
		if err := c.timer.AsyncWait(); err != nil {
			c.handleError(err)
			return
		}
	}

	// 2、IP地址直接连接
	if sa, ok := util.ParseSockaddr(c.remoteAddr); ok {
		c.raddr = sa
		c.connect()
		return
	}

	// 3、需要先解析域名
	c.setStatus(common.ConnectorResolving)
	c.resolver = NewResolver(c.loop, c.remoteHost, c.timeout, c.onResolved, c.options.Resolver...)
	c.resolver.Start()
}

func (c *Connector) onResolved(addrs []net.IP) {
	if c.Status() != common.ConnectorResolving {
		return
	}

	if len(addrs) == 0 {
		c.handleError(fmt.Errorf("resolve %s: %w", c.remoteHost, util.ErrResolveFailed))
		return
	}

	c.raddr = util.IPToSockaddr(addrs[0], c.remotePort)
	c.setStatus(common.ConnectorResolved)
	c.connect()
}

//connect 创建新的fd并发起非阻塞connect，通过可写事件得知结果
func (c *Connector) connect() {
	fd, err := createSocket(util.SockaddrFamily(c.raddr), c.options.KeepAlive)
	if err != nil {
		c.handleError(fmt.Errorf("create socket: %w", err))
		return
	}
	c.fd = fd

	if c.localAddr != "" {
		sa, _ := util.ParseSockaddr(c.localAddr)
		if err := unix.Bind(fd, sa); err != nil {
			c.handleError(fmt.Errorf("bind %s: %w", c.localAddr, err))
			return
		}
	}

	if err := unix.Connect(fd, c.raddr); err != nil && !IsRetriable(err) {
		c.handleError(fmt.Errorf("connect %s: %w", util.SockaddrToString(c.raddr), err))
		return
	}

	c.setStatus(common.ConnectorConnecting)
	c.chanl = eventloop.NewChannel(c.loop, fd, false, true)
	c.chanl.SetWriteCallback(c.handleWrite)
	if err := c.chanl.Attach(); err != nil {
		c.handleError(err)
	}
}

func (c *Connector) handleWrite() {
	// 超时之后，之前已经就绪的可写事件
	if c.Status() != common.ConnectorConnecting {
		return
	}

	if err := socketError(c.fd); err != nil {
		c.handleError(fmt.Errorf("connect %s: %w", util.SockaddrToString(c.raddr), err))
		return
	}

	var (
		fd    = c.fd
		laddr = localAddress(fd)
	)

	// fd交给上层，这里不再持有
	c.fd = -1
	c.setStatus(common.ConnectorConnected)
	c.stopTimer()
	c.chanl.Close()
	c.chanl = nil

	c.logger().WithField("fd", fd).WithField("local", laddr).Info("connector connected")
	if c.connFn != nil {
		c.connFn(fd, laddr)
	}
}

//handleError 连接失败，按策略通知上层，开启了自动重连的话稍后再次Start
func (c *Connector) handleError(err error) {
	c.logger().WithField("error", err).Warn("connector failed")

	c.setStatus(common.ConnectorDisconnected)
	if c.chanl != nil {
		c.chanl.Close()
		c.chanl = nil
	}

	// 超时的时候解析可能还没返回
	if c.resolver != nil {
		c.resolver.Cancel()
		c.resolver = nil
	}
	c.stopTimer()

	// 重连之前必须先关闭失败的fd
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}

	// 连接被拒绝或者不会重连时通知上层，其余情况静默重连
	if (IsRefused(err) && c.options.ReportRefused) || !c.autoReconnect {
		if c.connFn != nil {
			c.connFn(-1, "")
		}
	}

	// 上层可能已经在回调中重新Start了
	if c.autoReconnect && c.Status() == common.ConnectorDisconnected && c.reconnect == nil {
		c.logger().WithField("interval", c.interval.String()).Info("connector reconnect later")
		c.reconnect = c.loop.RunAfter(c.interval, c.Start)
	}
}

func (c *Connector) onConnectTimeout() {
	c.timer = nil
	status := c.Status()
	if status == common.ConnectorDisconnected || status == common.ConnectorConnected {
		return
	}
	c.handleError(fmt.Errorf("%w: %w", util.ErrConnectTimeout, unix.ETIMEDOUT))
}

func (c *Connector) stopTimer() {
	if c.timer != nil {
		c.timer.Cancel()
		c.timer = nil
	}
}

//Cancel 取消解析、连接和重连，解析中被取消时回调fd=-1
func (c *Connector) Cancel() {
	c.loop.RunInLoop(c.cancelInLoop)
}

func (c *Connector) cancelInLoop() {
	status := c.Status()

	if c.resolver != nil {
		c.resolver.Cancel()
		c.resolver = nil
	}
	c.stopTimer()

	if c.reconnect != nil {
		c.reconnect.Cancel()
		c.reconnect = nil
	}

	if c.chanl != nil {
		c.chanl.Close()
		c.chanl = nil
	}
	if c.fd >= 0 {
		_ = unix.Close(c.fd)
		c.fd = -1
	}

	if status != common.ConnectorConnected {
		c.setStatus(common.ConnectorDisconnected)
	}

	if status == common.ConnectorResolving && c.connFn != nil {
		c.connFn(-1, "")
	}
}

func (c *Connector) setStatus(status common.ConnectorStatus) {
	c.status.Store(int32(status))
}

func (c *Connector) Status() common.ConnectorStatus {
	return common.ConnectorStatus(c.status.Load())
}

func (c *Connector) IsConnecting() bool {
	status := c.Status()
	return status == common.ConnectorResolving || status == common.ConnectorResolved || status == common.ConnectorConnecting
}

func (c *Connector) IsConnected() bool {
	return c.Status() == common.ConnectorConnected
}

func (c *Connector) IsDisconnected() bool {
	return c.Status() == common.ConnectorDisconnected
}

func (c *Connector) RemoteAddr() string {
	return c.remoteAddr
}

//Attempts Start真正发起的次数
func (c *Connector) Attempts() int64 {
	return c.attempts.Load()
}

func (c *Connector) logger() *logrus.Entry {
	return util.Logger.WithFields(logrus.Fields{
		"remote": c.remoteAddr,
		"status": c.Status().String(),
	})
}
