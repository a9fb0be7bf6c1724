package netloop

import (
	"fmt"
	"sync/atomic"

	"github.com/ikilobyte/netloop/client"
	"github.com/ikilobyte/netloop/eventloop"
	"github.com/ikilobyte/netloop/iface"
	"github.com/ikilobyte/netloop/util"
	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

//Client 一个远端地址对应一个Client
//负责 连接 -> 收发消息 -> 断开后重连，发送队列也在这里维护
type Client struct {
	loop       *eventloop.EventLoop
	remoteAddr string
	hooks      iface.IHooks
	options    *Options
	packer     *util.DataPacker
	connector  *client.Connector
	conn       atomic.Pointer[client.Connection]
	sendQ      *util.Queue
	stopped    atomic.Bool
	connID     atomic.Uint64
	dropped    atomic.Int64

	// 以下字段只在事件循环中访问
	pending   []byte // 上一次没有写完的部分
	reconnect *eventloop.InvokeTimer
}

//NewClient 创建Client，调用Connect后才会发起连接
func NewClient(loop *eventloop.EventLoop, remoteAddr string, hooks iface.IHooks, opts ...Option) (*Client, error) {
	if loop == nil {
		return nil, util.ErrLoopNotInit
	}

	options := parseOption(opts...)
	if options.Name == "" {
		options.Name = fmt.Sprintf("netloop-%s", uuid.NewV4().String())
	}

	connector, err := client.NewConnector(
		loop,
		options.LocalAddr,
		remoteAddr,
		options.ConnectTimeout,
		options.AutoReconnect,
		options.ReconnectInterval,
		options.connectorOptions()...,
	)
	if err != nil {
		return nil, err
	}

	c := &Client{
		loop:       loop,
		remoteAddr: remoteAddr,
		hooks:      hooks,
		options:    options,
		packer:     util.NewDataPacker(options.MinFrameSize, options.MaxFrameSize),
		connector:  connector,
		sendQ:      util.NewQueue(),
	}
	connector.SetNewConnectionCallback(c.onNewConnection)
	return c, nil
}

//Connect 发起连接，任意goroutine都可以调用，已经有可用的连接时忽略
func (c *Client) Connect() {
	c.stopped.Store(false)
	c.loop.RunInLoop(func() {
		if c.hasLiveConn() {
			c.logger().Debug("already connected, ignore connect")
			return
		}
		c.connector.Start()
	})
}

//hasLiveConn 当前有已经建立、没有开始关闭的连接
func (c *Client) hasLiveConn() bool {
	conn := c.conn.Load()
	return conn != nil && conn.IsConnected()
}

//Disconnect 断开连接，并且不再重连
func (c *Client) Disconnect() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}

	c.loop.RunInLoop(func() {
		if c.reconnect != nil {
			c.reconnect.Cancel()
			c.reconnect = nil
		}
		c.connector.Cancel()
		if conn := c.conn.Load(); conn != nil {
			conn.Close()
		}
	})
}

//Send 封包后放入发送队列，未连接或者消息长度不合法时返回false
func (c *Client) Send(payload []byte) bool {
	conn := c.conn.Load()
	if conn == nil || !conn.IsConnected() {
		return false
	}

	frame, err := c.packer.Pack(payload)
	if err != nil {
		c.logger().WithField("size", len(payload)).WithField("error", err).Warn("pack message failed")
		return false
	}

	// 队列满了，只保留最早的一条
	if dropped := c.sendQ.PushBounded(frame, c.options.MaxQueueSize); dropped > 0 {
		c.dropped.Add(int64(dropped))
		c.logger().WithField("dropped", dropped).Warn("send queue full")
	}

	c.loop.RunInLoop(c.flush)
	return true
}

//flush 在事件循环中把队列中的消息写到socket，写不完时等待可写事件
func (c *Client) flush() {
	conn := c.conn.Load()
	if conn == nil {
		return
	}

	for conn.IsConnected() {
		buf := c.pending
		c.pending = nil
		if buf == nil {
			item := c.sendQ.Pop()
			if item == nil {
				conn.DisableWrite()
				return
			}
			buf = item.([]byte)
		}

		conn.Send(buf)

		// 没写完，剩下的在onWriteComplete中保存到pending
		if c.pending != nil {
			conn.EnableWrite()
			return
		}
	}
}

func (c *Client) onNewConnection(fd int, localAddr string) {
	if fd < 0 {
		c.logger().Warn("connect failed")
		if c.hooks != nil {
			c.hooks.OnConnectFailed(c.remoteAddr)
		}
		return
	}

	// Disconnect之后才连接成功，或者已经有一个连接了
	if c.stopped.Load() || c.hasLiveConn() {
		_ = unix.Close(fd)
		return
	}

	conn := client.NewConnection(c.loop, c.options.Name, fd, localAddr, c.remoteAddr, c.connID.Add(1), c.options.connectionOptions()...)
	conn.SetMessageCallback(c.onMessage)
	conn.SetConnectionCallback(c.onConnection)
	conn.SetWriteCompleteCallback(c.onWriteComplete)
	conn.SetWriteReadyCallback(c.onWriteReady)
	conn.SetCloseCallback(c.onClose)
	if c.options.NoDelay {
		if err := conn.SetTCPNoDelay(true); err != nil {
			c.logger().WithField("error", err).Debug("set tcp nodelay")
		}
	}

	c.pending = nil
	c.conn.Store(conn)
	conn.Attach()
}

func (c *Client) onConnection(conn *client.Connection) {
	if conn.IsConnected() {
		if c.hooks != nil {
			c.hooks.OnOpen(conn)
		}
		// 断线之前没发完的消息
		if c.sendQ.Len() > 0 {
			c.flush()
		}
		return
	}

	if c.hooks != nil {
		c.hooks.OnClose(conn)
	}
}

func (c *Client) onMessage(conn *client.Connection, data []byte) {
	if c.hooks != nil {
		c.hooks.OnMessage(conn, data)
	}
}

func (c *Client) onWriteComplete(_ *client.Connection, remaining []byte) {
	if len(remaining) > 0 {
		c.pending = remaining
	}
}

func (c *Client) onWriteReady(_ *client.Connection) {
	c.flush()
}

//onClose 连接断开，重连时会创建一个新的Connection
func (c *Client) onClose(conn *client.Connection) {
	// 已经被新的连接替换
	if !c.conn.CompareAndSwap(conn, nil) {
		return
	}

	// 半个帧已经没有意义了
	c.pending = nil

	if c.stopped.Load() || !c.options.AutoReconnect {
		return
	}

	if c.reconnect != nil {
		c.reconnect.Cancel()
	}
	c.logger().WithField("interval", c.options.ReconnectInterval.String()).Info("connection closed, reconnect later")
	c.reconnect = c.loop.RunAfter(c.options.ReconnectInterval, func() {
		c.reconnect = nil
		if !c.stopped.Load() && !c.hasLiveConn() {
			c.connector.Start()
		}
	})
}

func (c *Client) IsConnected() bool {
	conn := c.conn.Load()
	return conn != nil && conn.IsConnected()
}

//RTT 最近一次心跳的往返时间(毫秒)，未连接时返回-1
func (c *Client) RTT() int64 {
	conn := c.conn.Load()
	if conn == nil {
		return -1
	}
	return conn.RTT()
}

//Connection 当前的连接，未连接时返回nil
func (c *Client) Connection() *client.Connection {
	return c.conn.Load()
}

func (c *Client) Name() string {
	return c.options.Name
}

func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

//QueueLen 发送队列中还没写出去的消息数
func (c *Client) QueueLen() int {
	return c.sendQ.Len()
}

//Dropped 因为队列满了被丢弃的消息数
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

func (c *Client) logger() *logrus.Entry {
	return util.Logger.WithFields(logrus.Fields{
		"name":   c.options.Name,
		"remote": c.remoteAddr,
	})
}
