package netloop

import (
	"time"

	"github.com/ikilobyte/netloop/client"
	"github.com/ikilobyte/netloop/util"
)

const (
	DefaultConnectTimeout    = 3 * time.Second
	DefaultReconnectInterval = 3 * time.Second
	DefaultMaxQueueSize      = 200
)

//Options 可选项配置，未配置时使用默认值
type Options struct {
	LocalAddr         string        // 绑定的本地地址，默认不绑定
	ConnectTimeout    time.Duration // 解析+连接的超时时间，默认：3s
	AutoReconnect     bool          // 连接失败、断开后自动重连，默认：true
	ReconnectInterval time.Duration // 重连间隔，默认：3s
	HeartbeatInterval time.Duration // 心跳间隔，默认：1s，0 不发送
	MinFrameSize      int           // 帧长度(含头部)下限
	MaxFrameSize      int           // 帧长度(含头部)上限
	MaxQueueSize      int           // 发送队列长度，满了之后只保留队头，默认：200
	Name              string        // 连接名称，默认随机生成
	ReportRefused     bool          // 连接被拒绝时通知上层，默认：true
	SyncResolve       bool          // 在事件循环中同步解析域名
	NoDelay           bool          // TCP_NODELAY
	KeepAlive         time.Duration // tcp keepalive
}

type Option = func(opts *Options)

//parseOption 解析可选项
func parseOption(opts ...Option) *Options {
	options := &Options{
		ConnectTimeout:    DefaultConnectTimeout,
		AutoReconnect:     true,
		ReconnectInterval: DefaultReconnectInterval,
		HeartbeatInterval: client.DefaultHeartbeatInterval,
		MinFrameSize:      util.DefaultMinFrameSize,
		MaxFrameSize:      util.DefaultMaxFrameSize,
		MaxQueueSize:      DefaultMaxQueueSize,
		ReportRefused:     true,
		NoDelay:           true,
		KeepAlive:         client.DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.MaxQueueSize <= 0 {
		options.MaxQueueSize = DefaultMaxQueueSize
	}
	if options.ReconnectInterval <= 0 {
		options.ReconnectInterval = DefaultReconnectInterval
	}
	return options
}

func (o *Options) connectorOptions() []client.ConnectorOption {
	return []client.ConnectorOption{
		client.WithReportRefused(o.ReportRefused),
		client.WithKeepAlive(o.KeepAlive),
		client.WithResolverOptions(client.WithSyncResolve(o.SyncResolve)),
	}
}

func (o *Options) connectionOptions() []client.ConnectionOption {
	return []client.ConnectionOption{
		client.WithHeartbeat(o.HeartbeatInterval),
		client.WithFrameLimits(o.MinFrameSize, o.MaxFrameSize),
	}
}

//WithLocalAddr 绑定本地地址，例如：127.0.0.1:0
func WithLocalAddr(addr string) Option {
	return func(opts *Options) {
		opts.LocalAddr = addr
	}
}

//WithConnectTimeout 连接超时时间，包含域名解析
func WithConnectTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.ConnectTimeout = timeout
	}
}

//WithAutoReconnect 是否自动重连
func WithAutoReconnect(auto bool) Option {
	return func(opts *Options) {
		opts.AutoReconnect = auto
	}
}

func WithReconnectInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.ReconnectInterval = interval
	}
}

//WithHeartbeatInterval 心跳间隔，0 不发送心跳
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.HeartbeatInterval = interval
	}
}

//WithFrameLimits 帧长度限制(含4字节头部)
func WithFrameLimits(min, max int) Option {
	return func(opts *Options) {
		opts.MinFrameSize = min
		opts.MaxFrameSize = max
	}
}

//WithMaxQueueSize 发送队列长度
func WithMaxQueueSize(size int) Option {
	return func(opts *Options) {
		opts.MaxQueueSize = size
	}
}

func WithName(name string) Option {
	return func(opts *Options) {
		opts.Name = name
	}
}

//WithReportRefused 开启自动重连时，连接被拒绝是否还通知上层
func WithReportRefused(report bool) Option {
	return func(opts *Options) {
		opts.ReportRefused = report
	}
}

//WithSyncResolve 同步解析域名，会阻塞事件循环
func WithSyncResolve(sync bool) Option {
	return func(opts *Options) {
		opts.SyncResolve = sync
	}
}

func WithNoDelay(noDelay bool) Option {
	return func(opts *Options) {
		opts.NoDelay = noDelay
	}
}

func WithKeepAlive(d time.Duration) Option {
	return func(opts *Options) {
		opts.KeepAlive = d
	}
}
