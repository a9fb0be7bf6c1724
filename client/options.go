package client

import (
	"context"
	"net"
	"time"

	"github.com/ikilobyte/netloop/util"
)

const (
	DefaultHeartbeatInterval = time.Second
	DefaultReadBufferSize    = 64 * 1024
	DefaultKeepAlive         = 15 * time.Second
)

//LookupFunc 解析域名，默认使用net.DefaultResolver
type LookupFunc func(ctx context.Context, host string) ([]net.IPAddr, error)

//ResolverOptions DNS解析可选项
type ResolverOptions struct {
	Lookup LookupFunc // 异步解析使用的实现
	Sync   bool       // 不使用异步解析，直接在事件循环中阻塞解析
}

type ResolverOption = func(opts *ResolverOptions)

func parseResolverOption(opts ...ResolverOption) *ResolverOptions {
	options := &ResolverOptions{
		Lookup: net.DefaultResolver.LookupIPAddr,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.Lookup == nil {
		options.Lookup = net.DefaultResolver.LookupIPAddr
	}
	return options
}

//WithLookup 自定义解析实现
func WithLookup(lookup LookupFunc) ResolverOption {
	return func(opts *ResolverOptions) {
		opts.Lookup = lookup
	}
}

//WithSyncResolve 同步解析
func WithSyncResolve(sync bool) ResolverOption {
	return func(opts *ResolverOptions) {
		opts.Sync = sync
	}
}

//ConnectorOptions 连接器可选项
type ConnectorOptions struct {
	ReportRefused bool          // 连接被拒绝时即使开启了自动重连也通知上层，默认：true
	KeepAlive     time.Duration // tcp keepalive，0 不开启
	Resolver      []ResolverOption
}

type ConnectorOption = func(opts *ConnectorOptions)

func parseConnectorOption(opts ...ConnectorOption) *ConnectorOptions {
	options := &ConnectorOptions{
		ReportRefused: true,
		KeepAlive:     DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

//WithReportRefused 连接被拒绝时是否通知上层
func WithReportRefused(report bool) ConnectorOption {
	return func(opts *ConnectorOptions) {
		opts.ReportRefused = report
	}
}

//WithKeepAlive .
func WithKeepAlive(d time.Duration) ConnectorOption {
	return func(opts *ConnectorOptions) {
		opts.KeepAlive = d
	}
}

//WithResolverOptions 传给内部的Resolver
func WithResolverOptions(resolverOpts ...ResolverOption) ConnectorOption {
	return func(opts *ConnectorOptions) {
		opts.Resolver = append(opts.Resolver, resolverOpts...)
	}
}

//ConnectionOptions 连接可选项
type ConnectionOptions struct {
	HeartbeatInterval time.Duration // 心跳间隔，0 不发送心跳
	MinFrameSize      int           // 帧长度(含4字节头部)下限
	MaxFrameSize      int           // 帧长度(含4字节头部)上限
	CloseDelay        time.Duration // 对端关闭后延迟多久关闭，只对Incoming连接有效
	ReadBufferSize    int
	Clock             func() int64 // 毫秒时间戳，用于计算RTT
}

type ConnectionOption = func(opts *ConnectionOptions)

func parseConnectionOption(opts ...ConnectionOption) *ConnectionOptions {
	options := &ConnectionOptions{
		HeartbeatInterval: DefaultHeartbeatInterval,
		MinFrameSize:      util.DefaultMinFrameSize,
		MaxFrameSize:      util.DefaultMaxFrameSize,
		ReadBufferSize:    DefaultReadBufferSize,
		Clock:             nowMillis,
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.ReadBufferSize <= 0 {
		options.ReadBufferSize = DefaultReadBufferSize
	}
	if options.Clock == nil {
		options.Clock = nowMillis
	}
	return options
}

//WithHeartbeat 心跳间隔
func WithHeartbeat(interval time.Duration) ConnectionOption {
	return func(opts *ConnectionOptions) {
		opts.HeartbeatInterval = interval
	}
}

//WithFrameLimits 帧长度限制，超出范围会断开连接
func WithFrameLimits(min, max int) ConnectionOption {
	return func(opts *ConnectionOptions) {
		opts.MinFrameSize = min
		opts.MaxFrameSize = max
	}
}

//WithCloseDelay .
func WithCloseDelay(delay time.Duration) ConnectionOption {
	return func(opts *ConnectionOptions) {
		opts.CloseDelay = delay
	}
}

//WithReadBufferSize 每次read的缓冲大小
func WithReadBufferSize(size int) ConnectionOption {
	return func(opts *ConnectionOptions) {
		opts.ReadBufferSize = size
	}
}

//WithClock 测试时替换时钟
func WithClock(clock func() int64) ConnectionOption {
	return func(opts *ConnectionOptions) {
		opts.Clock = clock
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
