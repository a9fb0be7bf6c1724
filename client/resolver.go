package client

import (
	"context"
	"net"
	"time"

	"github.com/ikilobyte/netloop/eventloop"
	"github.com/ikilobyte/netloop/util"
)

//ResolveCallback 解析结果，空列表表示解析失败或超时
type ResolveCallback func(addrs []net.IP)

//Resolver 域名解析，每次Start对应一次回调，Cancel之后不会再回调
//上一次解析还没结束时再次Start，上一次立即回调空列表
type Resolver struct {
	loop    *eventloop.EventLoop
	host    string
	timeout time.Duration
	fn      ResolveCallback
	options *ResolverOptions
	timer   *eventloop.Watcher
	cancel  context.CancelFunc
	gen     uint64 // 每次Start、完成、Cancel都会+1，过期的结果直接丢弃
	pending bool   // 有一次异步解析还没有回调
	addrs   []net.IP
}

func NewResolver(loop *eventloop.EventLoop, host string, timeout time.Duration, fn ResolveCallback, opts ...ResolverOption) *Resolver {
	return &Resolver{
		loop:    loop,
		host:    host,
		timeout: timeout,
		fn:      fn,
		options: parseResolverOption(opts...),
	}
}

//Start 在事件循环中发起解析
func (r *Resolver) Start() {
	r.loop.RunInLoop(r.startInLoop)
}

func (r *Resolver) startInLoop() {
	r.stop()

	// 被新的Start替换，给上一次一个空结果
	if r.pending {
		gen := r.gen
		r.finish(nil)
		// 回调中调用了Cancel
		if r.gen != gen+1 {
			return
		}
	}

	r.gen++
	gen := r.gen

	if r.options.Sync {
		r.syncResolve()
		return
	}

	if r.timeout > 0 {
		r.timer = eventloop.NewDelayWatcher(r.loop, r.onTimeout, r.timeout)
		if err := r.timer.Init(); err == nil {
			_ = r.timer.AsyncWait()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.pending = true

	lookup, host := r.options.Lookup, r.host
	go func() {
		addrs, err := lookup(ctx, host)
		r.loop.QueueInLoop(func() {
			r.onResolved(gen, addrs, err)
		})
	}()
}

//syncResolve 在事件循环中阻塞解析，最多阻塞timeout
func (r *Resolver) syncResolve() {
	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	addrs, err := r.options.Lookup(ctx, r.host)
	if err != nil {
		util.Logger.WithField("host", r.host).WithField("error", err).Warn("dns sync resolve failed")
	}
	r.finish(filterIPv4(addrs))
}

func (r *Resolver) onResolved(gen uint64, addrs []net.IPAddr, err error) {
	// 已经超时、取消或者重新Start了
	if gen != r.gen {
		return
	}
	r.stop()

	if err != nil {
		util.Logger.WithField("host", r.host).WithField("error", err).Warn("dns resolve failed")
	}
	r.finish(filterIPv4(addrs))
}

func (r *Resolver) onTimeout() {
	r.timer = nil
	util.Logger.WithField("host", r.host).WithField("timeout", r.timeout.String()).Warn("dns resolve timeout")
	r.stop()
	r.finish(nil)
}

func (r *Resolver) finish(addrs []net.IP) {
	r.gen++
	r.pending = false
	r.addrs = addrs
	if r.fn != nil {
		r.fn(addrs)
	}
}

//stop 停止超时计时，取消还在进行中的解析
func (r *Resolver) stop() {
	if r.timer != nil {
		r.timer.Cancel()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

//Cancel 取消解析，并释放回调
func (r *Resolver) Cancel() {
	r.loop.RunInLoop(func() {
		r.stop()
		r.gen++
		r.pending = false
		r.fn = nil
	})
}

func (r *Resolver) Host() string {
	return r.host
}

//Addrs 最近一次的解析结果，只能在事件循环中调用
func (r *Resolver) Addrs() []net.IP {
	return r.addrs
}

//filterIPv4 只保留IPv4，去掉0.0.0.0
func filterIPv4(addrs []net.IPAddr) []net.IP {
	result := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ip4 := addr.IP.To4()
		if ip4 == nil || ip4.Equal(net.IPv4zero) {
			continue
		}
		result = append(result, ip4)
	}
	return result
}
