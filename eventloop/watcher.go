package eventloop

import (
	"time"

	"github.com/ikilobyte/netloop/util"
	"golang.org/x/sys/unix"
)

type watcherKind int

const (
	wakeupWatcher watcherKind = iota // socketpair，用于跨goroutine唤醒
	delayWatcher                     // 纯定时，没有fd
)

//Watcher 注册到事件循环上的一个关注条件
//除了Notify，其他方法都只能在事件循环中调用
type Watcher struct {
	loop           *EventLoop
	kind           watcherKind
	handler        func()
	cancelCallback func()
	initialized    bool
	attached       bool

	fds [2]int // wakeup: fds[0]写，fds[1]读

	timeout  time.Duration
	deadline time.Time
	seq      uint64
	index    int // 在timerHeap中的位置，-1表示不在堆中
}

//NewWakeupWatcher 用于唤醒阻塞在poller上的事件循环
func NewWakeupWatcher(loop *EventLoop, handler func()) *Watcher {
	return &Watcher{
		loop:    loop,
		kind:    wakeupWatcher,
		handler: handler,
		fds:     [2]int{-1, -1},
		index:   -1,
	}
}

//NewDelayWatcher 到期后执行一次handler，需要重新Watch才会再次执行
func NewDelayWatcher(loop *EventLoop, handler func(), timeout time.Duration) *Watcher {
	return &Watcher{
		loop:    loop,
		kind:    delayWatcher,
		handler: handler,
		fds:     [2]int{-1, -1},
		timeout: timeout,
		index:   -1,
	}
}

//Init 绑定到事件循环，wakeup类型会创建socketpair
func (w *Watcher) Init() error {
	if w.initialized {
		return nil
	}

	if w.kind == wakeupWatcher {
		fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
		if err != nil {
			return err
		}
		for _, fd := range fds {
			unix.CloseOnExec(fd)
			if err := unix.SetNonblock(fd, true); err != nil {
				_ = unix.Close(fds[0])
				_ = unix.Close(fds[1])
				return err
			}
		}
		w.fds = fds
	}

	w.initialized = true
	return nil
}

//Watch 开始关注，已经关注的会先取消再重新关注
func (w *Watcher) Watch(timeout time.Duration) error {
	if !w.initialized {
		return util.ErrWatcherNotInit
	}
	if w.attached {
		w.detach()
	}

	switch w.kind {
	case wakeupWatcher:
		if err := w.loop.register(w.fds[1], EventRead, w.handleWakeup); err != nil {
			return err
		}
	case delayWatcher:
		w.timeout = timeout
		w.loop.addTimer(w, timeout)
	}

	w.attached = true
	return nil
}

//AsyncWait 使用创建时的超时时间开始关注
func (w *Watcher) AsyncWait() error {
	return w.Watch(w.timeout)
}

//Cancel 取消关注，并执行取消回调
func (w *Watcher) Cancel() {
	if w.attached {
		w.detach()
	}

	if cb := w.cancelCallback; cb != nil {
		w.cancelCallback = nil
		cb()
	}
}

//SetCancelCallback .
func (w *Watcher) SetCancelCallback(cb func()) {
	w.cancelCallback = cb
}

//IsAttached .
func (w *Watcher) IsAttached() bool {
	return w.attached
}

//Notify 唤醒事件循环，任意goroutine都可以调用
func (w *Watcher) Notify() {
	if w.kind != wakeupWatcher || w.fds[0] < 0 {
		return
	}

	// 缓冲区满说明已经有未处理的唤醒，忽略即可
	if _, err := unix.Write(w.fds[0], []byte{0}); err != nil && err != unix.EAGAIN {
		util.Logger.WithField("fd", w.fds[0]).WithField("error", err).Error("wakeup notify error")
	}
}

//Close 取消关注并释放fd
func (w *Watcher) Close() {
	if w.attached {
		w.detach()
	}
	for i, fd := range w.fds {
		if fd >= 0 {
			_ = unix.Close(fd)
			w.fds[i] = -1
		}
	}
	w.initialized = false
}

func (w *Watcher) detach() {
	switch w.kind {
	case wakeupWatcher:
		w.loop.unregister(w.fds[1])
	case delayWatcher:
		w.loop.removeTimer(w)
	}
	w.attached = false
}

//handleWakeup 读空socketpair，再执行handler
func (w *Watcher) handleWakeup(IOEvent) {
	buf := make([]byte, 128)
	for {
		n, err := unix.Read(w.fds[1], buf)
		if err != nil || n <= 0 {
			break
		}
	}
	w.handler()
}

//fire 定时器到期，由事件循环调用
func (w *Watcher) fire() {
	// 到期后在同一轮中被取消或重新Watch
	if !w.attached || w.index >= 0 {
		return
	}
	w.attached = false
	w.handler()
}
