package eventloop

import (
	"container/heap"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/ikilobyte/netloop/common"
	"github.com/ikilobyte/netloop/iface"
	"github.com/ikilobyte/netloop/util"
	"github.com/petermattis/goid"
)

//EventLoop 单线程事件循环
//所有的定时器、fd回调、投递的任务都只会在运行Run的那个goroutine上执行，
//其他goroutine只能通过QueueInLoop/RunInLoop投递任务
type EventLoop struct {
	poller   *poller
	locker   sync.Mutex
	pending  *queue.Queue // 待执行的任务，locker保护
	notified atomic.Bool  // 是否已经发出过唤醒，多次投递只唤醒一次
	wakeup   *Watcher
	status   atomic.Int32
	gid      atomic.Int64 // 事件循环所在的goroutine
	regs     map[int]*registration
	timers   timerHeap
	timerSeq uint64
	round    uint64 // poll的轮次
	exit     bool
	done     chan struct{}
	wakeups  atomic.Int64
}

//New 创建事件循环，需要调用Run才会开始运行
func New() (*EventLoop, error) {
	loop := &EventLoop{
		pending: queue.New(),
		regs:    make(map[int]*registration),
		timers:  make(timerHeap, 0),
		done:    make(chan struct{}),
	}
	loop.status.Store(int32(common.LoopInitializing))

	p, err := newPoller()
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}
	loop.poller = p

	loop.wakeup = NewWakeupWatcher(loop, loop.doPendingFunctors)
	if err := loop.wakeup.Init(); err != nil {
		_ = p.close()
		return nil, fmt.Errorf("init wakeup watcher: %w", err)
	}

	loop.gid.Store(goid.Get())
	loop.status.Store(int32(common.LoopInitialized))
	return loop, nil
}

//Run 阻塞运行，直到Stop被调用，调用的goroutine即为事件循环所在的goroutine
func (l *EventLoop) Run() error {
	if !l.status.CompareAndSwap(int32(common.LoopInitialized), int32(common.LoopStarting)) {
		return util.ErrLoopStopped
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	l.gid.Store(goid.Get())

	if err := l.wakeup.AsyncWait(); err != nil {
		l.shutdown()
		return fmt.Errorf("watch wakeup: %w", err)
	}

	// Stop可能在Starting期间就被调用了，这时状态已经是Stopping
	l.status.CompareAndSwap(int32(common.LoopStarting), int32(common.LoopRunning))
	util.Logger.WithField("gid", l.gid.Load()).Info("event loop running")

	err := l.dispatch()
	if err != nil {
		util.Logger.WithField("error", err).Error("event loop dispatch error")
	}

	l.shutdown()
	util.Logger.WithField("gid", l.gid.Load()).Info("event loop stopped")
	return err
}

//Stop 任意goroutine都可以调用，投递一个停止任务到事件循环中
func (l *EventLoop) Stop() {
	for {
		status := l.Status()
		switch status {
		case common.LoopInitialized:
			// 还没有运行，直接结束
			l.locker.Lock()
			ok := l.status.CompareAndSwap(int32(status), int32(common.LoopStopped))
			l.locker.Unlock()
			if ok {
				l.release()
				close(l.done)
				return
			}
		case common.LoopStarting, common.LoopRunning:
			if l.status.CompareAndSwap(int32(status), int32(common.LoopStopping)) {
				l.QueueInLoop(l.stopInLoop)
				return
			}
		default:
			return
		}
	}
}

//stopInLoop 先执行完已经投递的任务，再退出，最后再执行一次保证顺序
func (l *EventLoop) stopInLoop() {
	l.doPendingFunctors()
	l.exit = true
	l.doPendingFunctors()
}

//shutdown 标记为Stopped，执行完剩余任务后释放资源
func (l *EventLoop) shutdown() {
	l.locker.Lock()
	l.status.Store(int32(common.LoopStopped))
	l.locker.Unlock()

	l.doPendingFunctors()
	l.release()
}

//release 释放poller和唤醒用的socketpair
func (l *EventLoop) release() {
	l.locker.Lock()
	l.wakeup.Close()
	l.locker.Unlock()

	l.timers = l.timers[:0]
	l.regs = make(map[int]*registration)
	_ = l.poller.close()
}

func (l *EventLoop) dispatch() error {
	for !l.exit {
		l.round++
		if err := l.poller.wait(l.pollTimeout(), l.handleEvent); err != nil {
			return fmt.Errorf("poller wait: %w", err)
		}
		l.runTimers()
	}
	return nil
}

func (l *EventLoop) handleEvent(fd int, ev IOEvent) {
	reg, ok := l.regs[fd]
	if !ok || reg.round == l.round {
		return
	}
	l.safeExecute(func() {
		reg.handle(ev)
	})
}

//pollTimeout 距离最近一个定时器到期的毫秒数，没有定时器时一直阻塞
func (l *EventLoop) pollTimeout() int {
	if l.timers.Len() == 0 {
		return -1
	}

	d := time.Until(l.timers[0].deadline)
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

//runTimers 执行所有已到期的定时器
func (l *EventLoop) runTimers() {
	now := time.Now()
	var expired []*Watcher
	for l.timers.Len() > 0 && !l.timers[0].deadline.After(now) {
		expired = append(expired, heap.Pop(&l.timers).(*Watcher))
	}

	for _, w := range expired {
		l.safeExecute(w.fire)
	}
}

func (l *EventLoop) addTimer(w *Watcher, d time.Duration) {
	l.timerSeq++
	w.seq = l.timerSeq
	w.deadline = time.Now().Add(d)
	heap.Push(&l.timers, w)
}

func (l *EventLoop) removeTimer(w *Watcher) {
	if w.index >= 0 && w.index < l.timers.Len() && l.timers[w.index] == w {
		heap.Remove(&l.timers, w.index)
	}
}

//register 注册fd
func (l *EventLoop) register(fd int, ev IOEvent, handle func(ev IOEvent)) error {
	if err := l.poller.add(fd, ev); err != nil {
		return fmt.Errorf("poller add fd %d: %w", fd, err)
	}
	l.regs[fd] = &registration{
		fd:     fd,
		events: ev,
		round:  l.round,
		handle: handle,
	}
	return nil
}

//update 修改fd关注的事件
func (l *EventLoop) update(fd int, ev IOEvent) error {
	reg, ok := l.regs[fd]
	if !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}
	if err := l.poller.mod(fd, ev); err != nil {
		return fmt.Errorf("poller mod fd %d: %w", fd, err)
	}
	reg.events = ev
	return nil
}

//unregister 删除fd
func (l *EventLoop) unregister(fd int) {
	if _, ok := l.regs[fd]; !ok {
		return
	}
	delete(l.regs, fd)
	if err := l.poller.remove(fd); err != nil {
		util.Logger.WithField("fd", fd).WithField("error", err).Debug("poller remove fd")
	}
}

//RunInLoop 在事件循环中调用时直接执行，否则投递到队列
func (l *EventLoop) RunInLoop(task func()) {
	status := l.Status()
	if (status == common.LoopRunning || status == common.LoopStopping) && l.IsInLoopThread() {
		task()
		return
	}
	l.QueueInLoop(task)
}

//QueueInLoop 投递任务，并发安全，本轮执行期间投递的任务在下一轮执行
func (l *EventLoop) QueueInLoop(task func()) {
	l.locker.Lock()
	defer l.locker.Unlock()

	if l.Status() == common.LoopStopped {
		util.Logger.Debug("event loop stopped, drop task")
		return
	}
	l.pending.Add(task)

	// 已经唤醒过了，等待事件循环处理即可
	if l.notified.CompareAndSwap(false, true) {
		l.wakeups.Add(1)
		l.wakeup.Notify()
	}
}

//doPendingFunctors 把队列整体换出来再执行，执行期间新投递的任务留到下一轮
func (l *EventLoop) doPendingFunctors() {
	l.locker.Lock()
	tasks := l.pending
	l.pending = queue.New()
	l.notified.Store(false)
	l.locker.Unlock()

	for tasks.Length() > 0 {
		task := tasks.Remove().(func())
		l.safeExecute(task)
	}
}

//safeExecute 回调中的panic不能让事件循环退出
func (l *EventLoop) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			util.Logger.WithField("panic", r).WithField("stack", string(debug.Stack())).Error("event loop task panic")
		}
	}()
	task()
}

//RunAfter 延迟执行一次
func (l *EventLoop) RunAfter(delay time.Duration, task func()) *InvokeTimer {
	t := NewInvokeTimer(l, delay, task, false)
	t.Start()
	return t
}

//RunEvery 周期执行
func (l *EventLoop) RunEvery(interval time.Duration, task func()) *InvokeTimer {
	t := NewInvokeTimer(l, interval, task, true)
	t.Start()
	return t
}

//IsInLoopThread 当前goroutine是否为事件循环所在的goroutine
func (l *EventLoop) IsInLoopThread() bool {
	return goid.Get() == l.gid.Load()
}

func (l *EventLoop) Status() common.LoopStatus {
	return common.LoopStatus(l.status.Load())
}

func (l *EventLoop) IsRunning() bool {
	return l.Status() == common.LoopRunning
}

func (l *EventLoop) IsStopped() bool {
	return l.Status() == common.LoopStopped
}

//Done Run返回后关闭
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

//PendingCount 队列中待执行的任务数
func (l *EventLoop) PendingCount() int {
	l.locker.Lock()
	defer l.locker.Unlock()
	return l.pending.Length()
}

//WakeupCount 累计发出的唤醒次数
func (l *EventLoop) WakeupCount() int64 {
	return l.wakeups.Load()
}

var _ iface.IEventLoop = (*EventLoop)(nil)
var _ iface.ITimer = (*InvokeTimer)(nil)
