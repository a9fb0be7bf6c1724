package eventloop

import (
	"sync/atomic"
	"time"

	"github.com/ikilobyte/netloop/util"
)

//TimerState 定时器状态
type TimerState int32

const (
	TimerIdle TimerState = iota
	TimerArmed
	TimerFired
	TimerCanceled
)

func (s TimerState) String() string {
	switch s {
	case TimerIdle:
		return "Idle"
	case TimerArmed:
		return "Armed"
	case TimerFired:
		return "Fired"
	case TimerCanceled:
		return "Canceled"
	}
	return "Unknown"
}

//InvokeTimer 可取消的延迟/周期调用
//Start和Cancel都会投递到事件循环中执行，二者按投递顺序生效，
//Cancel生效之后functor不会再被执行
type InvokeTimer struct {
	loop           *EventLoop
	interval       time.Duration
	functor        func()
	periodic       bool
	watcher        *Watcher
	cancelCallback func()
	state          atomic.Int32
}

func NewInvokeTimer(loop *EventLoop, interval time.Duration, functor func(), periodic bool) *InvokeTimer {
	return &InvokeTimer{
		loop:     loop,
		interval: interval,
		functor:  functor,
		periodic: periodic,
	}
}

//Start 开始计时，只有Idle状态的定时器可以启动
func (t *InvokeTimer) Start() {
	t.loop.RunInLoop(t.startInLoop)
}

func (t *InvokeTimer) startInLoop() {
	if t.State() != TimerIdle {
		return
	}

	t.watcher = NewDelayWatcher(t.loop, t.onTriggered, t.interval)
	t.watcher.SetCancelCallback(t.onCanceled)
	if err := t.watcher.Init(); err != nil {
		util.Logger.WithField("error", err).Error("invoke timer init error")
		return
	}
	if err := t.watcher.AsyncWait(); err != nil {
		util.Logger.WithField("error", err).Error("invoke timer watch error")
		return
	}
	t.state.Store(int32(TimerArmed))
}

//Cancel 取消，已经执行过的一次性定时器取消无效果
func (t *InvokeTimer) Cancel() {
	t.loop.RunInLoop(t.cancelInLoop)
}

func (t *InvokeTimer) cancelInLoop() {
	switch t.State() {
	case TimerArmed:
		t.state.Store(int32(TimerCanceled))
		w := t.watcher
		t.watcher = nil
		t.functor = nil
		w.Cancel()
	case TimerIdle:
		t.state.Store(int32(TimerCanceled))
		t.functor = nil
	}
}

//SetCancelCallback 取消成功后执行
func (t *InvokeTimer) SetCancelCallback(cb func()) {
	t.loop.RunInLoop(func() {
		t.cancelCallback = cb
	})
}

func (t *InvokeTimer) onTriggered() {
	if t.State() != TimerArmed {
		return
	}

	// 周期定时器先重新计时，functor里可以直接Cancel
	if t.periodic {
		if err := t.watcher.Watch(t.interval); err != nil {
			util.Logger.WithField("error", err).Error("invoke timer rewatch error")
		}
		t.functor()
		return
	}

	functor := t.functor
	t.state.Store(int32(TimerFired))
	t.watcher = nil
	t.functor = nil
	functor()
}

func (t *InvokeTimer) onCanceled() {
	if cb := t.cancelCallback; cb != nil {
		t.cancelCallback = nil
		cb()
	}
}

//State 任意goroutine都可以读取
func (t *InvokeTimer) State() TimerState {
	return TimerState(t.state.Load())
}

func (t *InvokeTimer) Interval() time.Duration {
	return t.interval
}

func (t *InvokeTimer) IsPeriodic() bool {
	return t.periodic
}
