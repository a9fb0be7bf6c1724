package eventloop

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunAfter(t *testing.T) {
	loop := startLoop(t)

	var n atomic.Int32
	start := time.Now()
	var elapsed atomic.Int64
	timer := loop.RunAfter(30*time.Millisecond, func() {
		elapsed.Store(int64(time.Since(start)))
		n.Add(1)
	})

	require.Eventually(t, func() bool {
		return n.Load() == 1
	}, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, time.Duration(elapsed.Load()), 30*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), n.Load())
	assert.Equal(t, TimerFired, timer.State())

	// 已经执行过，取消不会触发取消回调
	var canceled atomic.Bool
	timer.SetCancelCallback(func() {
		canceled.Store(true)
	})
	timer.Cancel()
	runSync(t, loop, func() {})
	assert.False(t, canceled.Load())
	assert.Equal(t, TimerFired, timer.State())
}

func TestRunEvery(t *testing.T) {
	loop := startLoop(t)

	var n atomic.Int32
	timer := loop.RunEvery(10*time.Millisecond, func() {
		n.Add(1)
	})

	require.Eventually(t, func() bool {
		return n.Load() >= 3
	}, 2*time.Second, time.Millisecond)

	timer.Cancel()
	runSync(t, loop, func() {})
	assert.Equal(t, TimerCanceled, timer.State())

	fired := n.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, fired, n.Load())
}

func TestCancelBeforeFire(t *testing.T) {
	loop := startLoop(t)

	var (
		n        atomic.Int32
		canceled atomic.Int32
	)
	timer := NewInvokeTimer(loop, 30*time.Millisecond, func() {
		n.Add(1)
	}, false)
	timer.SetCancelCallback(func() {
		canceled.Add(1)
	})
	timer.Start()
	timer.Cancel()

	time.Sleep(80 * time.Millisecond)
	runSync(t, loop, func() {})
	assert.Equal(t, int32(0), n.Load())
	assert.Equal(t, int32(1), canceled.Load())
	assert.Equal(t, TimerCanceled, timer.State())

	// 再次启动无效
	timer.Start()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
}

func TestCancelIdleTimer(t *testing.T) {
	loop := startLoop(t)

	var n atomic.Int32
	timer := NewInvokeTimer(loop, time.Millisecond, func() {
		n.Add(1)
	}, false)
	timer.Cancel()
	timer.Start()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), n.Load())
	assert.Equal(t, TimerCanceled, timer.State())
}

func TestCancelFromOtherGoroutines(t *testing.T) {
	loop := startLoop(t)

	const count = 200
	var (
		wg        sync.WaitGroup
		violation atomic.Bool
		fired     atomic.Int32
		canceled  atomic.Int32
	)

	for i := 0; i < count; i++ {
		acked := false // 只在事件循环中读写
		timer := NewInvokeTimer(loop, time.Duration(i%3)*time.Millisecond, func() {
			if acked {
				violation.Store(true)
			}
			fired.Add(1)
		}, i%2 == 0)
		timer.SetCancelCallback(func() {
			acked = true
			canceled.Add(1)
		})
		timer.Start()

		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			timer.Cancel()
		}()
	}
	wg.Wait()

	time.Sleep(20 * time.Millisecond)
	runSync(t, loop, func() {})
	assert.False(t, violation.Load())
	assert.Greater(t, canceled.Load(), int32(0))
}

func TestPeriodicCancelInsideFunctor(t *testing.T) {
	loop := startLoop(t)

	var (
		n     atomic.Int32
		timer *InvokeTimer
	)
	timer = NewInvokeTimer(loop, 5*time.Millisecond, func() {
		if n.Add(1) == 2 {
			timer.Cancel()
		}
	}, true)
	timer.Start()

	require.Eventually(t, func() bool {
		return timer.State() == TimerCanceled
	}, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), n.Load())
}

func TestTimerState(t *testing.T) {
	assert.Equal(t, "Armed", TimerArmed.String())
	assert.Equal(t, "Unknown", TimerState(9).String())
}
