package eventloop

import (
	"github.com/ikilobyte/netloop/util"
)

//Channel 一个fd的可读/可写关注，所有方法只能在事件循环中调用
type Channel struct {
	loop     *EventLoop
	fd       int
	events   IOEvent
	attached bool
	closed   bool
	readFn   func()
	writeFn  func()
}

func NewChannel(loop *EventLoop, fd int, watchRead, watchWrite bool) *Channel {
	c := &Channel{
		loop: loop,
		fd:   fd,
	}
	if watchRead {
		c.events |= EventRead
	}
	if watchWrite {
		c.events |= EventWrite
	}
	return c
}

func (c *Channel) SetReadCallback(fn func()) {
	c.readFn = fn
}

func (c *Channel) SetWriteCallback(fn func()) {
	c.writeFn = fn
}

//Attach 按当前关注的事件注册到事件循环，水平触发
func (c *Channel) Attach() error {
	if c.closed {
		return nil
	}
	if c.attached {
		c.loop.unregister(c.fd)
		c.attached = false
	}
	if c.events == EventNone {
		return nil
	}

	if err := c.loop.register(c.fd, c.events, c.handleEvent); err != nil {
		return err
	}
	c.attached = true
	return nil
}

func (c *Channel) EnableRead() {
	c.update(c.events | EventRead)
}

func (c *Channel) EnableWrite() {
	c.update(c.events | EventWrite)
}

func (c *Channel) DisableRead() {
	c.update(c.events &^ EventRead)
}

func (c *Channel) DisableWrite() {
	c.update(c.events &^ EventWrite)
}

func (c *Channel) DisableAll() {
	c.update(EventNone)
}

//update 事件有变化才重新注册
func (c *Channel) update(events IOEvent) {
	if c.closed || events == c.events {
		return
	}
	c.events = events

	if events == EventNone {
		if c.attached {
			c.loop.unregister(c.fd)
			c.attached = false
		}
		return
	}

	var err error
	if c.attached {
		err = c.loop.update(c.fd, events)
	} else {
		err = c.Attach()
	}
	if err != nil {
		util.Logger.WithField("fd", c.fd).WithField("events", events.String()).WithField("error", err).Error("channel update error")
	}
}

//Close 取消注册并清空回调，之后不会再有任何回调
func (c *Channel) Close() {
	c.DisableAll()
	c.readFn = nil
	c.writeFn = nil
	c.closed = true
}

func (c *Channel) handleEvent(ev IOEvent) {
	// 出错时交给关注的读/写回调，由系统调用拿到具体错误
	if ev&EventError != 0 {
		ev |= c.events
	}

	if ev&EventRead != 0 && c.events&EventRead != 0 && c.readFn != nil {
		c.readFn()
	}

	if ev&EventWrite != 0 && c.events&EventWrite != 0 && c.writeFn != nil {
		c.writeFn()
	}
}

func (c *Channel) Fd() int {
	return c.fd
}

func (c *Channel) IsReadable() bool {
	return c.events&EventRead != 0
}

func (c *Channel) IsWritable() bool {
	return c.events&EventWrite != 0
}

func (c *Channel) IsNone() bool {
	return c.events == EventNone
}

func (c *Channel) IsAttached() bool {
	return c.attached
}

func (c *Channel) EventsString() string {
	return c.events.String()
}
