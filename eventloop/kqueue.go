//go:build darwin || freebsd || dragonfly || netbsd || openbsd

package eventloop

import (
	"golang.org/x/sys/unix"
)

type poller struct {
	kq       int
	events   []unix.Kevent_t
	interest map[int]IOEvent // kqueue按filter注册，修改时需要知道之前的事件
}

//newPoller 创建kqueue
func newPoller() (*poller, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)

	return &poller{
		kq:       fd,
		events:   make([]unix.Kevent_t, 128),
		interest: make(map[int]IOEvent),
	}, nil
}

//apply 根据新旧事件差异生成EV_ADD/EV_DELETE
func (p *poller) apply(fd int, old, ev IOEvent) error {
	changes := make([]unix.Kevent_t, 0, 2)
	filters := []struct {
		flag   IOEvent
		filter int
	}{
		{EventRead, unix.EVFILT_READ},
		{EventWrite, unix.EVFILT_WRITE},
	}

	for _, f := range filters {
		var k unix.Kevent_t
		switch {
		case ev&f.flag != 0 && old&f.flag == 0:
			unix.SetKevent(&k, fd, f.filter, unix.EV_ADD)
		case ev&f.flag == 0 && old&f.flag != 0:
			unix.SetKevent(&k, fd, f.filter, unix.EV_DELETE)
		default:
			continue
		}
		changes = append(changes, k)
	}

	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	return err
}

func (p *poller) add(fd int, ev IOEvent) error {
	if err := p.apply(fd, EventNone, ev); err != nil {
		return err
	}
	p.interest[fd] = ev
	return nil
}

func (p *poller) mod(fd int, ev IOEvent) error {
	if err := p.apply(fd, p.interest[fd], ev); err != nil {
		return err
	}
	p.interest[fd] = ev
	return nil
}

func (p *poller) remove(fd int) error {
	old, ok := p.interest[fd]
	if !ok {
		return nil
	}
	delete(p.interest, fd)
	return p.apply(fd, old, EventNone)
}

//wait 等待事件，msec < 0 表示一直阻塞
func (p *poller) wait(msec int, fn func(fd int, ev IOEvent)) error {
	var timeout *unix.Timespec
	if msec >= 0 {
		ts := unix.NsecToTimespec(int64(msec) * 1e6)
		timeout = &ts
	}

	n, err := unix.Kevent(p.kq, nil, p.events, timeout)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		var (
			event = p.events[i]
			ev    IOEvent
		)

		switch int(event.Filter) {
		case unix.EVFILT_READ:
			ev = EventRead
		case unix.EVFILT_WRITE:
			ev = EventWrite
		}
		if event.Flags&unix.EV_ERROR != 0 || (ev == EventWrite && event.Flags&unix.EV_EOF != 0) {
			ev |= EventError
		}
		fn(int(event.Ident), ev)
	}

	if n == len(p.events) {
		p.events = make([]unix.Kevent_t, n*2)
	}
	return nil
}

func (p *poller) close() error {
	return unix.Close(p.kq)
}
