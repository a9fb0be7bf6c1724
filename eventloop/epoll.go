//go:build linux

package eventloop

import (
	"golang.org/x/sys/unix"
)

type poller struct {
	epfd   int // eventpoll fd
	events []unix.EpollEvent
}

//newPoller 创建epoll
func newPoller() (*poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &poller{
		epfd:   fd,
		events: make([]unix.EpollEvent, 128),
	}, nil
}

func toEpoll(ev IOEvent) uint32 {
	var events uint32
	if ev&EventRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLPRI
	}
	if ev&EventWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func fromEpoll(events uint32) IOEvent {
	var ev IOEvent
	if events&(unix.EPOLLIN|unix.EPOLLPRI|unix.EPOLLRDHUP) != 0 {
		ev |= EventRead
	}
	if events&unix.EPOLLOUT != 0 {
		ev |= EventWrite
	}
	if events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ev |= EventError
	}
	return ev
}

//add 添加事件，默认水平触发
func (p *poller) add(fd int, ev IOEvent) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: toEpoll(ev),
		Fd:     int32(fd),
	})
}

//mod 修改事件
func (p *poller) mod(fd int, ev IOEvent) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: toEpoll(ev),
		Fd:     int32(fd),
	})
}

//remove 删除某个fd的事件
func (p *poller) remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

//wait 等待事件，msec < 0 表示一直阻塞
func (p *poller) wait(msec int, fn func(fd int, ev IOEvent)) error {
	n, err := unix.EpollWait(p.epfd, p.events, msec)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EINTR {
			return nil
		}
		return err
	}

	for i := 0; i < n; i++ {
		event := p.events[i]
		fn(int(event.Fd), fromEpoll(event.Events))
	}

	// 满了就扩容，下次能多取一些
	if n == len(p.events) {
		p.events = make([]unix.EpollEvent, n*2)
	}
	return nil
}

//close 关闭epoll fd
func (p *poller) close() error {
	return unix.Close(p.epfd)
}
