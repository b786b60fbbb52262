//go:build linux

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// Epoll implements Poller over Linux's epoll(7) facility.
type Epoll struct {
	fd int
	// reusable event buffer, grown on demand
	events []unix.EpollEvent
}

// CreateEpoll allocates a new epoll instance.
func CreateEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate(1)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		fd:     fd,
		events: make([]unix.EpollEvent, 128),
	}, nil
}

func readWriteMask(writable bool) uint32 {
	mask := uint32(unix.EPOLLIN)
	if writable {
		mask |= unix.EPOLLOUT
	}
	return mask
}

func (e *Epoll) Add(fd int, writable bool) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: readWriteMask(writable),
		Fd:     int32(fd),
	})
}

func (e *Epoll) SetWritable(fd int, writable bool) error {
	return unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: readWriteMask(writable),
		Fd:     int32(fd),
	})
}

func (e *Epoll) Remove(fd int) error {
	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (e *Epoll) Wait(timeout time.Duration) (readable, writable, errored []int, err error) {
	msec := -1
	if timeout > 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 {
			msec = 1
		}
	}

	n, werr := unix.EpollWait(e.fd, e.events, msec)
	if werr != nil {
		if werr == unix.EINTR {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, werr
	}

	for i := 0; i < n; i++ {
		ev := e.events[i]
		fd := int(ev.Fd)
		switch {
		case ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0:
			errored = append(errored, fd)
		default:
			if ev.Events&unix.EPOLLIN != 0 {
				readable = append(readable, fd)
			}
			if ev.Events&unix.EPOLLOUT != 0 {
				writable = append(writable, fd)
			}
		}
	}

	if n == len(e.events) {
		e.events = make([]unix.EpollEvent, len(e.events)*2)
	}

	return readable, writable, errored, nil
}

func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}
