//go:build darwin || freebsd || netbsd || openbsd

package poller

import (
	"time"

	"golang.org/x/sys/unix"
)

// Kqueue implements Poller over BSD's kqueue(2) facility, grounded on the
// same EVFILT_READ/EVFILT_WRITE split used by event-loop libraries in the
// wider Go netpoll ecosystem.
type Kqueue struct {
	fd     int
	events []unix.Kevent_t
}

// CreateKqueue allocates a new kqueue instance.
func CreateKqueue() (*Kqueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	return &Kqueue{
		fd:     fd,
		events: make([]unix.Kevent_t, 128),
	}, nil
}

func (k *Kqueue) changes(fd int, writable bool) []unix.Kevent_t {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD},
	}
	writeFlag := uint16(unix.EV_DELETE)
	if writable {
		writeFlag = unix.EV_ADD
	}
	changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: writeFlag})
	return changes
}

func (k *Kqueue) Add(fd int, writable bool) error {
	_, err := unix.Kevent(k.fd, k.changes(fd, writable), nil, nil)
	return err
}

func (k *Kqueue) SetWritable(fd int, writable bool) error {
	flag := uint16(unix.EV_DELETE)
	if writable {
		flag = unix.EV_ADD
	}
	_, err := unix.Kevent(k.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flag},
	}, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (k *Kqueue) Remove(fd int) error {
	_, err := unix.Kevent(k.fd, []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}, nil, nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (k *Kqueue) Wait(timeout time.Duration) (readable, writable, errored []int, err error) {
	var ts *unix.Timespec
	if timeout > 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, werr := unix.Kevent(k.fd, nil, k.events, ts)
	if werr != nil {
		if werr == unix.EINTR {
			return nil, nil, nil, nil
		}
		return nil, nil, nil, werr
	}

	for i := 0; i < n; i++ {
		ev := k.events[i]
		fd := int(ev.Ident)
		if ev.Flags&unix.EV_ERROR != 0 {
			errored = append(errored, fd)
			continue
		}
		switch ev.Filter {
		case unix.EVFILT_READ:
			readable = append(readable, fd)
		case unix.EVFILT_WRITE:
			writable = append(writable, fd)
		}
	}

	if n == len(k.events) {
		k.events = make([]unix.Kevent_t, len(k.events)*2)
	}

	return readable, writable, errored, nil
}

func (k *Kqueue) Close() error {
	return unix.Close(k.fd)
}
