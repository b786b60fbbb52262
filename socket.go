//go:build !windows

package raktr

import (
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// dialTCPNonblock resolves host:port and starts a non-blocking connect,
// returning the new socket's file descriptor. A connect that would block
// (EINPROGRESS) is swallowed here — completion is detected later by the
// reactor when the fd becomes writable.
func dialTCPNonblock(host string, port int) (fd int, err error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return -1, translateError(err)
	}

	domain := unix.AF_INET
	sa := &unix.SockaddrInet4{Port: addr.Port}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		domain = unix.AF_INET6
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa6.Addr[:], addr.IP.To16())
		fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if err != nil {
			return -1, translateError(err)
		}
		if err = unix.Connect(fd, sa6); err != nil && err != unix.EINPROGRESS {
			unix.Close(fd)
			return -1, translateError(err)
		}
		return fd, nil
	}
	copy(sa.Addr[:], ip4)

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, translateError(err)
	}
	if err = unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, translateError(err)
	}
	return fd, nil
}

// dialUnixNonblock opens a non-blocking stream connection to a UNIX socket
// path.
func dialUnixNonblock(path string) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, translateError(err)
	}
	sa := &unix.SockaddrUnix{Name: path}
	if err = unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, translateError(err)
	}
	return fd, nil
}

// listenTCPNonblock creates a non-blocking listening TCP socket bound to
// host:port with the given backlog.
func listenTCPNonblock(host string, port, backlog int) (fd int, err error) {
	addr, err := net.ResolveTCPAddr("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return -1, translateError(err)
	}

	domain := unix.AF_INET
	ip4 := addr.IP.To4()
	if ip4 == nil && addr.IP != nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, translateError(err)
	}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, translateError(err)
	}

	if domain == unix.AF_INET6 {
		sa6 := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa6.Addr[:], addr.IP.To16())
		}
		if err = unix.Bind(fd, sa6); err != nil {
			unix.Close(fd)
			return -1, translateError(err)
		}
	} else {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		if err = unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, translateError(err)
		}
	}

	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, translateError(err)
	}
	return fd, nil
}

// listenUnixNonblock creates a non-blocking listening UNIX stream socket
// bound to path. Whatever file already exists at path is unlinked first,
// without checking whether it is a socket or still in use; an unlink
// failure is ignored.
func listenUnixNonblock(path string, backlog int) (fd int, err error) {
	fd, err = unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, translateError(err)
	}

	_ = unix.Unlink(path)

	sa := &unix.SockaddrUnix{Name: path}
	if err = unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, translateError(err)
	}
	if err = unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, translateError(err)
	}
	return fd, nil
}

// acceptNonblock accepts one pending connection on a listening fd,
// returning the accepted socket's own non-blocking fd.
func acceptNonblock(listenFD int) (fd int, err error) {
	fd, _, err = unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, translateError(err)
	}
	return fd, nil
}

// socketError converts the return value of a getsockopt(SO_ERROR) probe
// (used after a non-blocking connect's fd becomes writable) into nil on
// success or a translated connection error.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return translateError(err)
	}
	if errno != 0 {
		return translateError(unix.Errno(errno))
	}
	return nil
}
