package raktr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

// newTestConnection builds a Connection bound directly to fd, without a
// running reactor loop: onReadable/onWritable are exercised by calling
// them directly, the way the loop thread would. setWritable/detach are
// no-ops against a bare *Reactor with no poller, which is fine since
// these tests never need a real readiness wait.
func newTestConnection(t *testing.T, fd int, hooks Hooks) *Connection {
	t.Helper()
	r := NewReactor()
	r.conns = make(map[int]*Connection)

	h := hooks.Handler()(nil)
	c := newConnection(r, fd, RoleClient, h, nil)
	r.conns[fd] = c
	return c
}

func TestConnectionSendDataFlushesOnWritable(t *testing.T) {
	local, peer := socketpair(t)

	var wroteOK bool
	c := newTestConnection(t, local, Hooks{
		OnWriteFunc: func(*Connection) { wroteOK = true },
	})

	c.SendData([]byte("hello"))
	require.Equal(t, 5, c.OutgoingBuffered())

	c.onWritable(time.Now())
	require.True(t, wroteOK)
	require.Equal(t, 0, c.OutgoingBuffered())

	buf := make([]byte, 16)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf[:n]))
}

func TestConnectionOnReadableDeliversBytes(t *testing.T) {
	local, peer := socketpair(t)

	var received []byte
	c := newTestConnection(t, local, Hooks{
		OnReadFunc: func(_ *Connection, data []byte) { received = append(received, data...) },
	})

	_, err := unix.Write(peer, []byte("ping"))
	require.NoError(t, err)

	c.onReadable(time.Now())
	require.Equal(t, "ping", string(received))
}

func TestConnectionCloseAfterWriteWaitsForDrain(t *testing.T) {
	local, peer := socketpair(t)
	defer unix.Close(peer)

	var closed bool
	c := newTestConnection(t, local, Hooks{
		OnCloseFunc: func(*Connection, error) { closed = true },
	})

	c.SendData([]byte("bye"))
	c.CloseAfterWrite()
	require.False(t, closed, "close should wait for the buffer to drain")

	c.onWritable(time.Now())
	require.True(t, closed)
	require.True(t, c.IsClosed())
}

func TestConnectionCloseIsIdempotent(t *testing.T) {
	local, _ := socketpair(t)

	var closes int
	c := newTestConnection(t, local, Hooks{
		OnCloseFunc: func(*Connection, error) { closes++ },
	})

	c.Close(nil)
	c.Close(nil)
	require.Equal(t, 1, closes)
}

func TestConnectionReceivedDataSnapshotsWithoutConsuming(t *testing.T) {
	local, peer := socketpair(t)

	c := newTestConnection(t, local, Hooks{})

	_, err := unix.Write(peer, []byte("state"))
	require.NoError(t, err)
	c.onReadable(time.Now())

	require.Equal(t, "state", string(c.ReceivedData()))
	require.Equal(t, "state", string(c.ReceivedData()))
}
