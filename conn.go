package raktr

import (
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sys/unix"

	"github.com/qadron/raktr/pkg/buffer"
)

// Role identifies how a Connection's socket came to exist.
type Role int

const (
	RoleClient Role = iota
	RoleServerListener
	RoleServerAccepted
)

func (r Role) String() string {
	switch r {
	case RoleClient:
		return "client"
	case RoleServerListener:
		return "server-listener"
	case RoleServerAccepted:
		return "server-accepted"
	default:
		return "unknown"
	}
}

// Connection wraps exactly one non-blocking socket, in one of the three
// roles above. A Connection belongs to at most one Reactor and, once
// closed, is never reused — matching spec.md §3's Connection invariants.
type Connection struct {
	mu sync.Mutex

	id       string
	reactor  *Reactor
	fd       int
	role     Role
	handler  Handler
	initArgs []interface{}

	incoming *buffer.RingBuffer
	outgoing *buffer.RingBuffer

	transport   Transport
	handshaking bool

	closed         bool
	closeAfter     bool // close once outgoing drains
	connectPending bool // client role: non-blocking connect in flight

	// acceptFactory is set only on RoleServerListener connections: it
	// builds a fresh Handler (plus the handlerArgs it was constructed
	// with) for each socket Accept produces.
	acceptFactory func() (Handler, []interface{})
	listenNetwork string
	listenAddr    string
}

const defaultBufferSize = 4096

func newConnection(r *Reactor, fd int, role Role, h Handler, args []interface{}) *Connection {
	c := &Connection{
		id:       uuid.NewV4().String(),
		reactor:  r,
		fd:       fd,
		role:     role,
		handler:  h,
		initArgs: args,
		incoming: buffer.NewRingBuffer(defaultBufferSize),
		outgoing: buffer.NewRingBuffer(defaultBufferSize),
	}
	if h != nil {
		h.bind(c)
	}
	return c
}

// ID returns the connection's unique identity, stamped at construction.
func (c *Connection) ID() string { return c.id }

// FD returns the underlying socket's raw file descriptor.
func (c *Connection) FD() int { return c.fd }

// Role reports how this connection's socket was created.
func (c *Connection) Role() Role { return c.role }

// Reactor returns the reactor this connection is attached to.
func (c *Connection) Reactor() *Reactor { return c.reactor }

// InitArgs returns the positional arguments captured when this
// connection's handler was constructed, for introspection.
func (c *Connection) InitArgs() []interface{} { return c.initArgs }

// IsClosed reports whether Close has already run.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// OutgoingBuffered reports the number of unflushed outgoing bytes.
func (c *Connection) OutgoingBuffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outgoing.Buffered()
}

// ReceivedData returns everything accumulated in the incoming buffer
// without consuming it, for simple echo-style handlers that treat
// received data as a running log rather than draining OnRead themselves.
func (c *Connection) ReceivedData() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	head, tail := c.incoming.Peek(-1)
	out := make([]byte, 0, len(head)+len(tail))
	out = append(out, head...)
	out = append(out, tail...)
	return out
}

// SendData appends b to the outgoing buffer and arranges for the socket
// to be selected for write readiness.
func (c *Connection) SendData(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || len(b) == 0 {
		return
	}
	wasEmpty := c.outgoing.Buffered() == 0
	c.outgoing.Write(b)
	if wasEmpty {
		c.reactor.setWritable(c.fd, true)
	}
}

// CloseAfterWrite requests that the connection close once its outgoing
// buffer fully drains.
func (c *Connection) CloseAfterWrite() {
	c.mu.Lock()
	c.closeAfter = true
	empty := c.outgoing.Buffered() == 0
	c.mu.Unlock()
	if empty {
		c.Close(nil)
	}
}

// Close closes the connection now, detaching it from its reactor and
// invoking OnClose with reason (nil for a clean close).
func (c *Connection) Close(reason error) {
	c.close(reason, true)
}

// CloseIfIdle schedules a delayed task that closes the connection with
// ErrTimeout after the given duration, unless it has already closed by
// then. Traffic on the connection does not reset or postpone the timer.
// spec.md §5 leaves per-operation timeouts up to the caller; this
// is the one concrete pattern it names there — a delay task that closes
// the connection — wrapped so callers don't each hand-roll it.
func (c *Connection) CloseIfIdle(after time.Duration) error {
	return c.reactor.Delay(after, func(time.Time) {
		if !c.IsClosed() {
			c.Close(ErrTimeout)
		}
	})
}

// closeWithoutCallback is used by reactor shutdown: the socket is closed
// and detached but OnClose is never invoked, per spec.md §4.1's
// termination semantics ("internal" closes).
func (c *Connection) closeWithoutCallback() {
	c.close(nil, false)
}

func (c *Connection) close(reason error, notify bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fd := c.fd
	handler := c.handler
	c.mu.Unlock()

	c.reactor.detach(fd)
	unix.Close(fd)

	if notify && handler != nil {
		handler.OnClose(reason)
	}
}

// StartTLS installs a transport upgrade over the connection's socket.
// Subsequent reads/writes are routed through the transport instead of
// directly through the raw fd; the handshake is driven forward on
// successive readiness events rather than blocking the loop thread.
func (c *Connection) StartTLS(opts TLSOptions) {
	c.mu.Lock()
	c.transport = newTLSTransport(&fdReadWriter{fd: c.fd}, opts)
	c.handshaking = true
	c.mu.Unlock()
}

// fdReadWriter adapts a raw non-blocking fd to io.ReadWriter for Transport
// implementations that need to read/write the underlying socket directly.
type fdReadWriter struct{ fd int }

func (f *fdReadWriter) Read(p []byte) (int, error) {
	n, err := unix.Read(f.fd, p)
	if err == unix.EAGAIN {
		return 0, ErrWouldBlock
	}
	return n, err
}

func (f *fdReadWriter) Write(p []byte) (int, error) {
	n, err := unix.Write(f.fd, p)
	if err == unix.EAGAIN {
		return n, ErrWouldBlock
	}
	return n, err
}

// onReadable is invoked by the reactor loop when the poller reports this
// fd readable. Listener connections accept; others read available bytes
// into the incoming buffer and dispatch OnRead.
func (c *Connection) onReadable(now time.Time) {
	if c.role == RoleServerListener {
		c.acceptOne()
		return
	}

	c.mu.Lock()
	transport := c.transport
	handshaking := c.handshaking
	c.mu.Unlock()

	if transport != nil && handshaking {
		if err := transport.Handshake(); err != nil {
			if err == ErrWouldBlock {
				return
			}
			c.Close(translateError(err))
			return
		}
		c.mu.Lock()
		c.handshaking = false
		c.mu.Unlock()
		c.handler.OnConnect()
	}

	var (
		n   int
		err error
	)
	if transport != nil {
		buf := make([]byte, defaultBufferSize)
		n, err = transport.Read(buf)
		if n > 0 {
			c.mu.Lock()
			c.incoming.Write(buf[:n])
			c.mu.Unlock()
		}
		if err != nil && err != ErrWouldBlock {
			c.Close(translateError(err))
			return
		}
	} else {
		c.mu.Lock()
		n, err = c.incoming.CopyFromSocket(c.fd)
		c.mu.Unlock()
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			c.Close(translateError(err))
			return
		}
		if n == 0 {
			c.Close(nil)
			return
		}
	}

	if n > 0 {
		c.handler.OnRead(c.ReceivedData())
	}
}

// DiscardReceived drops n bytes from the front of the incoming buffer,
// marking them consumed. OnRead hands the handler everything currently
// unconsumed on every readable event, not just what just arrived, so a
// handler that has fully processed the data it was given is expected to
// call DiscardReceived(len(data)) — otherwise the same bytes reappear,
// with whatever arrives next appended, on the following OnRead.
func (c *Connection) DiscardReceived(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.incoming.Discard(n)
}

// onWritable is invoked when the poller reports this fd writable: it
// flushes as much of the outgoing buffer as the socket accepts, fires
// OnWrite on a complete flush, completes a pending non-blocking connect's
// OnConnect, and honors a pending CloseAfterWrite.
func (c *Connection) onWritable(now time.Time) {
	c.mu.Lock()
	pendingConnect := c.connectPending
	c.connectPending = false
	c.mu.Unlock()

	if pendingConnect {
		if err := socketError(c.fd); err != nil {
			c.Close(err)
			return
		}
		c.handler.OnConnect()
	}

	c.mu.Lock()
	if c.outgoing.Buffered() == 0 {
		c.mu.Unlock()
		return
	}
	head, tail := c.outgoing.Peek(-1)
	flushed := make([]byte, 0, len(head)+len(tail))
	flushed = append(flushed, head...)
	flushed = append(flushed, tail...)
	c.mu.Unlock()

	n, err := c.writeRaw(flushed)
	if n > 0 {
		c.mu.Lock()
		c.outgoing.Discard(n)
		drained := c.outgoing.Buffered() == 0
		c.mu.Unlock()
		if drained {
			c.reactor.setWritable(c.fd, false)
			c.handler.OnWrite()
			c.mu.Lock()
			shouldClose := c.closeAfter
			c.mu.Unlock()
			if shouldClose {
				c.Close(nil)
				return
			}
		}
	}
	if err != nil && err != unix.EAGAIN {
		c.Close(translateError(err))
	}
}

func (c *Connection) writeRaw(b []byte) (int, error) {
	c.mu.Lock()
	transport := c.transport
	c.mu.Unlock()
	if transport != nil {
		return transport.Write(b)
	}
	return unix.Write(c.fd, b)
}

func (c *Connection) acceptOne() {
	fd, err := acceptNonblock(c.fd)
	if err != nil {
		return
	}

	h, args := c.acceptFactory()
	accepted := newConnection(c.reactor, fd, RoleServerAccepted, h, args)
	if err := c.reactor.attach(accepted, false); err != nil {
		accepted.closeWithoutCallback()
		return
	}
	accepted.handler.OnConnect()
}
