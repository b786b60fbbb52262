package raktr

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"time"
)

// ErrWouldBlock is returned by a Transport's Read/Write when it made
// partial or no progress and needs another readiness event before it can
// continue — typically mid-handshake. The reactor treats it exactly like
// EAGAIN on a raw socket.
var ErrWouldBlock = errors.New("raktr: would block")

// Transport substitutes raw socket I/O with a wrapping byte stream (TLS
// being the motivating case) while preserving the non-blocking contract:
// Read/Write must return ErrWouldBlock rather than blocking the loop
// thread. The reactor core only depends on this interface; it never
// implements record framing itself (§1).
type Transport interface {
	io.ReadWriter
	// Handshake drives any connection-establishment step (e.g. the TLS
	// handshake) forward by one non-blocking attempt. It returns
	// ErrWouldBlock until the handshake completes.
	Handshake() error
}

// TLSOptions configures StartTLS. Config is used as-is if set; otherwise
// a minimal default is built from ServerName/InsecureSkipVerify.
type TLSOptions struct {
	Config             *tls.Config
	ServerName         string
	InsecureSkipVerify bool
	Server             bool // true for an accepted connection upgrading server-side
}

// tlsTransport adapts *tls.Conn (built over an rwConn wrapping the
// connection's own fd) to the Transport interface. This is the one piece
// of raktr built on the standard library rather than a retrieval-pack
// dependency: spec.md places TLS record framing outside the reactor
// core's responsibility, and no example repository in the pack ships a
// non-stdlib TLS implementation to ground on instead.
type tlsTransport struct {
	conn *tls.Conn
}

func newTLSTransport(raw io.ReadWriter, opts TLSOptions) *tlsTransport {
	cfg := opts.Config
	if cfg == nil {
		cfg = &tls.Config{ServerName: opts.ServerName, InsecureSkipVerify: opts.InsecureSkipVerify} //nolint:gosec
	}

	rw := &rwConn{ReadWriter: raw}
	var tc *tls.Conn
	if opts.Server {
		tc = tls.Server(rw, cfg)
	} else {
		tc = tls.Client(rw, cfg)
	}
	return &tlsTransport{conn: tc}
}

func (t *tlsTransport) Handshake() error {
	err := t.conn.Handshake()
	if err == nil {
		return nil
	}
	if isWouldBlock(err) {
		return ErrWouldBlock
	}
	return err
}

func (t *tlsTransport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil && isWouldBlock(err) {
		return n, ErrWouldBlock
	}
	return n, err
}

func (t *tlsTransport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil && isWouldBlock(err) {
		return n, ErrWouldBlock
	}
	return n, err
}

func isWouldBlock(err error) bool {
	if errors.Is(err, ErrWouldBlock) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}

// rwConn promotes an io.ReadWriter (the connection's raw fd I/O) to the
// net.Conn shape crypto/tls requires, with deadline/address methods as
// harmless no-ops since the reactor, not tls.Conn, owns the fd's
// lifecycle and readiness.
type rwConn struct {
	io.ReadWriter
}

func (rwConn) Close() error                       { return nil }
func (rwConn) LocalAddr() net.Addr                { return noAddr{} }
func (rwConn) RemoteAddr() net.Addr               { return noAddr{} }
func (rwConn) SetDeadline(time.Time) error        { return nil }
func (rwConn) SetReadDeadline(time.Time) error    { return nil }
func (rwConn) SetWriteDeadline(time.Time) error   { return nil }

type noAddr struct{}

func (noAddr) Network() string { return "raktr" }
func (noAddr) String() string  { return "raktr" }
