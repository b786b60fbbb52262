// Package buffer provides the ring buffer raktr uses for per-connection
// incoming and outgoing byte buffering.
package buffer

import (
	"io"
	"syscall"

	"golang.org/x/sys/unix"
)

// RingBuffer is a growable circular byte buffer.
type RingBuffer struct {
	bs      [][]byte
	buf     []byte
	size    int
	r       int // next read position
	w       int // next write position
	isEmpty bool
}

// NewRingBuffer allocates a ring buffer with the given initial capacity.
func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		bs:      make([][]byte, 2),
		buf:     make([]byte, size),
		size:    size,
		isEmpty: true,
	}
}

// Peek returns up to n unread bytes without advancing the read position,
// split across head/tail if the data wraps the end of the backing array.
// n <= 0 returns everything currently buffered.
func (rb *RingBuffer) Peek(n int) (head []byte, tail []byte) {
	if rb.isEmpty {
		return
	}

	if n <= 0 {
		return rb.peekAll()
	}

	if rb.w > rb.r {
		m := rb.w - rb.r
		if m > n {
			m = n
		}
		head = rb.buf[rb.r : rb.r+m]
		return
	}

	m := rb.size - rb.r + rb.w
	if m > n {
		m = n
	}
	if rb.r+m <= rb.size {
		head = rb.buf[rb.r : rb.r+m]
	} else {
		c1 := rb.size - rb.r
		head = rb.buf[rb.r:]
		c2 := m - c1
		tail = rb.buf[:c2]
	}
	return
}

func (rb *RingBuffer) peekAll() (head []byte, tail []byte) {
	if rb.isEmpty {
		return
	}

	if rb.w > rb.r {
		head = rb.buf[rb.r:rb.w]
		return
	}

	head = rb.buf[rb.r:]
	if rb.w != 0 {
		tail = rb.buf[:rb.w]
	}
	return
}

// Discard advances the read position past n unread bytes.
func (rb *RingBuffer) Discard(n int) (discarded int, err error) {
	if n <= 0 {
		return 0, nil
	}
	discarded = rb.Buffered()
	if n < discarded {
		rb.r = (rb.r + n) % rb.size
		return n, nil
	}

	rb.Reset()
	return
}

func (rb *RingBuffer) IsEmpty() bool {
	return rb.isEmpty
}

func (rb *RingBuffer) IsFull() bool {
	return rb.r == rb.w && !rb.isEmpty
}

func (rb *RingBuffer) Reset() {
	rb.isEmpty = true
	rb.r, rb.w = 0, 0
}

// Buffered reports the number of unread bytes.
func (rb *RingBuffer) Buffered() int {
	if rb.w > rb.r {
		return rb.w - rb.r
	}
	if rb.isEmpty {
		return 0
	}
	return rb.size - rb.r + rb.w
}

// Available reports the number of bytes that can be written before the
// buffer must grow.
func (rb *RingBuffer) Available() int {
	if rb.r == rb.w {
		if rb.isEmpty {
			return rb.size
		}
		return 0
	}

	if rb.w < rb.r {
		return rb.r - rb.w
	}

	return rb.size - rb.w + rb.r
}

// Write appends p, growing the backing array if necessary.
func (rb *RingBuffer) Write(p []byte) (n int, err error) {
	n = len(p)
	if n == 0 {
		return
	}

	free := rb.Available()
	if n > free {
		rb.grow(rb.size + n - free)
	}

	if rb.w >= rb.r {
		c1 := rb.size - rb.w
		if c1 >= n {
			copy(rb.buf[rb.w:], p)
			rb.w += n
		} else {
			copy(rb.buf[rb.w:], p[:c1])
			copy(rb.buf, p[c1:])
			rb.w = n - c1
		}
	} else {
		copy(rb.buf[rb.w:], p)
		rb.w += n
	}
	if rb.w == rb.size {
		rb.w = 0
	}
	rb.isEmpty = false
	return
}

// CeilToPowerOfTwo returns the least power of two >= n, and never less
// than 2.
func CeilToPowerOfTwo(n int) int {
	if n <= 2 {
		return 2
	}
	n--
	n = fillBits(n)
	n++
	return n
}

// FloorToPowerOfTwo returns the greatest power of two <= n, and never
// less than 2 (so n <= 1 also yields 2).
func FloorToPowerOfTwo(n int) int {
	if n <= 2 {
		return 2
	}
	n = fillBits(n)
	n >>= 1
	n++
	return n
}

func fillBits(n int) int {
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n
}

func (rb *RingBuffer) grow(newCap int) {
	n := rb.size
	if n == 0 {
		if newCap <= 1024 {
			newCap = 1024
		} else {
			newCap = CeilToPowerOfTwo(newCap)
		}
	} else {
		doubleCap := n + n
		if newCap <= doubleCap {
			if n < 4096 {
				newCap = doubleCap
			} else {
				for 0 < n && n < newCap {
					n += n / 4
				}
				if n > 0 {
					newCap = n
				}
			}
		}
	}

	newBuf := bsPool.Get(newCap)
	oldLen := rb.Buffered()
	_, _ = rb.Read(newBuf)
	bsPool.Put(rb.buf)
	rb.buf = newBuf
	rb.r = 0
	rb.w = oldLen
	rb.size = newCap
	rb.isEmpty = rb.w == 0
}

// Read copies unread bytes into p, advancing the read position.
func (rb *RingBuffer) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}

	if rb.isEmpty {
		return
	}

	if rb.w > rb.r {
		n = rb.w - rb.r
		if n > len(p) {
			n = len(p)
		}
		copy(p, rb.buf[rb.r:rb.r+n])
		rb.r += n
		if rb.r == rb.w {
			rb.Reset()
		}
		return
	}

	n = rb.size - rb.r + rb.w
	if n > len(p) {
		n = len(p)
	}

	if rb.r+n <= rb.size {
		copy(p, rb.buf[rb.r:rb.r+n])
	} else {
		c1 := rb.size - rb.r
		copy(p, rb.buf[rb.r:])
		c2 := n - c1
		copy(p[c1:], rb.buf[:c2])
	}
	rb.r = (rb.r + n) % rb.size
	if rb.r == rb.w {
		rb.Reset()
	}

	return
}

// CopyFromSocket reads directly from fd into the buffer's free space,
// growing first if the buffer is currently full. Used by Connection's
// read handler on non-blocking sockets.
func (rb *RingBuffer) CopyFromSocket(fd int) (n int, err error) {
	if rb.r == rb.w {
		if !rb.isEmpty {
			rb.grow(rb.size + rb.size/2)
			n, err = syscall.Read(fd, rb.buf[rb.w:])
			if n > 0 {
				rb.w = (rb.w + n) % rb.size
			}
			return
		}
		rb.r, rb.w = 0, 0
		n, err = syscall.Read(fd, rb.buf)
		if n > 0 {
			rb.w = (rb.w + n) % rb.size
			rb.isEmpty = false
		}
		return
	}
	if rb.w < rb.r {
		n, err = syscall.Read(fd, rb.buf[rb.w:rb.r])
		if n > 0 {
			rb.w = (rb.w + n) % rb.size
		}
		return
	}

	rb.bs[0] = rb.buf[rb.w:]
	rb.bs[1] = rb.buf[:rb.r]
	n, err = unix.Readv(fd, rb.bs)
	if n > 0 {
		rb.w = (rb.w + n) % rb.size
	}

	return
}

// ReadFrom implements io.ReaderFrom, growing the buffer as needed.
func (rb *RingBuffer) ReadFrom(r io.Reader) (n int64, err error) {
	var m int
	for {
		if rb.Available() < 512 {
			rb.grow(rb.Buffered() + 512)
		}

		if rb.w >= rb.r {
			m, err = r.Read(rb.buf[rb.w:])
			if m < 0 {
				panic("RingBuffer.ReadFrom: reader returned negative count from Read")
			}
			rb.isEmpty = false
			rb.w = (rb.w + m) % rb.size
			n += int64(m)
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return
			}
			m, err = r.Read(rb.buf[:rb.r])
			if m < 0 {
				panic("RingBuffer.ReadFrom: reader returned negative count from Read")
			}
			rb.w = (rb.w + m) % rb.size
			n += int64(m)
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return
			}
		} else {
			m, err = r.Read(rb.buf[rb.w:rb.r])
			if m < 0 {
				panic("RingBuffer.ReadFrom: reader returned negative count from Read")
			}
			rb.isEmpty = false
			rb.w = (rb.w + m) % rb.size
			n += int64(m)
			if err == io.EOF {
				return n, nil
			}
			if err != nil {
				return
			}
		}
	}
}
