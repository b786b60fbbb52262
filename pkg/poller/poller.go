// Package poller provides the readiness-selector primitive the reactor
// loop is built on: register raw socket file descriptors and block for
// read/write/error readiness with a bounded timeout.
package poller

import "time"

// Poller multiplexes readiness for a set of file descriptors. All methods
// are expected to be called from a single thread (the reactor loop
// thread); implementations do not need to be safe for concurrent use.
type Poller interface {
	// Add registers fd for read and error readiness, and for write
	// readiness too if writable is true.
	Add(fd int, writable bool) error
	// SetWritable toggles write-readiness interest for a registered fd.
	// The reactor calls this whenever a connection's outgoing buffer
	// transitions between empty and non-empty.
	SetWritable(fd int, writable bool) error
	// Remove deregisters fd. Safe to call even if fd was never added.
	Remove(fd int) error
	// Wait blocks until readiness or timeout, whichever comes first. A
	// non-positive timeout blocks indefinitely.
	Wait(timeout time.Duration) (readable, writable, errored []int, err error)
	// Close releases the underlying selector resource.
	Close() error
}
