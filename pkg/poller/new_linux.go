//go:build linux

package poller

// New returns the platform's readiness selector, epoll on Linux.
func New() (Poller, error) {
	return CreateEpoll()
}
