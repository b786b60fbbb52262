//go:build windows

package raktr

import "errors"

// errUnsupportedPlatform is returned by every socket primitive on
// platforms raktr's non-blocking socket layer does not cover. These stubs
// cover socket.go only: conn.go and pkg/buffer also call
// golang.org/x/sys/unix directly, so they do not by themselves make the
// package build on Windows.
var errUnsupportedPlatform = errors.New("raktr: unsupported platform")

func dialTCPNonblock(host string, port int) (int, error)      { return -1, errUnsupportedPlatform }
func dialUnixNonblock(path string) (int, error)                { return -1, errUnsupportedPlatform }
func listenTCPNonblock(host string, port, backlog int) (int, error) {
	return -1, errUnsupportedPlatform
}
func listenUnixNonblock(path string, backlog int) (int, error) { return -1, errUnsupportedPlatform }
func acceptNonblock(listenFD int) (int, error)                 { return -1, errUnsupportedPlatform }
func socketError(fd int) error                                 { return errUnsupportedPlatform }
