//go:build linux

package connection

import (
	"syscall"

	"golang.org/x/sys/unix"
)

const tcpUserTimeoutMillis = 5000

// controlSocket applies best-effort socket options the dialer cannot
// express. TCP_USER_TIMEOUT bounds how long unacknowledged writes may sit
// before the kernel declares the peer dead.
func controlSocket(network, address string, rc syscall.RawConn) error {
	return rc.Control(func(fd uintptr) {
		// Not every kernel supports it; connect anyway when it fails.
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, tcpUserTimeoutMillis)
	})
}
