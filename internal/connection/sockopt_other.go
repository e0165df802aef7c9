//go:build !linux

package connection

import "syscall"

// controlSocket is a no-op where TCP_USER_TIMEOUT is unavailable; the
// dialer's keepalive config still applies.
func controlSocket(network, address string, rc syscall.RawConn) error {
	return nil
}
