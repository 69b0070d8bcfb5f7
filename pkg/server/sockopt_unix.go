//go:build unix

package server

import (
	"syscall"
)

// broadcastControl enables SO_BROADCAST and sets the IP TTL on a UDP socket.
func broadcastControl(ttl int) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var opErr error
		err := c.Control(func(fd uintptr) {
			opErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			if opErr == nil && ttl > 0 {
				opErr = syscall.SetsockoptInt(int(fd), syscall.IPPROTO_IP, syscall.IP_TTL, ttl)
			}
		})
		if err != nil {
			return err
		}
		return opErr
	}
}
