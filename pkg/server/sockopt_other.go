//go:build !unix

package server

import "syscall"

// broadcastControl is a no-op where socket options are not exposed.
func broadcastControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}
