//go:build windows

package netio

import (
	"net"
	"syscall"
)

// reuseAddrListenConfig returns a net.ListenConfig that sets SO_REUSEADDR
// on the socket before binding, so a slot's relay port can be rebound
// immediately after the engine restarts without waiting out TIME_WAIT.
func reuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
}
