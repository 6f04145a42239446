package network

import (
	"net"
	"syscall"
)

// ReuseAddrListenConfig returns a net.ListenConfig whose sockets set
// SO_REUSEADDR before binding, so every Gridlight listener (TCP game
// port, WebSocket, discovery, admin API) can rebind immediately after
// a restart instead of waiting out TIME_WAIT. The setsockopt call
// itself is per-OS.
func ReuseAddrListenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var opErr error
			if err := c.Control(func(fd uintptr) {
				opErr = setReuseAddr(fd)
			}); err != nil {
				return err
			}
			return opErr
		},
	}
}
