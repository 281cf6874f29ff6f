//go:build !windows

package transport

import (
	"errors"
	"syscall"
)

// unreachable reports an ICMP port-unreachable surfaced on the socket.
func unreachable(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET)
}
