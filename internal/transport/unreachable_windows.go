//go:build windows

package transport

import (
	"errors"
	"syscall"
)

// wsaeconnreset is what an unconnected UDP socket reads after an ICMP
// port-unreachable on Windows.
const wsaeconnreset = syscall.Errno(10054)

func unreachable(err error) bool {
	return errors.Is(err, wsaeconnreset) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET)
}
