package transport

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	// ReceiveTimeout bounds every Receive call. The controller re-checks for
	// cancellation each time it expires.
	ReceiveTimeout = time.Second
	// BufferSize is the largest datagram the protocol uses.
	BufferSize = 1024
)

var (
	// ErrTimeout is returned by Receive when no datagram arrived in time.
	ErrTimeout = errors.New("receive timeout")
	// ErrUnreachable is returned by Receive when the stack reported the
	// device port as closed. The device may still come up.
	ErrUnreachable = errors.New("device unreachable")
)

// Conn is the datagram endpoint used by the session controller.
type Conn interface {
	Send(msg string) error
	Receive() (string, error)
	Close() error
}

// Endpoint names the local bind address and the device address.
type Endpoint struct {
	LocalAddress  string
	LocalPort     int
	DeviceAddress string
	DevicePort    int
	Timeout       time.Duration
}

// UDP is a bound datagram socket aimed at one device.
type UDP struct {
	conn    *net.UDPConn
	remote  *net.UDPAddr
	timeout time.Duration
	buf     []byte
}

// Listen binds the local endpoint and resolves the device address.
func Listen(ep Endpoint) (*UDP, error) {
	local, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ep.LocalAddress, strconv.Itoa(ep.LocalPort)))
	if err != nil {
		return nil, fmt.Errorf("resolve interface address: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", net.JoinHostPort(ep.DeviceAddress, strconv.Itoa(ep.DevicePort)))
	if err != nil {
		return nil, fmt.Errorf("resolve device address: %w", err)
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", local, err)
	}
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = ReceiveTimeout
	}
	return &UDP{conn: conn, remote: remote, timeout: timeout, buf: make([]byte, BufferSize)}, nil
}

// LocalAddr reports the bound address, useful when port 0 was requested.
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram to the device. There is no retry or acknowledgement.
func (u *UDP) Send(msg string) error {
	if _, err := u.conn.WriteToUDP([]byte(msg), u.remote); err != nil {
		return fmt.Errorf("send to %s: %w", u.remote, err)
	}
	return nil
}

// Receive waits up to the configured timeout for one datagram.
func (u *UDP) Receive() (string, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(u.timeout)); err != nil {
		return "", err
	}
	n, _, err := u.conn.ReadFromUDP(u.buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return "", ErrTimeout
		}
		if unreachable(err) {
			return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
		}
		return "", fmt.Errorf("receive: %w", err)
	}
	return string(u.buf[:n]), nil
}

func (u *UDP) Close() error { return u.conn.Close() }
