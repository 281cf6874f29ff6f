package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"production-test/internal/export"
	"production-test/internal/transport"
)

// Limits on operator-supplied parameters.
const (
	MinPort          = 1024
	MaxPort          = 65535
	MinInterval      = 10 * time.Millisecond
	MaxInterval      = 10 * time.Second
	MinDisplayWindow = 10
	MaxDisplayWindow = 100
)

// Parameters configures one session and does not change while it runs.
type Parameters struct {
	DeviceAddress    string
	DevicePort       int
	InterfaceAddress string
	InterfacePort    int
	Duration         time.Duration
	Interval         time.Duration
	DisplayWindow    int
	GenerateFile     bool
	Format           export.Format
	OutputDir        string
}

// DurationMs is the DURATION field of the start command.
func (p Parameters) DurationMs() int { return int(p.Duration / time.Millisecond) }

// IntervalMs is the RATE field of the start command.
func (p Parameters) IntervalMs() int { return int(p.Interval / time.Millisecond) }

// Validate checks everything the operator can get wrong before the socket opens.
func (p Parameters) Validate() error {
	var errs []error
	if ip := net.ParseIP(p.DeviceAddress); ip == nil || ip.To4() == nil {
		errs = append(errs, fmt.Errorf("device address %q is not an IPv4 address", p.DeviceAddress))
	}
	if p.InterfaceAddress != "" && net.ParseIP(p.InterfaceAddress) == nil {
		errs = append(errs, fmt.Errorf("interface address %q is not an IP address", p.InterfaceAddress))
	}
	if p.DevicePort < MinPort || p.DevicePort > MaxPort {
		errs = append(errs, fmt.Errorf("device port %d outside %d-%d", p.DevicePort, MinPort, MaxPort))
	}
	if p.InterfacePort < MinPort || p.InterfacePort > MaxPort {
		errs = append(errs, fmt.Errorf("interface port %d outside %d-%d", p.InterfacePort, MinPort, MaxPort))
	}
	if p.DevicePort == p.InterfacePort {
		errs = append(errs, errors.New("interface port must be different from device port"))
	}
	if p.Duration < time.Second {
		errs = append(errs, fmt.Errorf("duration %s must be at least 1s", p.Duration))
	}
	if p.Interval < MinInterval || p.Interval > MaxInterval {
		errs = append(errs, fmt.Errorf("interval %s outside %s-%s", p.Interval, MinInterval, MaxInterval))
	}
	if p.DisplayWindow < MinDisplayWindow || p.DisplayWindow > MaxDisplayWindow {
		errs = append(errs, fmt.Errorf("display window %d outside %d-%d", p.DisplayWindow, MinDisplayWindow, MaxDisplayWindow))
	}
	if p.GenerateFile {
		if p.OutputDir == "" {
			errs = append(errs, errors.New("output directory is required when generating a file"))
		}
		if _, err := export.ParseFormat(string(p.Format)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p Parameters) endpoint() transport.Endpoint {
	local := p.InterfaceAddress
	if local == "" {
		local = "0.0.0.0"
	}
	return transport.Endpoint{
		LocalAddress:  local,
		LocalPort:     p.InterfacePort,
		DeviceAddress: p.DeviceAddress,
		DevicePort:    p.DevicePort,
		Timeout:       transport.ReceiveTimeout,
	}
}
