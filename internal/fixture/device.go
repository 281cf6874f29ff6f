package fixture

import (
	"errors"
	"log"
	"math/rand"
	"net"
	"sync"
	"time"

	"production-test/internal/protocol"
	"production-test/internal/transport"
)

// SignalLimit bounds the simulated mV and mA readings: values are in [0, SignalLimit).
const SignalLimit = 1000

// Device emulates the test fixture side of the protocol on one UDP port.
// It answers ID probes, streams telemetry after START and stops streaming
// on STOP.
type Device struct {
	Model  string
	Serial string
	Limit  int

	conn      *net.UDPConn
	wg        sync.WaitGroup
	quit      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	peer    *net.UDPAddr
	running bool
	stop    chan struct{}
	rng     *rand.Rand
}

// NewDevice builds a simulator with the given identity.
func NewDevice(model, serial string) *Device {
	return &Device{
		Model:  model,
		Serial: serial,
		Limit:  SignalLimit,
		quit:   make(chan struct{}),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed makes the generated readings reproducible.
func (d *Device) Seed(seed int64) {
	d.mu.Lock()
	d.rng = rand.New(rand.NewSource(seed))
	d.mu.Unlock()
}

// Listen binds address ("host:port") and starts serving.
func (d *Device) Listen(address string) error {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return err
	}
	d.conn = conn

	d.wg.Add(1)
	go d.serve()
	return nil
}

// Addr is the bound address; valid after Listen.
func (d *Device) Addr() *net.UDPAddr {
	return d.conn.LocalAddr().(*net.UDPAddr)
}

// Running reports whether a test is streaming.
func (d *Device) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Close stops any running test and the listener, then waits for goroutines.
func (d *Device) Close() {
	d.closeOnce.Do(func() {
		close(d.quit)
		if d.conn != nil {
			_ = d.conn.Close()
		}
	})
	d.wg.Wait()
}

func (d *Device) serve() {
	defer d.wg.Done()
	buf := make([]byte, transport.BufferSize)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-d.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("fixture %s: read: %v", d.Serial, err)
			continue
		}
		d.mu.Lock()
		d.peer = from
		d.mu.Unlock()
		d.handle(string(buf[:n]))
	}
}

func (d *Device) handle(raw string) {
	switch m := protocol.DecodeCommand(raw).(type) {
	case protocol.Discovery:
		d.send(protocol.EncodeIdentity(d.Model, d.Serial))
	case protocol.Command:
		switch m.Name {
		case "START":
			d.start(m.DurationMs, m.RateMs)
		case "STOP":
			d.cancel()
		}
	case protocol.Malformed:
		log.Printf("fixture %s: malformed command %q: %s", d.Serial, m.Raw, m.Reason)
	}
}

func (d *Device) start(durationMs, rateMs int) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.send(protocol.EncodeResult(protocol.StatusError, "Test was already started"))
		return
	}
	d.running = true
	stop := make(chan struct{})
	d.stop = stop
	d.mu.Unlock()

	log.Printf("fixture %s: running test (%d ms every %d ms)", d.Serial, durationMs, rateMs)
	d.send(protocol.EncodeResult(protocol.StatusStarted, ""))
	d.wg.Add(1)
	go d.stream(durationMs, rateMs, stop)
}

// stream sends one sample per rate step for TIME = 0, rate, ... <= duration.
// STOPPED is only sent when the run was not cancelled.
func (d *Device) stream(durationMs, rateMs int, stop chan struct{}) {
	defer d.wg.Done()
	rate := time.Duration(rateMs) * time.Millisecond
	cancelled := false

loop:
	for i := 0; i <= durationMs; i += rateMs {
		select {
		case <-stop:
			cancelled = true
			break loop
		case <-d.quit:
			cancelled = true
			break loop
		default:
		}
		mv, ma := d.sample()
		d.send(protocol.EncodeTelemetry(protocol.Telemetry{TimeMs: i, MilliVolts: mv, MilliAmps: ma}))

		select {
		case <-time.After(rate):
		case <-stop:
			cancelled = true
			break loop
		case <-d.quit:
			cancelled = true
			break loop
		}
	}

	d.mu.Lock()
	if d.stop == stop {
		d.running = false
		d.stop = nil
	}
	d.mu.Unlock()

	if !cancelled {
		d.send(protocol.EncodeResult(protocol.StatusStopped, ""))
		log.Printf("fixture %s: finished sending test data", d.Serial)
	} else {
		log.Printf("fixture %s: test cancelled", d.Serial)
	}
}

func (d *Device) cancel() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		d.send(protocol.EncodeResult(protocol.StatusError, "Test was already stopped"))
		return
	}
	close(d.stop)
	d.stop = nil
	d.running = false
	d.mu.Unlock()
}

func (d *Device) sample() (mv, ma int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	limit := d.Limit
	if limit <= 0 {
		limit = SignalLimit
	}
	return d.rng.Intn(limit), d.rng.Intn(limit)
}

func (d *Device) send(msg string) {
	d.mu.Lock()
	peer := d.peer
	d.mu.Unlock()
	if peer == nil {
		return
	}
	if _, err := d.conn.WriteToUDP([]byte(msg), peer); err != nil {
		log.Printf("fixture %s: send: %v", d.Serial, err)
	}
}
