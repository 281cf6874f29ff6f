package telemetry

import (
	"errors"
	"fmt"
)

// ErrColumnMismatch means the time/mV/mA columns drifted apart.
var ErrColumnMismatch = errors.New("reading columns have different lengths")

// Reading is one sample. Seconds is the device timestamp converted from ms.
type Reading struct {
	Seconds    float64 `json:"seconds" msgpack:"seconds"`
	MilliVolts int     `json:"mv" msgpack:"mv"`
	MilliAmps  int     `json:"ma" msgpack:"ma"`
}

// Device identifies the fixture that answered discovery.
type Device struct {
	Model  string `json:"model"`
	Serial string `json:"serial"`
}

// Name is the operator-facing device name.
func (d Device) Name() string {
	return fmt.Sprintf("%s (#%s)", d.Model, d.Serial)
}

// Buffer is the live, append-only reading store of a session.
// It is owned by one goroutine; other goroutines only ever see Series copies.
type Buffer struct {
	times []float64
	mv    []int
	ma    []int
}

// Append adds one sample. timeMs is converted to seconds.
func (b *Buffer) Append(timeMs, mv, ma int) error {
	if err := b.check(); err != nil {
		return err
	}
	b.times = append(b.times, float64(timeMs)/1000)
	b.mv = append(b.mv, mv)
	b.ma = append(b.ma, ma)
	return b.check()
}

func (b *Buffer) check() error {
	if len(b.times) != len(b.mv) || len(b.times) != len(b.ma) {
		return fmt.Errorf("%w: time=%d mv=%d ma=%d", ErrColumnMismatch, len(b.times), len(b.mv), len(b.ma))
	}
	return nil
}

func (b *Buffer) Len() int { return len(b.times) }

// Reset drops all readings and releases the backing arrays.
func (b *Buffer) Reset() {
	b.times, b.mv, b.ma = nil, nil, nil
}

// Snapshot copies the full history.
func (b *Buffer) Snapshot() Series {
	return b.Tail(len(b.times))
}

// Tail copies the last n readings (all of them when fewer exist).
func (b *Buffer) Tail(n int) Series {
	start := len(b.times) - n
	if start < 0 {
		start = 0
	}
	return Series{
		Times:      append([]float64(nil), b.times[start:]...),
		MilliVolts: append([]int(nil), b.mv[start:]...),
		MilliAmps:  append([]int(nil), b.ma[start:]...),
	}
}

// Series is an immutable column copy of readings.
type Series struct {
	Times      []float64 `json:"times" msgpack:"times"`
	MilliVolts []int     `json:"mv" msgpack:"mv"`
	MilliAmps  []int     `json:"ma" msgpack:"ma"`
}

func (s Series) Len() int { return len(s.Times) }

// At returns reading i.
func (s Series) At(i int) Reading {
	return Reading{Seconds: s.Times[i], MilliVolts: s.MilliVolts[i], MilliAmps: s.MilliAmps[i]}
}

// Readings converts the columns to rows.
func (s Series) Readings() []Reading {
	out := make([]Reading, 0, s.Len())
	for i := range s.Times {
		out = append(out, s.At(i))
	}
	return out
}

// FromReadings builds a Series from rows.
func FromReadings(rs []Reading) Series {
	s := Series{
		Times:      make([]float64, 0, len(rs)),
		MilliVolts: make([]int, 0, len(rs)),
		MilliAmps:  make([]int, 0, len(rs)),
	}
	for _, r := range rs {
		s.Times = append(s.Times, r.Seconds)
		s.MilliVolts = append(s.MilliVolts, r.MilliVolts)
		s.MilliAmps = append(s.MilliAmps, r.MilliAmps)
	}
	return s
}
