package display

import (
	"time"

	"production-test/internal/telemetry"
)

// RedrawBudget is the shortest interval between two live-view refreshes.
const RedrawBudget = 100 * time.Millisecond

// RedrawFunc receives a copy of the most recent readings.
type RedrawFunc func(window telemetry.Series)

// ThrottleFactor is the number of samples per redraw: max(budget/interval, 1).
func ThrottleFactor(budget, interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	f := int(budget / interval)
	if f < 1 {
		return 1
	}
	return f
}

// Sampler decides which appended samples trigger a redraw.
type Sampler struct {
	factor  int
	window  int
	counter int
	redraw  RedrawFunc
}

// NewSampler builds a sampler. A nil fn disables redraws but still counts.
func NewSampler(factor, window int, fn RedrawFunc) *Sampler {
	if factor < 1 {
		factor = 1
	}
	return &Sampler{factor: factor, window: window, redraw: fn}
}

// Offer is called after each append. It reports whether a redraw fired.
func (s *Sampler) Offer(buf *telemetry.Buffer) bool {
	fire := s.counter == 0
	if fire && s.redraw != nil {
		s.redraw(buf.Tail(s.window))
	}
	s.counter = (s.counter + 1) % s.factor
	return fire
}
