package stats

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"production-test/internal/telemetry"
)

// ErrNoData is returned when a session finishes without any telemetry.
var ErrNoData = errors.New("no data collected")

// Channel holds the range and average of one measured quantity.
type Channel struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
}

// Summary is computed once per session from the full reading sequence.
type Summary struct {
	Count   int     `json:"count"`
	Voltage Channel `json:"voltage"`
	Current Channel `json:"current"`
}

// Summarize computes min, max and mean per channel.
func Summarize(s telemetry.Series) (Summary, error) {
	if s.Len() == 0 || len(s.MilliVolts) != len(s.MilliAmps) {
		return Summary{}, ErrNoData
	}
	return Summary{
		Count:   s.Len(),
		Voltage: channel(s.MilliVolts),
		Current: channel(s.MilliAmps),
	}, nil
}

func channel(vals []int) Channel {
	c := Channel{Min: vals[0], Max: vals[0]}
	var sum int64
	for _, v := range vals {
		if v < c.Min {
			c.Min = v
		}
		if v > c.Max {
			c.Max = v
		}
		sum += int64(v)
	}
	c.Mean = float64(sum) / float64(len(vals))
	return c
}

// Range renders "min-max (Average=mean)" with the mean rounded to 3 places.
func (c Channel) Range() string {
	return fmt.Sprintf("%d-%d (Average=%s)", c.Min, c.Max, round3(c.Mean))
}

func round3(v float64) string {
	return strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
}

const rule = "----------------------------------------"

// Lines is the operator summary block printed at the end of a test.
func (s Summary) Lines() []string {
	return []string{
		rule,
		"Data Summary:",
		"Voltage Range (mV): " + s.Voltage.Range(),
		"Current Range (mA): " + s.Current.Range(),
		rule,
	}
}

// Title is the one-line form used on exported charts.
func (s Summary) Title() string {
	return fmt.Sprintf("Voltage Range: %s .... Current Range: %s", s.Voltage.Range(), s.Current.Range())
}
