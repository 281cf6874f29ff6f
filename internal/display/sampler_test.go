package display

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"production-test/internal/telemetry"
)

func TestThrottleFactor(t *testing.T) {
	assert.Equal(t, 2, ThrottleFactor(RedrawBudget, 50*time.Millisecond))
	assert.Equal(t, 10, ThrottleFactor(RedrawBudget, 10*time.Millisecond))
	assert.Equal(t, 3, ThrottleFactor(RedrawBudget, 30*time.Millisecond))
	assert.Equal(t, 1, ThrottleFactor(RedrawBudget, 100*time.Millisecond))
	assert.Equal(t, 1, ThrottleFactor(RedrawBudget, 10*time.Second))
	assert.Equal(t, 1, ThrottleFactor(RedrawBudget, 0))
}

func TestSamplerFiresEveryFactorSamples(t *testing.T) {
	var fired []int
	var buf telemetry.Buffer
	s := NewSampler(ThrottleFactor(RedrawBudget, 50*time.Millisecond), 50, func(w telemetry.Series) {
		fired = append(fired, w.Len()-1)
	})

	for i := 0; i < 7; i++ {
		require.NoError(t, buf.Append(i*50, i, i))
		s.Offer(&buf)
	}
	assert.Equal(t, []int{0, 2, 4, 6}, fired)
}

func TestSamplerSlidingWindow(t *testing.T) {
	var last telemetry.Series
	var buf telemetry.Buffer
	s := NewSampler(1, 3, func(w telemetry.Series) { last = w })

	for i := 0; i < 10; i++ {
		require.NoError(t, buf.Append(i*1000, i, 0))
		assert.True(t, s.Offer(&buf))
	}
	assert.Equal(t, []float64{7, 8, 9}, last.Times)
}

func TestSamplerNilCallback(t *testing.T) {
	var buf telemetry.Buffer
	s := NewSampler(0, 10, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, buf.Append(i, 0, 0))
		assert.True(t, s.Offer(&buf))
	}
}
