package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendKeepsColumnsAligned(t *testing.T) {
	var b Buffer
	for i := 0; i < 25; i++ {
		require.NoError(t, b.Append(i*10, i, i*2))
		s := b.Snapshot()
		assert.Len(t, s.Times, i+1)
		assert.Len(t, s.MilliVolts, i+1)
		assert.Len(t, s.MilliAmps, i+1)
	}
	assert.Equal(t, 25, b.Len())
}

func TestAppendConvertsMilliseconds(t *testing.T) {
	var b Buffer
	require.NoError(t, b.Append(1500, 5, 1))
	assert.Equal(t, Reading{Seconds: 1.5, MilliVolts: 5, MilliAmps: 1}, b.Snapshot().At(0))
}

func TestAppendDetectsMismatch(t *testing.T) {
	b := Buffer{times: []float64{0}}
	assert.ErrorIs(t, b.Append(1, 1, 1), ErrColumnMismatch)
	assert.Equal(t, 1, b.Len())
}

func TestTail(t *testing.T) {
	var b Buffer
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Append(i*1000, i, i))
	}
	tail := b.Tail(2)
	assert.Equal(t, []float64{3, 4}, tail.Times)
	assert.Equal(t, []int{3, 4}, tail.MilliVolts)

	assert.Equal(t, 5, b.Tail(50).Len())
}

func TestSnapshotIsACopy(t *testing.T) {
	var b Buffer
	require.NoError(t, b.Append(0, 10, 1))
	s := b.Snapshot()
	s.MilliVolts[0] = 99
	assert.Equal(t, 10, b.Snapshot().MilliVolts[0])

	b.Reset()
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 1, s.Len())
}

func TestReadingsRoundTrip(t *testing.T) {
	rs := []Reading{{0, 10, 1}, {1, 20, 2}}
	assert.Equal(t, rs, FromReadings(rs).Readings())
}

func TestDeviceName(t *testing.T) {
	assert.Equal(t, "PT-100 (#42)", Device{Model: "PT-100", Serial: "42"}.Name())
}
