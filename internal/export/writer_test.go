package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

var (
	testDevice = telemetry.Device{Model: "PT/100", Serial: "4.2"}
	testDate   = time.Date(2026, 3, 9, 15, 4, 5, 0, time.UTC)
)

func testRequest(t *testing.T, f Format) Request {
	t.Helper()
	s := telemetry.FromReadings([]telemetry.Reading{{Seconds: 0, MilliVolts: 10, MilliAmps: 1}, {Seconds: 0.5, MilliVolts: 20, MilliAmps: 2}, {Seconds: 1, MilliVolts: 30, MilliAmps: 3}})
	sum, err := stats.Summarize(s)
	require.NoError(t, err)
	return NewRequest(testDevice, s, sum, f, t.TempDir(), testDate)
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b_c_d_e_f_g_h_i_j_k", SafeName(`a\b/c:d*e?f"g<h>i|j.k`))
	assert.Equal(t, "plain name", SafeName("plain name"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "Production Test Data | PT/100 (#4.2) | 2026-03-09", FileName(testDevice, testDate))

	req := testRequest(t, PNG)
	assert.Equal(t, "Production Test Data _ PT_100 (#4_2) _ 2026-03-09", req.BaseName)
	assert.Equal(t, req.BaseName+".png", filepath.Base(req.Path()))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("svg")
	require.NoError(t, err)
	assert.Equal(t, SVG, f)
	assert.True(t, f.IsChart())

	_, err = ParseFormat("bmp")
	assert.Error(t, err)
}

func TestExportCharts(t *testing.T) {
	for _, f := range []Format{PDF, PNG, SVG} {
		t.Run(string(f), func(t *testing.T) {
			req := testRequest(t, f)
			path, err := NewWriter().Export(context.Background(), req)
			require.NoError(t, err)
			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
		})
	}
}

func TestExportCSV(t *testing.T) {
	req := testRequest(t, CSV)
	path, err := NewWriter().Export(context.Background(), req)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"time_s", "mv", "ma"}, rows[0])
	assert.Equal(t, []string{"0.5", "20", "2"}, rows[2])
}

func TestExportJSON(t *testing.T) {
	req := testRequest(t, JSON)
	path, err := NewWriter().Export(context.Background(), req)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var got jsonExport
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, testDevice, got.Device)
	assert.Equal(t, 20.0, got.Summary.Voltage.Mean)
	assert.Len(t, got.Readings, 3)
}

func TestExportRejectsEmpty(t *testing.T) {
	req := NewRequest(testDevice, telemetry.Series{}, stats.Summary{}, PDF, t.TempDir(), testDate)
	_, err := NewWriter().Export(context.Background(), req)
	assert.ErrorIs(t, err, stats.ErrNoData)
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	req := testRequest(t, Format("DOCX"))
	_, err := NewWriter().Export(context.Background(), req)
	assert.ErrorContains(t, err, "invalid output format")
	_, statErr := os.Stat(req.Path())
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}
