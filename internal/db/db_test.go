package db

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"production-test/internal/session"
	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "prodtest_test.sqlite")
	d, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = d.Close()
	})
	return d
}

func completedResult(id, serial string, started time.Time) session.Result {
	series := telemetry.Series{
		Times:      []float64{0, 0.05, 0.1},
		MilliVolts: []int{10, 20, 30},
		MilliAmps:  []int{1, 2, 6},
	}
	summary, _ := stats.Summarize(series)
	return session.Result{
		SessionID: id,
		Outcome:   session.OutcomeCompleted,
		Device:    telemetry.Device{Model: "PT-100", Serial: serial},
		Params: session.Parameters{
			DeviceAddress: "192.168.1.50",
			DevicePort:    8080,
			Duration:      2 * time.Second,
			Interval:      50 * time.Millisecond,
		},
		Summary:    &summary,
		Readings:   series,
		ExportPath: "out/run.pdf",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
}

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := d.Record(ctx, completedResult("run-1", "42", started)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := d.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Outcome != "completed" || got.Device.Serial != "42" {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.DurationMs != 2000 || got.IntervalMs != 50 {
		t.Fatalf("unexpected timing %d/%d", got.DurationMs, got.IntervalMs)
	}
	if got.Summary == nil {
		t.Fatalf("expected summary")
	}
	if got.Summary.Voltage.Max != 30 || got.Summary.Current.Mean != 3 || got.Summary.Count != 3 {
		t.Fatalf("unexpected summary %+v", *got.Summary)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("expected started_at %v, got %v", started, got.StartedAt)
	}

	readings, err := d.RunReadings(ctx, "run-1")
	if err != nil {
		t.Fatalf("RunReadings failed: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(readings))
	}
	if readings[1] != (telemetry.Reading{Seconds: 0.05, MilliVolts: 20, MilliAmps: 2}) {
		t.Fatalf("unexpected reading %+v", readings[1])
	}
}

func TestRecordErrorRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	res := session.Result{
		SessionID: "run-err",
		Outcome:   session.OutcomeError,
		Err:       stats.ErrNoData,
		StartedAt: time.Now(),
	}
	if err := d.Record(ctx, res); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	got, err := d.GetRun(ctx, "run-err")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Summary != nil {
		t.Fatalf("expected no summary, got %+v", got.Summary)
	}
	if got.Error != "no data collected" {
		t.Fatalf("unexpected error text %q", got.Error)
	}
	readings, err := d.RunReadings(ctx, "run-err")
	if err != nil {
		t.Fatalf("RunReadings failed: %v", err)
	}
	if len(readings) != 0 {
		t.Fatalf("expected no readings, got %d", len(readings))
	}
}

func TestListRunsFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, serial := range []string{"1", "2", "1"} {
		res := completedResult("run-"+string(rune('a'+i)), serial, base.Add(time.Duration(i)*time.Minute))
		if err := d.Record(ctx, res); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	all, err := d.ListRuns(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "run-c" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	bySerial, err := d.ListRuns(ctx, RunFilter{Serial: "1", Limit: 1})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(bySerial) != 1 || bySerial[0].SessionID != "run-c" {
		t.Fatalf("unexpected filtered runs %+v", bySerial)
	}

	none, err := d.ListRuns(ctx, RunFilter{Outcome: "cancelled"})
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no cancelled runs, got %d", len(none))
	}

	b, err := d.HistoryJSON(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("HistoryJSON failed: %v", err)
	}
	var parsed struct {
		RunCount int       `json:"run_count"`
		Runs     []RunInfo `json:"runs"`
	}
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatalf("failed to unmarshal history: %v", err)
	}
	if parsed.RunCount != 2 {
		t.Fatalf("expected 2 runs, got %d", parsed.RunCount)
	}
}

func TestDeleteRunAndNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	if err := d.Record(ctx, completedResult("run-x", "9", time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := d.DeleteRun(ctx, "run-x"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := d.GetRun(ctx, "run-x"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if _, err := d.RunReadings(ctx, "run-x"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound for readings, got %v", err)
	}
}

func TestRecordDuplicateFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	d := newTestDB(t)

	res := completedResult("run-dup", "1", time.Now())
	if err := d.Record(ctx, res); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := d.Record(ctx, res); err == nil {
		t.Fatalf("expected duplicate session id to fail")
	}
	readings, err := d.RunReadings(ctx, "run-dup")
	if err != nil {
		t.Fatalf("RunReadings failed: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("expected rollback to keep 3 readings, got %d", len(readings))
	}
}
