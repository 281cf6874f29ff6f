package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"

	"production-test/internal/model"
	"production-test/internal/stats"
	"production-test/internal/telemetry"
)

// ErrRunNotFound is returned when a session ID has no stored run.
var ErrRunNotFound = errors.New("run not found")

// DB wraps sqlite connection
type DB struct {
	ORM *gorm.DB
}

// RunInfo mirrors a row of test_runs for history output.
type RunInfo struct {
	SessionID  string           `json:"session_id" msgpack:"session_id"`
	Outcome    string           `json:"outcome" msgpack:"outcome"`
	Error      string           `json:"error,omitempty" msgpack:"error,omitempty"`
	Device     telemetry.Device `json:"device" msgpack:"device"`
	DeviceAddr string           `json:"device_addr" msgpack:"device_addr"`
	DevicePort int              `json:"device_port" msgpack:"device_port"`
	DurationMs int              `json:"duration_ms" msgpack:"duration_ms"`
	IntervalMs int              `json:"interval_ms" msgpack:"interval_ms"`
	Summary    *stats.Summary   `json:"summary,omitempty" msgpack:"summary,omitempty"`
	ExportPath string           `json:"export_path,omitempty" msgpack:"export_path,omitempty"`
	StartedAt  time.Time        `json:"started_at" msgpack:"started_at"`
	FinishedAt time.Time        `json:"finished_at" msgpack:"finished_at"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Serial  string
	Outcome string
	Limit   int
}

func toInfo(r model.TestRun) RunInfo {
	info := RunInfo{
		SessionID:  r.SessionID,
		Outcome:    r.Outcome,
		Error:      r.Error,
		Device:     telemetry.Device{Model: r.DeviceModel, Serial: r.DeviceSerial},
		DeviceAddr: r.DeviceAddr,
		DevicePort: r.DevicePort,
		DurationMs: r.DurationMs,
		IntervalMs: r.IntervalMs,
		ExportPath: r.ExportPath,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
	if r.HasSummary {
		info.Summary = &stats.Summary{
			Count:   r.SampleCount,
			Voltage: stats.Channel{Min: r.VoltageMin, Max: r.VoltageMax, Mean: r.VoltageMean},
			Current: stats.Channel{Min: r.CurrentMin, Max: r.CurrentMax, Mean: r.CurrentMean},
		}
	}
	return info
}

// ListRuns returns runs newest first.
func (d *DB) ListRuns(ctx context.Context, f RunFilter) ([]RunInfo, error) {
	q := d.ORM.WithContext(ctx).Order("started_at DESC")
	if f.Serial != "" {
		q = q.Where("device_serial = ?", f.Serial)
	}
	if f.Outcome != "" {
		q = q.Where("outcome = ?", f.Outcome)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var runs []model.TestRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, err
	}
	out := make([]RunInfo, 0, len(runs))
	for _, r := range runs {
		out = append(out, toInfo(r))
	}
	return out, nil
}

// GetRun returns a single run by session ID.
func (d *DB) GetRun(ctx context.Context, sessionID string) (RunInfo, error) {
	var r model.TestRun
	err := d.ORM.WithContext(ctx).Where("session_id = ?", sessionID).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, sessionID)
	}
	if err != nil {
		return RunInfo{}, err
	}
	return toInfo(r), nil
}

// RunReadings returns the readings of a run in arrival order.
func (d *DB) RunReadings(ctx context.Context, sessionID string) ([]telemetry.Reading, error) {
	if _, err := d.GetRun(ctx, sessionID); err != nil {
		return nil, err
	}
	var rows []model.Reading
	if err := d.ORM.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("seq").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]telemetry.Reading, 0, len(rows))
	for _, r := range rows {
		out = append(out, telemetry.Reading{
			Seconds:    float64(r.TimeMs) / 1000,
			MilliVolts: r.MilliVolts,
			MilliAmps:  r.MilliAmps,
		})
	}
	return out, nil
}

// SaveRun inserts a run with its readings.
func (d *DB) SaveRun(ctx context.Context, run *model.TestRun, series telemetry.Series) error {
	readings := make([]model.Reading, 0, series.Len())
	for i := 0; i < series.Len(); i++ {
		readings = append(readings, model.Reading{
			SessionID:  run.SessionID,
			Seq:        i,
			TimeMs:     int(math.Round(series.Times[i] * 1000)),
			MilliVolts: series.MilliVolts[i],
			MilliAmps:  series.MilliAmps[i],
		})
	}
	return insertRun(ctx, d.ORM, run, readings)
}

// DeleteRun removes a run and its readings.
func (d *DB) DeleteRun(ctx context.Context, sessionID string) error {
	return deleteRun(ctx, d.ORM, sessionID)
}

func (d *DB) Close() error { return closeORM(d.ORM) }

// Open opens the SQLite database using GORM and runs migrations.
func Open(path string) (*DB, error) {
	g, err := openORM(path)
	if err != nil {
		return nil, err
	}
	if err := migrateORM(g); err != nil {
		_ = closeORM(g)
		return nil, err
	}
	return &DB{ORM: g}, nil
}

// HistoryJSON returns the most recent runs as JSON.
func (d *DB) HistoryJSON(ctx context.Context, f RunFilter) ([]byte, error) {
	runs, err := d.ListRuns(ctx, f)
	if err != nil {
		return nil, err
	}
	return json.Marshal(struct {
		RunCount int       `json:"run_count"`
		Runs     []RunInfo `json:"runs"`
	}{len(runs), runs})
}
