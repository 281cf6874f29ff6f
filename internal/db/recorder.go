package db

import (
	"context"
	"fmt"

	"production-test/internal/model"
	"production-test/internal/session"
)

// Record stores a finished session. It satisfies session.Recorder.
func (d *DB) Record(ctx context.Context, res session.Result) error {
	run := &model.TestRun{
		SessionID:    res.SessionID,
		Outcome:      string(res.Outcome),
		DeviceModel:  res.Device.Model,
		DeviceSerial: res.Device.Serial,
		DeviceAddr:   res.Params.DeviceAddress,
		DevicePort:   res.Params.DevicePort,
		DurationMs:   res.Params.DurationMs(),
		IntervalMs:   res.Params.IntervalMs(),
		SampleCount:  res.Readings.Len(),
		ExportPath:   res.ExportPath,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if s := res.Summary; s != nil {
		run.HasSummary = true
		run.SampleCount = s.Count
		run.VoltageMin, run.VoltageMax, run.VoltageMean = s.Voltage.Min, s.Voltage.Max, s.Voltage.Mean
		run.CurrentMin, run.CurrentMax, run.CurrentMean = s.Current.Min, s.Current.Max, s.Current.Mean
	}
	if err := d.SaveRun(ctx, run, res.Readings); err != nil {
		return fmt.Errorf("save run %s: %w", res.SessionID, err)
	}
	return nil
}
