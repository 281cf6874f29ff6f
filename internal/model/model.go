package model

import "time"

// TestRun is one finished production test session.
type TestRun struct {
	SessionID    string    `gorm:"column:session_id;primaryKey"`
	Outcome      string    `gorm:"column:outcome;index"`
	Error        string    `gorm:"column:error"`
	DeviceModel  string    `gorm:"column:device_model;index"`
	DeviceSerial string    `gorm:"column:device_serial;index"`
	DeviceAddr   string    `gorm:"column:device_addr"`
	DevicePort   int       `gorm:"column:device_port"`
	DurationMs   int       `gorm:"column:duration_ms"`
	IntervalMs   int       `gorm:"column:interval_ms"`
	SampleCount  int       `gorm:"column:sample_count"`
	VoltageMin   int       `gorm:"column:voltage_min"`
	VoltageMax   int       `gorm:"column:voltage_max"`
	VoltageMean  float64   `gorm:"column:voltage_mean"`
	CurrentMin   int       `gorm:"column:current_min"`
	CurrentMax   int       `gorm:"column:current_max"`
	CurrentMean  float64   `gorm:"column:current_mean"`
	HasSummary   bool      `gorm:"column:has_summary"`
	ExportPath   string    `gorm:"column:export_path"`
	StartedAt    time.Time `gorm:"column:started_at;index"`
	FinishedAt   time.Time `gorm:"column:finished_at"`

	Readings []Reading `gorm:"foreignKey:SessionID;references:SessionID;constraint:OnDelete:CASCADE"`
}

func (TestRun) TableName() string { return "test_runs" }

// Reading is one telemetry sample of a run, in arrival order.
type Reading struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement"`
	SessionID  string `gorm:"column:session_id;index:idx_run_seq,priority:1"`
	Seq        int    `gorm:"column:seq;index:idx_run_seq,priority:2"`
	TimeMs     int    `gorm:"column:time_ms"`
	MilliVolts int    `gorm:"column:mv"`
	MilliAmps  int    `gorm:"column:ma"`
}

func (Reading) TableName() string { return "readings" }
