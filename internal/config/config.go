package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"production-test/internal/export"
	"production-test/internal/session"
)

// RootConfig mirrors config/prodtest.yaml.
type RootConfig struct {
	Device    Endpoint       `yaml:"device"`
	Interface Endpoint       `yaml:"interface"`
	Test      TestConfig     `yaml:"test"`
	Output    OutputConfig   `yaml:"output"`
	Storage   StorageConfig  `yaml:"storage"`
	Capture   CaptureConfig  `yaml:"capture"`
	LiveView  LiveViewConfig `yaml:"live_view"`
}

type Endpoint struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// TestConfig holds the timing of one run. Duration is in seconds and
// Interval in milliseconds, the units the operator types.
type TestConfig struct {
	Duration      int `yaml:"duration"`
	Interval      int `yaml:"interval"`
	DisplayWindow int `yaml:"display_window"`
}

type OutputConfig struct {
	GenerateFile bool   `yaml:"generate_file"`
	Format       string `yaml:"format"`
	Directory    string `yaml:"directory"`
}

type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

type CaptureConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Dir          string `yaml:"dir"`
	FileType     string `yaml:"file_type"` // jsonl | csv | both
	MaxQueueSize int    `yaml:"max_queue_size"`
}

type LiveViewConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the configuration used when no file is given.
func Default() RootConfig {
	var cfg RootConfig
	applyDefaults(&cfg)
	return cfg
}

// Load reads path and fills defaults. Callers apply overrides and then
// call Validate.
func Load(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	return Decode(b)
}

// Decode unmarshals and fills defaults without validating.
func Decode(b []byte) (RootConfig, error) {
	var cfg RootConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *RootConfig) {
	if cfg.Device.Port == 0 {
		cfg.Device.Port = 8080
	}
	if cfg.Interface.Address == "" {
		cfg.Interface.Address = "0.0.0.0"
	}
	if cfg.Interface.Port == 0 {
		cfg.Interface.Port = 9080
	}
	if cfg.Test.Duration == 0 {
		cfg.Test.Duration = 10
	}
	if cfg.Test.Interval == 0 {
		cfg.Test.Interval = 100
	}
	if cfg.Test.DisplayWindow == 0 {
		cfg.Test.DisplayWindow = 50
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = string(export.PDF)
	}
	if cfg.Output.Directory == "" {
		cfg.Output.Directory = "."
	}
	if cfg.Storage.DBPath == "" {
		cfg.Storage.DBPath = "data/prodtest.sqlite"
	}
	if cfg.Capture.Dir == "" {
		cfg.Capture.Dir = "data/capture"
	}
	if cfg.Capture.FileType == "" {
		cfg.Capture.FileType = "jsonl"
	}
	if cfg.Capture.MaxQueueSize <= 0 {
		cfg.Capture.MaxQueueSize = 1000
	}
	if cfg.LiveView.ListenAddress == "" {
		cfg.LiveView.ListenAddress = ":8090"
	}
}

// Validate checks the session parameters plus the sections only the
// wiring layer cares about.
func (c RootConfig) Validate() error {
	p, err := c.Parameters()
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch strings.ToLower(c.Capture.FileType) {
	case "jsonl", "csv", "both":
	default:
		return fmt.Errorf("invalid config: capture file_type %q (want jsonl, csv or both)", c.Capture.FileType)
	}
	return nil
}

// Parameters converts the file units into session parameters.
func (c RootConfig) Parameters() (session.Parameters, error) {
	p := session.Parameters{
		DeviceAddress:    strings.TrimSpace(c.Device.Address),
		DevicePort:       c.Device.Port,
		InterfaceAddress: strings.TrimSpace(c.Interface.Address),
		InterfacePort:    c.Interface.Port,
		Duration:         time.Duration(c.Test.Duration) * time.Second,
		Interval:         time.Duration(c.Test.Interval) * time.Millisecond,
		DisplayWindow:    c.Test.DisplayWindow,
		GenerateFile:     c.Output.GenerateFile,
		OutputDir:        c.Output.Directory,
	}
	if c.Output.GenerateFile {
		f, err := export.ParseFormat(c.Output.Format)
		if err != nil {
			return session.Parameters{}, fmt.Errorf("invalid config: %w", err)
		}
		p.Format = f
	} else if f, err := export.ParseFormat(c.Output.Format); err == nil {
		p.Format = f
	}
	return p, nil
}
