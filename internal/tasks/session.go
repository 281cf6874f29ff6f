package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"production-test/internal/capture"
	"production-test/internal/config"
	"production-test/internal/db"
	"production-test/internal/liveview"
	"production-test/internal/session"
)

// Options defines initialization overrides for a test run.
// Mirrors the CLI flags used in cmd/prodtest. Zero values keep the YAML
// (or default) setting.
type Options struct {
	ConfigPath string

	DeviceAddress    string
	DevicePort       int
	InterfaceAddress string
	InterfacePort    int

	Duration      int // seconds
	Interval      int // milliseconds
	DisplayWindow int

	GenerateFile bool
	Format       string
	OutputDir    string

	StorageEnabled bool
	DBPath         string

	CaptureEnabled bool
	CaptureDir     string
	CaptureType    string

	LiveView     bool
	LiveViewAddr string

	Version string
}

// Reporter receives every session event in order.
type Reporter func(session.Event)

// LoadConfig loads the YAML file when one is named, applies overrides and
// validates the result.
func LoadConfig(opts Options) (config.RootConfig, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		// validated once overrides are applied
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.RootConfig{}, err
		}
	}

	// Override YAML with provided options
	if opts.DeviceAddress != "" {
		cfg.Device.Address = opts.DeviceAddress
	}
	if opts.DevicePort > 0 {
		cfg.Device.Port = opts.DevicePort
	}
	if opts.InterfaceAddress != "" {
		cfg.Interface.Address = opts.InterfaceAddress
	}
	if opts.InterfacePort > 0 {
		cfg.Interface.Port = opts.InterfacePort
	}
	if opts.Duration > 0 {
		cfg.Test.Duration = opts.Duration
	}
	if opts.Interval > 0 {
		cfg.Test.Interval = opts.Interval
	}
	if opts.DisplayWindow > 0 {
		cfg.Test.DisplayWindow = opts.DisplayWindow
	}
	if opts.GenerateFile {
		cfg.Output.GenerateFile = true
	}
	if opts.Format != "" {
		cfg.Output.Format = opts.Format
		cfg.Output.GenerateFile = true
	}
	if opts.OutputDir != "" {
		cfg.Output.Directory = opts.OutputDir
	}
	if opts.StorageEnabled {
		cfg.Storage.Enabled = true
	}
	if opts.DBPath != "" {
		cfg.Storage.DBPath = opts.DBPath
		cfg.Storage.Enabled = true
	}
	if opts.CaptureEnabled {
		cfg.Capture.Enabled = true
	}
	if opts.CaptureDir != "" {
		cfg.Capture.Dir = opts.CaptureDir
		cfg.Capture.Enabled = true
	}
	if opts.CaptureType != "" {
		cfg.Capture.FileType = opts.CaptureType
		cfg.Capture.Enabled = true
	}
	if opts.LiveView {
		cfg.LiveView.Enabled = true
	}
	if opts.LiveViewAddr != "" {
		cfg.LiveView.ListenAddress = opts.LiveViewAddr
		cfg.LiveView.Enabled = true
	}

	if err := cfg.Validate(); err != nil {
		return config.RootConfig{}, err
	}
	return cfg, nil
}

// OpenHistory opens the run history database, creating its directory.
func OpenHistory(path string) (*db.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	store, err := db.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	return store, nil
}

// RunSession loads config, wires storage, capture and the live view, runs one
// session to completion and returns its result. Session outcomes (including
// Error) are reported through the result; the error return is for setup
// failures only.
func RunSession(ctx context.Context, opts Options, report Reporter) (*session.Result, error) {
	cfg, err := LoadConfig(opts)
	if err != nil {
		return nil, err
	}
	params, err := cfg.Parameters()
	if err != nil {
		return nil, err
	}

	var ctlOpts []session.Option

	var store *db.DB
	if cfg.Storage.Enabled {
		store, err = OpenHistory(cfg.Storage.DBPath)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Printf("close history: %v", err)
			}
		}()
		ctlOpts = append(ctlOpts, session.WithRecorder(store))
	}

	if cfg.Capture.Enabled {
		c := cfg.Capture
		ctlOpts = append(ctlOpts, session.WithJournal(func(id string) (session.Journal, error) {
			return capture.Open(c.Dir, id, c.FileType, c.MaxQueueSize)
		}))
	}

	if cfg.LiveView.Enabled {
		hub := liveview.NewHub()
		var runs liveview.RunStore
		if store != nil {
			runs = store
		}
		srv := liveview.New(hub, runs, opts.Version)
		if err := srv.Start(cfg.LiveView.ListenAddress); err != nil {
			return nil, fmt.Errorf("start live view: %w", err)
		}
		log.Printf("live view listening on %s", srv.Addr())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Printf("live view shutdown: %v", err)
			}
		}()
		ctlOpts = append(ctlOpts, session.WithRedraw(hub.Redraw))
		report = tee(hub.Publish, report)
	}

	ctl := session.New(params, ctlOpts...)
	events, err := ctl.Start(ctx)
	if err != nil {
		return nil, err
	}

	var res *session.Result
	for e := range events {
		if report != nil {
			report(e)
		}
		if e.Kind == session.EventFinished {
			res = e.Result
		}
	}
	if res == nil {
		return nil, errors.New("session ended without a result")
	}
	return res, nil
}

func tee(a, b Reporter) Reporter {
	return func(e session.Event) {
		a(e)
		if b != nil {
			b(e)
		}
	}
}
