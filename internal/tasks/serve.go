package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"production-test/internal/config"
	"production-test/internal/liveview"
)

// ServeHistory runs the live view HTTP server over the run history only,
// blocking until ctx is canceled.
func ServeHistory(ctx context.Context, opts Options) error {
	cfg, err := LoadHistoryConfig(opts)
	if err != nil {
		return err
	}
	store, err := OpenHistory(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	srv := liveview.New(liveview.NewHub(), store, opts.Version)
	if err := srv.Start(cfg.LiveView.ListenAddress); err != nil {
		return fmt.Errorf("start live view: %w", err)
	}
	log.Printf("serving run history from %s on %s", cfg.Storage.DBPath, srv.Addr())

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// LoadHistoryConfig reads only the storage and live view settings; the
// session sections are not validated.
func LoadHistoryConfig(opts Options) (config.RootConfig, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(opts.ConfigPath); err != nil {
			return config.RootConfig{}, err
		}
	}
	if opts.DBPath != "" {
		cfg.Storage.DBPath = opts.DBPath
	}
	if opts.LiveViewAddr != "" {
		cfg.LiveView.ListenAddress = opts.LiveViewAddr
	}
	return cfg, nil
}
