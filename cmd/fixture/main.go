package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"production-test/internal/fixture"
)

func main() {
	var cfgPath, model, serial, address string
	var port int
	flag.StringVar(&cfgPath, "config", "", "path to YAML config for simulated devices")
	flag.StringVar(&model, "model", "Device", "device model (single device mode)")
	flag.StringVar(&serial, "serial", "1", "device serial number (single device mode)")
	flag.StringVar(&address, "address", "0.0.0.0", "address to bind (single device mode)")
	flag.IntVar(&port, "port", 8080, "UDP port to bind (single device mode)")
	flag.Parse()

	var rootCfg fixture.RootConfig
	if cfgPath != "" {
		var err error
		rootCfg, err = fixture.LoadYAML(cfgPath)
		if err != nil {
			log.Fatalf("load yaml config %s: %v", cfgPath, err)
		}
	} else {
		if port < 1024 || port > 65535 {
			log.Fatalf("port %d outside 1024-65535", port)
		}
		rootCfg.Devices = []fixture.DeviceConfig{{
			Model:       model,
			Serial:      serial,
			Address:     address,
			Port:        port,
			SignalLimit: fixture.SignalLimit,
		}}
	}

	mgr := fixture.NewManager(rootCfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("shutting down devices...")
		cancel()
	}()

	if err := mgr.Run(ctx); err != nil {
		log.Printf("fixture manager exited with error: %v", err)
	}
}
