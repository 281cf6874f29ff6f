package fixture

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// RootConfig mirrors config/fixture.yaml.
type RootConfig struct {
	Devices []DeviceConfig `yaml:"devices"`
}

type DeviceConfig struct {
	Model       string `yaml:"model"`
	Serial      string `yaml:"serial"`
	Address     string `yaml:"address"`
	Port        int    `yaml:"port"`
	SignalLimit int    `yaml:"signal_limit"`
	Seed        int64  `yaml:"seed"`
	RetryCount  int    `yaml:"retry_count"`
	Enabled     *bool  `yaml:"enabled"`
}

// IsEnabled treats a missing flag as enabled.
func (d DeviceConfig) IsEnabled() bool { return d.Enabled == nil || *d.Enabled }

func (d DeviceConfig) ListenAddress() string {
	return net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
}

func LoadYAML(path string) (RootConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return RootConfig{}, err
	}
	var cfg RootConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return RootConfig{}, err
	}
	// Defaults
	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		if d.Model == "" {
			d.Model = "Device"
		}
		if d.Serial == "" {
			d.Serial = strconv.Itoa(i + 1)
		}
		if d.Address == "" {
			d.Address = "0.0.0.0"
		}
		if d.SignalLimit <= 0 {
			d.SignalLimit = SignalLimit
		}
		if d.RetryCount < 0 {
			d.RetryCount = 0
		}
	}
	// Basic validation
	if len(cfg.Devices) == 0 {
		return RootConfig{}, fmt.Errorf("no devices configured")
	}
	for _, d := range cfg.Devices {
		if d.Port < 1024 || d.Port > 65535 {
			return RootConfig{}, fmt.Errorf("device %s: port %d outside 1024-65535", d.Serial, d.Port)
		}
	}
	return cfg, nil
}

// Manager runs several simulated devices concurrently.
type Manager struct {
	Cfg     RootConfig
	devices map[string]*Device
	mu      sync.Mutex
	ready   chan struct{}
}

func NewManager(cfg RootConfig) *Manager {
	return &Manager{Cfg: cfg, devices: make(map[string]*Device), ready: make(chan struct{})}
}

// Ready is closed once every enabled device has either bound or given up.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Device returns a running simulator by serial.
func (m *Manager) Device(serial string) (*Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[serial]
	return d, ok
}

// Run starts all enabled devices and blocks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) error {
	var wg, started sync.WaitGroup
	sem := make(chan struct{}, 16) // cap concurrent binds

	for _, cfg := range m.Cfg.Devices {
		if !cfg.IsEnabled() {
			continue
		}
		wg.Add(1)
		started.Add(1)
		go func(c DeviceConfig) {
			defer wg.Done()
			once := sync.OnceFunc(started.Done)
			defer once()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			dev, err := m.bind(ctx, c)
			<-sem
			if err != nil {
				log.Printf("fixture %s listen %s failed: %v", c.Serial, c.ListenAddress(), err)
				return
			}
			m.mu.Lock()
			m.devices[c.Serial] = dev
			m.mu.Unlock()
			log.Printf("fixture %s (%s) listening on %s", c.Serial, c.Model, dev.Addr())
			once()

			<-ctx.Done()
			dev.Close()
			m.mu.Lock()
			delete(m.devices, c.Serial)
			m.mu.Unlock()
			log.Printf("fixture %s stopped", c.Serial)
		}(cfg)
	}

	go func() {
		started.Wait()
		close(m.ready)
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (m *Manager) bind(ctx context.Context, c DeviceConfig) (*Device, error) {
	var err error
	for attempt := 0; attempt <= c.RetryCount; attempt++ {
		dev := NewDevice(c.Model, c.Serial)
		dev.Limit = c.SignalLimit
		if c.Seed != 0 {
			dev.Seed(c.Seed)
		}
		if err = dev.Listen(c.ListenAddress()); err == nil {
			return dev, nil
		}
		if attempt < c.RetryCount {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, err
}
