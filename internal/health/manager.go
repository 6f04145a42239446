// Package health implements the periodic host and server health
// snapshot: CPU, memory, disk, goroutine count, and the live peer and
// room totals, published onto the event bus and logged when thresholds
// are crossed.
package health

import (
	"context"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/registry"
	"github.com/gridlight-project/gridlight/internal/util"
)

// Alert thresholds as used percentages.
const (
	cpuWarnPercent    = 90.0
	memoryWarnPercent = 90.0
	diskWarnPercent   = 85.0
)

// Manager samples host and server health on a fixed interval and
// publishes each snapshot onto the event bus.
type Manager struct {
	cfg      *config.Config
	bus      *events.EventBus
	registry *registry.Registry
	logger   zerolog.Logger
}

// NewManager creates a health snapshot manager.
func NewManager(cfg *config.Config, bus *events.EventBus, reg *registry.Registry) *Manager {
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		registry: reg,
		logger:   log.With().Str("component", "health").Logger(),
	}
}

// Start runs the snapshot loop until ctx is cancelled. The first
// snapshot is taken immediately.
func (m *Manager) Start(ctx context.Context) {
	app := m.cfg.GetApplication()
	interval := time.Duration(app.Health.IntervalSec) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m.logger.Info().Dur("interval", interval).Msg("health manager started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.snapshot(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("health manager stopped")
			return
		case <-ticker.C:
			m.snapshot(ctx)
		}
	}
}

// snapshot samples the host and server and emits one health event.
func (m *Manager) snapshot(ctx context.Context) {
	hc := events.HealthContext{
		Goroutines: runtime.NumGoroutine(),
		Peers:      m.registry.PeerCount(),
		Rooms:      m.registry.RoomCount(),
		Healthy:    true,
	}

	if cpuPct, err := util.GetCPUUsage(); err == nil {
		hc.CPUPercent = cpuPct
	} else {
		m.logger.Warn().Err(err).Msg("cpu sample failed")
	}

	if mem, err := util.GetMemoryUsage(); err == nil {
		hc.MemoryUsedMB = mem.Used
		hc.MemoryPercent = mem.UsedPercent
	} else {
		m.logger.Warn().Err(err).Msg("memory sample failed")
	}

	if du, err := util.GetDiskUsage("/"); err == nil {
		hc.DiskPercent = du.UsedPercent
	} else {
		m.logger.Warn().Err(err).Msg("disk sample failed")
	}

	if hc.CPUPercent >= cpuWarnPercent {
		hc.Healthy = false
		m.logger.Warn().Float64("cpu_percent", hc.CPUPercent).Msg("cpu usage high")
	}
	if hc.MemoryPercent >= memoryWarnPercent {
		hc.Healthy = false
		m.logger.Warn().Float64("memory_percent", hc.MemoryPercent).Msg("memory usage high")
	}
	if hc.DiskPercent >= diskWarnPercent {
		hc.Healthy = false
		m.logger.Warn().Float64("disk_percent", hc.DiskPercent).Msg("disk usage high")
	}

	m.logger.Debug().
		Float64("cpu_percent", hc.CPUPercent).
		Float64("memory_percent", hc.MemoryPercent).
		Int("peers", hc.Peers).
		Int("rooms", hc.Rooms).
		Int("goroutines", hc.Goroutines).
		Msg("health snapshot")

	m.bus.Emit(ctx, events.Event{
		Type:    events.EventHealthSnapshot,
		Source:  "health",
		Payload: hc,
	})
}
