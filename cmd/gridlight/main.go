// Gridlight - self-hosted realtime multiplayer relay server.
//
// Gridlight accepts game client connections over raw TCP and
// WebSocket, routes their operations through the room engine, exposes
// a REST API for operators, and publishes telemetry via MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/api"
	"github.com/gridlight-project/gridlight/internal/cli"
	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/db"
	"github.com/gridlight-project/gridlight/internal/events"
	"github.com/gridlight-project/gridlight/internal/health"
	"github.com/gridlight-project/gridlight/internal/network"
	"github.com/gridlight-project/gridlight/internal/ops"
	"github.com/gridlight-project/gridlight/internal/registry"
	"github.com/gridlight-project/gridlight/internal/scheduler"
	"github.com/gridlight-project/gridlight/internal/telemetry"
	"github.com/gridlight-project/gridlight/internal/util"
)

const banner = `
   _____      _     _ _ _       _     _
  / ____|    (_)   | | (_)     | |   | |
 | |  __ _ __ _  __| | |_  __ _| |__ | |_
 | | |_ | '__| |/ _' | | |/ _' | '_ \| __|
 | |__| | |  | | (_| | | | (_| | | | | |_
  \_____|_|  |_|\__,_|_|_|\__, |_| |_|\__|
                           __/ |
                          |___/  v%s
 Realtime Multiplayer Relay Server
`

func main() {
	fmt.Printf(banner, util.Version)
	fmt.Println()

	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", util.Version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Gridlight")

	cfg, err := config.Load(config.DefaultConfigDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	app := cfg.GetApplication()
	srv := cfg.GetServer()

	// Reconfigure the logger with config-based settings.
	logCfg := util.LogConfig{
		Level:      app.Logging.Level,
		Directory:  app.Logging.Directory,
		MaxSizeMB:  app.Logging.MaxSizeMB,
		MaxBackups: app.Logging.MaxBackups,
		Console:    true,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewEventBus()

	// History journal (optional).
	var journal *db.Journal
	if app.Journal.Enabled {
		if dir := filepath.Dir(app.Journal.Path); dir != "." {
			if err := util.EnsureDir(dir); err != nil {
				log.Fatal().Err(err).Str("dir", dir).Msg("failed to create journal directory")
			}
		}
		journal, err = db.NewJournal(app.Journal.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", app.Journal.Path).Msg("failed to open history journal")
		}
		journal.Attach(bus)
	}

	// Core engine: registry plus the operation router.
	reg := registry.New(srv, bus)
	router := ops.NewRouter(reg, bus)
	reg.SetRouter(router)

	// Shutdown is requested from the CLI quit command, the API shutdown
	// endpoint, or a signal; all funnel into one channel.
	stopCh := make(chan struct{})
	var stopOnce sync.Once
	requestShutdown := func() {
		stopOnce.Do(func() { close(stopCh) })
	}

	tcpListener := network.NewTCPListener(srv, reg)

	var wsListener *network.WSListener
	if app.WebSocket.Enabled {
		wsListener = network.NewWSListener(app.WebSocket, reg)
	}

	var discovery *network.UDPDiscoveryListener
	if app.Discovery.Enabled {
		discovery = network.NewUDPDiscoveryListener("Gridlight", util.Version, srv, app.Discovery, reg)
	}

	var apiServer *api.Server
	if app.API.Enabled {
		apiServer = api.NewServer(cfg, reg, journal, requestShutdown)
	}

	var healthMgr *health.Manager
	if app.Health.Enabled {
		healthMgr = health.NewManager(cfg, bus, reg)
	}

	var mqttHandler *telemetry.MQTTHandler
	if app.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		}
	}

	sched := scheduler.NewScheduler(cfg, journal)
	cliHandler := cli.NewCLI(cfg, reg, requestShutdown)

	bus.Emit(ctx, events.Event{
		Type:   events.EventServerStarting,
		Source: "main",
		Payload: events.ServerContext{
			ListenAddr: fmt.Sprintf("%s:%d", srv.ListenHost, srv.ListenPort),
		},
	})

	// Liveness and cleanup sweeps.
	reg.Run(ctx)

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("host", srv.ListenHost).Int("port", srv.ListenPort).Msg("starting TCP listener")
		if err := startWithRetry(ctx, "TCP listener", tcpListener.Start, 5); err != nil {
			errCh <- fmt.Errorf("tcp listener: %w", err)
		}
	}()

	if wsListener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.WebSocket.Port).Str("path", app.WebSocket.Path).Msg("starting WebSocket listener")
			if err := startWithRetry(ctx, "WebSocket listener", wsListener.Start, 5); err != nil {
				log.Warn().Err(err).Msg("WebSocket listener failed after retries (non-fatal)")
			}
		}()
	}

	if discovery != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.Discovery.Port).Msg("starting UDP discovery listener")
			if err := startWithRetry(ctx, "UDP discovery", discovery.Start, 5); err != nil {
				log.Warn().Err(err).Msg("UDP discovery listener failed after retries (non-fatal)")
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Int("port", app.API.Port).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if healthMgr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			healthMgr.Start(ctx)
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		cliHandler.Start(ctx)
	}()

	bus.Emit(ctx, events.Event{
		Type:   events.EventServerStarted,
		Source: "main",
		Payload: events.ServerContext{
			ListenAddr: fmt.Sprintf("%s:%d", srv.ListenHost, srv.ListenPort),
		},
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-stopCh:
		log.Info().Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
	}

	log.Info().Msg("initiating graceful shutdown...")

	// Drain peers and tear rooms down before stopping the listeners so
	// farewells can still flush.
	drainCtx, drainCancel := context.WithTimeout(context.Background(),
		srv.GracefulShutdown()+5*time.Second)
	reg.Shutdown(drainCtx)
	drainCancel()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	if journal != nil {
		if err := journal.Close(); err != nil {
			log.Warn().Err(err).Msg("journal close failed")
		}
	}

	log.Info().Msg("Gridlight stopped")
}

// startWithRetry attempts to start a listener with a fixed 3-second
// interval between bind retries. Returns nil on success, or the last
// error after all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).
				Int("retry", i+1).Int("max", maxRetries).
				Msg("bind failed, retrying in 3s...")
			time.Sleep(3 * time.Second)
		}
	}
	return lastErr
}
