// Package config handles configuration loading, validation, and
// persistence for the Gridlight server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultListenPort = 5055
	DefaultAPIPort    = 5000
)

// EnvPrefix is prepended to every environment override key.
const EnvPrefix = "GRIDLIGHT_"

// Config is the root configuration structure for Gridlight.
type Config struct {
	mu   sync.RWMutex
	path string

	Server      ServerData      `json:"server"`
	Application ApplicationData `json:"application"`
}

// ServerData configures the core game-server engine.
type ServerData struct {
	// Listener
	ListenHost     string `json:"listen_host"`
	ListenPort     int    `json:"listen_port"`
	MaxConnections int    `json:"max_connections"`

	// Liveness
	PingIntervalMs      int `json:"ping_interval_ms"`
	ConnectionTimeoutMs int `json:"connection_timeout_ms"`

	// Rooms
	CleanupIntervalMs      int `json:"cleanup_interval_ms"`
	EmptyRoomTTLMs         int `json:"empty_room_ttl_ms"`
	MaxCachedEventsPerRoom int `json:"max_cached_events_per_room"`
	MaxPlayersHardCap      int `json:"max_players_hard_cap"`

	// Peers
	MaxReliableCommandsTracked int `json:"max_reliable_commands_tracked"`
	SendQueueDepth             int `json:"send_queue_depth"`

	// Shutdown
	GracefulShutdownMs int `json:"graceful_shutdown_ms"`
}

// ApplicationData configures the ambient services around the core.
type ApplicationData struct {
	API       APIConfig       `json:"api"`
	WebSocket WebSocketConfig `json:"websocket"`
	Discovery DiscoveryConfig `json:"discovery"`
	MQTT      MQTTConfig      `json:"mqtt"`
	Health    HealthConfig    `json:"health"`
	Journal   JournalConfig   `json:"journal"`
	Logging   LoggingConfig   `json:"logging"`
}

// APIConfig holds admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// WebSocketConfig holds the WebSocket transport settings.
type WebSocketConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// DiscoveryConfig holds the LAN discovery responder settings.
type DiscoveryConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	ClientID  string `json:"client_id"`
	TopicRoot string `json:"topic_root"`
}

// HealthConfig holds host health monitoring settings.
type HealthConfig struct {
	Enabled     bool `json:"enabled"`
	IntervalSec int  `json:"interval_sec"`
}

// JournalConfig holds the sqlite history journal settings.
type JournalConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerData{
			ListenHost:                 "0.0.0.0",
			ListenPort:                 DefaultListenPort,
			MaxConnections:             1000,
			PingIntervalMs:             30000,
			ConnectionTimeoutMs:        60000,
			CleanupIntervalMs:          60000,
			EmptyRoomTTLMs:             300000,
			MaxCachedEventsPerRoom:     100,
			MaxPlayersHardCap:          500,
			MaxReliableCommandsTracked: 1000,
			SendQueueDepth:             1024,
			GracefulShutdownMs:         10000,
		},
		Application: ApplicationData{
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 20,
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Port:    5056,
				Path:    "/ws",
			},
			Discovery: DiscoveryConfig{
				Enabled: false,
				Port:    5057,
			},
			MQTT: MQTTConfig{
				Enabled:   false,
				Port:      8883,
				UseTLS:    true,
				TopicRoot: "gridlight",
			},
			Health: HealthConfig{
				Enabled:     true,
				IntervalSec: 60,
			},
			Journal: JournalConfig{
				Enabled:       true,
				Path:          "data/journal.db",
				RetentionDays: 30,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
			},
		},
	}
}

// Load reads configuration from a JSON file under configDir, overlays
// it on the defaults and applies GRIDLIGHT_* environment overrides.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		cfg.path = configPath
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("saving default config: %w", saveErr)
		}
	case err != nil:
		return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
		cfg.path = configPath
		log.Info().Str("path", configPath).Msg("configuration loaded")

		// Re-save so the file always carries the complete option set,
		// including defaults introduced after it was first written.
		if saveErr := cfg.Save(); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays GRIDLIGHT_* environment variables on the
// loaded values. Load applies them after its own re-save, so that save
// never carries them; a later Save (such as one from the admin API)
// writes the in-memory values, overrides included.
func (c *Config) applyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	envString("LISTEN_HOST", &c.Server.ListenHost)
	envInt("LISTEN_PORT", &c.Server.ListenPort)
	envInt("MAX_CONNECTIONS", &c.Server.MaxConnections)
	envInt("PING_INTERVAL_MS", &c.Server.PingIntervalMs)
	envInt("CONNECTION_TIMEOUT_MS", &c.Server.ConnectionTimeoutMs)
	envInt("CLEANUP_INTERVAL_MS", &c.Server.CleanupIntervalMs)
	envInt("EMPTY_ROOM_TTL_MS", &c.Server.EmptyRoomTTLMs)
	envInt("MAX_CACHED_EVENTS", &c.Server.MaxCachedEventsPerRoom)
	envInt("SEND_QUEUE_DEPTH", &c.Server.SendQueueDepth)
	envInt("GRACEFUL_SHUTDOWN_MS", &c.Server.GracefulShutdownMs)
	envBool("API_ENABLED", &c.Application.API.Enabled)
	envInt("API_PORT", &c.Application.API.Port)
	envBool("WS_ENABLED", &c.Application.WebSocket.Enabled)
	envInt("WS_PORT", &c.Application.WebSocket.Port)
	envBool("MQTT_ENABLED", &c.Application.MQTT.Enabled)
	envString("MQTT_BROKER_URL", &c.Application.MQTT.BrokerURL)
	envBool("JOURNAL_ENABLED", &c.Application.Journal.Enabled)
	envString("JOURNAL_PATH", &c.Application.Journal.Path)
	envString("LOG_LEVEL", &c.Application.Logging.Level)
}

func envString(key string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", EnvPrefix+key).Str("value", v).Msg("ignoring non-integer env override")
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		log.Warn().Str("key", EnvPrefix+key).Str("value", v).Msg("ignoring non-boolean env override")
	}
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetServer returns a copy of the core server configuration.
func (c *Config) GetServer() ServerData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Server
}

// SetServer updates the core server configuration.
func (c *Config) SetServer(data ServerData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Server = data
}

// GetApplication returns a copy of the ambient application settings.
func (c *Config) GetApplication() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// SetApplication updates the ambient application settings.
func (c *Config) SetApplication(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Application = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// Duration helpers for the millisecond options.

// PingInterval returns how often an idle peer is pinged.
func (s ServerData) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalMs) * time.Millisecond
}

// ConnectionTimeout returns the inactivity disconnect threshold.
func (s ServerData) ConnectionTimeout() time.Duration {
	return time.Duration(s.ConnectionTimeoutMs) * time.Millisecond
}

// CleanupInterval returns the empty-room sweep period.
func (s ServerData) CleanupInterval() time.Duration {
	return time.Duration(s.CleanupIntervalMs) * time.Millisecond
}

// EmptyRoomTTL returns how long an empty room lives before cleanup.
func (s ServerData) EmptyRoomTTL() time.Duration {
	return time.Duration(s.EmptyRoomTTLMs) * time.Millisecond
}

// GracefulShutdown returns the hard deadline for draining peers.
func (s ServerData) GracefulShutdown() time.Duration {
	return time.Duration(s.GracefulShutdownMs) * time.Millisecond
}
