package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}
	server := cfg.GetServer()
	app := cfg.GetApplication()
	validateServer(&server, result)
	validateApplication(&app, result)
	return result
}

// ValidateServer checks a standalone server section, returning the
// first hard error. Warnings are dropped; API callers only need a
// pass/fail answer.
func ValidateServer(data ServerData) error {
	result := &ValidationResult{}
	validateServer(&data, result)
	if !result.IsValid() {
		return result.Errors[0]
	}
	return nil
}

// ValidateApplication checks a standalone application section,
// returning the first hard error.
func ValidateApplication(data ApplicationData) error {
	result := &ValidationResult{}
	validateApplication(&data, result)
	if !result.IsValid() {
		return result.Errors[0]
	}
	return nil
}

func validateServer(data *ServerData, result *ValidationResult) {
	if strings.TrimSpace(data.ListenHost) == "" {
		result.AddError("server.listen_host", "listen host is required")
	} else if ip := net.ParseIP(data.ListenHost); ip == nil {
		result.AddWarning("server.listen_host",
			fmt.Sprintf("listen host %q is not an IP literal, binding may fail", data.ListenHost))
	}

	validatePort(data.ListenPort, "server.listen_port", result)

	if data.MaxConnections < 1 {
		result.AddError("server.max_connections", "must allow at least 1 connection")
	}
	if data.MaxConnections > 50000 {
		result.AddWarning("server.max_connections",
			fmt.Sprintf("very high connection cap (%d) may exhaust file descriptors", data.MaxConnections))
	}

	if data.PingIntervalMs < 1000 {
		result.AddError("server.ping_interval_ms", "ping interval below 1s floods clients")
	}
	if data.ConnectionTimeoutMs <= data.PingIntervalMs {
		result.AddError("server.connection_timeout_ms",
			"connection timeout must exceed the ping interval or every peer times out")
	}
	if data.CleanupIntervalMs < 1000 {
		result.AddWarning("server.cleanup_interval_ms", "sub-second cleanup sweeps waste CPU")
	}

	if data.MaxPlayersHardCap < 1 || data.MaxPlayersHardCap > 500 {
		result.AddError("server.max_players_hard_cap", "hard cap must be in [1,500]")
	}
	if data.MaxCachedEventsPerRoom < 1 {
		result.AddError("server.max_cached_events_per_room", "cache must hold at least 1 event")
	}
	if data.SendQueueDepth < 16 {
		result.AddWarning("server.send_queue_depth",
			"very shallow send queues disconnect clients under normal bursts")
	}
	if data.GracefulShutdownMs < 1000 {
		result.AddWarning("server.graceful_shutdown_ms",
			"shutdown grace below 1s rarely lets farewells flush")
	}
}

func validateApplication(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application.api.port", result)
	}
	if data.WebSocket.Enabled {
		validatePort(data.WebSocket.Port, "application.websocket.port", result)
		if !strings.HasPrefix(data.WebSocket.Path, "/") {
			result.AddError("application.websocket.path", "path must start with /")
		}
	}
	if data.Discovery.Enabled {
		validatePort(data.Discovery.Port, "application.discovery.port", result)
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
	}

	if data.Health.Enabled && data.Health.IntervalSec < 5 {
		result.AddWarning("application.health.interval_sec",
			"health snapshots below 5s add measurable sampling load")
	}

	if data.Journal.Enabled && strings.TrimSpace(data.Journal.Path) == "" {
		result.AddError("application.journal.path", "journal path is required when enabled")
	}

	switch strings.ToLower(data.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "":
	default:
		result.AddError("application.logging.level",
			fmt.Sprintf("unknown log level %q", data.Logging.Level))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}

// IsPortAvailable checks if a port is available for binding.
func IsPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
