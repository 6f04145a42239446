// Package util provides shared helpers used throughout the Gridlight server.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxSizeMB:  10,
		MaxBackups: 5,
		Console:    true,
	}
}

const dailyLogPrefix = "gridlight_"

// InitLogger initializes the zerolog global logger. Output goes to a
// per-day JSON file plus, optionally, a human-readable console
// writer. GRIDLIGHT_LOG_LEVEL overrides the configured level so an
// operator can turn on debug logging without touching the config
// file.
func InitLogger(cfg LogConfig) error {
	levelName := cfg.Level
	if env := os.Getenv("GRIDLIGHT_LOG_LEVEL"); env != "" {
		levelName = env
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	logFile, logFilePath, err := openDailyLog(cfg.Directory)
	if err != nil {
		return err
	}

	writers := []io.Writer{logFile}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "gridlight").
		Caller().
		Logger()

	log.Info().
		Str("level", level.String()).
		Str("log_file", logFilePath).
		Msg("logger initialized")

	go pruneDailyLogs(cfg.Directory, cfg.MaxBackups)

	return nil
}

// openDailyLog opens (appending) today's log file, creating the
// directory if needed.
func openDailyLog(directory string) (*os.File, string, error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, "", fmt.Errorf("creating log directory %s: %w", directory, err)
	}

	name := dailyLogPrefix + time.Now().Format("2006-01-02") + ".log"
	path := filepath.Join(directory, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("opening log file %s: %w", path, err)
	}
	return f, path, nil
}

// pruneDailyLogs removes the oldest daily log files beyond the
// retention limit. Date-stamped names sort chronologically, so a name
// sort ranks oldest first and today's file is always last. Files not
// written by this logger are never touched.
func pruneDailyLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}

	var daily []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, dailyLogPrefix) ||
			filepath.Ext(name) != ".log" {
			continue
		}
		daily = append(daily, name)
	}
	if len(daily) <= maxBackups {
		return
	}

	sort.Strings(daily)
	for _, name := range daily[:len(daily)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
