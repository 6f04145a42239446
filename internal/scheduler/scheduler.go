// Package scheduler runs daily background maintenance: journal
// retention pruning and rotated log file cleanup.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gridlight-project/gridlight/internal/config"
	"github.com/gridlight-project/gridlight/internal/db"
)

// maintenanceHour is the local hour the daily sweep runs at.
const maintenanceHour = 4

// Scheduler manages periodic maintenance tasks.
type Scheduler struct {
	cfg     *config.Config
	journal *db.Journal
	logger  zerolog.Logger
}

// NewScheduler creates a maintenance scheduler. journal may be nil when
// the history journal is disabled.
func NewScheduler(cfg *config.Config, journal *db.Journal) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		journal: journal,
		logger:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs the daily maintenance loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info().Int("hour", maintenanceHour).Msg("maintenance scheduler started")

	for {
		next := nextRunAfter(time.Now())
		s.logger.Debug().Time("next_run", next).Msg("maintenance sweep scheduled")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("maintenance scheduler stopped")
			return
		case <-time.After(time.Until(next)):
			s.runMaintenance()
		}
	}
}

// runMaintenance performs one daily sweep.
func (s *Scheduler) runMaintenance() {
	app := s.cfg.GetApplication()

	if s.journal != nil && app.Journal.RetentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -app.Journal.RetentionDays)
		pruned, err := s.journal.Prune(cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Msg("journal prune failed")
		} else if pruned > 0 {
			s.logger.Info().Int64("rows", pruned).
				Int("retention_days", app.Journal.RetentionDays).
				Msg("journal pruned")
		}
	}

	if app.Logging.Directory != "" && app.Logging.MaxBackups > 0 {
		s.cleanLogDirectory(app.Logging.Directory, app.Logging.MaxBackups)
	}
}

// cleanLogDirectory removes the oldest daily log files beyond the
// configured backup count. Files are ranked newest first, so the
// active day's file always survives.
func (s *Scheduler) cleanLogDirectory(dir string, maxBackups int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("log cleanup failed")
		return
	}

	type rotated struct {
		path    string
		modTime time.Time
		size    int64
	}

	var files []rotated
	for _, entry := range entries {
		if entry.IsDir() || !isDailyLog(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, rotated{
			path:    filepath.Join(dir, entry.Name()),
			modTime: info.ModTime(),
			size:    info.Size(),
		})
	}

	if len(files) <= maxBackups {
		return
	}

	sort.Slice(files, func(i, k int) bool {
		return files[i].modTime.After(files[k].modTime)
	})

	var (
		deleted   int
		freedSize int64
	)
	for _, f := range files[maxBackups:] {
		if err := os.Remove(f.path); err != nil {
			s.logger.Warn().Err(err).Str("file", f.path).Msg("failed to remove rotated log")
			continue
		}
		deleted++
		freedSize += f.size
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted_files", deleted).
			Str("freed_space", formatBytes(freedSize)).
			Msg("log directory cleaned")
	}
}

// isDailyLog reports whether name looks like a daily log file,
// e.g. gridlight_2026-08-01.log.
func isDailyLog(name string) bool {
	return strings.HasPrefix(name, "gridlight_") && filepath.Ext(name) == ".log"
}

// nextRunAfter returns the next maintenance time strictly after now.
func nextRunAfter(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), maintenanceHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// formatBytes renders a byte count for log output.
func formatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
