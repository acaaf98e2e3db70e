package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLEANUP JOB
// ══════════════════════════════════════════════════════════════════════════════

// PresenceCleaner removes expired heartbeat entries from the presence index.
type PresenceCleaner interface {
	CleanupStale(ctx context.Context) (int64, error)
}

// CleanupJob prunes observation journal entries past their retention
// window and sweeps expired entries out of the presence index. The rolling
// history inside each session is bounded by the entity itself; the journal
// is the only part of the system that grows without this job.
type CleanupJob struct {
	// Dependencies
	journal  tracking.Journal
	presence PresenceCleaner
	logger   *slog.Logger

	// Configuration
	config CleanupConfig

	// State (for metrics)
	lastRunStats atomic.Value // *CleanupStats
}

// CleanupConfig contains configuration for the cleanup job.
type CleanupConfig struct {
	// JournalRetention is how long journal entries are kept.
	JournalRetention time.Duration

	// Timeout is the maximum duration for one cleanup run.
	Timeout time.Duration
}

// DefaultCleanupConfig returns sensible defaults.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		JournalRetention: 30 * 24 * time.Hour,
		Timeout:          5 * time.Minute,
	}
}

// CleanupStats contains statistics from one cleanup run.
type CleanupStats struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	JournalPruned  int64
	PresenceSwept  int64
}

// NewCleanupJob creates a new cleanup job.
func NewCleanupJob(
	journal tracking.Journal,
	presence PresenceCleaner,
	logger *slog.Logger,
	config CleanupConfig,
) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.JournalRetention <= 0 {
		config.JournalRetention = DefaultCleanupConfig().JournalRetention
	}

	return &CleanupJob{
		journal:  journal,
		presence: presence,
		logger:   logger,
		config:   config,
	}
}

// Name returns the job name.
func (j *CleanupJob) Name() string {
	return "cleanup"
}

// Description returns a human-readable description.
func (j *CleanupJob) Description() string {
	return "Prunes old journal entries and expired presence records"
}

// Run executes one cleanup pass.
func (j *CleanupJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &CleanupStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	cutoff := startedAt.Add(-j.config.JournalRetention)
	pruned, err := j.journal.PruneBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup: prune journal: %w", err)
	}
	stats.JournalPruned = pruned

	if j.presence != nil {
		swept, err := j.presence.CleanupStale(ctx)
		if err != nil {
			// The TTL keys expire on their own; a failed sweep only
			// delays sorted-set cleanup until the next run.
			j.logger.Warn("presence sweep failed", "error", err)
		} else {
			stats.PresenceSwept = swept
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	j.logger.Info("cleanup completed",
		"journal_pruned", stats.JournalPruned,
		"presence_swept", stats.PresenceSwept,
		"cutoff", cutoff.Format(time.RFC3339),
		"duration", stats.Duration.String(),
	)

	return nil
}

// LastRunStats returns statistics from the last run.
func (j *CleanupJob) LastRunStats() *CleanupStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*CleanupStats)
}
