package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classlens/classlens-monitor/internal/application/command"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// DETECT STALE JOB
// ══════════════════════════════════════════════════════════════════════════════

// MonitoringStopper deactivates a session.
type MonitoringStopper interface {
	Handle(ctx context.Context, cmd command.StopMonitoringCommand) (*command.StopMonitoringResult, error)
}

// DetectStaleJob finds sessions that are still marked active but whose
// agents have gone silent, and stops monitoring them. Without it a crashed
// agent would leave its student on the dashboard forever, frozen at the
// last score.
type DetectStaleJob struct {
	// Dependencies
	sessions       tracking.Repository
	presence       tracking.PresenceTracker
	stopper        MonitoringStopper
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	config DetectStaleConfig

	// State (for metrics)
	lastRunStats atomic.Value // *DetectStaleStats
}

// DetectStaleConfig contains configuration for the stale detection job.
type DetectStaleConfig struct {
	// StaleThreshold is how long an agent may stay silent before its
	// session is considered abandoned.
	StaleThreshold time.Duration

	// Timeout is the maximum duration for one detection run.
	Timeout time.Duration
}

// DefaultDetectStaleConfig returns sensible defaults.
func DefaultDetectStaleConfig() DetectStaleConfig {
	return DetectStaleConfig{
		StaleThreshold: 10 * time.Minute,
		Timeout:        time.Minute,
	}
}

// DetectStaleStats contains statistics from one detection run.
type DetectStaleStats struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Duration       time.Duration
	SessionsTotal  int
	StaleFound     int
	StoppedCount   int
	Failed         int
}

// NewDetectStaleJob creates a new stale detection job.
func NewDetectStaleJob(
	sessions tracking.Repository,
	presence tracking.PresenceTracker,
	stopper MonitoringStopper,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config DetectStaleConfig,
) *DetectStaleJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = DefaultDetectStaleConfig().StaleThreshold
	}

	return &DetectStaleJob{
		sessions:       sessions,
		presence:       presence,
		stopper:        stopper,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
	}
}

// Name returns the job name.
func (j *DetectStaleJob) Name() string {
	return "detect_stale"
}

// Description returns a human-readable description.
func (j *DetectStaleJob) Description() string {
	return "Stops monitoring sessions whose agents have gone silent"
}

// Run executes one detection pass.
func (j *DetectStaleJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &DetectStaleStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	active, err := j.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("detect_stale: list active sessions: %w", err)
	}

	stats.SessionsTotal = len(active)
	cutoff := startedAt.Add(-j.config.StaleThreshold)

	// One range query over the presence index covers the common case;
	// sessions found here have a recent heartbeat and are skipped
	// without per-session lookups.
	fresh := make(map[tracking.SessionID]struct{})
	if ids, err := j.presence.ActiveIDs(ctx, j.config.StaleThreshold); err != nil {
		j.logger.Warn("presence range query failed, checking sessions individually", "error", err)
	} else {
		for _, id := range ids {
			fresh[id] = struct{}{}
		}
	}

	for _, session := range active {
		if _, ok := fresh[session.ID]; ok {
			continue
		}

		lastSeen, err := j.presence.LastSeen(ctx, session.ID)
		if err != nil {
			stats.Failed++
			j.logger.Warn("presence lookup failed",
				"session_id", session.ID.String(),
				"error", err,
			)
			continue
		}

		// No heartbeat on record at all: fall back to the session's
		// own LastUpdated so a freshly started session is not killed
		// before its first observation lands.
		if lastSeen.IsZero() {
			lastSeen = session.LastUpdated
		}

		if !lastSeen.Before(cutoff) {
			continue
		}

		stats.StaleFound++

		if err := j.stopSession(ctx, session, lastSeen); err != nil {
			stats.Failed++
			j.logger.Error("failed to stop stale session",
				"session_id", session.ID.String(),
				"error", err,
			)
			continue
		}

		stats.StoppedCount++
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	if stats.StaleFound > 0 {
		j.logger.Info("stale detection completed",
			"checked", stats.SessionsTotal,
			"stale", stats.StaleFound,
			"stopped", stats.StoppedCount,
			"failed", stats.Failed,
		)
	}

	return nil
}

// stopSession deactivates one stale session and announces it.
func (j *DetectStaleJob) stopSession(ctx context.Context, session *tracking.Session, lastSeen time.Time) error {
	_, err := j.stopper.Handle(ctx, command.StopMonitoringCommand{
		SessionID: session.ID.String(),
		Reason:    "stale",
	})
	if err != nil {
		return err
	}

	if j.eventPublisher != nil {
		event := shared.NewSessionStaleEvent(
			session.ID.String(),
			session.Classroom.String(),
			lastSeen,
		)
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish stale event", "error", err)
		}
	}

	j.logger.Info("stale session stopped",
		"session_id", session.ID.String(),
		"classroom", session.Classroom.String(),
		"last_seen", lastSeen.Format(time.RFC3339),
	)

	return nil
}

// LastRunStats returns statistics from the last run.
func (j *DetectStaleJob) LastRunStats() *DetectStaleStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*DetectStaleStats)
}
