package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
)

// ══════════════════════════════════════════════════════════════════════════════
// POLL ASSIGNMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// AssignmentCaches invalidates and refreshes assignment-related cache
// entries after an assignment change.
type AssignmentCaches interface {
	// SetCurrent refreshes the cached assignment for its classroom.
	SetCurrent(ctx context.Context, a *assignment.Assignment, ttl time.Duration) error

	// InvalidateOverview drops the cached classroom overview so the
	// next dashboard read picks up the new task context.
	InvalidateOverview(ctx context.Context, classroom string) error
}

// PollAssignmentsJob refreshes the current assignment for every classroom
// that has active sessions. The assignment feeds the vision prompt, so a
// stale one quietly misclassifies legitimate work as off-task.
type PollAssignmentsJob struct {
	// Dependencies
	sessions       tracking.Repository
	assignments    assignment.Repository
	source         assignment.Source
	caches         AssignmentCaches
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	config PollAssignmentsConfig

	// State (for metrics)
	lastRunStats atomic.Value // *PollAssignmentsStats
}

// PollAssignmentsConfig contains configuration for the poll job.
type PollAssignmentsConfig struct {
	// CacheTTL for refreshed assignment cache entries.
	CacheTTL time.Duration

	// Timeout is the maximum duration for the whole poll.
	Timeout time.Duration
}

// DefaultPollAssignmentsConfig returns sensible defaults.
func DefaultPollAssignmentsConfig() PollAssignmentsConfig {
	return PollAssignmentsConfig{
		CacheTTL: 2 * time.Minute,
		Timeout:  time.Minute,
	}
}

// PollAssignmentsStats contains statistics from one poll run.
type PollAssignmentsStats struct {
	StartedAt         time.Time
	CompletedAt       time.Time
	Duration          time.Duration
	ClassroomsPolled  int
	ClassroomsChanged int
	Failed            int
}

// NewPollAssignmentsJob creates a new poll assignments job.
func NewPollAssignmentsJob(
	sessions tracking.Repository,
	assignments assignment.Repository,
	source assignment.Source,
	caches AssignmentCaches,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config PollAssignmentsConfig,
) *PollAssignmentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = DefaultPollAssignmentsConfig().CacheTTL
	}

	return &PollAssignmentsJob{
		sessions:       sessions,
		assignments:    assignments,
		source:         source,
		caches:         caches,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
	}
}

// Name returns the job name.
func (j *PollAssignmentsJob) Name() string {
	return "poll_assignments"
}

// Description returns a human-readable description.
func (j *PollAssignmentsJob) Description() string {
	return "Refreshes the current assignment for classrooms with active sessions"
}

// Run executes one poll.
func (j *PollAssignmentsJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &PollAssignmentsStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	classrooms, err := j.activeClassrooms(ctx)
	if err != nil {
		return fmt.Errorf("poll_assignments: list classrooms: %w", err)
	}

	for _, classroom := range classrooms {
		stats.ClassroomsPolled++

		changed, err := j.pollClassroom(ctx, classroom)
		if err != nil {
			stats.Failed++
			j.logger.Error("assignment poll failed",
				"classroom", classroom.String(),
				"error", err,
			)
			continue
		}
		if changed {
			stats.ClassroomsChanged++
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastRunStats.Store(stats)

	if stats.ClassroomsChanged > 0 || stats.Failed > 0 {
		j.logger.Info("assignment poll completed",
			"polled", stats.ClassroomsPolled,
			"changed", stats.ClassroomsChanged,
			"failed", stats.Failed,
		)
	}

	return nil
}

// activeClassrooms returns the distinct classrooms of active sessions.
func (j *PollAssignmentsJob) activeClassrooms(ctx context.Context) ([]tracking.ClassroomID, error) {
	active, err := j.sessions.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[tracking.ClassroomID]struct{})
	classrooms := make([]tracking.ClassroomID, 0)
	for _, s := range active {
		if _, ok := seen[s.Classroom]; ok {
			continue
		}
		seen[s.Classroom] = struct{}{}
		classrooms = append(classrooms, s.Classroom)
	}

	return classrooms, nil
}

// pollClassroom fetches the assignment for one classroom and persists it
// when the content actually changed.
func (j *PollAssignmentsJob) pollClassroom(ctx context.Context, classroom tracking.ClassroomID) (bool, error) {
	fetched, err := j.source.Fetch(ctx, classroom)
	if err != nil {
		if errors.Is(err, shared.ErrAssignmentNotFound) {
			// Nothing scheduled for this classroom right now
			return false, nil
		}
		return false, err
	}

	current, err := j.assignments.GetCurrent(ctx, classroom)
	if err != nil && !errors.Is(err, shared.ErrAssignmentNotFound) {
		return false, err
	}

	if !fetched.Changed(current) {
		return false, nil
	}

	if err := j.assignments.Save(ctx, fetched); err != nil {
		return false, err
	}

	if j.caches != nil {
		if err := j.caches.SetCurrent(ctx, fetched, j.config.CacheTTL); err != nil {
			j.logger.Warn("failed to refresh assignment cache",
				"classroom", classroom.String(),
				"error", err,
			)
		}
		if err := j.caches.InvalidateOverview(ctx, classroom.String()); err != nil {
			j.logger.Warn("failed to invalidate overview cache",
				"classroom", classroom.String(),
				"error", err,
			)
		}
	}

	oldTask := ""
	if current != nil {
		oldTask = current.Title
	}

	if j.eventPublisher != nil {
		event := shared.NewAssignmentChangedEvent(classroom.String(), oldTask, fetched.Title)
		if err := j.eventPublisher.Publish(event); err != nil {
			j.logger.Warn("failed to publish assignment change", "error", err)
		}
	}

	j.logger.Info("assignment changed",
		"classroom", classroom.String(),
		"old", oldTask,
		"new", fetched.Title,
	)

	return true, nil
}

// LastRunStats returns statistics from the last poll.
func (j *PollAssignmentsJob) LastRunStats() *PollAssignmentsStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*PollAssignmentsStats)
}
