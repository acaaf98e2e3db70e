// Package jobs contains implementations of scheduled jobs for ClassLens Monitor.
// Each job keeps one slice of the monitoring loop honest: capturing frames,
// refreshing assignments, noticing silent agents and pruning old data.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/classlens/classlens-monitor/internal/application/command"
	"github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/internal/infrastructure/capture"
	"github.com/classlens/classlens-monitor/internal/infrastructure/external/vision"
	"github.com/classlens/classlens-monitor/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// CAPTURE CYCLE JOB
// ══════════════════════════════════════════════════════════════════════════════

// ObservationRecorder applies one scored frame to a session.
type ObservationRecorder interface {
	Handle(ctx context.Context, cmd command.RecordObservationCommand) (*command.RecordObservationResult, error)
}

// AssignmentContextCache serves current assignments without a database
// round trip. Implemented by redis.AssignmentCache; the poll job keeps
// it warm, the capture cycle backfills on misses.
type AssignmentContextCache interface {
	GetCurrent(ctx context.Context, classroom string) (*assignment.Assignment, error)
	SetCurrent(ctx context.Context, a *assignment.Assignment, ttl time.Duration) error
}

// CaptureCycleJob is the heart of the monitoring loop. Each tick it lists
// the active sessions, captures a frame per session, sends the frame to the
// vision model and records the resulting observation.
//
// Sessions are processed by a bounded worker pool; the observation command
// itself serializes writes per session id, so one slow student cannot stall
// the rest of the class.
type CaptureCycleJob struct {
	// Dependencies
	sessions       tracking.Repository
	assignments    assignment.Repository
	taskCache      AssignmentContextCache // optional
	source         capture.Source
	analyzer       vision.Analyzer
	recorder       ObservationRecorder
	eventPublisher shared.EventPublisher
	logger         *slog.Logger

	// Configuration
	config CaptureCycleConfig

	// State (for metrics)
	lastRunStats atomic.Value // *CaptureCycleStats
}

// CaptureCycleConfig contains configuration for the capture cycle job.
type CaptureCycleConfig struct {
	// Workers is the number of sessions processed in parallel.
	Workers int

	// SchoolHoursOnly skips the whole cycle outside school hours.
	SchoolHoursOnly bool

	// PerSessionTimeout bounds capture plus analysis for one session.
	PerSessionTimeout time.Duration

	// Timeout is the maximum duration for the entire cycle.
	Timeout time.Duration
}

// DefaultCaptureCycleConfig returns sensible defaults.
func DefaultCaptureCycleConfig() CaptureCycleConfig {
	return CaptureCycleConfig{
		Workers:           8,
		SchoolHoursOnly:   true,
		PerSessionTimeout: 45 * time.Second,
		Timeout:           5 * time.Minute,
	}
}

// CaptureCycleStats contains statistics from one cycle.
type CaptureCycleStats struct {
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	SessionsTotal int
	Succeeded     int
	Failed        int
	Skipped       int
	Errors        []CaptureError
}

// CaptureError records a per-session failure within a cycle.
type CaptureError struct {
	SessionID  string
	Stage      string // "capture", "analyze" or "record"
	Error      error
	OccurredAt time.Time
}

// NewCaptureCycleJob creates a new capture cycle job.
func NewCaptureCycleJob(
	sessions tracking.Repository,
	assignments assignment.Repository,
	taskCache AssignmentContextCache,
	source capture.Source,
	analyzer vision.Analyzer,
	recorder ObservationRecorder,
	eventPublisher shared.EventPublisher,
	logger *slog.Logger,
	config CaptureCycleConfig,
) *CaptureCycleJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = DefaultCaptureCycleConfig().Workers
	}
	if config.PerSessionTimeout <= 0 {
		config.PerSessionTimeout = DefaultCaptureCycleConfig().PerSessionTimeout
	}

	return &CaptureCycleJob{
		sessions:       sessions,
		assignments:    assignments,
		taskCache:      taskCache,
		source:         source,
		analyzer:       analyzer,
		recorder:       recorder,
		eventPublisher: eventPublisher,
		logger:         logger,
		config:         config,
	}
}

// Name returns the job name.
func (j *CaptureCycleJob) Name() string {
	return "capture_cycle"
}

// Description returns a human-readable description.
func (j *CaptureCycleJob) Description() string {
	return "Captures and scores one frame per active session"
}

// Run executes one capture cycle.
func (j *CaptureCycleJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.SchoolHoursOnly && !timeutil.IsSchoolHours(startedAt) {
		j.logger.Debug("capture cycle skipped outside school hours")
		return nil
	}

	stats := &CaptureCycleStats{
		StartedAt: startedAt,
		Errors:    make([]CaptureError, 0),
	}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	active, err := j.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("capture_cycle: list active sessions: %w", err)
	}

	stats.SessionsTotal = len(active)
	if len(active) == 0 {
		j.finalize(stats)
		return nil
	}

	j.logger.Info("capture cycle started", "sessions", stats.SessionsTotal)

	// One assignment lookup per classroom, shared by its sessions
	contexts := j.assignmentContexts(ctx, active)

	j.processConcurrently(ctx, active, contexts, stats)
	j.finalize(stats)

	j.logger.Info("capture cycle completed",
		"duration", stats.Duration.String(),
		"sessions", stats.SessionsTotal,
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"skipped", stats.Skipped,
	)

	// A fully failed cycle usually means the capture source or the
	// vision endpoint is down, not sixty individual student problems.
	if stats.Failed > 0 && stats.Succeeded == 0 && stats.Skipped == 0 {
		return fmt.Errorf("capture_cycle: all %d sessions failed", stats.Failed)
	}

	return nil
}

// assignmentContexts resolves the current assignment prompt context for
// every classroom present in the batch. Missing assignments are fine:
// the model is then asked to judge general schoolwork relevance.
func (j *CaptureCycleJob) assignmentContexts(ctx context.Context, sessions []*tracking.Session) map[tracking.ClassroomID]string {
	contexts := make(map[tracking.ClassroomID]string)

	for _, s := range sessions {
		if _, seen := contexts[s.Classroom]; seen {
			continue
		}

		current, err := j.lookupAssignment(ctx, s.Classroom)
		switch {
		case err == nil && current.IsCurrent(time.Now()):
			contexts[s.Classroom] = current.PromptContext()
		case err != nil && !errors.Is(err, shared.ErrAssignmentNotFound):
			j.logger.Warn("assignment lookup failed",
				"classroom", s.Classroom.String(),
				"error", err,
			)
			contexts[s.Classroom] = ""
		default:
			contexts[s.Classroom] = ""
		}
	}

	return contexts
}

// lookupAssignment reads through the cache: a hit saves the database
// round trip, a miss falls back to the repository and backfills the
// cache so the next cycle hits.
func (j *CaptureCycleJob) lookupAssignment(ctx context.Context, classroom tracking.ClassroomID) (*assignment.Assignment, error) {
	if j.taskCache != nil {
		if cached, err := j.taskCache.GetCurrent(ctx, classroom.String()); err == nil {
			return cached, nil
		}
	}

	current, err := j.assignments.GetCurrent(ctx, classroom)
	if err != nil {
		return nil, err
	}

	if j.taskCache != nil {
		if err := j.taskCache.SetCurrent(ctx, current, 0); err != nil {
			j.logger.Warn("assignment cache backfill failed",
				"classroom", classroom.String(),
				"error", err,
			)
		}
	}

	return current, nil
}

// processConcurrently runs the capture-analyze-record pipeline for each
// session through a bounded worker pool.
func (j *CaptureCycleJob) processConcurrently(
	ctx context.Context,
	sessions []*tracking.Session,
	contexts map[tracking.ClassroomID]string,
	stats *CaptureCycleStats,
) {
	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.Workers)
		mu        sync.Mutex
	)

	for _, s := range sessions {
		select {
		case <-ctx.Done():
			mu.Lock()
			stats.Skipped += len(sessions) - stats.Succeeded - stats.Failed - stats.Skipped
			mu.Unlock()
			wg.Wait()
			return
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{} // Acquire

		go func(session *tracking.Session) {
			defer wg.Done()
			defer func() { <-semaphore }() // Release

			stage, err := j.processSession(ctx, session, contexts[session.Classroom])

			mu.Lock()
			defer mu.Unlock()

			if err == nil {
				stats.Succeeded++
				return
			}

			if errors.Is(err, context.Canceled) {
				stats.Skipped++
				return
			}

			stats.Failed++
			stats.Errors = append(stats.Errors, CaptureError{
				SessionID:  session.ID.String(),
				Stage:      stage,
				Error:      err,
				OccurredAt: time.Now(),
			})
			j.logger.Error("session cycle failed",
				"session_id", session.ID.String(),
				"stage", stage,
				"error", err,
			)
		}(s)
	}

	wg.Wait()
}

// processSession runs capture, analysis and recording for one session.
// The returned stage names the step that failed.
func (j *CaptureCycleJob) processSession(ctx context.Context, session *tracking.Session, taskContext string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, j.config.PerSessionTimeout)
	defer cancel()

	frame, err := j.source.Capture(ctx, session.ID)
	if err != nil {
		return "capture", err
	}

	analysis, err := j.analyzer.Analyze(ctx, vision.AnalyzeRequest{
		SessionID:   session.ID.String(),
		Image:       frame.Data,
		MIMEType:    frame.MIMEType,
		TaskContext: taskContext,
	})
	if err != nil {
		return "analyze", err
	}

	_, err = j.recorder.Handle(ctx, command.RecordObservationCommand{
		SessionID:        session.ID.String(),
		Classroom:        session.Classroom.String(),
		DisplayName:      session.DisplayName,
		RawScore:         int(analysis.RawScore),
		Description:      analysis.Description,
		ShortDescription: analysis.ShortDescription,
		ModelSuggestion:  analysis.Suggestion,
		ObservedAt:       frame.CapturedAt,
	})
	if err != nil {
		return "record", err
	}

	return "", nil
}

// finalize closes out the stats and publishes the cycle event.
func (j *CaptureCycleJob) finalize(stats *CaptureCycleStats) {
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)

	if j.eventPublisher == nil || stats.SessionsTotal == 0 {
		return
	}

	event := shared.NewCaptureCycleCompletedEvent(
		stats.SessionsTotal,
		stats.Succeeded,
		stats.Failed,
		stats.Skipped,
		stats.Duration,
	)
	if err := j.eventPublisher.Publish(event); err != nil {
		j.logger.Warn("failed to publish capture cycle event", "error", err)
	}
}

// LastRunStats returns statistics from the last cycle.
func (j *CaptureCycleJob) LastRunStats() *CaptureCycleStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*CaptureCycleStats)
}
