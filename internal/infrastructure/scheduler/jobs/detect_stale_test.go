package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/classlens/classlens-monitor/internal/application/command"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePresence struct {
	mu            sync.Mutex
	activeIDs     []tracking.SessionID
	activeErr     error
	lastSeen      map[tracking.SessionID]time.Time
	lastSeenCalls int
}

func newFakePresence() *fakePresence {
	return &fakePresence{lastSeen: make(map[tracking.SessionID]time.Time)}
}

func (p *fakePresence) Heartbeat(ctx context.Context, id tracking.SessionID) error {
	return nil
}

func (p *fakePresence) LastSeen(ctx context.Context, id tracking.SessionID) (time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeenCalls++
	return p.lastSeen[id], nil
}

func (p *fakePresence) ActiveIDs(ctx context.Context, within time.Duration) ([]tracking.SessionID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeErr != nil {
		return nil, p.activeErr
	}
	return p.activeIDs, nil
}

type fakeStopper struct {
	mu       sync.Mutex
	commands []command.StopMonitoringCommand
}

func (s *fakeStopper) Handle(ctx context.Context, cmd command.StopMonitoringCommand) (*command.StopMonitoringResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	return &command.StopMonitoringResult{SessionID: cmd.SessionID, StoppedAt: time.Now()}, nil
}

func staleJobConfig() DetectStaleConfig {
	cfg := DefaultDetectStaleConfig()
	cfg.StaleThreshold = 10 * time.Minute
	return cfg
}

func TestDetectStale_RecentHeartbeatsSkippedByRangeQuery(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
		activeSession(t, "student-2", "7B"),
	}}
	presence := newFakePresence()
	presence.activeIDs = []tracking.SessionID{"student-1", "student-2"}
	stopper := &fakeStopper{}

	job := NewDetectStaleJob(sessions, presence, stopper, &fakeEventSink{}, nil, staleJobConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Zero(t, presence.lastSeenCalls, "one range query should cover every fresh session")
	assert.Empty(t, stopper.commands)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Zero(t, stats.StaleFound)
}

func TestDetectStale_SilentSessionIsStopped(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
		activeSession(t, "student-2", "7B"),
	}}
	presence := newFakePresence()
	presence.activeIDs = []tracking.SessionID{"student-1"}
	presence.lastSeen["student-2"] = time.Now().Add(-time.Hour)
	stopper := &fakeStopper{}
	sink := &fakeEventSink{}

	job := NewDetectStaleJob(sessions, presence, stopper, sink, nil, staleJobConfig())
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, stopper.commands, 1)
	assert.Equal(t, "student-2", stopper.commands[0].SessionID)
	assert.Equal(t, "stale", stopper.commands[0].Reason)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 1, stats.StaleFound)
	assert.Equal(t, 1, stats.StoppedCount)
}

func TestDetectStale_NoHeartbeatFallsBackToLastUpdated(t *testing.T) {
	fresh := activeSession(t, "student-1", "7B")
	fresh.LastUpdated = time.Now()

	sessions := &fakeSessionStore{sessions: []*tracking.Session{fresh}}
	presence := newFakePresence() // no heartbeat recorded at all
	stopper := &fakeStopper{}

	job := NewDetectStaleJob(sessions, presence, stopper, &fakeEventSink{}, nil, staleJobConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Empty(t, stopper.commands, "a just-started session without heartbeats must survive the sweep")
}

func TestDetectStale_RangeQueryFailureDegradesToPerSessionLookups(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
	}}
	presence := newFakePresence()
	presence.activeErr = errors.New("redis: connection refused")
	presence.lastSeen["student-1"] = time.Now()
	stopper := &fakeStopper{}

	job := NewDetectStaleJob(sessions, presence, stopper, &fakeEventSink{}, nil, staleJobConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 1, presence.lastSeenCalls)
	assert.Empty(t, stopper.commands)
}
