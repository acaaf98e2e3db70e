package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/classlens/classlens-monitor/internal/application/command"
	"github.com/classlens/classlens-monitor/internal/domain/assignment"
	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"
	"github.com/classlens/classlens-monitor/internal/infrastructure/capture"
	"github.com/classlens/classlens-monitor/internal/infrastructure/external/vision"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions []*tracking.Session
}

func (r *fakeSessionStore) Upsert(ctx context.Context, session *tracking.Session) error {
	return nil
}

func (r *fakeSessionStore) GetByID(ctx context.Context, id tracking.SessionID) (*tracking.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, tracking.ErrSessionNotFound
}

func (r *fakeSessionStore) GetByClassroom(ctx context.Context, classroom tracking.ClassroomID, opts tracking.ListOptions) ([]*tracking.Session, error) {
	return nil, nil
}

func (r *fakeSessionStore) ListActive(ctx context.Context) ([]*tracking.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*tracking.Session, len(r.sessions))
	copy(out, r.sessions)
	return out, nil
}

func (r *fakeSessionStore) SetActive(ctx context.Context, id tracking.SessionID, active bool) error {
	return nil
}

type fakeAssignmentRepo struct {
	mu              sync.Mutex
	current         map[tracking.ClassroomID]*assignment.Assignment
	getCurrentCalls int
}

func newFakeAssignmentRepo() *fakeAssignmentRepo {
	return &fakeAssignmentRepo{current: make(map[tracking.ClassroomID]*assignment.Assignment)}
}

func (r *fakeAssignmentRepo) Save(ctx context.Context, a *assignment.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current[a.Classroom] = a
	return nil
}

func (r *fakeAssignmentRepo) GetCurrent(ctx context.Context, classroom tracking.ClassroomID) (*assignment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.getCurrentCalls++
	a, ok := r.current[classroom]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	return a, nil
}

func (r *fakeAssignmentRepo) History(ctx context.Context, classroom tracking.ClassroomID, limit int) ([]*assignment.Assignment, error) {
	return nil, nil
}

type fakeTaskCache struct {
	mu       sync.Mutex
	entries  map[string]*assignment.Assignment
	getCalls int
	setCalls int
}

func newFakeTaskCache() *fakeTaskCache {
	return &fakeTaskCache{entries: make(map[string]*assignment.Assignment)}
}

func (c *fakeTaskCache) GetCurrent(ctx context.Context, classroom string) (*assignment.Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.getCalls++
	a, ok := c.entries[classroom]
	if !ok {
		return nil, errors.New("cache: key not found")
	}
	return a, nil
}

func (c *fakeTaskCache) SetCurrent(ctx context.Context, a *assignment.Assignment, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setCalls++
	c.entries[a.Classroom.String()] = a
	return nil
}

type fakeFrameSource struct {
	err error
}

func (s *fakeFrameSource) Capture(ctx context.Context, id tracking.SessionID) (*capture.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &capture.Frame{
		SessionID:  id,
		Data:       []byte{0x89, 0x50, 0x4E, 0x47},
		MIMEType:   "image/png",
		CapturedAt: time.Now(),
	}, nil
}

type fakeVisionAnalyzer struct {
	mu       sync.Mutex
	score    tracking.RawScore
	requests []vision.AnalyzeRequest
	err      error
}

func (a *fakeVisionAnalyzer) Analyze(ctx context.Context, req vision.AnalyzeRequest) (*vision.Analysis, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}
	return &vision.Analysis{
		RawScore:         a.score,
		Description:      "working in the code editor",
		ShortDescription: "code editor",
	}, nil
}

func (a *fakeVisionAnalyzer) taskContexts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.requests))
	for _, req := range a.requests {
		out = append(out, req.TaskContext)
	}
	return out
}

type fakeObservationRecorder struct {
	mu       sync.Mutex
	commands []command.RecordObservationCommand
}

func (r *fakeObservationRecorder) Handle(ctx context.Context, cmd command.RecordObservationCommand) (*command.RecordObservationResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	return &command.RecordObservationResult{SessionID: cmd.SessionID}, nil
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *fakeEventSink) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func activeSession(t *testing.T, id, classroom string) *tracking.Session {
	t.Helper()
	s, err := tracking.NewSession(tracking.NewSessionParams{
		ID:        tracking.SessionID(id),
		Classroom: tracking.ClassroomID(classroom),
	})
	require.NoError(t, err)
	return s
}

func classAssignment(t *testing.T, classroom, title, description string) *assignment.Assignment {
	t.Helper()
	a, err := assignment.NewAssignment(tracking.ClassroomID(classroom), title, description)
	require.NoError(t, err)
	return a
}

func captureJobConfig() CaptureCycleConfig {
	cfg := DefaultCaptureCycleConfig()
	cfg.SchoolHoursOnly = false
	cfg.Workers = 2
	return cfg
}

func TestCaptureCycle_RecordsObservationPerActiveSession(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
		activeSession(t, "student-2", "7B"),
	}}
	assignments := newFakeAssignmentRepo()
	require.NoError(t, assignments.Save(context.Background(), classAssignment(t, "7B", "Fractions worksheet", "")))

	recorder := &fakeObservationRecorder{}
	analyzer := &fakeVisionAnalyzer{score: 5}
	sink := &fakeEventSink{}

	job := NewCaptureCycleJob(sessions, assignments, nil, &fakeFrameSource{}, analyzer, recorder, sink, nil, captureJobConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Len(t, recorder.commands, 2)
	for _, cmd := range recorder.commands {
		assert.Equal(t, 5, cmd.RawScore)
		assert.Equal(t, "7B", cmd.Classroom)
	}

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Zero(t, stats.Failed)
	assert.Len(t, sink.events, 1, "completed cycle publishes one summary event")
}

func TestCaptureCycle_CachedAssignmentSkipsRepository(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
		activeSession(t, "student-2", "7B"),
	}}
	assignments := newFakeAssignmentRepo()

	taskCache := newFakeTaskCache()
	cached := classAssignment(t, "7B", "Essay draft", "Two paragraphs on the assigned novel")
	require.NoError(t, taskCache.SetCurrent(context.Background(), cached, 0))
	taskCache.setCalls = 0

	analyzer := &fakeVisionAnalyzer{score: 4}
	job := NewCaptureCycleJob(sessions, assignments, taskCache, &fakeFrameSource{}, analyzer, &fakeObservationRecorder{}, nil, nil, captureJobConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Zero(t, assignments.getCurrentCalls, "cache hit must not reach the repository")
	assert.Equal(t, 1, taskCache.getCalls, "one lookup per classroom, not per session")
	assert.Zero(t, taskCache.setCalls)

	for _, taskContext := range analyzer.taskContexts() {
		assert.Equal(t, cached.PromptContext(), taskContext)
	}
}

func TestCaptureCycle_CacheMissFallsBackAndBackfills(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
	}}
	assignments := newFakeAssignmentRepo()
	current := classAssignment(t, "7B", "Lab report", "")
	require.NoError(t, assignments.Save(context.Background(), current))

	taskCache := newFakeTaskCache()
	analyzer := &fakeVisionAnalyzer{score: 3}

	job := NewCaptureCycleJob(sessions, assignments, taskCache, &fakeFrameSource{}, analyzer, &fakeObservationRecorder{}, nil, nil, captureJobConfig())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, 1, assignments.getCurrentCalls)
	assert.Equal(t, 1, taskCache.setCalls, "repository result must be written back to the cache")

	backfilled, err := taskCache.GetCurrent(context.Background(), "7B")
	require.NoError(t, err)
	assert.Equal(t, current.Title, backfilled.Title)
}

func TestCaptureCycle_MissingAssignmentYieldsEmptyContext(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "9A"),
	}}
	analyzer := &fakeVisionAnalyzer{score: 2}

	job := NewCaptureCycleJob(sessions, newFakeAssignmentRepo(), newFakeTaskCache(), &fakeFrameSource{}, analyzer, &fakeObservationRecorder{}, nil, nil, captureJobConfig())
	require.NoError(t, job.Run(context.Background()))

	contexts := analyzer.taskContexts()
	require.Len(t, contexts, 1)
	assert.Empty(t, contexts[0], "no current assignment means a general-schoolwork prompt")
}

func TestCaptureCycle_AllSessionsFailingReturnsError(t *testing.T) {
	sessions := &fakeSessionStore{sessions: []*tracking.Session{
		activeSession(t, "student-1", "7B"),
		activeSession(t, "student-2", "7B"),
	}}

	job := NewCaptureCycleJob(
		sessions,
		newFakeAssignmentRepo(),
		nil,
		&fakeFrameSource{err: errors.New("agent unreachable")},
		&fakeVisionAnalyzer{},
		&fakeObservationRecorder{},
		nil,
		nil,
		captureJobConfig(),
	)

	err := job.Run(context.Background())
	require.Error(t, err)

	stats := job.LastRunStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Failed)
	assert.Zero(t, stats.Succeeded)
}
