package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/classlens/classlens-monitor/internal/domain/shared"
	"github.com/classlens/classlens-monitor/internal/domain/tracking"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─────────────────────────────────────────────────────────────────────────────
// In-memory fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[tracking.SessionID]*tracking.Session

	// failUpserts makes the next N upserts return a transient error
	failUpserts int
	upsertCalls int
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[tracking.SessionID]*tracking.Session)}
}

func (r *fakeSessionRepo) Upsert(ctx context.Context, session *tracking.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.upsertCalls++
	if r.failUpserts > 0 {
		r.failUpserts--
		return errors.New("transient connection error")
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *fakeSessionRepo) GetByID(ctx context.Context, id tracking.SessionID) (*tracking.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, tracking.ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *fakeSessionRepo) GetByClassroom(ctx context.Context, classroom tracking.ClassroomID, opts tracking.ListOptions) ([]*tracking.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*tracking.Session
	for _, s := range r.sessions {
		if s.Classroom != classroom {
			continue
		}
		if opts.ActiveOnly && !s.Active {
			continue
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

func (r *fakeSessionRepo) ListActive(ctx context.Context) ([]*tracking.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*tracking.Session
	for _, s := range r.sessions {
		if s.Active {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) SetActive(ctx context.Context, id tracking.SessionID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return tracking.ErrSessionNotFound
	}
	s.Active = active
	return nil
}

type fakeJournal struct {
	mu      sync.Mutex
	entries []tracking.JournalEntry
}

func (j *fakeJournal) Append(ctx context.Context, entry tracking.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

func (j *fakeJournal) Recent(ctx context.Context, id tracking.SessionID, limit int) ([]tracking.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []tracking.JournalEntry
	for i := len(j.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if j.entries[i].SessionID == id {
			out = append(out, j.entries[i])
		}
	}
	return out, nil
}

func (j *fakeJournal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *fakePublisher) Publish(event shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) byType(t shared.EventType) []shared.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []shared.Event
	for _, e := range p.events {
		if e.EventType() == t {
			out = append(out, e)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func newHandler(repo *fakeSessionRepo, journal *fakeJournal, pub *fakePublisher) *RecordObservationHandler {
	return NewRecordObservationHandler(repo, nil, journal, nil, pub, RecordObservationHandlerConfig{
		CacheTTL: time.Minute,
	})
}

func obsCommand(id string, raw int, desc string) RecordObservationCommand {
	return RecordObservationCommand{
		SessionID:   id,
		Classroom:   "7B",
		RawScore:    raw,
		Description: desc,
	}
}

func TestRecordObservation_FreshSessionStartsAtMaximum(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	result, err := h.Handle(context.Background(), obsCommand("student-1", 5, "reading assigned text"))
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, 10, result.PreviousScore)
	assert.Equal(t, 10, result.NewScore, "score 5 at the ceiling stays at the ceiling")
	assert.Equal(t, tracking.SuggestionOnTask, result.Suggestion)

	saved, err := repo.GetByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"reading assigned text"}, saved.History)
}

func TestRecordObservation_DistractedFrameDecrements(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	_, err := h.Handle(context.Background(), obsCommand("student-1", 1, "browsing a game store"))
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), obsCommand("student-1", 0, "still browsing the game store"))
	require.NoError(t, err)

	assert.False(t, result.Created)
	assert.Equal(t, 9, result.PreviousScore)
	assert.Equal(t, 8, result.NewScore)
	assert.Equal(t, 2, result.HistorySize)
}

func TestRecordObservation_NeutralFrameKeepsScore(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	_, err := h.Handle(context.Background(), obsCommand("student-1", 2, "watching videos"))
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), obsCommand("student-1", 3, "switching windows"))
	require.NoError(t, err)

	assert.Equal(t, 9, result.PreviousScore)
	assert.Equal(t, 9, result.NewScore, "neutral frame must not move the score")
	assert.Equal(t, 2, result.HistorySize, "neutral frame still lands in history")
}

func TestRecordObservation_RejectsOutOfRangeRawScore(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	_, err := h.Handle(context.Background(), obsCommand("student-1", 6, "whatever"))
	require.Error(t, err)
	assert.ErrorIs(t, err, tracking.ErrRawScoreOutOfRange)

	_, err = h.Handle(context.Background(), obsCommand("student-1", -1, "whatever"))
	require.Error(t, err)
	assert.ErrorIs(t, err, tracking.ErrRawScoreOutOfRange)

	assert.Zero(t, repo.upsertCalls, "rejected commands must not touch storage")
}

func TestRecordObservation_RejectsBlankDescription(t *testing.T) {
	h := newHandler(newFakeSessionRepo(), &fakeJournal{}, &fakePublisher{})

	_, err := h.Handle(context.Background(), obsCommand("student-1", 4, "   "))
	require.Error(t, err)
	assert.ErrorIs(t, err, tracking.ErrEmptyDescription)
}

func TestRecordObservation_TransientFailureRetriesSameResult(t *testing.T) {
	repo := newFakeSessionRepo()
	repo.failUpserts = 2 // first two write attempts fail
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	result, err := h.Handle(context.Background(), obsCommand("student-1", 0, "playing a game"))
	require.NoError(t, err)

	// The score delta was computed once; retried writes stored the
	// same result instead of re-applying the decrement.
	assert.Equal(t, 9, result.NewScore)
	assert.GreaterOrEqual(t, repo.upsertCalls, 3)

	saved, err := repo.GetByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, tracking.FocusScore(9), saved.FocusScore)
	assert.Equal(t, []string{"playing a game"}, saved.History)
}

func TestRecordObservation_JournalReceivesEveryObservation(t *testing.T) {
	journal := &fakeJournal{}
	h := newHandler(newFakeSessionRepo(), journal, &fakePublisher{})

	_, err := h.Handle(context.Background(), obsCommand("student-1", 5, "taking notes"))
	require.NoError(t, err)
	_, err = h.Handle(context.Background(), obsCommand("student-1", 3, "idle desktop"))
	require.NoError(t, err)

	require.Len(t, journal.entries, 2)
	assert.Equal(t, tracking.RawScore(5), journal.entries[0].RawScore)
	assert.Equal(t, tracking.FocusScore(10), journal.entries[0].FocusScore)
	assert.Equal(t, tracking.RawScore(3), journal.entries[1].RawScore)
}

func TestRecordObservation_ReminderEventOnThresholdCrossing(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &fakePublisher{}
	h := newHandler(repo, &fakeJournal{}, pub)

	// Seven distracted frames: 10 -> 3, crossing into needs-reminder
	for i := 0; i < 7; i++ {
		_, err := h.Handle(context.Background(), obsCommand("student-1", 0, "watching videos"))
		require.NoError(t, err)
	}

	reminders := pub.byType(shared.EventReminderNeeded)
	require.Len(t, reminders, 1, "the crossing fires exactly once")

	// One more distracted frame stays inside needs-reminder: no new event
	_, err := h.Handle(context.Background(), obsCommand("student-1", 1, "watching videos"))
	require.NoError(t, err)
	assert.Len(t, pub.byType(shared.EventReminderNeeded), 1)
}

func TestRecordObservation_BackOnTaskEventAfterRecovery(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &fakePublisher{}
	h := newHandler(repo, &fakeJournal{}, pub)

	for i := 0; i < 7; i++ {
		_, err := h.Handle(context.Background(), obsCommand("student-1", 0, "off task"))
		require.NoError(t, err)
	}

	// Climb back: 3 -> 7 takes four focused frames
	for i := 0; i < 4; i++ {
		_, err := h.Handle(context.Background(), obsCommand("student-1", 5, "back to the essay"))
		require.NoError(t, err)
	}

	assert.Len(t, pub.byType(shared.EventBackOnTask), 1)
}

func TestRecordObservation_ScoreChangeEventCarriesTransition(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandler(newFakeSessionRepo(), &fakeJournal{}, pub)

	_, err := h.Handle(context.Background(), obsCommand("student-1", 1, "chatting"))
	require.NoError(t, err)

	changes := pub.byType(shared.EventFocusScoreChanged)
	require.Len(t, changes, 1)

	change, ok := changes[0].(shared.FocusScoreChangedEvent)
	require.True(t, ok)
	assert.Equal(t, 10, change.OldScore)
	assert.Equal(t, 9, change.NewScore)
	assert.Equal(t, 1, change.RawScore)
}

func TestRecordObservation_FloorSaturationEmitsNoChangeEvent(t *testing.T) {
	repo := newFakeSessionRepo()
	pub := &fakePublisher{}
	h := newHandler(repo, &fakeJournal{}, pub)

	// Drive to the floor, then keep hammering it
	for i := 0; i < 15; i++ {
		_, err := h.Handle(context.Background(), obsCommand("student-1", 0, "games"))
		require.NoError(t, err)
	}

	saved, err := repo.GetByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, tracking.FocusScore(0), saved.FocusScore)
	assert.True(t, saved.Active, "the active flag never follows the score")

	// 10 -> 0 is ten decrements; saturated frames emit nothing
	assert.Len(t, pub.byType(shared.EventFocusScoreChanged), 10)
}

func TestRecordObservation_SameSessionSerialized(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	const n = 30
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := h.Handle(context.Background(), obsCommand("student-1", 0, "distraction"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 30 serialized decrements from 10 saturate at the floor; a lost
	// update would leave the score above it.
	saved, err := repo.GetByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Equal(t, tracking.FocusScore(0), saved.FocusScore)
	assert.Len(t, saved.History, 30)
}

func TestRecordObservation_DifferentSessionsIndependent(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	var wg sync.WaitGroup
	ids := []string{"student-1", "student-2", "student-3"}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 4; i++ {
				_, err := h.Handle(context.Background(), obsCommand(id, 0, "off task"))
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		saved, err := repo.GetByID(context.Background(), tracking.SessionID(id))
		require.NoError(t, err)
		assert.Equal(t, tracking.FocusScore(6), saved.FocusScore, "session %s", id)
	}
}

func TestRecordObservation_HistoryCapHolds(t *testing.T) {
	repo := newFakeSessionRepo()
	h := newHandler(repo, &fakeJournal{}, &fakePublisher{})

	for i := 0; i < 70; i++ {
		_, err := h.Handle(context.Background(), RecordObservationCommand{
			SessionID:   "student-1",
			Classroom:   "7B",
			RawScore:    3,
			Description: "frame " + string(rune('A'+i%26)),
		})
		require.NoError(t, err)
	}

	saved, err := repo.GetByID(context.Background(), "student-1")
	require.NoError(t, err)
	assert.Len(t, saved.History, tracking.MaxHistoryEntries)
}
