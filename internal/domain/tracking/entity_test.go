package tracking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSession_StartsAtMaximumFocus(t *testing.T) {
	s, err := NewSession(NewSessionParams{
		ID:          "machine-01",
		Classroom:   "grade-7b",
		DisplayName: "Aruzhan",
	})

	assert.NoError(t, err)
	assert.Equal(t, InitialFocusScore, s.FocusScore)
	assert.True(t, s.Active)
	assert.Empty(t, s.History)
	assert.Equal(t, SuggestionOnTask, s.Suggestion())
}

func TestNewSession_DisplayNameFallsBackToID(t *testing.T) {
	s, err := NewSession(NewSessionParams{ID: "machine-02", Classroom: "grade-7b"})

	assert.NoError(t, err)
	assert.Equal(t, "machine-02", s.DisplayName)
}

func TestNewSession_Validation(t *testing.T) {
	_, err := NewSession(NewSessionParams{ID: "", Classroom: "grade-7b"})
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = NewSession(NewSessionParams{ID: "has spaces", Classroom: "grade-7b"})
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = NewSession(NewSessionParams{ID: "machine-03", Classroom: ""})
	assert.ErrorIs(t, err, ErrInvalidClassroomID)
}

func TestSession_RecordFreshSessionCapsAtTen(t *testing.T) {
	// A session nobody has seen before gets a strongly focused
	// observation: the score stays capped at 10 and the history
	// records the description.
	s, err := NewSession(NewSessionParams{ID: "machine-04", Classroom: "grade-7b"})
	assert.NoError(t, err)

	obs := Observation{
		RawScore:    5,
		Description: "reading text",
		ObservedAt:  time.Now().UTC(),
	}
	assert.NoError(t, obs.Validate())

	s.Record(obs)

	assert.Equal(t, FocusScore(10), s.FocusScore)
	assert.Equal(t, []string{"reading text"}, s.History)
	assert.Equal(t, obs, s.LastObservation)
}

func TestSession_RecordUpdatesScoreAndHistory(t *testing.T) {
	s, err := NewSession(NewSessionParams{ID: "machine-05", Classroom: "grade-7b"})
	assert.NoError(t, err)

	s.Record(Observation{RawScore: 1, Description: "watching videos"})
	s.Record(Observation{RawScore: 0, Description: "playing a game"})
	s.Record(Observation{RawScore: 3, Description: "switching windows"})

	assert.Equal(t, FocusScore(8), s.FocusScore)
	assert.Equal(t, []string{"switching windows", "playing a game", "watching videos"}, s.History)
}

func TestSession_RecordDoesNotTouchActiveFlag(t *testing.T) {
	s, err := NewSession(NewSessionParams{ID: "machine-06", Classroom: "grade-7b"})
	assert.NoError(t, err)

	for i := 0; i < 15; i++ {
		s.Record(Observation{RawScore: 0, Description: "off task"})
	}

	// Score has hit the floor but the session is still being monitored.
	assert.Equal(t, MinFocusScore, s.FocusScore)
	assert.True(t, s.Active)
	assert.Equal(t, SuggestionNeedsReminder, s.Suggestion())
}

func TestSession_MarkInactiveKeepsScoreAndHistory(t *testing.T) {
	s, err := NewSession(NewSessionParams{ID: "machine-07", Classroom: "grade-7b"})
	assert.NoError(t, err)

	s.Record(Observation{RawScore: 1, Description: "browsing"})
	score := s.FocusScore

	s.MarkInactive()
	assert.False(t, s.Active)
	assert.Equal(t, score, s.FocusScore)
	assert.Len(t, s.History, 1)

	s.MarkActive()
	assert.True(t, s.Active)
	assert.Equal(t, score, s.FocusScore)
}

func TestSession_HistoryRollsOver(t *testing.T) {
	s, err := NewSession(NewSessionParams{ID: "machine-08", Classroom: "grade-7b"})
	assert.NoError(t, err)

	for i := 1; i <= MaxHistoryEntries+10; i++ {
		s.Record(Observation{RawScore: 3, Description: fmt.Sprintf("frame %d", i)})
	}

	assert.Len(t, s.History, MaxHistoryEntries)
	assert.Equal(t, "frame 70", s.History[0])
	assert.Equal(t, "frame 11", s.History[MaxHistoryEntries-1])
}

func TestSession_Clone(t *testing.T) {
	s, err := NewSession(NewSessionParams{ID: "machine-09", Classroom: "grade-7b"})
	assert.NoError(t, err)
	s.Record(Observation{RawScore: 4, Description: "writing an essay"})

	clone := s.Clone()
	clone.Record(Observation{RawScore: 0, Description: "games"})

	// Mutating the clone leaves the original untouched.
	assert.Equal(t, FocusScore(10), s.FocusScore)
	assert.Len(t, s.History, 1)
	assert.Equal(t, FocusScore(9), clone.FocusScore)
	assert.Len(t, clone.History, 2)
}

func TestObservation_Validate(t *testing.T) {
	valid := Observation{RawScore: 3, Description: "reading"}
	assert.NoError(t, valid.Validate())

	outOfRange := Observation{RawScore: 6, Description: "reading"}
	assert.ErrorIs(t, outOfRange.Validate(), ErrRawScoreOutOfRange)

	negative := Observation{RawScore: -1, Description: "reading"}
	assert.ErrorIs(t, negative.Validate(), ErrRawScoreOutOfRange)

	empty := Observation{RawScore: 3, Description: "   "}
	assert.ErrorIs(t, empty.Validate(), ErrEmptyDescription)
}

func TestRawScore_Clamp(t *testing.T) {
	assert.Equal(t, RawScore(0), RawScore(-3).Clamp())
	assert.Equal(t, RawScore(5), RawScore(9).Clamp())
	assert.Equal(t, RawScore(2), RawScore(2).Clamp())
}

func TestSuggestion_IsValid(t *testing.T) {
	assert.True(t, SuggestionOnTask.IsValid())
	assert.True(t, SuggestionAmbiguous.IsValid())
	assert.True(t, SuggestionNeedsReminder.IsValid())
	assert.False(t, Suggestion("unknown").IsValid())
}
