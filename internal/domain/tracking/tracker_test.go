package tracking

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyObservation_DistractedDecrements(t *testing.T) {
	for current := MinFocusScore; current <= MaxFocusScore; current++ {
		for _, raw := range []RawScore{0, 1, 2} {
			got := ApplyObservation(current, raw)
			want := current - 1
			if want < MinFocusScore {
				want = MinFocusScore
			}
			assert.Equal(t, want, got, "current=%d raw=%d", current, raw)
		}
	}
}

func TestApplyObservation_FocusedIncrements(t *testing.T) {
	for current := MinFocusScore; current <= MaxFocusScore; current++ {
		for _, raw := range []RawScore{4, 5} {
			got := ApplyObservation(current, raw)
			want := current + 1
			if want > MaxFocusScore {
				want = MaxFocusScore
			}
			assert.Equal(t, want, got, "current=%d raw=%d", current, raw)
		}
	}
}

func TestApplyObservation_NeutralBandIsNoOp(t *testing.T) {
	for current := MinFocusScore; current <= MaxFocusScore; current++ {
		assert.Equal(t, current, ApplyObservation(current, 3), "current=%d", current)
	}
}

func TestApplyObservation_AlwaysSaturates(t *testing.T) {
	for current := MinFocusScore; current <= MaxFocusScore; current++ {
		for raw := MinRawScore; raw <= MaxRawScore; raw++ {
			got := ApplyObservation(current, raw)
			assert.True(t, got.IsValid(), "current=%d raw=%d got=%d", current, raw, got)
		}
	}
}

func TestApplyObservation_FloorHolds(t *testing.T) {
	// currentScore=0, rawScore=1 stays at the floor
	assert.Equal(t, FocusScore(0), ApplyObservation(0, 1))
}

func TestApplyObservation_CeilingHolds(t *testing.T) {
	// currentScore=10, rawScore=5 stays at the ceiling
	assert.Equal(t, FocusScore(10), ApplyObservation(10, 5))
}

func TestApplyObservation_IsPure(t *testing.T) {
	// Replaying the same observation from the same starting state
	// yields the same result both times.
	first := ApplyObservation(7, 1)
	second := ApplyObservation(7, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, FocusScore(6), first)
}

func TestPushHistory_NewestFirst(t *testing.T) {
	history := PushHistory(nil, "first")
	history = PushHistory(history, "second")
	history = PushHistory(history, "third")

	assert.Equal(t, []string{"third", "second", "first"}, history)
}

func TestPushHistory_DoesNotMutateInput(t *testing.T) {
	original := PushHistory(nil, "one")
	_ = PushHistory(original, "two")

	assert.Equal(t, []string{"one"}, original)
}

func TestPushHistory_CapsAtSixtyEntries(t *testing.T) {
	// Insert 61 distinct descriptions one at a time; the final history
	// holds exactly the last 60, newest first.
	var history []string
	for i := 1; i <= 61; i++ {
		history = PushHistory(history, fmt.Sprintf("activity %d", i))
	}

	assert.Len(t, history, MaxHistoryEntries)
	assert.Equal(t, "activity 61", history[0])
	assert.Equal(t, "activity 2", history[MaxHistoryEntries-1])

	// "activity 1" was pushed out.
	assert.NotContains(t, history, "activity 1")
}

func TestPushHistory_NeverExceedsCap(t *testing.T) {
	var history []string
	for i := 0; i < 200; i++ {
		history = PushHistory(history, fmt.Sprintf("entry %d", i))
		assert.LessOrEqual(t, len(history), MaxHistoryEntries)
		assert.Equal(t, fmt.Sprintf("entry %d", i), history[0])
	}
}

func TestDeriveSuggestion_Thresholds(t *testing.T) {
	cases := []struct {
		score FocusScore
		want  Suggestion
	}{
		{0, SuggestionNeedsReminder},
		{1, SuggestionNeedsReminder},
		{2, SuggestionNeedsReminder},
		{3, SuggestionNeedsReminder},
		{4, SuggestionAmbiguous},
		{5, SuggestionAmbiguous},
		{6, SuggestionAmbiguous},
		{7, SuggestionOnTask},
		{8, SuggestionOnTask},
		{9, SuggestionOnTask},
		{10, SuggestionOnTask},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, DeriveSuggestion(tc.score), "score=%d", tc.score)
	}
}
