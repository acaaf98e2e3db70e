package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureFlags_DefaultsEnableTrackingFeatures(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureTrackingPresence, nil))
	assert.True(t, ff.IsEnabled(FeatureTrackingJournal, nil))
	assert.True(t, ff.IsEnabled(FeatureTrackingReminders, nil))

	assert.False(t, ff.IsEnabled(FeatureExperimentalBatchScoring, nil), "experimental features start disabled")
}

func TestFeatureFlags_UnknownFeatureIsDisabled(t *testing.T) {
	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled("tracking.telepathy", nil))
}

func TestFeatureFlags_EnvOverrideDisablesFeature(t *testing.T) {
	t.Setenv("FEATURE_TRACKING_REMINDERS", "false")

	ff := LoadFeatureFlags()
	assert.False(t, ff.IsEnabled(FeatureTrackingReminders, nil))
}

func TestFeatureFlags_EnvOverrideSetsRolloutPercent(t *testing.T) {
	t.Setenv("FEATURE_EXPERIMENTAL_BATCH_SCORING", "100")

	ff := LoadFeatureFlags()
	assert.True(t, ff.IsEnabled(FeatureExperimentalBatchScoring, nil))
}

func TestFeatureFlags_SessionOverrideWinsOverDefaults(t *testing.T) {
	ff := LoadFeatureFlags()
	ff.SetSessionOverride("student-1", FeatureTrackingJournal, false)

	ctx := &FeatureContext{SessionID: "student-1"}
	assert.False(t, ff.IsEnabled(FeatureTrackingJournal, ctx))
	assert.True(t, ff.IsEnabled(FeatureTrackingJournal, &FeatureContext{SessionID: "student-2"}))

	ff.ClearSessionOverrides("student-1")
	assert.True(t, ff.IsEnabled(FeatureTrackingJournal, ctx))
}

func TestFeatureFlags_AdminSeesDisabledFeatures(t *testing.T) {
	ff := LoadFeatureFlags()

	ctx := &FeatureContext{IsAdmin: true}
	assert.True(t, ff.IsEnabled(FeatureExperimentalBatchScoring, ctx))
}

func TestFeatureFlags_RolloutBucketIsStable(t *testing.T) {
	ff := LoadFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureDashboardRelative, 50))

	ctx := &FeatureContext{SessionID: "student-1"}
	first := ff.IsEnabled(FeatureDashboardRelative, ctx)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, ff.IsEnabled(FeatureDashboardRelative, ctx), "rollout decision must not flap between checks")
	}
}

func TestFeatureFlags_SetRolloutPercentValidation(t *testing.T) {
	ff := LoadFeatureFlags()

	assert.ErrorIs(t, ff.SetRolloutPercent("tracking.telepathy", 50), ErrFeatureNotFound)
	assert.ErrorIs(t, ff.SetRolloutPercent(FeatureTrackingPresence, 101), ErrInvalidRolloutPercent)
}

func TestFeatureFlags_TimeWindowGatesActivation(t *testing.T) {
	ff := LoadFeatureFlags()

	future := time.Now().Add(time.Hour)
	features := ff.features
	features[FeatureDashboardOverview].EnabledFrom = &future

	assert.False(t, ff.IsEnabled(FeatureDashboardOverview, nil))
}
