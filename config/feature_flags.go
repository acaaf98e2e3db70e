package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles for gradual rollout.
// Supports per-classroom rollout, session overrides, and time-based
// activation. Rollout buckets are computed by consistent hashing of
// the session ID, so a session stays in its bucket across restarts.
type FeatureFlags struct {
	mu sync.RWMutex

	// Core features
	features map[string]*Feature

	// Override rules (for testing/debugging)
	sessionOverrides map[string]map[string]bool // sessionID -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Sessions are assigned based on hash of their ID
	RolloutPercent int

	// Classroom targeting (e.g., "grade-7b")
	// Empty means all classrooms
	TargetClassrooms []string

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	SessionID string // tracked session
	Classroom string // classroom the session belongs to
	IsAdmin   bool   // admin dashboards see everything
}

// Predefined feature flag names.
const (
	// === Tracking Features ===
	FeatureTrackingPresence  = "tracking.presence"  // online presence via Redis heartbeats
	FeatureTrackingJournal   = "tracking.journal"   // persist per-observation journal rows
	FeatureTrackingReminders = "tracking.reminders" // emit reminder events on low scores

	// === Vision Features ===
	FeatureVisionShortDescriptions = "vision.short_descriptions" // ask the model for list-view summaries
	FeatureVisionAssignmentContext = "vision.assignment_context" // include current assignment in the prompt

	// === Dashboard Features ===
	FeatureDashboardOverview = "dashboard.overview" // classroom overview endpoint
	FeatureDashboardRelative = "dashboard.relative" // relative "last seen" timestamps

	// === Experimental Features ===
	FeatureExperimentalBatchScoring = "experimental.batch_scoring" // score several frames per request
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		sessionOverrides: make(map[string]map[string]bool),
	}

	// Initialize all features with defaults
	ff.initializeDefaults()

	// Load overrides from environment
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	// Tracking features - enabled by default, they are the product
	ff.features[FeatureTrackingPresence] = &Feature{
		Name:           FeatureTrackingPresence,
		Description:    "Track session presence via Redis heartbeats",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureTrackingJournal] = &Feature{
		Name:           FeatureTrackingJournal,
		Description:    "Persist a journal row for every observation",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureTrackingReminders] = &Feature{
		Name:           FeatureTrackingReminders,
		Description:    "Emit reminder events when focus drops below threshold",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Vision features
	ff.features[FeatureVisionShortDescriptions] = &Feature{
		Name:           FeatureVisionShortDescriptions,
		Description:    "Request short descriptions for dashboard list views",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureVisionAssignmentContext] = &Feature{
		Name:           FeatureVisionAssignmentContext,
		Description:    "Include the current assignment in the scoring prompt",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Dashboard features
	ff.features[FeatureDashboardOverview] = &Feature{
		Name:           FeatureDashboardOverview,
		Description:    "Classroom overview endpoint",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDashboardRelative] = &Feature{
		Name:           FeatureDashboardRelative,
		Description:    "Relative last-seen timestamps on the dashboard",
		Enabled:        true,
		RolloutPercent: 100,
	}

	// Experimental - off by default
	ff.features[FeatureExperimentalBatchScoring] = &Feature{
		Name:           FeatureExperimentalBatchScoring,
		Description:    "Score several frames in one model request",
		Enabled:        false,
		RolloutPercent: 0,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_TRACKING_REMINDERS=true
// Example: FEATURE_EXPERIMENTAL_BATCH_SCORING=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			// Try parsing as boolean
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			// Try parsing as percentage
			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "tracking.presence" -> "FEATURE_TRACKING_PRESENCE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check session overrides first
	if ctx != nil && ctx.SessionID != "" {
		if overrides, ok := ff.sessionOverrides[ctx.SessionID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	// Admin dashboards get all features
	if ctx != nil && ctx.IsAdmin {
		return true
	}

	// Check if feature is enabled at all
	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check classroom targeting
	if len(feature.TargetClassrooms) > 0 && ctx != nil && ctx.Classroom != "" {
		classroomMatch := false
		for _, c := range feature.TargetClassrooms {
			if c == ctx.Classroom {
				classroomMatch = true
				break
			}
		}
		if !classroomMatch {
			return false
		}
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.SessionID != "" {
		return ff.isInRollout(ctx.SessionID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a session is in the rollout percentage.
// Uses consistent hashing so sessions stay in their bucket.
func (ff *FeatureFlags) isInRollout(sessionID, featureName string, percent int) bool {
	// Create a consistent hash for this session+feature combination
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(sessionID))
	hash := h.Sum32()

	// Map to 0-99 range
	bucket := int(hash % 100)

	return bucket < percent
}

// SetSessionOverride sets a feature override for a specific session.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetSessionOverride(sessionID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.sessionOverrides[sessionID]; !ok {
		ff.sessionOverrides[sessionID] = make(map[string]bool)
	}
	ff.sessionOverrides[sessionID][featureName] = enabled
}

// ClearSessionOverrides removes all overrides for a session.
func (ff *FeatureFlags) ClearSessionOverrides(sessionID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.sessionOverrides, sessionID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		// Return a copy
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
