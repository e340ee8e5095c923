package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual per-user rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// userID -> feature -> enabled
	userOverrides map[string]map[string]bool

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Users are bucketed by a hash of their ID.
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	UserID  string
	IsAdmin bool
}

// ForUser builds a FeatureContext for a plain user.
func ForUser(userID string) *FeatureContext {
	return &FeatureContext{UserID: userID}
}

// Predefined feature flag names.
const (
	FeatureRecommendationCache  = "recommendations.cache"   // Serve recommendation sets from Redis
	FeatureAchievementAutoCheck = "achievements.auto_check" // Evaluate achievements after a step completes
	FeatureAchievementEvents    = "achievements.events"     // Publish unlock events on the bus
	FeatureDocumentProgress     = "progress.documents"      // Include document categories in progress
	FeatureProgressStats        = "progress.stats"          // Include achievement stats in progress
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := newFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

func newFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
		now:           time.Now,
	}
	ff.initializeDefaults()
	return ff
}

// DefaultFeatureFlags returns flags with built-in defaults and no
// environment overrides.
func DefaultFeatureFlags() *FeatureFlags {
	return newFeatureFlags()
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureRecommendationCache] = &Feature{
		Name:           FeatureRecommendationCache,
		Description:    "Cache recommendation sets keyed by user and inputs hash",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAchievementAutoCheck] = &Feature{
		Name:           FeatureAchievementAutoCheck,
		Description:    "Check achievements right after a step is completed",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureAchievementEvents] = &Feature{
		Name:           FeatureAchievementEvents,
		Description:    "Publish achievement.unlocked events",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureDocumentProgress] = &Feature{
		Name:           FeatureDocumentProgress,
		Description:    "Aggregate document library progress by category",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureProgressStats] = &Feature{
		Name:           FeatureProgressStats,
		Description:    "Return achievement statistics with progress",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_RECOMMENDATIONS_CACHE=false
// Example: FEATURE_ACHIEVEMENTS_AUTO_CHECK=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "achievements.auto_check" -> "FEATURE_ACHIEVEMENTS_AUTO_CHECK"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	if ff == nil {
		return false
	}

	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.UserID != "" {
		if overrides, ok := ff.userOverrides[ctx.UserID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.UserID != "" {
		return isInRollout(ctx.UserID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout buckets a user into 0-99 with a stable hash so the same
// user stays in or out across calls.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	return int(h.Sum32()%100) < percent
}

// SetUserOverride sets a feature override for a specific user.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
}

// ClearUserOverrides removes all overrides for a user.
func (ff *FeatureFlags) ClearUserOverrides(userID string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.userOverrides, userID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
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
