package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"APP_ENV", "APP_DEBUG", "APP_TIMEZONE",
		"DATABASE_URL", "DB_HOST", "DB_USER", "DB_DRIVER",
		"REDIS_URL", "REDIS_DISABLED",
		"HTTP_PORT", "HTTP_ALLOWED_ORIGINS",
		"AUTH_JWT_SECRET", "AUTH_DISABLED",
		"RECOMMENDATION_DEFAULT_LIMIT", "RECOMMENDATION_MAX_LIMIT", "RECOMMENDATION_CACHE_TTL",
		"STORE_MAX_RETRIES", "TRACING_SAMPLE_RATIO",
		"FEATURE_RECOMMENDATIONS_CACHE", "FEATURE_ACHIEVEMENTS_AUTO_CHECK",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_DISABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Contains(t, cfg.Database.URL, "complyhub.db")
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.Equal(t, 5*time.Minute, cfg.Recommendation.CacheTTL)
	assert.Equal(t, 5, cfg.Recommendation.DefaultLimit)
	assert.Equal(t, 50, cfg.Recommendation.MaxLimit)
	assert.Equal(t, "authenticated", cfg.Auth.Audience)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.Features.IsEnabled(FeatureRecommendationCache, nil))
}

func TestLoad_DriverDetection(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		driver string
		want   string
	}{
		{"postgres url", "postgres://u:p@db:5432/app", "", DriverPostgres},
		{"sqlite file url", "file:test.db", "", DriverSQLite},
		{"explicit driver", "file:other", "SQLITE", DriverSQLite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("AUTH_DISABLED", "true")
			t.Setenv("DATABASE_URL", tt.url)
			t.Setenv("DB_DRIVER", tt.driver)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.Database.Driver)
			assert.Equal(t, tt.url, cfg.Database.URL)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_JWT_SECRET", "s3cret")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("HTTP_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("RECOMMENDATION_CACHE_TTL", "90s")
	t.Setenv("FEATURE_RECOMMENDATIONS_CACHE", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.Recommendation.CacheTTL)
	assert.False(t, cfg.Features.IsEnabled(FeatureRecommendationCache, ForUser("u1")))
}

func TestLoad_ValidationErrorsAreAggregated(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_DISABLED", "true")
	t.Setenv("HTTP_PORT", "70000")
	t.Setenv("TRACING_SAMPLE_RATIO", "2")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "configuration errors:")
	assert.Contains(t, msg, "DATABASE_URL for postgres is required in production")
	assert.Contains(t, msg, "AUTH_DISABLED cannot be set in production")
	assert.Contains(t, msg, "HTTP_PORT must be 1-65535")
	assert.Contains(t, msg, "TRACING_SAMPLE_RATIO must be within [0, 1]")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:            AppConfig{Environment: EnvDevelopment},
			Database:       DatabaseConfig{Driver: DriverSQLite, URL: "file::memory:"},
			HTTP:           HTTPConfig{Port: 8080},
			Auth:           AuthConfig{JWTSecret: "x"},
			Recommendation: RecommendationConfig{DefaultLimit: 5, MaxLimit: 50},
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "AUTH_JWT_SECRET"},
		{"max below default", func(c *Config) { c.Recommendation.MaxLimit = 2 }, "RECOMMENDATION_MAX_LIMIT"},
		{"zero default", func(c *Config) { c.Recommendation.DefaultLimit = 0 }, "RECOMMENDATION_DEFAULT_LIMIT"},
		{"negative retries", func(c *Config) { c.Resilience.MaxRetries = -1 }, "STORE_MAX_RETRIES"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFeatureFlags(t *testing.T) {
	ff := DefaultFeatureFlags()

	assert.True(t, ff.IsEnabled(FeatureAchievementAutoCheck, ForUser("u1")))
	ff.SetUserOverride("u1", FeatureAchievementAutoCheck, false)
	assert.False(t, ff.IsEnabled(FeatureAchievementAutoCheck, ForUser("u1")))
	assert.True(t, ff.IsEnabled(FeatureAchievementAutoCheck, ForUser("u2")))
	ff.ClearUserOverrides("u1")
	assert.True(t, ff.IsEnabled(FeatureAchievementAutoCheck, ForUser("u1")))

	assert.ErrorIs(t, ff.DisableFeature("no.such.feature"), ErrFeatureNotFound)
	assert.False(t, ff.IsEnabled("no.such.feature", nil))

	var nilFlags *FeatureFlags
	assert.False(t, nilFlags.IsEnabled(FeatureProgressStats, nil))
}

func TestFeatureFlags_Rollout(t *testing.T) {
	ff := DefaultFeatureFlags()
	require.NoError(t, ff.SetRolloutPercent(FeatureProgressStats, 0))
	assert.False(t, ff.IsEnabled(FeatureProgressStats, ForUser("u1")))

	require.NoError(t, ff.SetRolloutPercent(FeatureProgressStats, 100))
	assert.True(t, ff.IsEnabled(FeatureProgressStats, ForUser("u1")))

	assert.Error(t, ff.SetRolloutPercent(FeatureProgressStats, 101))
}
