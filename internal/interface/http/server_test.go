package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/complyhub/guidance-core/internal/application/command"
	"github.com/complyhub/guidance-core/internal/application/query"
	"github.com/complyhub/guidance-core/internal/domain/recommendation"
	"github.com/complyhub/guidance-core/internal/domain/shared"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

const testSecret = "test-secret"

// ══════════════════════════════════════════════════════════════════════════════
// FAKES
// ══════════════════════════════════════════════════════════════════════════════

type fakeApp struct {
	lastRecs  query.GetRecommendationsQuery
	lastTop   query.GetTopRecommendationsQuery
	lastStep  command.StepCommand
	lastDoc   command.MarkDocumentCompleteCommand
	stepErr   error
	docErr    error
	progErr   error
	completed bool
}

func (f *fakeApp) recs() RecommendationsQuery { return recsFunc(f.handleRecs) }

func (f *fakeApp) handleRecs(_ context.Context, q query.GetRecommendationsQuery) (*query.GetRecommendationsResult, error) {
	f.lastRecs = q
	return &query.GetRecommendationsResult{UserID: q.UserID}, nil
}

type recsFunc func(context.Context, query.GetRecommendationsQuery) (*query.GetRecommendationsResult, error)

func (fn recsFunc) Handle(ctx context.Context, q query.GetRecommendationsQuery) (*query.GetRecommendationsResult, error) {
	return fn(ctx, q)
}

type topFunc func(context.Context, query.GetTopRecommendationsQuery) (*query.GetTopRecommendationsResult, error)

func (fn topFunc) Handle(ctx context.Context, q query.GetTopRecommendationsQuery) (*query.GetTopRecommendationsResult, error) {
	return fn(ctx, q)
}

type progressFunc func(context.Context, query.GetProgressQuery) (*query.GetProgressResult, error)

func (fn progressFunc) Handle(ctx context.Context, q query.GetProgressQuery) (*query.GetProgressResult, error) {
	return fn(ctx, q)
}

type achievementsFunc func(context.Context, query.GetAchievementsQuery) (*query.GetAchievementsResult, error)

func (fn achievementsFunc) Handle(ctx context.Context, q query.GetAchievementsQuery) (*query.GetAchievementsResult, error) {
	return fn(ctx, q)
}

type checkFunc func(context.Context, command.CheckAndUnlockAchievementsCommand) (*command.CheckAndUnlockAchievementsResult, error)

func (fn checkFunc) Handle(ctx context.Context, cmd command.CheckAndUnlockAchievementsCommand) (*command.CheckAndUnlockAchievementsResult, error) {
	return fn(ctx, cmd)
}

type documentFunc func(context.Context, command.MarkDocumentCompleteCommand) (*command.MarkDocumentCompleteResult, error)

func (fn documentFunc) Handle(ctx context.Context, cmd command.MarkDocumentCompleteCommand) (*command.MarkDocumentCompleteResult, error) {
	return fn(ctx, cmd)
}

func (f *fakeApp) RecordVisit(_ context.Context, cmd command.RecordStepVisitCommand) (*command.StepProgressResult, error) {
	f.lastStep = cmd.StepCommand
	f.completed = false
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	return &command.StepProgressResult{UserID: cmd.UserID, StepID: cmd.StepID}, nil
}

func (f *fakeApp) MarkComplete(_ context.Context, cmd command.MarkStepCompleteCommand) (*command.StepProgressResult, error) {
	f.lastStep = cmd.StepCommand
	f.completed = true
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	return &command.StepProgressResult{UserID: cmd.UserID, StepID: cmd.StepID, Completed: true}, nil
}

func newTestServer(t *testing.T, app *fakeApp, auth AuthConfig, checks map[string]HealthCheck) *Server {
	t.Helper()
	if auth.Secret == "" && !auth.Disabled {
		auth.Secret = testSecret
	}
	authenticator, err := NewAuthenticator(auth, nil)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://localhost:5173"}

	return NewServer(cfg, Dependencies{
		Recommendations: app.recs(),
		TopRecommendations: topFunc(func(_ context.Context, q query.GetTopRecommendationsQuery) (*query.GetTopRecommendationsResult, error) {
			app.lastTop = q
			return &query.GetTopRecommendationsResult{UserID: q.UserID, Items: []recommendation.Recommendation{}, Limit: q.Limit}, nil
		}),
		Progress: progressFunc(func(_ context.Context, q query.GetProgressQuery) (*query.GetProgressResult, error) {
			if app.progErr != nil {
				return nil, app.progErr
			}
			return &query.GetProgressResult{UserID: q.UserID, OverallPercentage: 40}, nil
		}),
		Achievements: achievementsFunc(func(_ context.Context, q query.GetAchievementsQuery) (*query.GetAchievementsResult, error) {
			return &query.GetAchievementsResult{UserID: q.UserID, Achievements: []query.AchievementDTO{}}, nil
		}),
		CheckAchievements: checkFunc(func(_ context.Context, cmd command.CheckAndUnlockAchievementsCommand) (*command.CheckAndUnlockAchievementsResult, error) {
			return &command.CheckAndUnlockAchievementsResult{UserID: cmd.UserID, Unlocked: []command.UnlockedAchievement{}}, nil
		}),
		Steps: app,
		Documents: documentFunc(func(_ context.Context, cmd command.MarkDocumentCompleteCommand) (*command.MarkDocumentCompleteResult, error) {
			app.lastDoc = cmd
			if app.docErr != nil {
				return nil, app.docErr
			}
			return &command.MarkDocumentCompleteResult{UserID: cmd.UserID, DocumentID: cmd.DocumentID}, nil
		}),
		Auth:            authenticator,
		HealthChecks:    checks,
		DefaultTopLimit: 5,
	})
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(subject string) Claims {
	now := time.Now()
	return Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{"authenticated"},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}}
}

func do(t *testing.T, s *Server, method, target, token string) (*httptest.ResponseRecorder, JSONResponse) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body JSONResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	}
	return rec, body
}

// ══════════════════════════════════════════════════════════════════════════════
// TESTS
// ══════════════════════════════════════════════════════════════════════════════

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	s := newTestServer(t, &fakeApp{}, AuthConfig{}, map[string]HealthCheck{"store": ok})
	rec, body := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	s = newTestServer(t, &fakeApp{}, AuthConfig{}, map[string]HealthCheck{"store": ok, "cache": down})
	rec, body = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "degraded", data["status"])
	assert.Equal(t, "connection refused", data["checks"].(map[string]any)["cache"])
}

func TestAuth_RejectsBadTokens(t *testing.T) {
	s := newTestServer(t, &fakeApp{}, AuthConfig{Audience: "authenticated"}, nil)

	expired := validClaims("u1")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	wrongAudience := validClaims("u1")
	wrongAudience.Audience = jwt.ClaimStrings{"anon"}

	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", signToken(t, "other-secret", validClaims("u1"))},
		{"expired", signToken(t, testSecret, expired)},
		{"wrong audience", signToken(t, testSecret, wrongAudience)},
		{"no subject", signToken(t, testSecret, validClaims(""))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := do(t, s, http.MethodGet, "/api/v1/progress", tt.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			require.NotNil(t, body.Error)
			assert.Equal(t, "unauthorized", body.Error.Code)
		})
	}
}

func TestAuth_SubjectBecomesUser(t *testing.T) {
	app := &fakeApp{}
	s := newTestServer(t, app, AuthConfig{Audience: "authenticated"}, nil)

	rec, body := do(t, s, http.MethodGet, "/api/v1/recommendations?category=tax&company_age_days=30&completed=a,b&completed=c",
		signToken(t, testSecret, validClaims("user-42")))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, body.Success)
	assert.Equal(t, query.GetRecommendationsQuery{
		UserID:           "user-42",
		CurrentCategory:  "tax",
		CompanyAgeDays:   30,
		CompletedStepIDs: []string{"a", "b", "c"},
	}, app.lastRecs)
}

func TestAuth_DisabledTrustsHeader(t *testing.T) {
	app := &fakeApp{}
	s := newTestServer(t, app, AuthConfig{Disabled: true}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/documents/articles/complete", nil)
	req.Header.Set(devUserHeader, "dev-user")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dev-user", app.lastDoc.UserID)
	assert.Equal(t, "articles", app.lastDoc.DocumentID)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/progress", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewAuthenticator(AuthConfig{}, nil)
	assert.Error(t, err)
}

func TestTopRecommendations_Limit(t *testing.T) {
	app := &fakeApp{}
	s := newTestServer(t, app, AuthConfig{}, nil)
	token := signToken(t, testSecret, validClaims("u1"))

	rec, _ := do(t, s, http.MethodGet, "/api/v1/recommendations/top", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, app.lastTop.Limit)
	assert.Nil(t, app.lastTop.CompletedStepIDs)

	rec, _ = do(t, s, http.MethodGet, "/api/v1/recommendations/top?limit=3", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, app.lastTop.Limit)

	rec, body := do(t, s, http.MethodGet, "/api/v1/recommendations/top?limit=many", token)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_request", body.Error.Code)
	assert.Equal(t, "limit must be an integer", body.Error.Message)
}

func TestStepActions(t *testing.T) {
	app := &fakeApp{}
	s := newTestServer(t, app, AuthConfig{}, nil)
	token := signToken(t, testSecret, validClaims("u1"))

	rec, _ := do(t, s, http.MethodPost, "/api/v1/steps/register-company/visit", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, command.StepCommand{UserID: "u1", StepID: "register-company"}, app.lastStep)
	assert.False(t, app.completed)

	rec, body := do(t, s, http.MethodPost, "/api/v1/steps/register-company/complete", token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, app.completed)
	assert.Equal(t, true, body.Data.(map[string]any)["completed"])
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", shared.ErrStepNotFound, http.StatusNotFound, "not_found"},
		{"validation", shared.ErrInvalidStepID, http.StatusBadRequest, "invalid_request"},
		{"store unavailable", shared.ErrStoreUnavailable, http.StatusServiceUnavailable, "unavailable"},
		{"external", shared.WrapError("store", "RecordVisit", shared.ErrExternalService, "write failed", errors.New("io")), http.StatusServiceUnavailable, "unavailable"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_server_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := &fakeApp{stepErr: tt.err}
			s := newTestServer(t, app, AuthConfig{}, nil)

			rec, body := do(t, s, http.MethodPost, "/api/v1/steps/x/visit", signToken(t, testSecret, validClaims("u1")))
			assert.Equal(t, tt.status, rec.Code)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.False(t, body.Success)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	app := &fakeApp{progErr: errors.New("pq: password authentication failed")}
	s := newTestServer(t, app, AuthConfig{}, nil)

	_, body := do(t, s, http.MethodGet, "/api/v1/progress", signToken(t, testSecret, validClaims("u1")))
	require.NotNil(t, body.Error)
	assert.NotContains(t, body.Error.Message, "password")
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, &fakeApp{}, AuthConfig{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get(requestIDHeader))

	rec, body := do(t, s, http.MethodGet, "/health", "")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))
	assert.Equal(t, rec.Header().Get(requestIDHeader), body.RequestID)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &fakeApp{}, AuthConfig{}, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/progress", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestPanicRecovery(t *testing.T) {
	s := newTestServer(t, &fakeApp{}, AuthConfig{}, nil)
	s.engine.GET("/panic", func(*gin.Context) { panic("kaboom") })

	rec, body := do(t, s, http.MethodGet, "/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "internal_server_error", body.Error.Code)
}

func TestServerLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	s := NewServer(cfg, Dependencies{})

	assert.False(t, s.IsRunning())
	assert.Zero(t, s.Uptime())
	errCh := s.StartAsync()

	require.Eventually(t, s.IsRunning, time.Second, 5*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errCh)
	assert.False(t, s.IsRunning())
}

func TestRateLimit(t *testing.T) {
	authenticator, err := NewAuthenticator(AuthConfig{Secret: testSecret}, nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 1
	cfg.RateLimitBurst = 2
	app := &fakeApp{}
	s := NewServer(cfg, Dependencies{Steps: app, Auth: authenticator})

	alice := signToken(t, testSecret, validClaims("alice"))
	for i := 0; i < 2; i++ {
		rec, _ := do(t, s, http.MethodPost, "/api/v1/steps/choose-name/visit", alice)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, body := do(t, s, http.MethodPost, "/api/v1/steps/choose-name/visit", alice)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.NotNil(t, body.Error)
	assert.Equal(t, "rate_limited", body.Error.Code)

	rec, _ = do(t, s, http.MethodPost, "/api/v1/steps/choose-name/visit", signToken(t, testSecret, validClaims("bob")))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter_PrunesIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := newRateLimiter(60, 1)
	rl.now = func() time.Time { return now }

	ok, _ := rl.Allow("a")
	require.True(t, ok)
	ok, wait := rl.Allow("a")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))

	now = now.Add(2 * limiterIdleTTL)
	ok, _ = rl.Allow("b")
	require.True(t, ok)
	assert.Len(t, rl.entries, 1)
}
