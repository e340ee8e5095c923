package http

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/complyhub/guidance-core/internal/application/command"
	"github.com/complyhub/guidance-core/internal/application/query"
	"github.com/complyhub/guidance-core/internal/domain/shared"
)

var errInvalidParam = errors.New("invalid query parameter")

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

// HealthStatus is the GET /health payload.
type HealthStatus struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime"`
	Checks map[string]string `json:"checks,omitempty"`
}

// handleHealth runs every registered check in parallel.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(s.deps.HealthChecks))
	for name := range s.deps.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		healthy = true
		checks  = make(map[string]string, len(names))
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string, check HealthCheck) {
			defer wg.Done()
			state := "ok"
			if err := check(ctx); err != nil {
				state = err.Error()
			}
			mu.Lock()
			checks[name] = state
			if state != "ok" {
				healthy = false
			}
			mu.Unlock()
		}(name, s.deps.HealthChecks[name])
	}
	wg.Wait()

	status := HealthStatus{Status: "healthy", Uptime: s.Uptime().Round(time.Second).String(), Checks: checks}
	if !healthy {
		status.Status = "degraded"
		writeJSON(c, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(c, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// RECOMMENDATIONS
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/recommendations?category=&company_age_days=&completed=a,b
func (s *Server) handleRecommendations(c *gin.Context) {
	q, err := recommendationsQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.deps.Recommendations.Handle(c.Request.Context(), q)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// GET /api/v1/recommendations/top?limit=
func (s *Server) handleTopRecommendations(c *gin.Context) {
	q, err := recommendationsQuery(c)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := intParam(c, "limit", s.deps.DefaultTopLimit)
	if err != nil {
		writeError(c, err)
		return
	}

	res, err := s.deps.TopRecommendations.Handle(c.Request.Context(), query.GetTopRecommendationsQuery{
		GetRecommendationsQuery: q,
		Limit:                   limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func recommendationsQuery(c *gin.Context) (query.GetRecommendationsQuery, error) {
	age, err := intParam(c, "company_age_days", 0)
	if err != nil {
		return query.GetRecommendationsQuery{}, err
	}
	q := query.GetRecommendationsQuery{
		UserID:          currentUser(c),
		CurrentCategory: c.Query("category"),
		CompanyAgeDays:  age,
	}
	if values, ok := c.GetQueryArray("completed"); ok {
		q.CompletedStepIDs = splitList(values)
	}
	return q, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS & ACHIEVEMENTS
// ══════════════════════════════════════════════════════════════════════════════

// GET /api/v1/progress
func (s *Server) handleProgress(c *gin.Context) {
	res, err := s.deps.Progress.Handle(c.Request.Context(), query.GetProgressQuery{UserID: currentUser(c)})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// GET /api/v1/achievements
func (s *Server) handleAchievements(c *gin.Context) {
	res, err := s.deps.Achievements.Handle(c.Request.Context(), query.GetAchievementsQuery{UserID: currentUser(c)})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// POST /api/v1/achievements/check
func (s *Server) handleCheckAchievements(c *gin.Context) {
	res, err := s.deps.CheckAchievements.Handle(c.Request.Context(), command.CheckAndUnlockAchievementsCommand{
		UserID: currentUser(c),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// USER ACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// POST /api/v1/steps/:id/visit
func (s *Server) handleStepVisit(c *gin.Context) {
	res, err := s.deps.Steps.RecordVisit(c.Request.Context(), command.RecordStepVisitCommand{
		StepCommand: command.StepCommand{UserID: currentUser(c), StepID: c.Param("id")},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// POST /api/v1/steps/:id/complete
func (s *Server) handleStepComplete(c *gin.Context) {
	res, err := s.deps.Steps.MarkComplete(c.Request.Context(), command.MarkStepCompleteCommand{
		StepCommand: command.StepCommand{UserID: currentUser(c), StepID: c.Param("id")},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// POST /api/v1/documents/:id/complete
func (s *Server) handleDocumentComplete(c *gin.Context) {
	res, err := s.deps.Documents.Handle(c.Request.Context(), command.MarkDocumentCompleteCommand{
		UserID:     currentUser(c),
		DocumentID: c.Param("id"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// PARAMETERS
// ══════════════════════════════════════════════════════════════════════════════

func intParam(c *gin.Context, key string, defaultValue int) (int, error) {
	raw, ok := c.GetQuery(key)
	if !ok || raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.WrapError("http", "intParam", shared.ErrInvalidInput, key+" must be an integer", errInvalidParam)
	}
	return v, nil
}

// splitList accepts both repeated keys and comma-separated values.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
