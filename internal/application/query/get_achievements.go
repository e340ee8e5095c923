package query

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACHIEVEMENTS QUERY
// The full catalog with the user's unlocks overlaid.
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievementsQuery contains the query parameters.
type GetAchievementsQuery struct {
	UserID string
}

// AchievementDTO is one catalog entry from the user's point of view.
type AchievementDTO struct {
	ID          achievement.ID     `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Points      int                `json:"points"`
	Rarity      achievement.Rarity `json:"rarity"`
	Unlocked    bool               `json:"unlocked"`
	AchievedAt  *time.Time         `json:"achieved_at,omitempty"`
}

// GetAchievementsResult lists achievements in catalog order.
type GetAchievementsResult struct {
	UserID        string           `json:"user_id"`
	Achievements  []AchievementDTO `json:"achievements"`
	UnlockedCount int              `json:"unlocked_count"`
	TotalPoints   int              `json:"total_points"`
	Degraded      bool             `json:"degraded"`
}

// GetAchievementsHandler handles GetAchievementsQuery.
type GetAchievementsHandler struct {
	repo      achievement.Repository
	evaluator *achievement.Evaluator
	log       *logger.Logger
}

// NewGetAchievementsHandler creates a new GetAchievementsHandler.
func NewGetAchievementsHandler(repo achievement.Repository, evaluator *achievement.Evaluator, log *logger.Logger) *GetAchievementsHandler {
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &GetAchievementsHandler{
		repo:      repo,
		evaluator: evaluator,
		log:       log.With(logger.Component("query.achievements")),
	}
}

// Handle executes the query. Unlock records for achievements no longer in
// the catalog are ignored.
func (h *GetAchievementsHandler) Handle(ctx context.Context, q GetAchievementsQuery) (*GetAchievementsResult, error) {
	ctx, span := tracer.Start(ctx, "query.GetAchievements")
	defer span.End()

	userID := strings.TrimSpace(q.UserID)
	result := &GetAchievementsResult{UserID: userID}

	var owned []achievement.Owned
	if userID != "" {
		span.SetAttributes(attribute.String("user.id", userID))

		var err error
		owned, err = h.repo.FetchOwned(ctx, userID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch owned achievements")
			h.log.Error("achievements degraded: fetch owned", logger.UserID(userID), logger.Err(err))
			result.Degraded = true
			owned = nil
		}
	}

	at := make(map[achievement.ID]time.Time, len(owned))
	for _, o := range owned {
		if prev, ok := at[o.AchievementID]; !ok || o.AchievedAt.Before(prev) {
			at[o.AchievementID] = o.AchievedAt
		}
	}

	defs := h.evaluator.Definitions()
	result.Achievements = make([]AchievementDTO, 0, len(defs))
	for _, d := range defs {
		dto := AchievementDTO{
			ID:          d.ID,
			Title:       d.Title,
			Description: d.Description,
			Points:      d.Points,
			Rarity:      d.Rarity,
		}
		if when, ok := at[d.ID]; ok {
			dto.Unlocked = true
			dto.AchievedAt = &when
			result.UnlockedCount++
			result.TotalPoints += d.Points
		}
		result.Achievements = append(result.Achievements, dto)
	}
	return result, nil
}
