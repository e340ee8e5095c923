// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

var tracer = otel.Tracer("github.com/complyhub/guidance-core/internal/application/command")

// StatsProvider computes a user's achievement statistics from stored progress.
type StatsProvider interface {
	Stats(ctx context.Context, userID string) (achievement.Stats, error)
}

// CacheInvalidator drops cached derived data for a user.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// CHECK AND UNLOCK ACHIEVEMENTS COMMAND
// Evaluates the not-yet-owned catalog entries against a statistics snapshot
// and appends one unlock record per qualifying achievement. Each write is
// independent: a failed write is logged, left unreported and retried on
// the next check because the achievement is still unowned.
// ══════════════════════════════════════════════════════════════════════════════

// CheckAndUnlockAchievementsCommand contains the command parameters.
type CheckAndUnlockAchievementsCommand struct {
	// UserID - required. Blank yields an empty result without any fetch.
	UserID string

	// Stats - the snapshot to evaluate. Nil means compute it from stored
	// progress.
	Stats *achievement.Stats
}

// UnlockedAchievement is one newly persisted unlock.
type UnlockedAchievement struct {
	ID          achievement.ID     `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Points      int                `json:"points"`
	Rarity      achievement.Rarity `json:"rarity"`
	AchievedAt  time.Time          `json:"achieved_at"`
}

// CheckAndUnlockAchievementsResult reports what this call unlocked.
type CheckAndUnlockAchievementsResult struct {
	UserID string `json:"user_id"`

	// Unlocked - achievements persisted by this call, in catalog order.
	Unlocked []UnlockedAchievement `json:"unlocked"`

	// PointsEarned - sum of Unlocked points.
	PointsEarned int `json:"points_earned"`

	// Failed - qualifying achievements whose write failed.
	Failed []achievement.ID `json:"failed,omitempty"`

	// Stats - the snapshot that was evaluated.
	Stats achievement.Stats `json:"stats"`

	// Degraded - stats or ownership could not be read; nothing was evaluated.
	Degraded bool `json:"degraded"`
}

// CheckAndUnlockAchievementsHandler handles CheckAndUnlockAchievementsCommand.
type CheckAndUnlockAchievementsHandler struct {
	repo      achievement.Repository
	stats     StatsProvider
	evaluator *achievement.Evaluator
	publisher shared.EventPublisher
	flags     *config.FeatureFlags
	now       timeutil.Clock
	log       *logger.Logger
}

// NewCheckAndUnlockAchievementsHandler creates a new handler. stats and
// publisher may be nil.
func NewCheckAndUnlockAchievementsHandler(
	repo achievement.Repository,
	stats StatsProvider,
	evaluator *achievement.Evaluator,
	publisher shared.EventPublisher,
	flags *config.FeatureFlags,
	log *logger.Logger,
) *CheckAndUnlockAchievementsHandler {
	if evaluator == nil {
		evaluator = achievement.NewEvaluator()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CheckAndUnlockAchievementsHandler{
		repo:      repo,
		stats:     stats,
		evaluator: evaluator,
		publisher: publisher,
		flags:     flags,
		now:       timeutil.SystemClock,
		log:       log.With(logger.Component("command.achievements")),
	}
}

// WithClock overrides the clock used for unlock timestamps.
func (h *CheckAndUnlockAchievementsHandler) WithClock(c timeutil.Clock) *CheckAndUnlockAchievementsHandler {
	h.now = c
	return h
}

// Handle executes the command. Read failures yield an empty, Degraded
// result and a nil error; only cancellation of ctx is returned.
func (h *CheckAndUnlockAchievementsHandler) Handle(ctx context.Context, cmd CheckAndUnlockAchievementsCommand) (*CheckAndUnlockAchievementsResult, error) {
	ctx, span := tracer.Start(ctx, "command.CheckAndUnlockAchievements")
	defer span.End()

	userID := strings.TrimSpace(cmd.UserID)
	result := &CheckAndUnlockAchievementsResult{
		UserID:   userID,
		Unlocked: []UnlockedAchievement{},
	}
	if userID == "" {
		return result, nil
	}
	span.SetAttributes(attribute.String("user.id", userID))
	log := h.log.With(logger.UserID(userID))

	stats, err := h.resolveStats(ctx, userID, cmd.Stats)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "compute stats")
		log.Error("achievement check skipped: stats unavailable", logger.Err(err))
		result.Degraded = true
		return result, nil
	}
	result.Stats = stats

	owned, err := h.repo.FetchOwned(ctx, userID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch owned achievements")
		log.Error("achievement check skipped: owned set unavailable", logger.Err(err))
		result.Degraded = true
		return result, nil
	}

	qualified := h.evaluator.Evaluate(stats, owned)
	span.SetAttributes(attribute.Int("achievements.qualified", len(qualified)))

	for _, def := range qualified {
		if ctx.Err() != nil {
			log.Warn("achievement check interrupted", logger.Int("remaining", len(qualified)-len(result.Unlocked)-len(result.Failed)))
			break
		}

		at := h.now().UTC()
		inserted, err := h.repo.AppendUnlock(ctx, achievement.Unlock{
			UserID:        userID,
			AchievementID: def.ID,
			AchievedAt:    at,
		})
		if err != nil {
			log.Error("achievement unlock write failed",
				logger.AchievementID(string(def.ID)),
				logger.Err(shared.WrapError("achievement", "Unlock", shared.ErrExternalService, "append unlock", err)))
			result.Failed = append(result.Failed, def.ID)
			continue
		}
		if !inserted {
			// Another writer got there first.
			continue
		}

		result.Unlocked = append(result.Unlocked, UnlockedAchievement{
			ID:          def.ID,
			Title:       def.Title,
			Description: def.Description,
			Points:      def.Points,
			Rarity:      def.Rarity,
			AchievedAt:  at,
		})
		result.PointsEarned += def.Points
		log.Info("achievement unlocked", logger.AchievementID(string(def.ID)), logger.Int("points", def.Points))

		h.publish(ctx, userID, def, at)
	}

	return result, nil
}

func (h *CheckAndUnlockAchievementsHandler) resolveStats(ctx context.Context, userID string, given *achievement.Stats) (achievement.Stats, error) {
	if given != nil {
		return *given, nil
	}
	if h.stats == nil {
		return achievement.Stats{}, shared.NewDomainError("achievement", "Check", shared.ErrInvalidState, "no stats given and no stats provider configured")
	}
	return h.stats.Stats(ctx, userID)
}

func (h *CheckAndUnlockAchievementsHandler) publish(_ context.Context, userID string, def achievement.Definition, at time.Time) {
	if h.publisher == nil || !h.flags.IsEnabled(config.FeatureAchievementEvents, config.ForUser(userID)) {
		return
	}
	event := shared.NewAchievementUnlockedEvent(userID, string(def.ID), def.Points, string(def.Rarity), at)
	if err := h.publisher.Publish(event); err != nil {
		h.log.Warn("publish achievement event failed", logger.UserID(userID), logger.AchievementID(string(def.ID)), logger.Err(err))
	}
}
