package command

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STEP PROGRESS COMMANDS
// Visiting and completing a guidance step. Both write the user's progress
// row, drop the user's cached recommendations and publish an event.
// Completing a step may also run the achievement check.
// ══════════════════════════════════════════════════════════════════════════════

// StepCommand identifies a step acted on by a user.
type StepCommand struct {
	UserID string
	StepID string

	// At - when the action happened. Zero means now.
	At time.Time
}

// Validate checks the command parameters.
func (c *StepCommand) Validate() error {
	c.UserID = strings.TrimSpace(c.UserID)
	c.StepID = strings.TrimSpace(c.StepID)
	if c.UserID == "" {
		return shared.ErrMissingUserID
	}
	if !shared.IsValidSlug(c.StepID) {
		return shared.ErrInvalidStepID
	}
	return nil
}

// RecordStepVisitCommand marks a step as visited.
type RecordStepVisitCommand struct{ StepCommand }

// MarkStepCompleteCommand marks a step as completed.
type MarkStepCompleteCommand struct{ StepCommand }

// StepProgressResult describes the written row.
type StepProgressResult struct {
	UserID    string    `json:"user_id"`
	StepID    string    `json:"step_id"`
	SectionID string    `json:"section_id"`
	Completed bool      `json:"completed"`
	At        time.Time `json:"at"`

	// Unlocked - achievements unlocked by the automatic check.
	Unlocked []UnlockedAchievement `json:"unlocked,omitempty"`
}

// StepProgressHandler handles RecordStepVisitCommand and MarkStepCompleteCommand.
type StepProgressHandler struct {
	catalog      guidance.Repository
	progress     progress.Repository
	invalidator  CacheInvalidator
	achievements *CheckAndUnlockAchievementsHandler
	publisher    shared.EventPublisher
	flags        *config.FeatureFlags
	now          timeutil.Clock
	log          *logger.Logger
}

// NewStepProgressHandler creates a new StepProgressHandler. invalidator,
// achievements and publisher may be nil.
func NewStepProgressHandler(
	catalog guidance.Repository,
	progressRepo progress.Repository,
	invalidator CacheInvalidator,
	achievements *CheckAndUnlockAchievementsHandler,
	publisher shared.EventPublisher,
	flags *config.FeatureFlags,
	log *logger.Logger,
) *StepProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &StepProgressHandler{
		catalog:      catalog,
		progress:     progressRepo,
		invalidator:  invalidator,
		achievements: achievements,
		publisher:    publisher,
		flags:        flags,
		now:          timeutil.SystemClock,
		log:          log.With(logger.Component("command.step_progress")),
	}
}

// WithClock overrides the clock used when a command carries no time.
func (h *StepProgressHandler) WithClock(c timeutil.Clock) *StepProgressHandler {
	h.now = c
	return h
}

// RecordVisit handles RecordStepVisitCommand.
func (h *StepProgressHandler) RecordVisit(ctx context.Context, cmd RecordStepVisitCommand) (*StepProgressResult, error) {
	ctx, span := tracer.Start(ctx, "command.RecordStepVisit")
	defer span.End()

	step, at, err := h.prepare(ctx, &cmd.StepCommand, "RecordStepVisit")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", cmd.UserID), attribute.String("step.id", step.ID))

	if err := h.progress.RecordVisit(ctx, cmd.UserID, step.SectionID, step.ID, at); err != nil {
		span.RecordError(err)
		return nil, shared.WrapError("command", "RecordStepVisit", shared.ErrExternalService, "write step visit", err)
	}

	h.invalidate(ctx, cmd.UserID, "step_visited")
	h.emit(shared.NewStepVisitedEvent(cmd.UserID, step.SectionID, step.ID))

	return &StepProgressResult{
		UserID:    cmd.UserID,
		StepID:    step.ID,
		SectionID: step.SectionID,
		At:        at,
	}, nil
}

// MarkComplete handles MarkStepCompleteCommand.
func (h *StepProgressHandler) MarkComplete(ctx context.Context, cmd MarkStepCompleteCommand) (*StepProgressResult, error) {
	ctx, span := tracer.Start(ctx, "command.MarkStepComplete")
	defer span.End()

	step, at, err := h.prepare(ctx, &cmd.StepCommand, "MarkStepComplete")
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", cmd.UserID), attribute.String("step.id", step.ID))

	if err := h.progress.MarkStepCompleted(ctx, cmd.UserID, step.SectionID, step.ID, at); err != nil {
		span.RecordError(err)
		return nil, shared.WrapError("command", "MarkStepComplete", shared.ErrExternalService, "write step completion", err)
	}

	h.log.Info("step completed", logger.UserID(cmd.UserID), logger.StepID(step.ID), logger.SectionID(step.SectionID))
	h.invalidate(ctx, cmd.UserID, "step_completed")
	h.emit(shared.NewStepCompletedEvent(cmd.UserID, step.SectionID, step.ID, at))

	result := &StepProgressResult{
		UserID:    cmd.UserID,
		StepID:    step.ID,
		SectionID: step.SectionID,
		Completed: true,
		At:        at,
	}

	if h.achievements != nil && h.flags.IsEnabled(config.FeatureAchievementAutoCheck, config.ForUser(cmd.UserID)) {
		check, err := h.achievements.Handle(ctx, CheckAndUnlockAchievementsCommand{UserID: cmd.UserID})
		switch {
		case err != nil:
			h.log.Warn("automatic achievement check failed", logger.UserID(cmd.UserID), logger.Err(err))
		case len(check.Unlocked) > 0:
			result.Unlocked = check.Unlocked
		}
	}

	return result, nil
}

func (h *StepProgressHandler) prepare(ctx context.Context, cmd *StepCommand, op string) (*guidance.Step, time.Time, error) {
	if err := cmd.Validate(); err != nil {
		return nil, time.Time{}, shared.WrapError("command", op, shared.ErrValidation, err.Error(), err)
	}

	step, err := h.catalog.GetStep(ctx, cmd.StepID)
	if err != nil {
		return nil, time.Time{}, err
	}

	at := cmd.At
	if at.IsZero() {
		at = h.now()
	}
	return step, at.UTC(), nil
}

func (h *StepProgressHandler) invalidate(ctx context.Context, userID, reason string) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.InvalidateUser(ctx, userID); err != nil {
		h.log.Warn("recommendation cache invalidation failed", logger.UserID(userID), logger.Err(err))
		return
	}
	h.emit(shared.NewRecommendationsInvalidatedEvent(userID, reason))
}

func (h *StepProgressHandler) emit(event shared.Event) {
	if h.publisher == nil {
		return
	}
	if err := h.publisher.Publish(event); err != nil {
		h.log.Warn("publish event failed", logger.String("event_type", string(event.EventType())), logger.Err(err))
	}
}
