package query

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Completion percentages per section, per document category and overall,
// computed from one parallel fetch of the catalog and the user's rows.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery contains the query parameters.
type GetProgressQuery struct {
	// UserID - required. Blank yields an empty report without any fetch.
	UserID string
}

// GetProgressResult is a progress snapshot.
type GetProgressResult struct {
	UserID string `json:"user_id"`

	// OverallPercentage - guided-steps completion across all sections.
	OverallPercentage shared.Percentage `json:"overall_percentage"`

	Steps     progress.StepReport      `json:"steps"`
	Documents *progress.DocumentReport `json:"documents,omitempty"`

	// Stats - the statistics achievements are evaluated against.
	Stats *achievement.Stats `json:"stats,omitempty"`

	Degraded    bool      `json:"degraded"`
	GeneratedAt time.Time `json:"generated_at"`
}

// snapshot is everything a progress report is computed from.
type snapshot struct {
	sections []guidance.Section
	steps    []guidance.Step
	rows     []progress.StepProgress
	docs     []document.Document
	docRows  []document.Progress
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	catalog    guidance.Repository
	progress   progress.Repository
	documents  document.Repository
	aggregator *progress.Aggregator
	flags      *config.FeatureFlags
	zone       timeutil.Zone
	now        timeutil.Clock
	log        *logger.Logger
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(
	catalog guidance.Repository,
	progressRepo progress.Repository,
	documents document.Repository,
	flags *config.FeatureFlags,
	zone timeutil.Zone,
	log *logger.Logger,
) *GetProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressHandler{
		catalog:    catalog,
		progress:   progressRepo,
		documents:  documents,
		aggregator: progress.NewAggregator(),
		flags:      flags,
		zone:       zone,
		now:        timeutil.SystemClock,
		log:        log.With(logger.Component("query.progress")),
	}
}

// WithClock overrides the clock used for "today" and GeneratedAt.
func (h *GetProgressHandler) WithClock(c timeutil.Clock) *GetProgressHandler {
	h.now = c
	return h
}

// Handle executes the query. A store failure yields a zeroed, Degraded
// report and a nil error; only cancellation of ctx is returned.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*GetProgressResult, error) {
	ctx, span := tracer.Start(ctx, "query.GetProgress")
	defer span.End()

	userID := strings.TrimSpace(q.UserID)
	now := h.now()
	fctx := config.ForUser(userID)
	withDocs := h.flags.IsEnabled(config.FeatureDocumentProgress, fctx)
	withStats := h.flags.IsEnabled(config.FeatureProgressStats, fctx)

	if userID == "" {
		return h.build(userID, snapshot{}, now, withDocs, false), nil
	}
	span.SetAttributes(attribute.String("user.id", userID))

	snap, err := h.fetch(ctx, userID, withDocs)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch progress snapshot")
		h.log.Error("progress degraded: fetch snapshot", logger.UserID(userID), logger.Err(err))

		result := h.build(userID, snapshot{}, now, withDocs, false)
		result.Degraded = true
		return result, nil
	}

	return h.build(userID, snap, now, withDocs, withStats), nil
}

// Stats computes the achievement statistics of a user. Unlike Handle it
// returns fetch errors, so callers can refuse to evaluate on bad data.
func (h *GetProgressHandler) Stats(ctx context.Context, userID string) (achievement.Stats, error) {
	ctx, span := tracer.Start(ctx, "query.ProgressStats")
	defer span.End()

	snap, err := h.fetch(ctx, userID, false)
	if err != nil {
		span.RecordError(err)
		return achievement.Stats{}, shared.WrapError("query", "ProgressStats", shared.ErrExternalService, "fetch progress snapshot", err)
	}
	return progress.BuildStats(snap.sections, snap.steps, snap.rows, h.now(), h.zone), nil
}

func (h *GetProgressHandler) fetch(ctx context.Context, userID string, withDocs bool) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		snap.sections, err = h.catalog.ListSections(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.steps, err = h.catalog.ListSteps(gctx)
		return err
	})
	g.Go(func() (err error) {
		snap.rows, err = h.progress.FetchStepProgress(gctx, userID)
		return err
	})
	if withDocs {
		g.Go(func() (err error) {
			snap.docs, err = h.documents.ListDocuments(gctx)
			return err
		})
		g.Go(func() (err error) {
			snap.docRows, err = h.documents.FetchDocumentProgress(gctx, userID)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (h *GetProgressHandler) build(userID string, snap snapshot, now time.Time, withDocs, withStats bool) *GetProgressResult {
	steps := h.aggregator.Steps(snap.sections, snap.steps, snap.rows)
	result := &GetProgressResult{
		UserID:            userID,
		OverallPercentage: steps.Overall,
		Steps:             steps,
		GeneratedAt:       now.UTC(),
	}
	if withDocs {
		docs := h.aggregator.Documents(snap.docs, snap.docRows)
		result.Documents = &docs
	}
	if withStats {
		stats := progress.BuildStats(snap.sections, snap.steps, snap.rows, now, h.zone)
		result.Stats = &stats
	}
	return result
}
