// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/recommendation"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

var tracer = otel.Tracer("github.com/complyhub/guidance-core/internal/application/query")

// ══════════════════════════════════════════════════════════════════════════════
// GET RECOMMENDATIONS QUERY
// Builds the four recommendation buckets for a user. Results are cached by
// (user, inputs hash); concurrent identical requests share one computation.
// ══════════════════════════════════════════════════════════════════════════════

// GetRecommendationsQuery contains the recommendation inputs.
type GetRecommendationsQuery struct {
	// UserID - required. Blank yields an empty result without any fetch.
	UserID string

	// CompletedStepIDs - steps the caller knows are done. Nil means derive
	// the set from stored progress; an empty non-nil slice is used as is.
	CompletedStepIDs []string

	// CurrentCategory - category of the section the user is viewing.
	CurrentCategory string

	// CompanyAgeDays - days since incorporation. Negative is treated as 0.
	CompanyAgeDays int
}

func (q *GetRecommendationsQuery) normalize() {
	q.UserID = strings.TrimSpace(q.UserID)
	q.CurrentCategory = strings.TrimSpace(q.CurrentCategory)
	if q.CompanyAgeDays < 0 {
		q.CompanyAgeDays = 0
	}
}

// GetRecommendationsResult is the bucketed recommendation set.
type GetRecommendationsResult struct {
	UserID string `json:"user_id"`

	recommendation.Set

	// InputsHash - cache key component for these inputs.
	InputsHash string `json:"inputs_hash,omitempty"`

	// FromCache - served from the recommendation cache.
	FromCache bool `json:"from_cache"`

	// Degraded - the store could not be read; buckets are empty.
	Degraded bool `json:"degraded"`

	GeneratedAt time.Time `json:"generated_at"`
}

// emptySet returns a set whose buckets are all non-nil and empty.
func emptySet() recommendation.Set {
	return recommendation.NewEngine().Build(nil, "")
}

// GetRecommendationsHandler handles GetRecommendationsQuery.
type GetRecommendationsHandler struct {
	candidates guidance.CandidateFetcher
	progress   progress.Repository
	cache      recommendation.Cache
	engine     *recommendation.Engine
	flags      *config.FeatureFlags
	log        *logger.Logger
	now        timeutil.Clock

	computeTimeout time.Duration
	flight         singleflight.Group
}

// NewGetRecommendationsHandler creates a new GetRecommendationsHandler.
// cache may be nil, in which case every call recomputes.
func NewGetRecommendationsHandler(
	candidates guidance.CandidateFetcher,
	progressRepo progress.Repository,
	cache recommendation.Cache,
	flags *config.FeatureFlags,
	log *logger.Logger,
) *GetRecommendationsHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetRecommendationsHandler{
		candidates:     candidates,
		progress:       progressRepo,
		cache:          cache,
		engine:         recommendation.NewEngine(),
		flags:          flags,
		log:            log.With(logger.Component("query.recommendations")),
		now:            timeutil.SystemClock,
		computeTimeout: 30 * time.Second,
	}
}

// WithClock overrides the clock used for GeneratedAt.
func (h *GetRecommendationsHandler) WithClock(c timeutil.Clock) *GetRecommendationsHandler {
	h.now = c
	return h
}

// Handle executes the query. A store failure yields an empty, Degraded
// result and a nil error; only cancellation of ctx is returned as an error.
func (h *GetRecommendationsHandler) Handle(ctx context.Context, q GetRecommendationsQuery) (*GetRecommendationsResult, error) {
	ctx, span := tracer.Start(ctx, "query.GetRecommendations")
	defer span.End()

	q.normalize()
	result := &GetRecommendationsResult{
		UserID:      q.UserID,
		Set:         emptySet(),
		GeneratedAt: h.now().UTC(),
	}
	if q.UserID == "" {
		return result, nil
	}
	span.SetAttributes(attribute.String("user.id", q.UserID))

	completed, err := h.completedSteps(ctx, q)
	if err != nil {
		return h.degrade(ctx, span, result, "fetch step progress", err)
	}

	in := recommendation.Inputs{
		UserID:          q.UserID,
		Completed:       completed,
		CurrentCategory: q.CurrentCategory,
		CompanyAgeDays:  q.CompanyAgeDays,
	}
	result.InputsHash = in.Hash()

	useCache := h.cache != nil && h.flags.IsEnabled(config.FeatureRecommendationCache, config.ForUser(q.UserID))
	if useCache {
		set, ok, err := h.cache.Get(ctx, q.UserID, result.InputsHash)
		switch {
		case err != nil:
			h.log.Warn("recommendation cache read failed", logger.UserID(q.UserID), logger.Err(err))
		case ok:
			span.SetAttributes(attribute.Bool("cache.hit", true))
			result.Set = set
			result.FromCache = true
			return result, nil
		}
	}

	set, err := h.compute(ctx, in, result.InputsHash, useCache)
	if err != nil {
		return h.degrade(ctx, span, result, "fetch candidates", err)
	}
	result.Set = set
	return result, nil
}

// completedSteps returns the caller's set, or derives it from stored
// progress when the caller passed none.
func (h *GetRecommendationsHandler) completedSteps(ctx context.Context, q GetRecommendationsQuery) (guidance.StepSet, error) {
	if q.CompletedStepIDs != nil {
		return guidance.NewStepSet(q.CompletedStepIDs...), nil
	}
	rows, err := h.progress.FetchStepProgress(ctx, q.UserID)
	if err != nil {
		return nil, err
	}
	return guidance.NewStepSet(progress.CompletedStepIDs(rows)...), nil
}

// compute fetches candidates and builds the set. Callers with the same
// inputs share one fetch; the shared fetch is detached from any single
// caller's cancellation, and each caller still returns as soon as its own
// ctx is done.
func (h *GetRecommendationsHandler) compute(ctx context.Context, in recommendation.Inputs, hash string, useCache bool) (recommendation.Set, error) {
	ch := h.flight.DoChan(in.UserID+":"+hash, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.computeTimeout)
		defer cancel()

		cands, err := h.candidates.FetchCandidates(fctx, guidance.CandidateQuery{
			UserID:          in.UserID,
			Completed:       in.Completed,
			CurrentCategory: in.CurrentCategory,
			CompanyAgeDays:  in.CompanyAgeDays,
		})
		if err != nil {
			return nil, err
		}

		set := h.engine.Build(cands, in.CurrentCategory)
		if useCache {
			if err := h.cache.Put(fctx, in.UserID, hash, set); err != nil {
				h.log.Warn("recommendation cache write failed", logger.UserID(in.UserID), logger.Err(err))
			}
		}
		return set, nil
	})

	select {
	case <-ctx.Done():
		return recommendation.Set{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return recommendation.Set{}, res.Err
		}
		return res.Val.(recommendation.Set), nil
	}
}

func (h *GetRecommendationsHandler) degrade(ctx context.Context, span trace.Span, result *GetRecommendationsResult, what string, err error) (*GetRecommendationsResult, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, what)
	h.log.Error("recommendations degraded: "+what, logger.UserID(result.UserID), logger.Err(err))

	result.Set = emptySet()
	result.Degraded = true
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GET TOP RECOMMENDATIONS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetTopRecommendationsQuery asks for the flattened, ranked list.
type GetTopRecommendationsQuery struct {
	GetRecommendationsQuery

	// Limit - maximum number of items. Non-positive yields an empty list.
	Limit int
}

// GetTopRecommendationsResult is the ranked list.
type GetTopRecommendationsResult struct {
	UserID      string                          `json:"user_id"`
	Items       []recommendation.Recommendation `json:"items"`
	Limit       int                             `json:"limit"`
	FromCache   bool                            `json:"from_cache"`
	Degraded    bool                            `json:"degraded"`
	GeneratedAt time.Time                       `json:"generated_at"`
}

// GetTopRecommendationsHandler handles GetTopRecommendationsQuery.
type GetTopRecommendationsHandler struct {
	sets     *GetRecommendationsHandler
	maxLimit int
}

// NewGetTopRecommendationsHandler creates a handler on top of the bucket
// query. maxLimit caps Limit when positive.
func NewGetTopRecommendationsHandler(sets *GetRecommendationsHandler, maxLimit int) *GetTopRecommendationsHandler {
	return &GetTopRecommendationsHandler{sets: sets, maxLimit: maxLimit}
}

// Handle executes the query.
func (h *GetTopRecommendationsHandler) Handle(ctx context.Context, q GetTopRecommendationsQuery) (*GetTopRecommendationsResult, error) {
	limit := q.Limit
	if h.maxLimit > 0 && limit > h.maxLimit {
		limit = h.maxLimit
	}

	if limit <= 0 || strings.TrimSpace(q.UserID) == "" {
		return &GetTopRecommendationsResult{
			UserID:      strings.TrimSpace(q.UserID),
			Items:       []recommendation.Recommendation{},
			Limit:       limit,
			GeneratedAt: h.sets.now().UTC(),
		}, nil
	}

	res, err := h.sets.Handle(ctx, q.GetRecommendationsQuery)
	if err != nil {
		return nil, err
	}

	return &GetTopRecommendationsResult{
		UserID:      res.UserID,
		Items:       res.Top(limit),
		Limit:       limit,
		FromCache:   res.FromCache,
		Degraded:    res.Degraded,
		GeneratedAt: res.GeneratedAt,
	}, nil
}
