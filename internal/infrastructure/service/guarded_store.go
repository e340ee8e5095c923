// Package service adapts infrastructure to the ports the application layer
// consumes.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/circuitbreaker"
	"github.com/complyhub/guidance-core/pkg/logger"
	"github.com/complyhub/guidance-core/pkg/retry"
)

// Backend is everything a store implementation provides.
type Backend interface {
	guidance.Repository
	guidance.CandidateFetcher
	progress.Repository
	document.Repository
	achievement.Repository
}

// GuardOptions configures retries and the breaker.
type GuardOptions struct {
	MaxAttempts      int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	HalfOpenRequests int
}

// DefaultGuardOptions returns sensible defaults.
func DefaultGuardOptions() GuardOptions {
	return GuardOptions{
		MaxAttempts:      3,
		RetryBaseDelay:   50 * time.Millisecond,
		RetryMaxDelay:    time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// GuardedStore wraps a Backend. Reads retry transient failures inside a
// circuit breaker; writes only pass through the breaker. Not-found,
// validation and cancelled calls never count against the breaker.
type GuardedStore struct {
	next    Backend
	retrier *retry.Retrier
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

// NewGuardedStore creates a guarded store over next.
func NewGuardedStore(next Backend, opts GuardOptions, log *logger.Logger) *GuardedStore {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("guarded_store"))

	g := &GuardedStore{next: next, log: log}
	g.retrier = retry.StoreRetrier(opts.MaxAttempts, opts.RetryBaseDelay, opts.RetryMaxDelay,
		shared.IsRetryable,
		func(attempt int, err error, delay time.Duration) {
			log.Warn("retrying store read",
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.Err(err),
			)
		})
	g.breaker = circuitbreaker.StoreBreaker("store", opts.BreakerThreshold, opts.BreakerTimeout, opts.HalfOpenRequests,
		func(name string, from, to circuitbreaker.State) {
			log.Warn("store circuit state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		},
		circuitbreaker.WithIsFailure(IsStoreFailure),
	)
	return g
}

// Breaker exposes the breaker for health reporting.
func (g *GuardedStore) Breaker() *circuitbreaker.CircuitBreaker {
	return g.breaker
}

// IsStoreFailure reports whether err says something about store health.
func IsStoreFailure(err error) bool {
	switch {
	case err == nil,
		errors.Is(err, context.Canceled),
		shared.IsNotFound(err),
		shared.IsAlreadyExists(err),
		shared.IsValidation(err):
		return false
	}
	return true
}

func read[T any](ctx context.Context, g *GuardedStore, op string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		v, err := retry.DoValue(ctx, g.retrier, fn)
		out = v
		return err
	})
	return out, g.classify(op, err)
}

func (g *GuardedStore) write(ctx context.Context, op string, fn func(context.Context) error) error {
	return g.classify(op, g.breaker.Execute(ctx, fn))
}

func (g *GuardedStore) classify(op string, err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return shared.WrapError("store", op, shared.ErrServiceUnavailable, "store circuit open", err)
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// READS
// ══════════════════════════════════════════════════════════════════════════════

func (g *GuardedStore) ListSections(ctx context.Context) ([]guidance.Section, error) {
	return read(ctx, g, "ListSections", g.next.ListSections)
}

func (g *GuardedStore) ListSteps(ctx context.Context) ([]guidance.Step, error) {
	return read(ctx, g, "ListSteps", g.next.ListSteps)
}

func (g *GuardedStore) GetStep(ctx context.Context, id string) (*guidance.Step, error) {
	return read(ctx, g, "GetStep", func(ctx context.Context) (*guidance.Step, error) {
		return g.next.GetStep(ctx, id)
	})
}

func (g *GuardedStore) FetchCandidates(ctx context.Context, q guidance.CandidateQuery) ([]guidance.CandidateStep, error) {
	return read(ctx, g, "FetchCandidates", func(ctx context.Context) ([]guidance.CandidateStep, error) {
		return g.next.FetchCandidates(ctx, q)
	})
}

func (g *GuardedStore) FetchStepProgress(ctx context.Context, userID string) ([]progress.StepProgress, error) {
	return read(ctx, g, "FetchStepProgress", func(ctx context.Context) ([]progress.StepProgress, error) {
		return g.next.FetchStepProgress(ctx, userID)
	})
}

func (g *GuardedStore) ListDocuments(ctx context.Context) ([]document.Document, error) {
	return read(ctx, g, "ListDocuments", g.next.ListDocuments)
}

func (g *GuardedStore) FetchDocumentProgress(ctx context.Context, userID string) ([]document.Progress, error) {
	return read(ctx, g, "FetchDocumentProgress", func(ctx context.Context) ([]document.Progress, error) {
		return g.next.FetchDocumentProgress(ctx, userID)
	})
}

func (g *GuardedStore) FetchOwned(ctx context.Context, userID string) ([]achievement.Owned, error) {
	return read(ctx, g, "FetchOwned", func(ctx context.Context) ([]achievement.Owned, error) {
		return g.next.FetchOwned(ctx, userID)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// WRITES
// ══════════════════════════════════════════════════════════════════════════════

func (g *GuardedStore) UpsertSection(ctx context.Context, s guidance.Section) error {
	return g.write(ctx, "UpsertSection", func(ctx context.Context) error {
		return g.next.UpsertSection(ctx, s)
	})
}

func (g *GuardedStore) UpsertStep(ctx context.Context, s guidance.Step) error {
	return g.write(ctx, "UpsertStep", func(ctx context.Context) error {
		return g.next.UpsertStep(ctx, s)
	})
}

func (g *GuardedStore) UpsertDocument(ctx context.Context, d document.Document) error {
	return g.write(ctx, "UpsertDocument", func(ctx context.Context) error {
		return g.next.UpsertDocument(ctx, d)
	})
}

func (g *GuardedStore) RecordVisit(ctx context.Context, userID, sectionID, stepID string, at time.Time) error {
	return g.write(ctx, "RecordVisit", func(ctx context.Context) error {
		return g.next.RecordVisit(ctx, userID, sectionID, stepID, at)
	})
}

func (g *GuardedStore) MarkStepCompleted(ctx context.Context, userID, sectionID, stepID string, at time.Time) error {
	return g.write(ctx, "MarkStepCompleted", func(ctx context.Context) error {
		return g.next.MarkStepCompleted(ctx, userID, sectionID, stepID, at)
	})
}

func (g *GuardedStore) MarkDocumentCompleted(ctx context.Context, userID, documentID string, at time.Time) error {
	return g.write(ctx, "MarkDocumentCompleted", func(ctx context.Context) error {
		return g.next.MarkDocumentCompleted(ctx, userID, documentID, at)
	})
}

func (g *GuardedStore) AppendUnlock(ctx context.Context, u achievement.Unlock) (bool, error) {
	var inserted bool
	err := g.write(ctx, "AppendUnlock", func(ctx context.Context) error {
		var err error
		inserted, err = g.next.AppendUnlock(ctx, u)
		return err
	})
	return inserted, err
}
