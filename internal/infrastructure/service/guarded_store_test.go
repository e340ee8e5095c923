package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/document"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/circuitbreaker"
)

// flakyBackend fails the first `failures` calls with err, then succeeds.
type flakyBackend struct {
	mu       sync.Mutex
	err      error
	failures int
	calls    int
	inserted bool
}

func (b *flakyBackend) hit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failures != 0 {
		if b.failures > 0 {
			b.failures--
		}
		return b.err
	}
	return nil
}

func (b *flakyBackend) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *flakyBackend) ListSections(context.Context) ([]guidance.Section, error) {
	if err := b.hit(); err != nil {
		return nil, err
	}
	return []guidance.Section{{ID: "setup", Title: "Setup"}}, nil
}

func (b *flakyBackend) ListSteps(context.Context) ([]guidance.Step, error) {
	return nil, b.hit()
}

func (b *flakyBackend) GetStep(_ context.Context, id string) (*guidance.Step, error) {
	if err := b.hit(); err != nil {
		return nil, err
	}
	return &guidance.Step{ID: id}, nil
}

func (b *flakyBackend) UpsertSection(context.Context, guidance.Section) error { return b.hit() }
func (b *flakyBackend) UpsertStep(context.Context, guidance.Step) error       { return b.hit() }

func (b *flakyBackend) FetchCandidates(context.Context, guidance.CandidateQuery) ([]guidance.CandidateStep, error) {
	return nil, b.hit()
}

func (b *flakyBackend) FetchStepProgress(context.Context, string) ([]progress.StepProgress, error) {
	return nil, b.hit()
}

func (b *flakyBackend) RecordVisit(context.Context, string, string, string, time.Time) error {
	return b.hit()
}

func (b *flakyBackend) MarkStepCompleted(context.Context, string, string, string, time.Time) error {
	return b.hit()
}

func (b *flakyBackend) ListDocuments(context.Context) ([]document.Document, error) {
	return nil, b.hit()
}

func (b *flakyBackend) UpsertDocument(context.Context, document.Document) error { return b.hit() }

func (b *flakyBackend) FetchDocumentProgress(context.Context, string) ([]document.Progress, error) {
	return nil, b.hit()
}

func (b *flakyBackend) MarkDocumentCompleted(context.Context, string, string, time.Time) error {
	return b.hit()
}

func (b *flakyBackend) FetchOwned(context.Context, string) ([]achievement.Owned, error) {
	return nil, b.hit()
}

func (b *flakyBackend) AppendUnlock(context.Context, achievement.Unlock) (bool, error) {
	if err := b.hit(); err != nil {
		return false, err
	}
	return b.inserted, nil
}

func fastOptions() GuardOptions {
	return GuardOptions{
		MaxAttempts:      3,
		RetryBaseDelay:   time.Millisecond,
		RetryMaxDelay:    2 * time.Millisecond,
		BreakerThreshold: 2,
		BreakerTimeout:   time.Hour,
		HalfOpenRequests: 1,
	}
}

func TestGuardedStore_RetriesTransientReads(t *testing.T) {
	b := &flakyBackend{err: shared.ErrStoreUnavailable, failures: 2}
	g := NewGuardedStore(b, fastOptions(), nil)

	sections, err := g.ListSections(context.Background())
	require.NoError(t, err)
	assert.Len(t, sections, 1)
	assert.Equal(t, 3, b.Calls())
	assert.True(t, g.Breaker().IsClosed())
}

func TestGuardedStore_DoesNotRetryPermanentReads(t *testing.T) {
	b := &flakyBackend{err: shared.WrapError("store", "ListSteps", shared.ErrExternalService, "bad query", errors.New("syntax")), failures: -1}
	g := NewGuardedStore(b, fastOptions(), nil)

	_, err := g.ListSteps(context.Background())
	require.Error(t, err)
	assert.True(t, shared.IsExternalService(err))
	assert.Equal(t, 1, b.Calls())
}

func TestGuardedStore_NotFoundDoesNotTripBreaker(t *testing.T) {
	b := &flakyBackend{err: shared.ErrStepNotFound, failures: -1}
	g := NewGuardedStore(b, fastOptions(), nil)

	for i := 0; i < 5; i++ {
		_, err := g.GetStep(context.Background(), "missing")
		assert.ErrorIs(t, err, shared.ErrStepNotFound)
	}
	assert.Equal(t, 5, b.Calls())
	assert.True(t, g.Breaker().IsClosed())
}

func TestGuardedStore_BreakerOpensAndFailsFast(t *testing.T) {
	b := &flakyBackend{err: shared.ErrStoreTimeout, failures: -1}
	opts := fastOptions()
	opts.MaxAttempts = 1
	g := NewGuardedStore(b, opts, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.FetchOwned(ctx, "u1")
		assert.ErrorIs(t, err, shared.ErrTimeout)
	}
	require.True(t, g.Breaker().IsOpen())

	_, err := g.FetchDocumentProgress(ctx, "u1")
	require.Error(t, err)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.True(t, shared.IsExternalService(err))
	assert.Equal(t, 2, b.Calls())

	err = g.MarkDocumentCompleted(ctx, "u1", "articles", time.Now())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 2, b.Calls())
}

func TestGuardedStore_WritesAreNotRetried(t *testing.T) {
	b := &flakyBackend{err: shared.ErrStoreUnavailable, failures: 1}
	g := NewGuardedStore(b, fastOptions(), nil)

	err := g.RecordVisit(context.Background(), "u1", "setup", "register", time.Now())
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
	assert.Equal(t, 1, b.Calls())

	require.NoError(t, g.MarkStepCompleted(context.Background(), "u1", "setup", "register", time.Now()))
	assert.Equal(t, 2, b.Calls())
}

func TestGuardedStore_AppendUnlockPassesInserted(t *testing.T) {
	b := &flakyBackend{inserted: true}
	g := NewGuardedStore(b, DefaultGuardOptions(), nil)

	inserted, err := g.AppendUnlock(context.Background(), achievement.Unlock{UserID: "u1", AchievementID: achievement.FirstStep})
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestIsStoreFailure(t *testing.T) {
	assert.False(t, IsStoreFailure(nil))
	assert.False(t, IsStoreFailure(context.Canceled))
	assert.False(t, IsStoreFailure(shared.ErrDocumentNotFound))
	assert.False(t, IsStoreFailure(shared.ErrMissingUserID))
	assert.False(t, IsStoreFailure(shared.ErrAchievementOwned))
	assert.True(t, IsStoreFailure(shared.ErrStoreTimeout))
	assert.True(t, IsStoreFailure(errors.New("boom")))
}
