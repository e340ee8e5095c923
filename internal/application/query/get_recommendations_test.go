package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/progress"
	"github.com/complyhub/guidance-core/internal/domain/recommendation"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

var fixedNow = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

func recIDs(recs []recommendation.Recommendation) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func newRecHandler(store *fakeStore, cache recommendation.Cache, flags *config.FeatureFlags) *GetRecommendationsHandler {
	if flags == nil {
		flags = config.DefaultFeatureFlags()
	}
	return NewGetRecommendationsHandler(store, store, cache, flags, nil).WithClock(timeutil.Fixed(fixedNow))
}

func baseQuery() GetRecommendationsQuery {
	return GetRecommendationsQuery{
		UserID:           "u1",
		CompletedStepIDs: []string{"register"},
		CurrentCategory:  "tax-vat",
		CompanyAgeDays:   25,
	}
}

func TestGetRecommendations_Buckets(t *testing.T) {
	store := seededStore()
	h := newRecHandler(store, nil, nil)

	res, err := h.Handle(context.Background(), baseQuery())
	require.NoError(t, err)

	assert.False(t, res.Degraded)
	assert.False(t, res.FromCache)
	assert.Equal(t, fixedNow, res.GeneratedAt)
	assert.Equal(t, []string{"vat-register"}, recIDs(res.Urgent))
	assert.Equal(t, []string{"vat-scheme"}, recIDs(res.QuickWins))
	assert.Equal(t, []string{"bank", "vat-register", "vat-scheme"}, recIDs(res.NextLogical))
	assert.Equal(t, []string{"vat-register", "vat-return", "vat-scheme"}, recIDs(res.SameCategory))
	assert.Equal(t, 80, res.Urgent[0].UrgencyScore)
	assert.Zero(t, store.progressCalls.Load(), "explicit completed set skips the progress fetch")
}

func TestGetRecommendations_BlankUserTouchesNothing(t *testing.T) {
	store := seededStore()
	h := newRecHandler(store, newFakeCache(), nil)

	res, err := h.Handle(context.Background(), GetRecommendationsQuery{UserID: "  "})
	require.NoError(t, err)

	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.Urgent)
	assert.Zero(t, store.candidateCalls.Load())
	assert.Zero(t, store.progressCalls.Load())
}

func TestGetRecommendations_DerivesCompletedFromProgress(t *testing.T) {
	store := seededStore()
	older := fixedNow.Add(-48 * time.Hour)
	store.rows["u1"] = []progress.StepProgress{
		{UserID: "u1", SectionID: "setup", StepID: "register", LastVisitedAt: older},
		completed("setup", "register", fixedNow.Add(-time.Hour)),
		{UserID: "u1", SectionID: "vat", StepID: "vat-scheme", LastVisitedAt: fixedNow},
	}
	h := newRecHandler(store, nil, nil)

	q := baseQuery()
	q.CompletedStepIDs = nil
	_, err := h.Handle(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), store.progressCalls.Load())
	assert.Equal(t, []string{"register"}, store.lastQuery.Completed.IDs())
}

func TestGetRecommendations_EmptyCompletedIsHonoured(t *testing.T) {
	store := seededStore()
	h := newRecHandler(store, nil, nil)

	q := baseQuery()
	q.CompletedStepIDs = []string{}
	res, err := h.Handle(context.Background(), q)
	require.NoError(t, err)

	assert.Zero(t, store.progressCalls.Load())
	assert.Empty(t, store.lastQuery.Completed.IDs())
	assert.Equal(t, []string{"register", "vat-scheme"}, recIDs(res.QuickWins))
}

func TestGetRecommendations_Cache(t *testing.T) {
	store := seededStore()
	cache := newFakeCache()
	h := newRecHandler(store, cache, nil)

	first, err := h.Handle(context.Background(), baseQuery())
	require.NoError(t, err)
	require.False(t, first.FromCache)
	assert.Equal(t, 1, cache.puts)

	second, err := h.Handle(context.Background(), baseQuery())
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.InputsHash, second.InputsHash)
	assert.Equal(t, first.Set, second.Set)
	assert.Equal(t, int32(1), store.candidateCalls.Load())

	require.NoError(t, cache.InvalidateUser(context.Background(), "u1"))
	third, err := h.Handle(context.Background(), baseQuery())
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Equal(t, int32(2), store.candidateCalls.Load())
}

func TestGetRecommendations_CacheDisabledByFlag(t *testing.T) {
	store := seededStore()
	cache := newFakeCache()
	flags := config.DefaultFeatureFlags()
	require.NoError(t, flags.DisableFeature(config.FeatureRecommendationCache))
	h := newRecHandler(store, cache, flags)

	for i := 0; i < 2; i++ {
		res, err := h.Handle(context.Background(), baseQuery())
		require.NoError(t, err)
		assert.False(t, res.FromCache)
	}
	assert.Zero(t, cache.puts)
	assert.Equal(t, int32(2), store.candidateCalls.Load())
}

func TestGetRecommendations_CacheReadErrorFallsThrough(t *testing.T) {
	store := seededStore()
	cache := newFakeCache()
	cache.failGet = errBackend
	h := newRecHandler(store, cache, nil)

	res, err := h.Handle(context.Background(), baseQuery())
	require.NoError(t, err)
	assert.False(t, res.Degraded)
	assert.Len(t, res.Urgent, 1)
}

func TestGetRecommendations_FetchFailureDegrades(t *testing.T) {
	store := seededStore()
	store.failCandidates = errBackend
	h := newRecHandler(store, nil, nil)

	res, err := h.Handle(context.Background(), baseQuery())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.True(t, res.IsEmpty())
	assert.Empty(t, res.Top(5))

	store.failCandidates = nil
	store.failProgress = errBackend
	q := baseQuery()
	q.CompletedStepIDs = nil
	res, err = h.Handle(context.Background(), q)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
}

func TestGetRecommendations_CancelledCallerLeavesSharedFetchRunning(t *testing.T) {
	store := seededStore()
	store.gate = make(chan struct{})
	store.started = make(chan struct{}, 1)
	h := newRecHandler(store, nil, nil)

	type outcome struct {
		res *GetRecommendationsResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := h.Handle(context.Background(), baseQuery())
		done <- outcome{res, err}
	}()
	<-store.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.Handle(ctx, baseQuery())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)

	close(store.gate)
	out := <-done
	require.NoError(t, out.err)
	assert.False(t, out.res.Degraded)
	assert.Equal(t, []string{"vat-register"}, recIDs(out.res.Urgent))
	assert.Equal(t, int32(1), store.candidateCalls.Load())
}

func TestGetTopRecommendations(t *testing.T) {
	store := seededStore()
	top := NewGetTopRecommendationsHandler(newRecHandler(store, nil, nil), 3)

	res, err := top.Handle(context.Background(), GetTopRecommendationsQuery{GetRecommendationsQuery: baseQuery(), Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"vat-register", "vat-scheme"}, recIDs(res.Items))
	assert.Equal(t, recommendation.BucketUrgent, bucketOf(res.Items, "vat-register"))

	res, err = top.Handle(context.Background(), GetTopRecommendationsQuery{GetRecommendationsQuery: baseQuery(), Limit: 100})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Limit)
	assert.Equal(t, []string{"vat-register", "vat-scheme", "bank"}, recIDs(res.Items))
}

func TestGetTopRecommendations_NonPositiveLimit(t *testing.T) {
	store := seededStore()
	top := NewGetTopRecommendationsHandler(newRecHandler(store, nil, nil), 0)

	for _, limit := range []int{0, -1} {
		res, err := top.Handle(context.Background(), GetTopRecommendationsQuery{GetRecommendationsQuery: baseQuery(), Limit: limit})
		require.NoError(t, err)
		assert.Empty(t, res.Items)
		assert.NotNil(t, res.Items)
	}
	assert.Zero(t, store.candidateCalls.Load())
}

func TestGetTopRecommendations_NoCandidates(t *testing.T) {
	store := newFakeStore()
	top := NewGetTopRecommendationsHandler(newRecHandler(store, nil, nil), 0)

	res, err := top.Handle(context.Background(), GetTopRecommendationsQuery{GetRecommendationsQuery: baseQuery(), Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, []recommendation.Recommendation{}, res.Items)
}

func bucketOf(items []recommendation.Recommendation, id string) recommendation.Bucket {
	for _, r := range items {
		if r.ID == id {
			return r.Bucket
		}
	}
	return ""
}

var _ guidance.CandidateFetcher = (*fakeStore)(nil)
