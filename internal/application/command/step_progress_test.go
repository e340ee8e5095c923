package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyhub/guidance-core/config"
	"github.com/complyhub/guidance-core/internal/domain/achievement"
	"github.com/complyhub/guidance-core/internal/domain/guidance"
	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/timeutil"
)

func catalogStore() *progressStore {
	return &progressStore{steps: []guidance.Step{
		{ID: "register", SectionID: "setup"},
		{ID: "vat-register", SectionID: "vat"},
	}}
}

type stepFixture struct {
	store *progressStore
	inv   *invalidator
	pub   *recorder
	ach   *achievementStore
	flags *config.FeatureFlags
	h     *StepProgressHandler
}

func newStepFixture(stats achievement.Stats) *stepFixture {
	f := &stepFixture{
		store: catalogStore(),
		inv:   &invalidator{},
		pub:   &recorder{},
		ach:   newAchievementStore(),
		flags: config.DefaultFeatureFlags(),
	}
	check := NewCheckAndUnlockAchievementsHandler(f.ach, &staticStats{stats: stats}, nil, f.pub, f.flags, nil).
		WithClock(timeutil.Fixed(fixedNow))
	f.h = NewStepProgressHandler(f.store, f.store, f.inv, check, f.pub, f.flags, nil).
		WithClock(timeutil.Fixed(fixedNow))
	return f
}

func TestRecordVisit(t *testing.T) {
	f := newStepFixture(achievement.Stats{})

	res, err := f.h.RecordVisit(context.Background(), RecordStepVisitCommand{StepCommand{UserID: " u1 ", StepID: "vat-register"}})
	require.NoError(t, err)

	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "vat", res.SectionID)
	assert.False(t, res.Completed)
	assert.Equal(t, fixedNow, res.At)
	assert.Equal(t, []string{"u1/vat/vat-register"}, f.store.visits)
	assert.Equal(t, []string{"u1"}, f.inv.users)
	assert.Equal(t, []shared.EventType{shared.EventRecommendationsInvalidated, shared.EventStepVisited}, f.pub.types())
}

func TestMarkComplete_RunsAchievementCheck(t *testing.T) {
	f := newStepFixture(achievement.Stats{StepsCompleted: 1, AverageTimePerStep: 2000})
	at := time.Date(2026, 6, 9, 8, 30, 0, 0, time.FixedZone("CET", 3600))

	res, err := f.h.MarkComplete(context.Background(), MarkStepCompleteCommand{StepCommand{UserID: "u1", StepID: "register", At: at}})
	require.NoError(t, err)

	assert.True(t, res.Completed)
	assert.Equal(t, at.UTC(), res.At)
	assert.Equal(t, time.UTC, res.At.Location())
	assert.Equal(t, []string{"u1/setup/register"}, f.store.done)
	require.Len(t, res.Unlocked, 1)
	assert.Equal(t, achievement.FirstStep, res.Unlocked[0].ID)
	assert.Equal(t, []shared.EventType{
		shared.EventRecommendationsInvalidated,
		shared.EventStepCompleted,
		shared.EventAchievementUnlocked,
	}, f.pub.types())
}

func TestMarkComplete_AutoCheckDisabled(t *testing.T) {
	f := newStepFixture(achievement.Stats{StepsCompleted: 1})
	require.NoError(t, f.flags.DisableFeature(config.FeatureAchievementAutoCheck))

	res, err := f.h.MarkComplete(context.Background(), MarkStepCompleteCommand{StepCommand{UserID: "u1", StepID: "register"}})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)
	assert.Zero(t, f.ach.writes)
}

func TestStepCommands_Rejections(t *testing.T) {
	f := newStepFixture(achievement.Stats{})

	_, err := f.h.MarkComplete(context.Background(), MarkStepCompleteCommand{StepCommand{StepID: "register"}})
	assert.True(t, shared.IsValidation(err))

	_, err = f.h.RecordVisit(context.Background(), RecordStepVisitCommand{StepCommand{UserID: "u1", StepID: "Not A Slug"}})
	assert.True(t, shared.IsValidation(err))

	_, err = f.h.MarkComplete(context.Background(), MarkStepCompleteCommand{StepCommand{UserID: "u1", StepID: "unknown-step"}})
	assert.True(t, shared.IsNotFound(err))

	assert.Empty(t, f.store.visits)
	assert.Empty(t, f.store.done)
	assert.Empty(t, f.inv.users)
	assert.Empty(t, f.pub.types())
}

func TestStepCommands_WriteFailure(t *testing.T) {
	f := newStepFixture(achievement.Stats{})
	f.store.fail = errBackend

	_, err := f.h.MarkComplete(context.Background(), MarkStepCompleteCommand{StepCommand{UserID: "u1", StepID: "register"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)
	assert.True(t, shared.IsExternalService(err))
	assert.Empty(t, f.inv.users)
	assert.Empty(t, f.pub.types())
}

func TestStepCommands_InvalidationFailureIsLogged(t *testing.T) {
	f := newStepFixture(achievement.Stats{})
	f.inv.err = errBackend

	res, err := f.h.RecordVisit(context.Background(), RecordStepVisitCommand{StepCommand{UserID: "u1", StepID: "register"}})
	require.NoError(t, err)
	assert.Equal(t, "register", res.StepID)
	assert.Equal(t, []shared.EventType{shared.EventStepVisited}, f.pub.types())
}

func TestStepCommands_NilCollaborators(t *testing.T) {
	store := catalogStore()
	h := NewStepProgressHandler(store, store, nil, nil, nil, nil, nil)

	_, err := h.MarkComplete(context.Background(), MarkStepCompleteCommand{StepCommand{UserID: "u1", StepID: "register"}})
	require.NoError(t, err)
	assert.Len(t, store.done, 1)
}
