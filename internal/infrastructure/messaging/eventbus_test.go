package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func syncBus() *InMemoryEventBus {
	return NewInMemoryEventBus(Config{AsyncMode: false, EnableMetrics: true})
}

func TestInMemoryEventBus_FanOut(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var typed, all []shared.EventType
	require.NoError(t, bus.Subscribe(shared.EventStepCompleted, func(e shared.Event) error {
		typed = append(typed, e.EventType())
		return nil
	}))
	require.NoError(t, bus.SubscribeAll(func(e shared.Event) error {
		all = append(all, e.EventType())
		return nil
	}))

	require.NoError(t, bus.Publish(shared.NewStepVisitedEvent("u1", "setup", "register")))
	require.NoError(t, bus.Publish(shared.NewStepCompletedEvent("u1", "setup", "register", time.Now())))

	assert.Equal(t, []shared.EventType{shared.EventStepCompleted}, typed)
	assert.Equal(t, []shared.EventType{shared.EventStepVisited, shared.EventStepCompleted}, all)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Published)
	assert.Equal(t, int64(3), snap.Handled)
	assert.Equal(t, int64(1), bus.Metrics().PublishedOf(shared.EventStepVisited))
}

func TestInMemoryEventBus_HandlerFailuresAreContained(t *testing.T) {
	bus := syncBus()
	defer bus.Close()

	var reached bool
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { return errors.New("boom") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error { panic("bad handler") }))
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		reached = true
		return nil
	}))

	err := bus.Publish(shared.NewRecommendationsInvalidatedEvent("u1", "step_completed"))
	require.NoError(t, err)
	assert.True(t, reached)

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Failed)
	assert.Equal(t, int64(1), snap.Handled)
}

func TestInMemoryEventBus_AsyncCloseWaits(t *testing.T) {
	bus := NewInMemoryEventBus(Config{AsyncMode: true, WorkerPoolSize: 2})

	var count atomic.Int32
	require.NoError(t, bus.SubscribeAll(func(shared.Event) error {
		time.Sleep(5 * time.Millisecond)
		count.Add(1)
		return nil
	}))

	for i := 0; i < 6; i++ {
		require.NoError(t, bus.Publish(shared.NewStepVisitedEvent("u1", "setup", "register")))
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(6), count.Load())
	assert.Nil(t, bus.Metrics())
}

func TestInMemoryEventBus_Rejects(t *testing.T) {
	bus := syncBus()

	assert.ErrorIs(t, bus.Subscribe(shared.EventStepVisited, nil), ErrNilHandler)
	assert.ErrorIs(t, bus.SubscribeAll(nil), ErrNilHandler)
	assert.ErrorIs(t, bus.Publish(nil), ErrNilEvent)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(shared.NewStepVisitedEvent("u1", "a", "b")), ErrEventBusClosed)
	assert.ErrorIs(t, bus.SubscribeAll(func(shared.Event) error { return nil }), ErrEventBusClosed)
}

type fakePublisher struct {
	mu       sync.Mutex
	channels []string
	messages [][]byte
	err      error
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	if p.err != nil {
		cmd.SetErr(p.err)
		return cmd
	}
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message.([]byte))
	cmd.SetVal(1)
	return cmd
}

func TestRedisForwarder(t *testing.T) {
	pub := &fakePublisher{}
	fwd := NewRedisForwarder(pub, "", "instance-a")
	assert.Equal(t, DefaultEventsChannel, fwd.Channel())

	at := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	ev := shared.NewAchievementUnlockedEvent("u1", "first_step", 10, "common", at)
	require.NoError(t, fwd.Handle(ev))

	require.Len(t, pub.messages, 1)
	env, err := Decode(pub.messages[0])
	require.NoError(t, err)
	assert.Equal(t, shared.EventAchievementUnlocked, env.Type)
	assert.Equal(t, "u1", env.AggregateID)
	assert.Equal(t, "instance-a", env.Source)
	assert.NotEmpty(t, env.ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	assert.Equal(t, "first_step", payload["achievement_id"])
	assert.Equal(t, float64(10), payload["points"])

	pub.err = errors.New("connection refused")
	err = fwd.Handle(ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), DefaultEventsChannel)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)
	_, err = Decode([]byte(`{"id":"x"}`))
	assert.Error(t, err)
	_, err = Encode(nil, "a")
	assert.ErrorIs(t, err, ErrNilEvent)
}

func TestAuditHandler(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Options{Output: &buf, Level: logger.LevelInfo})

	bus := syncBus()
	defer bus.Close()
	require.NoError(t, bus.SubscribeAll(AuditHandler(log)))
	require.NoError(t, bus.Publish(shared.NewDocumentCompletedEvent("u7", "articles", "company-setup")))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "domain event", entry["message"])
	assert.Equal(t, "audit", entry["component"])
	assert.Equal(t, "u7", entry["user_id"])
	assert.Equal(t, string(shared.EventDocumentCompleted), entry["event_type"])
}
