package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/complyhub/guidance-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REDIS FORWARDER
// Publishes every event it receives to a Pub/Sub channel as a JSON envelope.
// Subscribe it to the in-memory bus with SubscribeAll.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultEventsChannel is used when no channel is configured.
const DefaultEventsChannel = "complyhub:events"

// Publisher is the part of a Redis client the forwarder uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisForwarder forwards domain events to Redis Pub/Sub.
type RedisForwarder struct {
	client  Publisher
	channel string
	timeout time.Duration
	source  string
}

// NewRedisForwarder creates a forwarder. source identifies this instance
// in every envelope.
func NewRedisForwarder(client Publisher, channel, source string) *RedisForwarder {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	if source == "" {
		source = uuid.NewString()
	}
	return &RedisForwarder{client: client, channel: channel, timeout: 2 * time.Second, source: source}
}

// Channel returns the Pub/Sub channel name.
func (f *RedisForwarder) Channel() string {
	return f.channel
}

// Handle is a shared.EventHandler.
func (f *RedisForwarder) Handle(event shared.Event) error {
	data, err := Encode(event, f.source)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", event.EventType(), f.channel, err)
	}
	return nil
}

// Envelope is the wire form of a forwarded event.
type Envelope struct {
	shared.EventEnvelope
	Source string `json:"source"`
}

// Encode wraps an event in an envelope with a fresh id.
func Encode(event shared.Event, source string) ([]byte, error) {
	if event == nil {
		return nil, ErrNilEvent
	}
	payload, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event.EventType(), err)
	}

	env := Envelope{
		EventEnvelope: shared.EventEnvelope{
			ID:          uuid.NewString(),
			Type:        event.EventType(),
			AggregateID: event.AggregateID(),
			Timestamp:   event.OccurredAt().UTC(),
			Version:     1,
			Payload:     payload,
		},
		Source: source,
	}
	return json.Marshal(env)
}

// Decode parses an envelope produced by Encode.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decode envelope: missing type")
	}
	return env, nil
}
