// Package messaging carries domain events from the command handlers to
// in-process subscribers and, optionally, to a Redis Pub/Sub channel.
package messaging

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/complyhub/guidance-core/internal/domain/shared"
	"github.com/complyhub/guidance-core/pkg/logger"
)

var (
	// ErrEventBusClosed is returned when publishing to a closed bus.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrNilHandler is returned when subscribing a nil handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrNilEvent is returned when publishing a nil event.
	ErrNilEvent = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBus fans events out to subscribed handlers. Handler errors
// and panics are logged and never reach the publisher.
type InMemoryEventBus struct {
	mu          sync.RWMutex
	handlers    map[shared.EventType][]shared.EventHandler
	allHandlers []shared.EventHandler
	asyncMode   bool
	workerPool  chan struct{}
	log         *logger.Logger
	metrics     *EventBusMetrics
	closed      bool
	wg          sync.WaitGroup
}

// Config configures an InMemoryEventBus.
type Config struct {
	// AsyncMode runs handlers on background goroutines.
	AsyncMode bool

	// WorkerPoolSize bounds concurrently running async handlers.
	WorkerPoolSize int

	// Logger receives handler failures.
	Logger *logger.Logger

	// EnableMetrics enables metrics collection.
	EnableMetrics bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AsyncMode:      true,
		WorkerPoolSize: 10,
		EnableMetrics:  true,
	}
}

// NewInMemoryEventBus creates a new in-memory event bus.
func NewInMemoryEventBus(cfg Config) *InMemoryEventBus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = 10
	}

	bus := &InMemoryEventBus{
		handlers:   make(map[shared.EventType][]shared.EventHandler),
		asyncMode:  cfg.AsyncMode,
		workerPool: make(chan struct{}, cfg.WorkerPoolSize),
		log:        cfg.Logger.With(logger.Component("event_bus")),
	}
	if cfg.EnableMetrics {
		bus.metrics = NewEventBusMetrics()
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.handlers[eventType] = append(b.handlers[eventType], handler)
	b.log.Debug("subscribed handler", logger.String("event_type", string(eventType)))
	return nil
}

// SubscribeAll registers a handler for all events.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrEventBusClosed
	}
	b.allHandlers = append(b.allHandlers, handler)
	return nil
}

// Publish sends an event to all subscribed handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}

	handlers := make([]shared.EventHandler, 0, len(b.handlers[event.EventType()])+len(b.allHandlers))
	handlers = append(handlers, b.handlers[event.EventType()]...)
	handlers = append(handlers, b.allHandlers...)

	if b.metrics != nil {
		b.metrics.RecordPublish(event.EventType())
	}

	if b.asyncMode {
		// Scheduled under the read lock so Close cannot begin waiting
		// before every handler is counted.
		for _, h := range handlers {
			b.wg.Add(1)
			go func(h shared.EventHandler) {
				defer b.wg.Done()
				b.workerPool <- struct{}{}
				defer func() { <-b.workerPool }()
				b.run(event, h)
			}(h)
		}
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.run(event, h)
	}
	return nil
}

func (b *InMemoryEventBus) run(event shared.Event, handler shared.EventHandler) {
	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
				b.log.Error("event handler panicked",
					logger.String("event_type", string(event.EventType())),
					logger.String("stack", string(debug.Stack())),
				)
			}
		}()
		err = handler(event)
	}()
	duration := time.Since(start)

	if b.metrics != nil {
		b.metrics.RecordHandlerExecution(event.EventType(), duration, err == nil)
	}
	if err != nil {
		b.log.Error("event handler failed",
			logger.String("event_type", string(event.EventType())),
			logger.Duration("duration", duration),
			logger.Err(err),
		)
	}
}

// Close stops accepting events and waits for running handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.log.Debug("event bus closed")
	return nil
}

// Metrics returns the bus metrics, or nil when disabled.
func (b *InMemoryEventBus) Metrics() *EventBusMetrics {
	return b.metrics
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// EventBusMetrics tracks event bus counters.
type EventBusMetrics struct {
	mu               sync.Mutex
	published        map[shared.EventType]int64
	handled          map[shared.EventType]int64
	failed           map[shared.EventType]int64
	totalHandlerTime time.Duration
}

// NewEventBusMetrics creates empty metrics.
func NewEventBusMetrics() *EventBusMetrics {
	return &EventBusMetrics{
		published: make(map[shared.EventType]int64),
		handled:   make(map[shared.EventType]int64),
		failed:    make(map[shared.EventType]int64),
	}
}

// RecordPublish counts a published event.
func (m *EventBusMetrics) RecordPublish(eventType shared.EventType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[eventType]++
}

// RecordHandlerExecution counts one handler run.
func (m *EventBusMetrics) RecordHandlerExecution(eventType shared.EventType, duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalHandlerTime += duration
	if success {
		m.handled[eventType]++
	} else {
		m.failed[eventType]++
	}
}

// EventBusMetricsSnapshot is a point-in-time copy of the counters.
type EventBusMetricsSnapshot struct {
	Published          int64   `json:"published"`
	Handled            int64   `json:"handled"`
	Failed             int64   `json:"failed"`
	AvgHandlerTimeMs   float64 `json:"avg_handler_time_ms"`
	HandlerSuccessRate float64 `json:"handler_success_rate"`
}

// Snapshot returns totals across all event types.
func (m *EventBusMetrics) Snapshot() EventBusMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := EventBusMetricsSnapshot{
		Published: sum(m.published),
		Handled:   sum(m.handled),
		Failed:    sum(m.failed),
	}
	if runs := s.Handled + s.Failed; runs > 0 {
		s.AvgHandlerTimeMs = float64(m.totalHandlerTime.Milliseconds()) / float64(runs)
		s.HandlerSuccessRate = float64(s.Handled) / float64(runs)
	}
	return s
}

// PublishedOf returns the publish count of one event type.
func (m *EventBusMetrics) PublishedOf(eventType shared.EventType) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[eventType]
}

func sum(mp map[shared.EventType]int64) int64 {
	var n int64
	for _, v := range mp {
		n += v
	}
	return n
}
