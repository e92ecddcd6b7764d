package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"liveorch/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventStatusChanged EventType = "status.changed"
	EventError         EventType = "session.error"
)

const defaultQueueSize = 128

// Event represents a distributed event
type Event struct {
	Type       EventType `json:"type"`
	InstanceID string    `json:"instance_id"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
}

type pubSubClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// EventBus republishes listener events on a Redis channel so dashboards
// attached to other instances see them too. As a ports.StatusListener it
// never blocks: events are queued and published by Run.
type EventBus struct {
	client     pubSubClient
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	queue      chan *Event
	now        func() time.Time

	mu     sync.Mutex
	pubsub *redis.PubSub
}

var _ ports.StatusListener = (*EventBus)(nil)

// NewEventBus creates a new event bus
func NewEventBus(
	client pubSubClient,
	instanceID string,
	channel string,
	logger *zap.SugaredLogger,
) *EventBus {
	if channel == "" {
		channel = "liveorch:events"
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
		queue:      make(chan *Event, defaultQueueSize),
		now:        time.Now,
	}
}

// OnStatusChanged implements ports.StatusListener. Publishing happens on
// the Run goroutine.
func (eb *EventBus) OnStatusChanged(text string) {
	eb.enqueue(EventStatusChanged, text)
}

func (eb *EventBus) OnError(text string) {
	eb.enqueue(EventError, text)
}

func (eb *EventBus) enqueue(t EventType, text string) {
	event := &Event{Type: t, Message: text, Timestamp: eb.now()}
	select {
	case eb.queue <- event:
	default:
		eb.logger.Warnw("event bus queue full, dropping event", "type", t)
	}
}

// Run publishes queued events until ctx is done.
func (eb *EventBus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eb.queue:
			if err := eb.Publish(ctx, event); err != nil {
				eb.logger.Warnw("failed to publish event", "type", event.Type, "error", err)
			}
		}
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	if event.Timestamp.IsZero() {
		event.Timestamp = eb.now()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event", "type", event.Type, "channel", eb.channel)
	return nil
}

// Subscribe calls handler for every event published by other instances
// until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	eb.mu.Lock()
	if eb.pubsub != nil {
		eb.mu.Unlock()
		return fmt.Errorf("already subscribed")
	}
	pubsub := eb.client.Subscribe(ctx, eb.channel)
	eb.pubsub = pubsub
	eb.mu.Unlock()

	defer func() {
		eb.mu.Lock()
		eb.pubsub = nil
		eb.mu.Unlock()
		pubsub.Close()
	}()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			eb.dispatch(msg.Payload, handler)
		}
	}
}

func (eb *EventBus) dispatch(payload string, handler func(*Event) error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		eb.logger.Warnw("failed to unmarshal event", "error", err, "payload", payload)
		return
	}

	// Skip events from this instance
	if event.InstanceID == eb.instanceID {
		return
	}

	if err := handler(&event); err != nil {
		eb.logger.Warnw("error handling event", "type", event.Type, "error", err)
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}
