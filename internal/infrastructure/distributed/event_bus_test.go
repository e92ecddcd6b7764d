package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type published struct {
	channel string
	payload []byte
}

type fakePubSub struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePubSub) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.sent = append(f.sent, published{channel: channel, payload: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (f *fakePubSub) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	panic("not used")
}

func (f *fakePubSub) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.sent...)
}

func TestEventBus_ListenerEventsArePublished(t *testing.T) {
	client := &fakePubSub{}
	bus := NewEventBus(client, "instance-a", "", zaptest.NewLogger(t).Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.OnStatusChanged("OKB: streaming live")
	bus.OnError("OKB: transport failure")

	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, time.Second, 5*time.Millisecond)

	msgs := client.messages()
	assert.Equal(t, "liveorch:events", msgs[0].channel)

	var first, second Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &first))
	require.NoError(t, json.Unmarshal(msgs[1].payload, &second))
	assert.Equal(t, EventStatusChanged, first.Type)
	assert.Equal(t, "OKB: streaming live", first.Message)
	assert.Equal(t, "instance-a", first.InstanceID)
	assert.Equal(t, EventError, second.Type)
}

func TestEventBus_PublishError(t *testing.T) {
	client := &fakePubSub{err: errors.New("connection refused")}
	bus := NewEventBus(client, "instance-a", "custom", zaptest.NewLogger(t).Sugar())

	err := bus.Publish(context.Background(), &Event{Type: EventError, Message: "x"})
	assert.ErrorContains(t, err, "connection refused")
}

func TestEventBus_FullQueueDoesNotBlock(t *testing.T) {
	bus := NewEventBus(&fakePubSub{}, "instance-a", "", zaptest.NewLogger(t).Sugar())

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultQueueSize+10; i++ {
			bus.OnStatusChanged("tick")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener blocked on a full queue")
	}
	assert.Len(t, bus.queue, defaultQueueSize)
}

func TestEventBus_DispatchSkipsOwnEvents(t *testing.T) {
	bus := NewEventBus(&fakePubSub{}, "instance-a", "", zaptest.NewLogger(t).Sugar())

	var got []string
	handler := func(e *Event) error {
		got = append(got, e.InstanceID+":"+e.Message)
		return nil
	}

	own, _ := json.Marshal(Event{Type: EventStatusChanged, InstanceID: "instance-a", Message: "mine"})
	remote, _ := json.Marshal(Event{Type: EventStatusChanged, InstanceID: "instance-b", Message: "theirs"})
	bus.dispatch(string(own), handler)
	bus.dispatch(string(remote), handler)
	bus.dispatch("{not json", handler)

	assert.Equal(t, []string{"instance-b:theirs"}, got)
}
