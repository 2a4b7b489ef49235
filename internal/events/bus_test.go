package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBus(t *testing.T) {
	bus := NewBus()
	require.NotNil(t, bus)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestBusSubscribe(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	assert.Equal(t, 1, bus.SubscriberCount())

	ch2 := bus.Subscribe()
	assert.Equal(t, 2, bus.SubscriberCount())

	assert.NotNil(t, ch1)
	assert.NotNil(t, ch2)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)
	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "unsubscribed channel should be closed")
}

func TestBusPublish(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe()

	bus.Publish(NewWorkerFinishedEvent("run-1", 2, 50, 2, 15*time.Millisecond))

	select {
	case received := <-ch:
		assert.Equal(t, EventWorkerFinished, received.Type)
		assert.Equal(t, "run-1", received.RunID)
		assert.Equal(t, "worker-2", received.Data.Worker)
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestBusPublishMultipleSubscribers(t *testing.T) {
	bus := NewBus()

	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()

	bus.Publish(NewRunCompletedEvent("run-1", time.Second))

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			assert.Equal(t, EventRunCompleted, received.Type, "subscriber %d", i)
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBusPublishNonBlocking(t *testing.T) {
	bus := NewBusWithBuffer(1)
	ch := bus.Subscribe()

	// Fill the buffer; extra events are dropped rather than blocking
	bus.Publish(NewRunFailedEvent("run-1", nil))
	bus.Publish(NewRunFailedEvent("run-2", nil))
	bus.Publish(NewRunFailedEvent("run-3", nil))

	select {
	case received := <-ch:
		assert.Equal(t, "run-1", received.RunID)
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for first event")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(NewRunCompletedEvent("run-1", time.Second))
	})
}

func TestBusClose(t *testing.T) {
	bus := NewBus()

	ch := bus.Subscribe()
	bus.Close()

	assert.Equal(t, 0, bus.SubscriberCount())

	_, ok := <-ch
	assert.False(t, ok, "expected channel to be closed")
}

func TestEventCreation(t *testing.T) {
	t.Run("RunStarted", func(t *testing.T) {
		event := NewRunStartedEvent("run-1", 40, 20, 4, 2)
		assert.Equal(t, EventRunStarted, event.Type)
		assert.Equal(t, 40, event.Data.Width)
		assert.Equal(t, 20, event.Data.Height)
		assert.Equal(t, 4, event.Data.Parallelism)
		assert.Equal(t, 2, event.Data.Granularity)
	})

	t.Run("WorkerFinished", func(t *testing.T) {
		event := NewWorkerFinishedEvent("run-1", 0, 25, 1, 100*time.Millisecond)
		assert.Equal(t, "worker-0", event.Data.Worker)
		assert.Equal(t, "100ms", event.Data.Duration)
		assert.Equal(t, 25, event.Data.Rows)
	})

	t.Run("RunFailed", func(t *testing.T) {
		event := NewRunFailedEvent("run-1", errors.New("worker 1 panicked"))
		assert.Equal(t, EventRunFailed, event.Type)
		assert.Equal(t, "worker 1 panicked", event.Data.Error)
	})

	t.Run("SegmentReleased", func(t *testing.T) {
		event := NewSegmentReleasedEvent("run-1", "mandel-run-1")
		assert.Equal(t, EventSegmentReleased, event.Type)
		assert.Equal(t, "mandel-run-1", event.Data.Segment)
	})

	t.Run("FaultInjected", func(t *testing.T) {
		event := NewFaultInjectedEvent("run-1", 3, "panic")
		assert.Equal(t, EventFaultInjected, event.Type)
		assert.Equal(t, "worker-3", event.Data.Worker)
		assert.Equal(t, "panic", event.Data.Fault)
	})
}
