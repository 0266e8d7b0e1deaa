package internal

import (
	"testing"

	"github.com/google/uuid"
	"github.com/lychee-technology/quarry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscribers(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	jobID := uuid.New()
	events, cancel := broker.Subscribe(jobID)
	defer cancel()

	broker.Publish(quarry.ProgressEvent{JobID: jobID, Status: quarry.JobRunning, ProcessedCount: 10})

	event := <-events
	assert.Equal(t, jobID, event.JobID)
	assert.Equal(t, int64(10), event.ProcessedCount)
}

func TestBrokerIsolatesJobs(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	jobA, jobB := uuid.New(), uuid.New()
	eventsA, cancelA := broker.Subscribe(jobA)
	defer cancelA()
	eventsB, cancelB := broker.Subscribe(jobB)
	defer cancelB()

	broker.Publish(quarry.ProgressEvent{JobID: jobA, Status: quarry.JobRunning})

	assert.Len(t, eventsA, 1)
	assert.Empty(t, eventsB)
}

func TestBrokerDropsWhenSubscriberLags(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	jobID := uuid.New()
	events, cancel := broker.Subscribe(jobID)
	defer cancel()

	// Fill the buffer and keep publishing; the publisher must never block.
	for i := 0; i < 100; i++ {
		broker.Publish(quarry.ProgressEvent{JobID: jobID, ProcessedCount: int64(i)})
	}
	assert.Len(t, events, 16, "overflow events are dropped, not queued")
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	broker := NewBroker()
	defer broker.Close()

	jobID := uuid.New()
	events, cancel := broker.Subscribe(jobID)
	cancel()
	cancel() // idempotent

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancellation must not panic.
	broker.Publish(quarry.ProgressEvent{JobID: jobID})
}

func TestBrokerCloseClosesAllChannels(t *testing.T) {
	broker := NewBroker()

	events, cancel := broker.Subscribe(uuid.New())
	defer cancel()

	broker.Close()
	_, open := <-events
	assert.False(t, open)

	// Subscribing after close yields a closed channel immediately.
	late, lateCancel := broker.Subscribe(uuid.New())
	defer lateCancel()
	_, open = <-late
	require.False(t, open)
}
