package internal

import (
	"sync"

	"github.com/google/uuid"
	"github.com/lychee-technology/quarry"
	"go.uber.org/zap"
)

// Broker fans bulk-job progress events out to subscribers, keyed by job id.
// Publishing never blocks the job: a subscriber that cannot keep up loses
// events rather than stalling batch processing.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID][]chan quarry.ProgressEvent
	closed bool
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID][]chan quarry.ProgressEvent)}
}

// Subscribe registers interest in one job's events. The returned cancel
// function must be called when the subscriber is done; it closes the channel.
func (b *Broker) Subscribe(jobID uuid.UUID) (<-chan quarry.ProgressEvent, func()) {
	ch := make(chan quarry.ProgressEvent, 16)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[jobID] = append(b.subs[jobID], ch)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if b.closed {
				// Close already tore the channel down.
				b.mu.Unlock()
				return
			}
			channels := b.subs[jobID]
			for i, c := range channels {
				if c == ch {
					b.subs[jobID] = append(channels[:i], channels[i+1:]...)
					break
				}
			}
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its job.
func (b *Broker) Publish(event quarry.ProgressEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			zap.S().Debugw("progress subscriber lagging, event dropped", "job_id", event.JobID)
		}
	}
}

// Close tears the broker down and closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, channels := range b.subs {
		for _, ch := range channels {
			close(ch)
		}
	}
	b.subs = make(map[uuid.UUID][]chan quarry.ProgressEvent)
}
