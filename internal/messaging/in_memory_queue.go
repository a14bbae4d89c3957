package messaging

import (
	"context"
	"encoding/json"
	"sync"
)

type inMemoryEvent struct {
	queue   string
	payload []byte
}

func (e *inMemoryEvent) Type() string {
	return e.queue
}

func (e *inMemoryEvent) Payload() []byte {
	return e.payload
}

func (e *inMemoryEvent) Ack() error {
	return nil
}

func (e *inMemoryEvent) Nack() error {
	return nil
}

// InMemoryQueue is a channel backed Notifier and Receiver used by the local
// single-binary mode and by tests.
type InMemoryQueue struct {
	events     chan Event
	destructor sync.Once
}

var (
	_ Notifier = (*InMemoryQueue)(nil)
	_ Receiver = (*InMemoryQueue)(nil)
)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		events: make(chan Event, 100),
	}
}

func (q *InMemoryQueue) publishEventInternal(queue string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	q.events <- &inMemoryEvent{queue: queue, payload: data}

	return nil
}

func (q *InMemoryQueue) NotifyPredictionCompleted(ctx context.Context, payload PredictionCompletedPayload) error {
	return q.publishEventInternal(CompletedQueue, payload)
}

func (q *InMemoryQueue) NotifyPredictionFailed(ctx context.Context, payload PredictionFailedPayload) error {
	return q.publishEventInternal(FailedQueue, payload)
}

func (q *InMemoryQueue) Events() <-chan Event {
	return q.events
}

func (q *InMemoryQueue) Close() {
	q.destructor.Do(func() {
		close(q.events)
	})
}
