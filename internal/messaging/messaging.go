package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	CompletedQueue  = "prediction_completed"
	FailedQueue     = "prediction_failed"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
)

// Event is a notification delivered to a consumer.
type Event interface {
	Type() string

	Payload() []byte

	Ack() error

	Nack() error
}

type PredictionCompletedPayload struct {
	PredictionId   uuid.UUID
	UserId         uuid.UUID
	ImageName      string
	PredictedClass string
	Confidence     float64
	Timestamp      time.Time
}

type PredictionFailedPayload struct {
	UserId    uuid.UUID
	ImageName string
	Reason    string
	Timestamp time.Time
}

// Notifier publishes fire-and-forget success/failure notifications. Publish
// failures are observational, never part of workflow correctness.
type Notifier interface {
	NotifyPredictionCompleted(ctx context.Context, payload PredictionCompletedPayload) error

	NotifyPredictionFailed(ctx context.Context, payload PredictionFailedPayload) error

	Close()
}

type Receiver interface {
	Events() <-chan Event

	Close()
}
