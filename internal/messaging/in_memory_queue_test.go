package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"pestvision-backend/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueuePublishAndReceive(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	completed := messaging.PredictionCompletedPayload{
		PredictionId:   uuid.New(),
		UserId:         uuid.New(),
		ImageName:      "leaf.jpg",
		PredictedClass: "aphid",
		Confidence:     0.91,
		Timestamp:      time.Now().UTC(),
	}
	require.NoError(t, queue.NotifyPredictionCompleted(context.Background(), completed))

	failed := messaging.PredictionFailedPayload{
		UserId:    completed.UserId,
		ImageName: "leaf.jpg",
		Reason:    "failed to process image",
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, queue.NotifyPredictionFailed(context.Background(), failed))

	event := <-queue.Events()
	assert.Equal(t, messaging.CompletedQueue, event.Type())

	var gotCompleted messaging.PredictionCompletedPayload
	require.NoError(t, json.Unmarshal(event.Payload(), &gotCompleted))
	assert.Equal(t, completed.PredictionId, gotCompleted.PredictionId)
	assert.Equal(t, completed.PredictedClass, gotCompleted.PredictedClass)
	require.NoError(t, event.Ack())

	event = <-queue.Events()
	assert.Equal(t, messaging.FailedQueue, event.Type())

	var gotFailed messaging.PredictionFailedPayload
	require.NoError(t, json.Unmarshal(event.Payload(), &gotFailed))
	assert.Equal(t, failed.Reason, gotFailed.Reason)
	require.NoError(t, event.Nack())
}

func TestInMemoryQueueClose(t *testing.T) {
	queue := messaging.NewInMemoryQueue()

	events := queue.Events()
	queue.Close()
	queue.Close()

	_, ok := <-events
	assert.False(t, ok)

	// Events stays usable after Close so late consumers observe the closed
	// channel instead of blocking on a nil one.
	_, ok = <-queue.Events()
	assert.False(t, ok)
}
