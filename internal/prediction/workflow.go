package prediction

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path"
	"time"

	"pestvision-backend/internal/classifier"
	"pestvision-backend/internal/database"
	"pestvision-backend/internal/messaging"
	"pestvision-backend/internal/storage"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// GenericFailureMessage is what a submitter sees when any workflow step
// fails. Details only go to the log.
const GenericFailureMessage = "failed to process image"

// State is the submission lifecycle. A workflow run moves Idle -> Validating
// -> Submitting and ends in Succeeded or Failed.
type State int

const (
	StateIdle State = iota
	StateValidating
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateValidating:
		return "VALIDATING"
	case StateSubmitting:
		return "SUBMITTING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Outcome carries the final state of one submission together with its
// payload: the persisted record on success, nothing on failure.
type Outcome struct {
	State  State
	Record database.Prediction
	Result classifier.Detection
}

// Workflow runs the submission sequence: upload the image bytes, resolve a
// fetchable URL, classify, persist one record, notify.
type Workflow struct {
	db         *gorm.DB
	store      storage.ObjectStore
	classifier classifier.Classifier
	notifier   messaging.Notifier
	now        func() time.Time
}

func NewWorkflow(db *gorm.DB, store storage.ObjectStore, cls classifier.Classifier, notifier messaging.Notifier) *Workflow {
	return &Workflow{
		db:         db,
		store:      store,
		classifier: cls,
		notifier:   notifier,
		now:        time.Now,
	}
}

// ObjectKey namespaces stored objects by user and submission time. The
// millisecond timestamp makes the key unique per submission; identical
// uploads are deliberately not deduplicated.
func ObjectKey(userId uuid.UUID, at time.Time, imageName string) string {
	return fmt.Sprintf("predictions/%s/%d_%s", userId, at.UnixMilli(), imageName)
}

// Submit runs one submission to completion. Any step failure aborts the
// remaining steps; if the image was already uploaded, the orphaned object is
// deleted best effort so no unreferenced objects accumulate.
func (w *Workflow) Submit(ctx context.Context, userId uuid.UUID, sel Selection) (Outcome, error) {
	if userId == uuid.Nil || len(sel.Data) == 0 {
		return Outcome{State: StateIdle}, ErrNoSelection
	}

	submittedAt := w.now().UTC()
	imageName := path.Base(sel.Name)
	key := ObjectKey(userId, submittedAt, imageName)

	if err := w.store.PutObject(ctx, key, bytes.NewReader(sel.Data)); err != nil {
		return w.fail(ctx, userId, imageName, fmt.Errorf("error uploading image: %w", err))
	}

	imageUrl, err := w.store.ObjectURL(ctx, key)
	if err != nil {
		w.cleanupObject(ctx, key)
		return w.fail(ctx, userId, imageName, fmt.Errorf("error resolving image URL: %w", err))
	}

	detection, err := w.classifier.Classify(ctx, imageName, sel.Data)
	if err != nil {
		w.cleanupObject(ctx, key)
		return w.fail(ctx, userId, imageName, fmt.Errorf("error classifying image: %w", err))
	}
	detection.Confidence = clampConfidence(detection.Confidence)

	record := database.Prediction{
		Id:             uuid.New(),
		UserId:         userId,
		ImageName:      imageName,
		ObjectKey:      key,
		ImageUrl:       sql.NullString{String: imageUrl, Valid: true},
		PredictedClass: detection.Label,
		Confidence:     detection.Confidence,
		Timestamp:      submittedAt,
		RawResult:      datatypes.JSON(detection.Raw),
	}

	if err := database.CreatePrediction(ctx, w.db, &record); err != nil {
		w.cleanupObject(ctx, key)
		return w.fail(ctx, userId, imageName, err)
	}

	if err := w.notifier.NotifyPredictionCompleted(ctx, messaging.PredictionCompletedPayload{
		PredictionId:   record.Id,
		UserId:         userId,
		ImageName:      imageName,
		PredictedClass: record.PredictedClass,
		Confidence:     record.Confidence,
		Timestamp:      record.Timestamp,
	}); err != nil {
		// Notifications are observational, never workflow correctness.
		slog.Warn("failed to publish completion notification", "prediction_id", record.Id, "error", err)
	}

	slog.Info("submission completed", "prediction_id", record.Id, "user_id", userId, "predicted_class", record.PredictedClass)

	return Outcome{State: StateSucceeded, Record: record, Result: detection}, nil
}

// History returns the user's records in descending timestamp order. A limit
// of 0 returns everything.
func (w *Workflow) History(ctx context.Context, userId uuid.UUID, limit, offset int) ([]database.Prediction, error) {
	if userId == uuid.Nil {
		return nil, fmt.Errorf("missing user id")
	}
	return database.GetUserPredictions(ctx, w.db, userId, limit, offset)
}

func (w *Workflow) fail(ctx context.Context, userId uuid.UUID, imageName string, err error) (Outcome, error) {
	slog.Error("submission failed", "user_id", userId, "image_name", imageName, "error", err)

	if notifyErr := w.notifier.NotifyPredictionFailed(ctx, messaging.PredictionFailedPayload{
		UserId:    userId,
		ImageName: imageName,
		Reason:    GenericFailureMessage,
		Timestamp: w.now().UTC(),
	}); notifyErr != nil {
		slog.Warn("failed to publish failure notification", "user_id", userId, "error", notifyErr)
	}

	return Outcome{State: StateFailed}, err
}

func (w *Workflow) cleanupObject(ctx context.Context, key string) {
	if err := w.store.DeleteObject(ctx, key); err != nil {
		slog.Warn("failed to delete orphaned object", "key", key, "error", err)
	}
}

func clampConfidence(confidence float64) float64 {
	if confidence < 0 {
		return 0
	}
	if confidence > 1 {
		return 1
	}
	return confidence
}
