package api

import (
	"time"

	"github.com/google/uuid"
)

// PredictionRecord is the persisted result of one classification submission,
// scoped to the submitting user.
type PredictionRecord struct {
	Id             uuid.UUID `json:"id"`
	ImageName      string    `json:"imageName"`
	ImageUrl       *string   `json:"imageUrl"`
	PredictedClass string    `json:"predictedClass"`
	Confidence     float64   `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
}

// DetectionResult is the transient view of the most recent classification
// outcome. It is returned from a submission but never stored verbatim.
type DetectionResult struct {
	PestId     string    `json:"pest_id"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

type SubmitPredictionResponse struct {
	Record  PredictionRecord   `json:"record"`
	Result  DetectionResult    `json:"result"`
	Preview string             `json:"preview,omitempty"`
	History []PredictionRecord `json:"history,omitempty"`
}

type ListPredictionsParams struct {
	Limit  int `schema:"limit"`
	Offset int `schema:"offset"`
}

type ListPredictionsResponse struct {
	Predictions []PredictionRecord `json:"predictions"`
}

type CreateUserRequest struct {
	Username string `json:"username"`
}

type CreateUserResponse struct {
	UserId uuid.UUID `json:"user_id"`
	ApiKey string    `json:"api_key"`
}
