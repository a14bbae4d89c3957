package api

import (
	"pestvision-backend/internal/database"
	"pestvision-backend/pkg/api"
)

func convertPrediction(record database.Prediction) api.PredictionRecord {
	converted := api.PredictionRecord{
		Id:             record.Id,
		ImageName:      record.ImageName,
		PredictedClass: record.PredictedClass,
		Confidence:     record.Confidence,
		Timestamp:      record.Timestamp,
	}
	if record.ImageUrl.Valid {
		url := record.ImageUrl.String
		converted.ImageUrl = &url
	}
	return converted
}

func convertPredictions(records []database.Prediction) []api.PredictionRecord {
	converted := make([]api.PredictionRecord, len(records))
	for i, record := range records {
		converted[i] = convertPrediction(record)
	}
	return converted
}
