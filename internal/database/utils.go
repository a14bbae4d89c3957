package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func CreatePrediction(ctx context.Context, db *gorm.DB, prediction *Prediction) error {
	if err := db.WithContext(ctx).Create(prediction).Error; err != nil {
		return fmt.Errorf("failed to create prediction record: %w", err)
	}
	return nil
}

// GetUserPredictions returns the user's records ordered by timestamp
// descending. A limit of 0 means no limit.
func GetUserPredictions(ctx context.Context, db *gorm.DB, userId uuid.UUID, limit, offset int) ([]Prediction, error) {
	query := db.WithContext(ctx).
		Where("user_id = ?", userId).
		Order("timestamp DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var predictions []Prediction
	if err := query.Find(&predictions).Error; err != nil {
		return nil, fmt.Errorf("could not query prediction records: %w", err)
	}
	return predictions, nil
}
