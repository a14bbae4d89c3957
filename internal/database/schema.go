package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type User struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Username   string `gorm:"uniqueIndex;not null"`
	ApiKeyHash string `gorm:"not null"`

	CreationTime time.Time

	Predictions []Prediction `gorm:"foreignKey:UserId;constraint:OnDelete:CASCADE"`
}

// Prediction is created exactly once per successful submission and is
// immutable afterwards. Rows are never deleted by the service.
type Prediction struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserId uuid.UUID `gorm:"type:uuid;index;not null"`

	ImageName string `gorm:"not null"`
	ObjectKey string `gorm:"not null"`
	ImageUrl  sql.NullString

	PredictedClass string  `gorm:"size:100;not null"`
	Confidence     float64 `gorm:"not null"`

	Timestamp time.Time `gorm:"index"`

	// Raw classifier output, kept for diagnostics.
	RawResult datatypes.JSON `gorm:"type:jsonb"`
}
