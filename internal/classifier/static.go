package classifier

import (
	"context"
	"time"
)

const (
	DefaultStaticLabel      = "fall_armyworm"
	DefaultStaticConfidence = 0.87
	DefaultStaticDelay      = 1500 * time.Millisecond
)

// StaticClassifier returns a fixed label and confidence after a fixed delay.
// It stands in for a real inference backend during development.
type StaticClassifier struct {
	label      string
	confidence float64
	delay      time.Duration
}

var _ Classifier = (*StaticClassifier)(nil)

func NewStaticClassifier(label string, confidence float64, delay time.Duration) *StaticClassifier {
	if label == "" {
		label = DefaultStaticLabel
	}
	if confidence <= 0 {
		confidence = DefaultStaticConfidence
	}
	if delay < 0 {
		delay = DefaultStaticDelay
	}
	return &StaticClassifier{label: label, confidence: confidence, delay: delay}
}

func (c *StaticClassifier) Classify(ctx context.Context, imageName string, image []byte) (Detection, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return Detection{}, ctx.Err()
		}
	}

	return Detection{Label: c.label, Confidence: c.confidence}, nil
}
