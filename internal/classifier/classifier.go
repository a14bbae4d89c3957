package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Detection is the outcome of classifying one image.
type Detection struct {
	Label      string
	Confidence float64

	// Raw backend response, if any. Stored alongside the record for
	// diagnostics.
	Raw json.RawMessage
}

// Classifier turns image bytes into a pest label with a confidence in [0,1].
type Classifier interface {
	Classify(ctx context.Context, imageName string, image []byte) (Detection, error)
}

const (
	TypeStatic = "static"
	TypeRemote = "remote"
	TypeOpenAI = "openai"
)

type Config struct {
	Type string

	// remote
	EndpointURL string
	Timeout     time.Duration

	// openai
	OpenAIModel string

	// static
	StaticLabel      string
	StaticConfidence float64
	StaticDelay      time.Duration
}

func NewClassifier(cfg Config) (Classifier, error) {
	switch cfg.Type {
	case TypeStatic, "":
		return NewStaticClassifier(cfg.StaticLabel, cfg.StaticConfidence, cfg.StaticDelay), nil
	case TypeRemote:
		if cfg.EndpointURL == "" {
			return nil, fmt.Errorf("remote classifier requires an endpoint URL")
		}
		return NewRemoteClassifier(cfg.EndpointURL, cfg.Timeout), nil
	case TypeOpenAI:
		return NewOpenAIClassifier(cfg.OpenAIModel), nil
	default:
		return nil, fmt.Errorf("unknown classifier type '%s'", cfg.Type)
	}
}
