package classifier

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultRemoteTimeout = 30 * time.Second

type remoteRequest struct {
	ImageName   string `json:"image_name"`
	ImageBase64 string `json:"image_base64"`
}

type remoteResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// RemoteClassifier delegates classification to an external inference service
// over HTTP. The service accepts base64 image bytes and returns a label with
// a confidence.
type RemoteClassifier struct {
	client   *resty.Client
	endpoint string
}

var _ Classifier = (*RemoteClassifier)(nil)

func NewRemoteClassifier(endpoint string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = defaultRemoteTimeout
	}

	return &RemoteClassifier{
		client:   resty.New().SetTimeout(timeout),
		endpoint: endpoint,
	}
}

func (c *RemoteClassifier) Classify(ctx context.Context, imageName string, image []byte) (Detection, error) {
	var result remoteResponse

	res, err := c.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{
			ImageName:   imageName,
			ImageBase64: base64.StdEncoding.EncodeToString(image),
		}).
		SetResult(&result).
		Post(c.endpoint)
	if err != nil {
		slog.Error("error calling remote classifier", "endpoint", c.endpoint, "error", err)
		return Detection{}, fmt.Errorf("remote classification failed: %w", err)
	}

	if res.IsError() {
		slog.Error("remote classifier returned error status", "endpoint", c.endpoint, "status", res.StatusCode())
		return Detection{}, fmt.Errorf("remote classification failed with status %d", res.StatusCode())
	}

	if result.Label == "" {
		return Detection{}, fmt.Errorf("remote classifier returned no label")
	}

	return Detection{
		Label:      result.Label,
		Confidence: result.Confidence,
		Raw:        res.Body(),
	}, nil
}
