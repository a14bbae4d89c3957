package classifier

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
)

const openaiSystemPrompt = `You are an agricultural pest identification assistant. Given a photo of a crop
or plant, identify the most likely pest present. Respond with a single JSON
object of the form {"label": "<snake_case_pest_name>", "confidence": <0..1>}
and nothing else. If no pest is visible use the label "no_pest_detected".`

// OpenAIClassifier identifies pests with a vision-capable chat model.
type OpenAIClassifier struct {
	client openai.Client
	model  string
}

var _ Classifier = (*OpenAIClassifier)(nil)

func NewOpenAIClassifier(model string) *OpenAIClassifier {
	if model == "" {
		model = openai.ChatModelGPT4o
	}
	return &OpenAIClassifier{
		client: openai.NewClient(),
		model:  model,
	}
}

func (c *OpenAIClassifier) Classify(ctx context.Context, imageName string, image []byte) (Detection, error) {
	ctx, cancel := context.WithTimeout(ctx, 50*time.Second)
	defer cancel()

	mimeType := http.DetectContentType(image)
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(image))

	res, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:    classificationMessages(imageName, dataURL),
		Model:       c.model,
		Temperature: openai.Float(0),
	})
	if err != nil {
		slog.Error("openai error: chat completions failed", "error", err)
		return Detection{}, fmt.Errorf("openai classification failed: %w", err)
	}

	content := res.Choices[0].Message.Content

	detection, err := parseDetectionReply(content)
	if err != nil {
		slog.Error("openai error: unparsable classification reply", "reply", content, "error", err)
		return Detection{}, err
	}

	return detection, nil
}

func classificationMessages(imageName, dataURL string) []openai.ChatCompletionMessageParamUnion {
	return []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(openaiSystemPrompt),
		openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(fmt.Sprintf("Identify the pest in this photo (%s).", imageName)),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
		}),
	}
}

func parseDetectionReply(content string) (Detection, error) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	var reply struct {
		Label      string  `json:"label"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(trimmed), &reply); err != nil {
		return Detection{}, fmt.Errorf("could not parse classification reply: %w", err)
	}

	if reply.Label == "" {
		return Detection{}, fmt.Errorf("classification reply is missing a label")
	}

	return Detection{
		Label:      reply.Label,
		Confidence: reply.Confidence,
		Raw:        json.RawMessage(trimmed),
	}, nil
}
