package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"slack-intake-go/internal/errs"
)

// OpenAIConfig configures the OpenAI compatible classifier
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	Timezone string
}

// OpenAIClassifier classifies batches with a chat completion model that
// supports JSON schema structured output
type OpenAIClassifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	loc     *time.Location
	schema  *jsonschema.Schema
	now     func() time.Time
}

// NewOpenAIClassifier creates a new classifier client
func NewOpenAIClassifier(cfg OpenAIConfig) *OpenAIClassifier {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		if cfg.Timezone != "" {
			logrus.WithError(err).Warnf("Unknown timezone %q, using UTC", cfg.Timezone)
		}
		loc = time.UTC
	}

	return &OpenAIClassifier{
		client:  openai.NewClientWithConfig(config),
		model:   model,
		timeout: timeout,
		loc:     loc,
		schema:  Schema(),
		now:     time.Now,
	}
}

// Schema returns the JSON schema of the wire classification
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&V1{})
}

// Classify sends the batch to the model and validates the reply
func (c *OpenAIClassifier) Classify(ctx context.Context, in Input) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(in, c.loc, c.now()),
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "classification_v1",
				Schema: c.schema,
				Strict: false,
			},
		},
	})
	if err != nil {
		return nil, classificationError(err)
	}

	logrus.WithFields(logrus.Fields{
		"conversation":      in.ConversationKey,
		"model":             c.model,
		"duration_ms":       time.Since(start).Milliseconds(),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
	}).Debug("Classification completed")

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", errs.ErrClassification)
	}

	content := stripFences(resp.Choices[0].Message.Content)
	result, err := Decode([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrClassification, err)
	}
	return result, nil
}

// classificationError wraps a transport failure. Client errors other than
// rate limiting will not succeed on retry.
func classificationError(err error) error {
	wrapped := fmt.Errorf("%w: %v", errs.ErrClassification, err)

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && isPermanentStatus(apiErr.HTTPStatusCode) {
		return errs.Permanent(wrapped)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && isPermanentStatus(reqErr.HTTPStatusCode) {
		return errs.Permanent(wrapped)
	}
	return wrapped
}

func isPermanentStatus(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusNotFound || code == http.StatusUnprocessableEntity
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
