// Package llm defines the structured-extraction LLM boundary and a
// github.com/sashabaranov/go-openai-backed implementation.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	agkerrors "github.com/agentic-kg/knowledge-core/internal/errors"
	"github.com/agentic-kg/knowledge-core/internal/logging"
)

// TokenUsage mirrors the provider's reported token accounting.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Extractor is the structured-output LLM boundary every
// LLM-dependent caller depends on: a prompt plus a JSON schema in, a
// validated raw JSON record plus token usage out.
type Extractor interface {
	Extract(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, TokenUsage, error)
}

// OpenAIExtractor implements Extractor against the Chat Completions
// API using strict JSON-schema structured output.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
	log    *logging.Logger
}

// NewOpenAIExtractor builds an extractor bound to apiKey and model
// (e.g. "gpt-4o-mini").
func NewOpenAIExtractor(apiKey, model string) *OpenAIExtractor {
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIExtractor{client: openai.NewClient(apiKey), model: model, log: logging.For("llm")}
}

// Extract sends prompt with schema as a strict JSON-schema response
// format and returns the model's raw JSON payload.
func (e *OpenAIExtractor) Extract(ctx context.Context, prompt string, schema json.RawMessage) (json.RawMessage, TokenUsage, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "extraction",
				Schema: json.RawMessage(schema),
				Strict: true,
			},
		},
	})
	if err != nil {
		return nil, TokenUsage{}, classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, TokenUsage{}, agkerrors.Pipeline(fmt.Errorf("empty choices"), "llm returned no choices")
	}

	usage := TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return json.RawMessage(resp.Choices[0].Message.Content), usage, nil
}

func classifyError(err error) error {
	var apiErr *openai.APIError
	if ok := asAPIError(err, &apiErr); ok {
		switch apiErr.HTTPStatusCode {
		case 429:
			return agkerrors.RateLimited("openai", 0)
		case 500, 502, 503, 504:
			return agkerrors.Transient(err, "openai 5xx")
		default:
			return agkerrors.APIError(apiErr.HTTPStatusCode, apiErr.Message)
		}
	}
	return agkerrors.Transient(err, "openai request failed")
}

func asAPIError(err error, target **openai.APIError) bool {
	if e, ok := err.(*openai.APIError); ok {
		*target = e
		return true
	}
	return false
}
