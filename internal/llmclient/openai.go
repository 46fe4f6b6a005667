package llmclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient wraps github.com/sashabaranov/go-openai, grounded on
// lueurxax-TelegramDigestBot's internal/llm.openaiClient: a plain
// *openai.Client plus JSON-schema response formatting.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a Client backed by the OpenAI chat completions API.
func NewOpenAIClient(cfg Config) *OpenAIClient {
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClient(cfg.APIKey),
		model:  model,
	}
}

func (c *OpenAIClient) Extract(ctx context.Context, req Request) (Response, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	schemaName := req.SchemaName
	if schemaName == "" {
		schemaName = "extraction_result"
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: req.Schema,
				Strict: false,
			},
		},
	})
	if err != nil {
		return Response{}, fmt.Errorf("openai extract: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("openai extract: empty choices")
	}

	var fields Fields
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &fields); err != nil {
		return Response{}, fmt.Errorf("openai extract: decode response: %w", err)
	}

	return Response{
		Fields: fields,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}, nil
}

func (c *OpenAIClient) Name() string { return "openai" }
