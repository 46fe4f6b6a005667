package llmclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient wraps the Anthropic SDK, grounded near-verbatim on
// jmylchreest-refyne's internal/llm.AnthropicProvider: structured
// output goes through a single forced tool call rather than free-text
// JSON mode, since that's the reliable path the teacher's own code
// settled on.
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient builds a Client backed by the Anthropic API.
func NewAnthropicClient(cfg Config) *AnthropicClient {
	opts := []option.RequestOption{}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

const extractToolName = "extract_fields"

func (c *AnthropicClient) Extract(ctx context.Context, req Request) (Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		case RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	properties, _ := req.Schema["properties"].(map[string]any)
	required, _ := req.Schema["required"].([]any)
	requiredStrings := make([]string, 0, len(required))
	for _, r := range required {
		if s, ok := r.(string); ok {
			requiredStrings = append(requiredStrings, s)
		}
	}
	params.Tools = []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        extractToolName,
				Description: anthropic.String("Record the extracted page fields"),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: properties,
					Required:   requiredStrings,
				},
			},
		},
	}
	params.ToolChoice = anthropic.ToolChoiceParamOfTool(extractToolName)

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic extract: %w", err)
	}

	var fields Fields
	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			raw, err := json.Marshal(b.Input)
			if err != nil {
				return Response{}, fmt.Errorf("anthropic extract: marshal tool input: %w", err)
			}
			if err := json.Unmarshal(raw, &fields); err != nil {
				return Response{}, fmt.Errorf("anthropic extract: decode tool input: %w", err)
			}
		}
	}

	return Response{
		Fields: fields,
		Usage: Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
		Model: string(resp.Model),
	}, nil
}

func (c *AnthropicClient) Name() string { return "anthropic" }
