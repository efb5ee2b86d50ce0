// Package openai adapts the OpenAI Chat Completions streaming API (a
// choice-delta protocol: index-keyed tool_calls in delta chunks) into the
// runtime's unified provider event stream.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// Adapter streams completions from the OpenAI Chat Completions API.
type Adapter struct {
	client openai.Client
	logger telemetry.Logger
}

// New constructs an Adapter scoped to apiKey. logger receives a warning for
// every choice-delta recovery decision (a malformed or incomplete tool call
// dropped); a nil logger is replaced with a no-op one.
func New(apiKey string, logger telemetry.Logger) *Adapter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Adapter{client: openai.NewClient(option.WithAPIKey(apiKey)), logger: logger}
}

// Stream starts a streaming chat completion and returns a model.Streamer
// over the unified event representation.
func (a *Adapter) Stream(ctx context.Context, messages []model.Message, cfg model.TurnConfig) (model.Streamer, error) {
	params := openai.ChatCompletionNewParams{
		Model:       cfg.Model,
		MaxTokens:   openai.Int(int64(cfg.MaxTokens)),
		Temperature: openai.Float(cfg.Temperature),
		Messages:    toOpenAIMessages(messages, cfg.SystemPrompt),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOpenAITools(cfg.Tools)
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	return newStreamer(ctx, stream, a.logger), nil
}

func toOpenAIMessages(messages []model.Message, systemPrompt string) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, m := range messages {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func toOpenAITools(tools []model.ToolDescriptor) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  schema,
			},
		})
	}
	return out
}
