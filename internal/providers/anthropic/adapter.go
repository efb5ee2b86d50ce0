// Package anthropic adapts the Anthropic Messages streaming API (a
// block-delta protocol: content_block_start/delta/stop) into the runtime's
// unified provider event stream.
package anthropic

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// Adapter streams completions from the Anthropic Messages API.
type Adapter struct {
	client sdk.Client
	logger telemetry.Logger
}

// New constructs an Adapter scoped to apiKey. Callers needing BYOK
// semantics construct a fresh Adapter per turn rather than sharing one
// from a cache. logger receives a warning for every block-delta recovery
// decision (a tool call whose input JSON is malformed, emitted with an
// empty input map); a nil logger is replaced with a no-op one.
func New(apiKey string, logger telemetry.Logger) *Adapter {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Adapter{client: sdk.NewClient(option.WithAPIKey(apiKey)), logger: logger}
}

// Stream starts a streaming Messages completion and returns a
// model.Streamer over the unified event representation.
func (a *Adapter) Stream(ctx context.Context, messages []model.Message, cfg model.TurnConfig) (model.Streamer, error) {
	params := sdk.MessageNewParams{
		Model:       sdk.Model(cfg.Model),
		MaxTokens:   int64(cfg.MaxTokens),
		Temperature: sdk.Float(cfg.Temperature),
		Messages:    toAnthropicMessages(messages),
	}
	if cfg.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: cfg.SystemPrompt}}
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toAnthropicTools(cfg.Tools)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	return newStreamer(ctx, stream, a.logger), nil
}

func toAnthropicMessages(messages []model.Message) []sdk.MessageParam {
	out := make([]sdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			out = append(out, sdk.NewAssistantMessage(block))
		default:
			out = append(out, sdk.NewUserMessage(block))
		}
	}
	return out
}

func toAnthropicTools(tools []model.ToolDescriptor) []sdk.ToolUnionParam {
	out := make([]sdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{
			Properties: schema["properties"],
		}, t.Name))
	}
	return out
}
