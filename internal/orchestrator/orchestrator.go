// Package orchestrator drives one agent turn: it resolves a provider,
// streams the provider's unified event representation, expands it into the
// public turn event stream, and dispatches tool calls (including the
// out-of-band approval rendezvous) through the tool registry.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/openraccoon/agent-runtime/internal/config"
	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/providers/anthropic"
	"github.com/openraccoon/agent-runtime/internal/providers/openai"
	"github.com/openraccoon/agent-runtime/internal/status"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
	"github.com/openraccoon/agent-runtime/internal/toolregistry"
)

// ErrUnknownModel is returned synchronously by Execute when a model's
// prefix does not match any known vendor. It never reaches the event
// stream.
var ErrUnknownModel = errors.New("unknown model")

// ErrNoPendingApproval is returned by SubmitApprovalDecision when
// request_id has no matching pending entry, whether because it never
// existed or because the turn already consumed and cleaned it up.
var ErrNoPendingApproval = errors.New("no pending approval for request_id")

// provider is the contract an orchestrator depends on: anything that can
// turn a message history and turn config into a unified event stream.
type provider interface {
	Stream(ctx context.Context, messages []model.Message, cfg model.TurnConfig) (model.Streamer, error)
}

// ToolConfig describes one tool as declared by the caller for this turn:
// its wire schema plus whether invoking it requires out-of-band approval.
type ToolConfig struct {
	Name             string
	Description      string
	InputSchema      map[string]any
	RequiresApproval bool
}

// TurnConfig is the per-turn configuration supplied by the caller.
type TurnConfig struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	SystemPrompt    string
	Tools           []ToolConfig
	DeadlineSeconds int
}

// TurnInput is everything Execute needs to run one turn.
type TurnInput struct {
	Messages []model.Message
	Config   TurnConfig
	// APIKey, when non-empty, is a bring-your-own-key override: a fresh
	// provider instance is built for this turn alone and the vendor cache
	// is bypassed entirely.
	APIKey string
}

type approvalDecision struct {
	approved bool
	scope    model.ApprovalScope
}

type pendingApproval struct {
	ch chan approvalDecision
}

// Orchestrator is the heart of the system: provider resolution, status
// emission, tool dispatch, and the approval rendezvous.
type Orchestrator struct {
	settings  config.Settings
	registry  *toolregistry.Registry
	telemetry telemetry.Bundle

	mu        sync.Mutex
	providers map[string]provider

	approvalsMu sync.Mutex
	approvals   map[string]*pendingApproval
}

// New constructs an Orchestrator. registry holds the locally registered
// tools; telemetry receives structured logs for unexpected conditions.
func New(settings config.Settings, registry *toolregistry.Registry, tel telemetry.Bundle) *Orchestrator {
	return &Orchestrator{
		settings:  settings,
		registry:  registry,
		telemetry: tel,
		providers: make(map[string]provider),
		approvals: make(map[string]*pendingApproval),
	}
}

// SubmitApprovalDecision delivers an out-of-band approval decision to the
// turn awaiting it. It is the only way to unblock a suspended
// approval_requested/awaiting_approval pair.
func (o *Orchestrator) SubmitApprovalDecision(requestID string, approved bool, scope model.ApprovalScope) error {
	o.approvalsMu.Lock()
	pending, ok := o.approvals[requestID]
	o.approvalsMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingApproval, requestID)
	}
	if scope == "" {
		scope = model.ScopeAllowOnce
	}
	pending.ch <- approvalDecision{approved: approved, scope: scope}
	return nil
}

// Execute resolves a provider and starts the turn on a background
// goroutine, returning a channel of public turn events. Configuration
// errors (an unrecognized model) are returned synchronously and never
// reach the returned channel; everything that can go wrong once the turn
// has started arrives as a terminal error event instead.
func (o *Orchestrator) Execute(ctx context.Context, input TurnInput) (<-chan model.TurnEvent, error) {
	modelName := input.Config.Model
	if modelName == "" {
		modelName = o.settings.DefaultModel
	}

	prov, err := o.resolveProvider(modelName, input.APIKey)
	if err != nil {
		return nil, err
	}

	out := make(chan model.TurnEvent, 16)
	go o.run(ctx, prov, modelName, input, out)
	return out, nil
}

func vendorForModel(name string) (string, error) {
	switch {
	case strings.HasPrefix(name, "claude"):
		return "anthropic", nil
	case strings.HasPrefix(name, "gpt"):
		return "openai", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
}

func (o *Orchestrator) newProviderInstance(vendor, apiKey string) provider {
	switch vendor {
	case "anthropic":
		return anthropic.New(apiKey, o.telemetry.Logger)
	case "openai":
		return openai.New(apiKey, o.telemetry.Logger)
	default:
		panic("orchestrator: unreachable vendor " + vendor)
	}
}

func (o *Orchestrator) resolveProvider(modelName, apiKey string) (provider, error) {
	vendor, err := vendorForModel(modelName)
	if err != nil {
		return nil, err
	}

	if apiKey != "" {
		return o.newProviderInstance(vendor, apiKey), nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if p, ok := o.providers[vendor]; ok {
		return p, nil
	}

	var key string
	switch vendor {
	case "anthropic":
		key = o.settings.AnthropicAPIKey
	case "openai":
		key = o.settings.OpenAIAPIKey
	}
	p := o.newProviderInstance(vendor, key)
	o.providers[vendor] = p
	return p, nil
}

func (o *Orchestrator) run(ctx context.Context, prov provider, modelName string, input TurnInput, out chan<- model.TurnEvent) {
	defer close(out)

	ctx, span := o.telemetry.Tracer.Start(ctx, "orchestrator.turn")
	turnStart := time.Now()
	outcome := "error"
	o.telemetry.Logger.Info(ctx, "agent turn started", "model", modelName)
	defer func() {
		span.End()
		duration := time.Since(turnStart)
		o.telemetry.Metrics.RecordTimer("agent_turn_duration", duration, "model", modelName, "outcome", outcome)
		o.telemetry.Metrics.IncCounter("agent_turn_total", 1, "model", modelName, "outcome", outcome)
		o.telemetry.Logger.Info(ctx, "agent turn finished", "model", modelName, "outcome", outcome, "duration_ms", duration.Milliseconds())
	}()

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("%v", r))
			span.SetStatus(codes.Error, "panic")
			o.telemetry.Logger.Error(ctx, "agent turn panicked", "model", modelName, "panic", r)
			o.emit(ctx, out, model.TurnEvent{
				Kind:      model.TurnError,
				Code:      "internal_error",
				ErrMsg:    fmt.Sprintf("%v", r),
				Retryable: true,
			})
		}
	}()

	picker := status.NewPicker()
	o.emit(ctx, out, model.TurnEvent{
		Kind:     model.TurnStatus,
		Message:  picker.Pick(status.Thinking),
		Category: string(status.Thinking),
	})

	deadline := input.Config.DeadlineSeconds
	if deadline <= 0 {
		deadline = o.settings.AgentTurnDeadline
	}
	turnCtx, cancel := context.WithTimeout(ctx, time.Duration(deadline)*time.Second)
	defer cancel()

	cfg := model.TurnConfig{
		Model:        modelName,
		Temperature:  input.Config.Temperature,
		MaxTokens:    input.Config.MaxTokens,
		SystemPrompt: input.Config.SystemPrompt,
		Tools:        toDescriptors(input.Config.Tools),
	}

	stream, err := prov.Stream(turnCtx, input.Messages, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider stream start failed")
		o.telemetry.Logger.Error(ctx, "provider stream start failed", "model", modelName, "err", err)
		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnError, Code: "internal_error", ErrMsg: err.Error(), Retryable: true})
		return
	}
	defer stream.Close()

	toolCfgs := make(map[string]ToolConfig, len(input.Config.Tools))
	for _, t := range input.Config.Tools {
		toolCfgs[t.Name] = t
	}

	parser := newCodeBlockParser()

	for {
		ev, recvErr := stream.Recv()
		if recvErr != nil {
			if errors.Is(recvErr, io.EOF) {
				outcome = "incomplete"
				return
			}
			if turnCtx.Err() != nil {
				outcome = "deadline_exceeded"
				span.SetStatus(codes.Error, "deadline exceeded")
				o.telemetry.Logger.Warn(ctx, "agent turn exceeded deadline", "model", modelName, "deadline_seconds", deadline)
				o.emit(ctx, out, model.TurnEvent{
					Kind:      model.TurnError,
					Code:      "deadline_exceeded",
					ErrMsg:    fmt.Sprintf("agent turn exceeded %ds deadline", deadline),
					Retryable: true,
				})
				return
			}
			span.RecordError(recvErr)
			span.SetStatus(codes.Error, "provider stream error")
			o.telemetry.Logger.Error(ctx, "provider stream error", "model", modelName, "err", recvErr)
			o.emit(ctx, out, model.TurnEvent{Kind: model.TurnError, Code: "internal_error", ErrMsg: recvErr.Error(), Retryable: true})
			return
		}

		switch ev.Kind {
		case model.KindToken:
			if cb := parser.feed(ev.Text); cb != nil {
				o.emit(ctx, out, *cb)
			}
			o.emit(ctx, out, model.TurnEvent{Kind: model.TurnToken, Text: ev.Text})

		case model.KindToolUse:
			if waitErr := o.handleToolUse(turnCtx, ev, toolCfgs, picker, out); waitErr != nil {
				outcome = "deadline_exceeded"
				span.SetStatus(codes.Error, "deadline exceeded")
				o.telemetry.Logger.Warn(ctx, "agent turn exceeded deadline awaiting tool approval", "model", modelName, "deadline_seconds", deadline)
				o.emit(ctx, out, model.TurnEvent{
					Kind:      model.TurnError,
					Code:      "deadline_exceeded",
					ErrMsg:    fmt.Sprintf("agent turn exceeded %ds deadline", deadline),
					Retryable: true,
				})
				return
			}

		case model.KindComplete:
			outcome = "success"
			span.SetStatus(codes.Ok, "")
			o.emit(ctx, out, model.TurnEvent{
				Kind:             model.TurnComplete,
				Model:            modelName,
				StopReason:       ev.StopReason,
				TotalTokens:      ev.Usage.TotalTokens,
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
			})
			return

		default:
			// tool_use_start / tool_input_delta are internal assembly
			// detail of the provider adapters; the public stream only
			// sees the fully assembled tool_use.
		}
	}
}

func (o *Orchestrator) handleToolUse(ctx context.Context, ev model.Event, toolCfgs map[string]ToolConfig, picker *status.Picker, out chan<- model.TurnEvent) error {
	toolName := ev.ToolName
	requestID := ev.ToolID
	lower := strings.ToLower(toolName)

	switch {
	case strings.Contains(lower, "search"):
		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnStatus, Message: picker.Pick(status.Searching), Category: string(status.Searching)})
	case strings.Contains(lower, "code") || strings.Contains(lower, "exec"):
		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnStatus, Message: picker.Pick(status.Coding), Category: string(status.Coding)})
	}

	if cfg, ok := toolCfgs[toolName]; ok && cfg.RequiresApproval {
		o.emit(ctx, out, model.TurnEvent{
			Kind:             model.TurnApprovalRequested,
			RequestID:        requestID,
			ToolName:         toolName,
			ArgumentsPreview: ev.ToolInput,
			AvailableScopes:  model.AvailableScopes,
		})

		pending := &pendingApproval{ch: make(chan approvalDecision, 1)}
		o.approvalsMu.Lock()
		o.approvals[requestID] = pending
		o.approvalsMu.Unlock()

		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnAwaitingApproval, RequestID: requestID})

		var decision approvalDecision
		var waitErr error
		select {
		case decision = <-pending.ch:
		case <-ctx.Done():
			waitErr = ctx.Err()
		}

		o.approvalsMu.Lock()
		delete(o.approvals, requestID)
		o.approvalsMu.Unlock()

		if waitErr != nil {
			return waitErr
		}
		if !decision.approved {
			o.emit(ctx, out, model.TurnEvent{
				Kind:      model.TurnToolResult,
				RequestID: requestID,
				ToolName:  toolName,
				Result:    "Tool execution denied by user",
				IsError:   true,
			})
			return nil
		}
	}

	o.emit(ctx, out, model.TurnEvent{Kind: model.TurnToolCall, RequestID: requestID, ToolName: toolName, Arguments: ev.ToolInput})

	toolCtx, cancel := context.WithTimeout(ctx, o.settings.ToolCallDeadlineDuration())
	defer cancel()

	toolCtx, span := o.telemetry.Tracer.Start(toolCtx, "orchestrator.tool_call")
	toolStart := time.Now()
	o.telemetry.Logger.Info(ctx, "tool execution started", "tool", toolName, "request_id", requestID)

	result, err := o.executeWithDeadline(toolCtx, toolName, ev.ToolInput)
	outcome := "success"
	switch {
	case err != nil && errors.Is(toolCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		span.SetStatus(codes.Error, "timeout")
		o.telemetry.Logger.Warn(ctx, "tool execution timed out", "tool", toolName, "request_id", requestID)
		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnToolResult, RequestID: requestID, ToolName: toolName, Result: "Tool execution timed out", IsError: true})
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.telemetry.Logger.Error(ctx, "tool execution failed", "tool", toolName, "request_id", requestID, "err", err)
		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnToolResult, RequestID: requestID, ToolName: toolName, Result: err.Error(), IsError: true})
	default:
		span.SetStatus(codes.Ok, "")
		o.emit(ctx, out, model.TurnEvent{Kind: model.TurnToolResult, RequestID: requestID, ToolName: toolName, Result: stringify(result), IsError: false})
	}
	span.End()
	duration := time.Since(toolStart)
	o.telemetry.Metrics.RecordTimer("tool_execution_duration", duration, "tool", toolName, "outcome", outcome)
	o.telemetry.Metrics.IncCounter("tool_execution_total", 1, "tool", toolName, "outcome", outcome)
	return nil
}

// executeWithDeadline runs the tool handler on its own goroutine so a
// handler that ignores ctx still yields control back to the orchestrator
// once the deadline fires; the handler goroutine is left to finish (or
// leak) on its own, matching a cooperative-cancellation runtime that
// cannot forcibly preempt arbitrary Go code.
func (o *Orchestrator) executeWithDeadline(ctx context.Context, name string, args map[string]any) (any, error) {
	type result struct {
		val any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := o.registry.Execute(ctx, name, args)
		ch <- result{val, err}
	}()
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toDescriptors(tools []ToolConfig) []model.ToolDescriptor {
	out := make([]model.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		out = append(out, model.ToolDescriptor{
			Name:             t.Name,
			Description:      t.Description,
			InputSchema:      t.InputSchema,
			RequiresApproval: t.RequiresApproval,
		})
	}
	return out
}

// emit sends ev on out, dropping it silently if the caller's context was
// already canceled (the caller has stopped listening). out is always
// closed by run's defer, so this never blocks forever.
func (o *Orchestrator) emit(ctx context.Context, out chan<- model.TurnEvent, ev model.TurnEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
