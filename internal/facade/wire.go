// Package facade is the gRPC-facing translation layer: it converts between
// the wire schema (carried as structpb.Struct, since no protoc-generated
// types exist for this service) and the core orchestrator/sandbox/
// toolregistry data model. It holds no business logic of its own.
package facade

import (
	"fmt"

	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/orchestrator"
	"github.com/openraccoon/agent-runtime/internal/sandbox"
	"google.golang.org/protobuf/types/known/structpb"
)

func strField(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	v, ok := s.Fields[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

func boolField(s *structpb.Struct, key string) bool {
	if s == nil {
		return false
	}
	v, ok := s.Fields[key]
	if !ok {
		return false
	}
	return v.GetBoolValue()
}

func intField(s *structpb.Struct, key string) int {
	if s == nil {
		return 0
	}
	v, ok := s.Fields[key]
	if !ok {
		return 0
	}
	return int(v.GetNumberValue())
}

func float64Field(s *structpb.Struct, key string) float64 {
	if s == nil {
		return 0
	}
	v, ok := s.Fields[key]
	if !ok {
		return 0
	}
	return v.GetNumberValue()
}

func structField(s *structpb.Struct, key string) map[string]any {
	if s == nil {
		return nil
	}
	v, ok := s.Fields[key]
	if !ok {
		return nil
	}
	if v.GetStructValue() == nil {
		return nil
	}
	return v.GetStructValue().AsMap()
}

func newStruct(m map[string]any) *structpb.Struct {
	s, err := structpb.NewStruct(m)
	if err != nil {
		// A value that cannot round-trip through structpb (e.g. a channel
		// or func smuggled into a tool result) becomes its string form
		// rather than failing the whole response.
		s, _ = structpb.NewStruct(map[string]any{"value": fmt.Sprintf("%v", m)})
	}
	return s
}

func anyStructValue(m map[string]any) *structpb.Value {
	if m == nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStructValue(newStruct(m))
}

// decodeMessages reads the turn's conversation history from req["messages"],
// a list of {role, content} objects.
func decodeMessages(req *structpb.Struct) []model.Message {
	v, ok := req.Fields["messages"]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]model.Message, 0, len(list.Values))
	for _, item := range list.Values {
		st := item.GetStructValue()
		if st == nil {
			continue
		}
		out = append(out, model.Message{
			Role:    strField(st, "role"),
			Content: strField(st, "content"),
		})
	}
	return out
}

// decodeTools reads the turn's tool descriptors from req["tools"].
func decodeTools(req *structpb.Struct) []orchestrator.ToolConfig {
	v, ok := req.Fields["tools"]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	out := make([]orchestrator.ToolConfig, 0, len(list.Values))
	for _, item := range list.Values {
		st := item.GetStructValue()
		if st == nil {
			continue
		}
		out = append(out, orchestrator.ToolConfig{
			Name:             strField(st, "name"),
			Description:      strField(st, "description"),
			InputSchema:      structField(st, "input_schema"),
			RequiresApproval: boolField(st, "requires_approval"),
		})
	}
	return out
}

// decodeTurnInput assembles an orchestrator.TurnInput from an ExecuteAgent
// request.
func decodeTurnInput(req *structpb.Struct) orchestrator.TurnInput {
	return orchestrator.TurnInput{
		Messages: decodeMessages(req),
		Config: orchestrator.TurnConfig{
			Model:           strField(req, "model"),
			Temperature:     float64Field(req, "temperature"),
			MaxTokens:       intField(req, "max_tokens"),
			SystemPrompt:    strField(req, "system_prompt"),
			Tools:           decodeTools(req),
			DeadlineSeconds: intField(req, "deadline_seconds"),
		},
		APIKey: strField(req, "api_key"),
	}
}

// encodeTurnEvent renders one orchestrator.TurnEvent as a wire message.
// Every variant carries a "kind" discriminator plus the fields relevant to
// it; fields irrelevant to Kind are simply absent rather than zero-valued,
// matching the tagged-union wire contract.
func encodeTurnEvent(ev model.TurnEvent) *structpb.Struct {
	fields := map[string]any{"kind": string(ev.Kind)}

	switch ev.Kind {
	case model.TurnStatus:
		fields["message"] = ev.Message
		fields["category"] = ev.Category
	case model.TurnToken:
		fields["text"] = ev.Text
	case model.TurnCodeBlock:
		fields["language"] = ev.Language
		fields["code"] = ev.Code
		fields["filename"] = ev.Filename
	case model.TurnToolCall:
		fields["request_id"] = ev.RequestID
		fields["tool_name"] = ev.ToolName
		fields["arguments"] = anyMap(ev.Arguments)
	case model.TurnApprovalRequested:
		fields["request_id"] = ev.RequestID
		fields["tool_name"] = ev.ToolName
		fields["arguments_preview"] = anyMap(ev.ArgumentsPreview)
		fields["available_scopes"] = scopeStrings(ev.AvailableScopes)
	case model.TurnAwaitingApproval:
		fields["request_id"] = ev.RequestID
	case model.TurnToolResult:
		fields["request_id"] = ev.RequestID
		fields["tool_name"] = ev.ToolName
		fields["result"] = ev.Result
		fields["is_error"] = ev.IsError
	case model.TurnComplete:
		fields["model"] = ev.Model
		fields["stop_reason"] = ev.StopReason
		fields["prompt_tokens"] = ev.PromptTokens
		fields["completion_tokens"] = ev.CompletionTokens
		fields["total_tokens"] = ev.TotalTokens
	case model.TurnError:
		fields["code"] = ev.Code
		fields["message"] = ev.ErrMsg
		fields["retryable"] = ev.Retryable
	}
	return newStruct(fields)
}

func anyMap(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func scopeStrings(scopes []model.ApprovalScope) []any {
	out := make([]any, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, string(s))
	}
	return out
}

// encodeSandboxEvent renders one sandbox.Event as a wire message, in the
// same discriminated-union shape as encodeTurnEvent.
func encodeSandboxEvent(ev sandbox.Event) *structpb.Struct {
	fields := map[string]any{"kind": string(ev.Kind)}
	switch ev.Kind {
	case sandbox.EventStdout, sandbox.EventStderr:
		fields["text"] = ev.Text
	case sandbox.EventResult:
		fields["output"] = ev.Output
		fields["files"] = filesAny(ev.Files)
		fields["exit_code"] = ev.ExitCode
	case sandbox.EventError:
		fields["code"] = ev.Code
		fields["message"] = ev.Message
	}
	return newStruct(fields)
}

func filesAny(files []string) []any {
	out := make([]any, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	return out
}

// executionTimeoutEvent is the synthetic terminal event ExecuteCode emits
// when the per-call code execution deadline fires before the sandbox
// backend returns a result or error frame.
func executionTimeoutEvent() *structpb.Struct {
	return newStruct(map[string]any{
		"kind":      string(sandbox.EventError),
		"code":      "execution_timeout",
		"message":   "code execution deadline exceeded",
		"retryable": true,
	})
}
