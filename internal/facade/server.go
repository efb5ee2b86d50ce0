package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/openraccoon/agent-runtime/internal/config"
	"github.com/openraccoon/agent-runtime/internal/orchestrator"
	"github.com/openraccoon/agent-runtime/internal/sandbox"
	"github.com/openraccoon/agent-runtime/internal/toolregistry"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server is the pure translation layer described in the component
// contract: it holds no turn or sandbox state of its own, delegating
// everything to the orchestrator, the tool registry, and the sandbox
// manager, and only ever converts between their Go types and the wire's
// structpb.Struct envelope. Each of those components carries and uses its
// own telemetry.Bundle; Server has no business logic of its own to
// instrument.
type Server struct {
	UnimplementedServer

	settings  config.Settings
	orch      *orchestrator.Orchestrator
	registry  *toolregistry.Registry
	sandboxes *sandbox.Manager
}

// NewServer constructs a Server backed by the given components.
func NewServer(settings config.Settings, orch *orchestrator.Orchestrator, registry *toolregistry.Registry, sandboxes *sandbox.Manager) *Server {
	return &Server{settings: settings, orch: orch, registry: registry, sandboxes: sandboxes}
}

// ExecuteAgent drives one agent turn, translating each orchestrator.TurnEvent
// into exactly one wire message, in order, until the turn's terminal event.
func (s *Server) ExecuteAgent(req *structpb.Struct, stream ServerStreamingServer) error {
	ctx := stream.Context()
	input := decodeTurnInput(req)

	events, err := s.orch.Execute(ctx, input)
	if err != nil {
		// Configuration errors (e.g. an unknown model) are raised
		// synchronously per the orchestrator's contract and surface here
		// as the RPC's own error, never as a stream message.
		return fmt.Errorf("execute agent turn: %w", err)
	}

	for ev := range events {
		if err := stream.Send(encodeTurnEvent(ev)); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteCode runs code in a sandbox, translating each sandbox.Event into a
// wire message. If no terminal result/error frame arrives before the
// configured code execution deadline, a synthetic execution_timeout error
// is emitted and the stream ends.
func (s *Server) ExecuteCode(req *structpb.Struct, stream ServerStreamingServer) error {
	ctx, cancel := context.WithTimeout(stream.Context(), s.deadline())
	defer cancel()

	sandboxID := strField(req, "sandbox_id")
	code := strField(req, "code")
	language := strField(req, "language")

	events, err := s.sandboxes.Execute(ctx, sandboxID, code, language)
	if err != nil {
		return fmt.Errorf("execute code: %w", err)
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := stream.Send(encodeSandboxEvent(ev)); err != nil {
				return err
			}
		case <-ctx.Done():
			return stream.Send(executionTimeoutEvent())
		}
	}
}

func (s *Server) deadline() time.Duration {
	if d := s.settings.CodeExecutionDeadlineDuration(); d > 0 {
		return d
	}
	return 45 * time.Second
}

// GetAgentConfig reports the tools currently registered, thin pass-through
// to the tool registry.
func (s *Server) GetAgentConfig(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tools := s.registry.GetAvailableTools()
	list := make([]any, 0, len(tools))
	for _, t := range tools {
		list = append(list, map[string]any{"name": t.Name, "schema": anyMap(t.Schema)})
	}
	return newStruct(map[string]any{
		"default_model": s.settings.DefaultModel,
		"tools":         list,
	}), nil
}

// ValidateTools validates req["arguments"] against req["tool_name"]'s
// registered schema, a thin pass-through to the tool registry.
func (s *Server) ValidateTools(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := strField(req, "tool_name")
	args := structField(req, "arguments")
	errs := s.registry.Validate(name, args)

	errList := make([]any, 0, len(errs))
	for _, e := range errs {
		errList = append(errList, e)
	}
	return newStruct(map[string]any{
		"valid":  len(errs) == 0,
		"errors": errList,
	}), nil
}

// CreateSandbox provisions a sandbox, a thin pass-through to the sandbox
// manager.
func (s *Server) CreateSandbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limits := sandbox.Limits{
		CPU:            intField(req, "cpu"),
		MemoryMB:       intField(req, "memory_mb"),
		TimeoutSeconds: intField(req, "timeout_seconds"),
		Network:        boolField(req, "network"),
	}
	info, err := s.sandboxes.Create(ctx, strField(req, "conversation_id"), strField(req, "template"), limits, s.settings.SandboxTimeout)
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{
		"sandbox_id":      info.SandboxID,
		"conversation_id": info.ConversationID,
		"template":        info.Template,
		"cpu":             info.Limits.CPU,
		"memory_mb":       info.Limits.MemoryMB,
		"timeout_seconds": info.Limits.TimeoutSeconds,
		"network":         info.Limits.Network,
	}), nil
}

// UploadFile writes a file into a sandbox, a thin pass-through to the
// sandbox manager.
func (s *Server) UploadFile(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	data := []byte(strField(req, "data"))
	res, err := s.sandboxes.Upload(ctx, strField(req, "sandbox_id"), strField(req, "path"), data)
	if err != nil {
		return nil, err
	}
	return newStruct(map[string]any{
		"path":       res.Path,
		"size_bytes": res.SizeBytes,
	}), nil
}

// DestroySandbox releases a sandbox, a thin, idempotent pass-through to the
// sandbox manager.
func (s *Server) DestroySandbox(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.sandboxes.Destroy(ctx, strField(req, "sandbox_id")); err != nil {
		return nil, err
	}
	return newStruct(map[string]any{"destroyed": true}), nil
}
