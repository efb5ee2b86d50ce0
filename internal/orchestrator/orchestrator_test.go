package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/openraccoon/agent-runtime/internal/config"
	"github.com/openraccoon/agent-runtime/internal/model"
	"github.com/openraccoon/agent-runtime/internal/telemetry"
	"github.com/openraccoon/agent-runtime/internal/toolregistry"
)

type fakeStreamer struct {
	events []model.Event
	delay  time.Duration
	ctx    context.Context
	i      int
}

func (f *fakeStreamer) Recv() (model.Event, error) {
	if f.i >= len(f.events) {
		return model.Event{}, io.EOF
	}
	if f.delay > 0 {
		ctx := f.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return model.Event{}, ctx.Err()
		}
	}
	ev := f.events[f.i]
	f.i++
	return ev, nil
}

func (f *fakeStreamer) Close() error { return nil }

type fakeProvider struct {
	streamer *fakeStreamer
}

func (f *fakeProvider) Stream(ctx context.Context, messages []model.Message, cfg model.TurnConfig) (model.Streamer, error) {
	f.streamer.ctx = ctx
	return f.streamer, nil
}

func newTestOrchestrator(settings config.Settings, fp *fakeProvider) *Orchestrator {
	o := New(settings, toolregistry.New(telemetry.Noop()), telemetry.Noop())
	o.providers["anthropic"] = fp
	return o
}

func defaultSettings() config.Settings {
	return config.Settings{
		DefaultModel:      "claude-sonnet-4-6",
		AgentTurnDeadline: 60,
		ToolCallDeadline:  20,
	}
}

func drain(t *testing.T, ch <-chan model.TurnEvent) []model.TurnEvent {
	t.Helper()
	var got []model.TurnEvent
	for ev := range ch {
		got = append(got, ev)
	}
	return got
}

func TestPlainTextTurn(t *testing.T) {
	fp := &fakeProvider{streamer: &fakeStreamer{events: []model.Event{
		{Kind: model.KindToken, Text: "he"},
		{Kind: model.KindToken, Text: "llo"},
		{Kind: model.KindToken, Text: "!"},
		{Kind: model.KindComplete, Usage: model.Usage{PromptTokens: 1, CompletionTokens: 3, TotalTokens: 4}, StopReason: "end_turn"},
	}}}
	o := newTestOrchestrator(defaultSettings(), fp)

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "hi"}},
		Config:   TurnConfig{Model: "claude-sonnet-4-6"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, out)

	wantKinds := []model.TurnEventKind{model.TurnStatus, model.TurnToken, model.TurnToken, model.TurnToken, model.TurnComplete}
	if len(got) != len(wantKinds) {
		t.Fatalf("got %d events, want %d: %+v", len(got), len(wantKinds), got)
	}
	for i, k := range wantKinds {
		if got[i].Kind != k {
			t.Fatalf("event %d: got kind %q, want %q", i, got[i].Kind, k)
		}
	}
	last := got[len(got)-1]
	if last.TotalTokens != 4 || last.StopReason != "end_turn" {
		t.Fatalf("unexpected complete event %+v", last)
	}
}

func TestFencedCodeBlockDetection(t *testing.T) {
	fp := &fakeProvider{streamer: &fakeStreamer{events: []model.Event{
		{Kind: model.KindToken, Text: "```python\n"},
		{Kind: model.KindToken, Text: "print(1)\n"},
		{Kind: model.KindToken, Text: "```\n"},
		{Kind: model.KindToken, Text: "done"},
		{Kind: model.KindComplete, StopReason: "end_turn"},
	}}}
	o := newTestOrchestrator(defaultSettings(), fp)

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "write code"}},
		Config:   TurnConfig{Model: "claude-sonnet-4-6"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, out)

	var tokenCount int
	var codeBlocks []model.TurnEvent
	for _, ev := range got {
		switch ev.Kind {
		case model.TurnToken:
			tokenCount++
		case model.TurnCodeBlock:
			codeBlocks = append(codeBlocks, ev)
		}
	}
	if tokenCount != 4 {
		t.Fatalf("expected 4 token events, got %d", tokenCount)
	}
	if len(codeBlocks) != 1 {
		t.Fatalf("expected exactly one code_block event, got %d: %+v", len(codeBlocks), codeBlocks)
	}
	if codeBlocks[0].Language != "python" || codeBlocks[0].Code != "print(1)\n" {
		t.Fatalf("unexpected code_block %+v", codeBlocks[0])
	}
}

func TestAutoExecutedTool(t *testing.T) {
	fp := &fakeProvider{streamer: &fakeStreamer{events: []model.Event{
		{Kind: model.KindToolUse, ToolID: "t1", ToolName: "search", ToolInput: map[string]any{"q": "x"}},
		{Kind: model.KindComplete, StopReason: "end_turn"},
	}}}
	o := newTestOrchestrator(defaultSettings(), fp)
	o.registry.Register("search", map[string]any{"type": "object", "properties": map[string]any{}}, func(ctx context.Context, args map[string]any) (any, error) {
		return "ok", nil
	})

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "search"}},
		Config: TurnConfig{
			Model: "claude-sonnet-4-6",
			Tools: []ToolConfig{{Name: "search", RequiresApproval: false}},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, out)

	var sawSearching, sawToolResult, sawComplete bool
	var sawToolCall bool
	for i, ev := range got {
		switch ev.Kind {
		case model.TurnStatus:
			if ev.Category == "searching" {
				sawSearching = true
			}
		case model.TurnToolCall:
			sawToolCall = true
			if ev.RequestID != "t1" {
				t.Fatalf("unexpected tool_call request id %q", ev.RequestID)
			}
		case model.TurnToolResult:
			sawToolResult = true
			if ev.Result != "ok" || ev.IsError {
				t.Fatalf("unexpected tool_result %+v", ev)
			}
			if !sawToolCall {
				t.Fatalf("tool_result at %d arrived before tool_call", i)
			}
		case model.TurnComplete:
			sawComplete = true
		}
	}
	if !sawSearching || !sawToolCall || !sawToolResult || !sawComplete {
		t.Fatalf("missing expected events: %+v", got)
	}
}

func TestApprovalDenied(t *testing.T) {
	fp := &fakeProvider{streamer: &fakeStreamer{events: []model.Event{
		{Kind: model.KindToolUse, ToolID: "t2", ToolName: "delete_repo", ToolInput: map[string]any{}},
		{Kind: model.KindComplete, StopReason: "end_turn"},
	}}}
	o := newTestOrchestrator(defaultSettings(), fp)
	o.registry.Register("delete_repo", map[string]any{"type": "object", "properties": map[string]any{}}, func(ctx context.Context, args map[string]any) (any, error) {
		t.Fatalf("handler should not run when approval is denied")
		return nil, nil
	})

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "delete it"}},
		Config: TurnConfig{
			Model: "claude-sonnet-4-6",
			Tools: []ToolConfig{{Name: "delete_repo", RequiresApproval: true}},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	awaiting := make(chan struct{})
	var once bool
	go func() {
		<-awaiting
		if err := o.SubmitApprovalDecision("t2", false, model.ScopeAllowOnce); err != nil {
			t.Errorf("SubmitApprovalDecision: %v", err)
		}
	}()

	var got []model.TurnEvent
	for ev := range out {
		if ev.Kind == model.TurnAwaitingApproval && !once {
			once = true
			close(awaiting)
		}
		got = append(got, ev)
	}

	var sawApprovalRequested, sawToolCall, sawDeniedResult, sawComplete bool
	for _, ev := range got {
		switch ev.Kind {
		case model.TurnApprovalRequested:
			sawApprovalRequested = true
		case model.TurnToolCall:
			sawToolCall = true
		case model.TurnToolResult:
			if ev.IsError && ev.Result == "Tool execution denied by user" {
				sawDeniedResult = true
			}
		case model.TurnComplete:
			sawComplete = true
		}
	}
	if !sawApprovalRequested || !once || !sawDeniedResult || !sawComplete {
		t.Fatalf("missing expected events: %+v", got)
	}
	if sawToolCall {
		t.Fatalf("tool_call must not be emitted on denial: %+v", got)
	}
}

func TestToolDeadlineExceeded(t *testing.T) {
	fp := &fakeProvider{streamer: &fakeStreamer{events: []model.Event{
		{Kind: model.KindToolUse, ToolID: "t3", ToolName: "slow", ToolInput: map[string]any{}},
		{Kind: model.KindComplete, StopReason: "end_turn"},
	}}}
	settings := defaultSettings()
	settings.ToolCallDeadline = 0 // a 0s tool-call deadline expires the tool context immediately
	o := newTestOrchestrator(settings, fp)
	o.registry.Register("slow", map[string]any{"type": "object", "properties": map[string]any{}}, func(ctx context.Context, args map[string]any) (any, error) {
		select {
		case <-time.After(2 * time.Second):
			return "too slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "go"}},
		Config: TurnConfig{
			Model: "claude-sonnet-4-6",
			Tools: []ToolConfig{{Name: "slow", RequiresApproval: false}},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, out)

	var sawTimeout bool
	for _, ev := range got {
		if ev.Kind == model.TurnToolResult && ev.IsError && ev.Result == "Tool execution timed out" {
			sawTimeout = true
		}
	}
	if !sawTimeout {
		t.Fatalf("expected a timed-out tool_result, got %+v", got)
	}
}

func TestTurnDeadlineExceeded(t *testing.T) {
	fp := &fakeProvider{streamer: &fakeStreamer{
		events: []model.Event{
			{Kind: model.KindToken, Text: "a"},
			{Kind: model.KindToken, Text: "b"},
			{Kind: model.KindToken, Text: "c"},
		},
		delay: 400 * time.Millisecond,
	}}
	settings := defaultSettings()
	o := newTestOrchestrator(settings, fp)

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "hi"}},
		Config:   TurnConfig{Model: "claude-sonnet-4-6", DeadlineSeconds: 1},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := drain(t, out)
	last := got[len(got)-1]
	if last.Kind != model.TurnError || last.Code != "deadline_exceeded" || !last.Retryable {
		t.Fatalf("expected terminal deadline_exceeded error, got %+v", last)
	}
	for _, ev := range got[:len(got)-1] {
		if ev.Kind == model.TurnError {
			t.Fatalf("error event appeared before the terminal one: %+v", got)
		}
	}
}

func TestChoiceDeltaMalformedArgsNeverReachesOrchestrator(t *testing.T) {
	// The choice-delta provider adapter itself drops malformed tool calls
	// (see internal/providers/openai); the orchestrator only ever sees a
	// KindToolUse for calls that survived that filter. This test pins the
	// orchestrator-level contract: a turn with no KindToolUse events
	// produces no tool_call on the public stream.
	fp := &fakeProvider{streamer: &fakeStreamer{events: []model.Event{
		{Kind: model.KindComplete, StopReason: "end_turn"},
	}}}
	o := newTestOrchestrator(defaultSettings(), fp)

	out, err := o.Execute(context.Background(), TurnInput{
		Messages: []model.Message{{Role: "user", Content: "hi"}},
		Config:   TurnConfig{Model: "claude-sonnet-4-6"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	got := drain(t, out)
	for _, ev := range got {
		if ev.Kind == model.TurnToolCall {
			t.Fatalf("unexpected tool_call: %+v", got)
		}
	}
}

func TestUnknownModelReturnsSynchronously(t *testing.T) {
	o := New(defaultSettings(), toolregistry.New(telemetry.Noop()), telemetry.Noop())
	_, err := o.Execute(context.Background(), TurnInput{Config: TurnConfig{Model: "llama-unknown"}})
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestSubmitApprovalDecisionNoPendingEntry(t *testing.T) {
	o := New(defaultSettings(), toolregistry.New(telemetry.Noop()), telemetry.Noop())
	err := o.SubmitApprovalDecision("nonexistent", true, model.ScopeAllowOnce)
	if !errors.Is(err, ErrNoPendingApproval) {
		t.Fatalf("expected ErrNoPendingApproval, got %v", err)
	}
}
