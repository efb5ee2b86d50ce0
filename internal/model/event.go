// Package model defines the event types shared between provider adapters
// and the orchestrator: the unified provider event produced by streaming
// adapters, and the turn-scoped configuration passed into them.
package model

// Kind discriminates the variants of Event.
type Kind string

const (
	// KindToken is a fragment of free-text output.
	KindToken Kind = "token"
	// KindToolUseStart signals that a tool invocation has begun streaming.
	KindToolUseStart Kind = "tool_use_start"
	// KindToolInputDelta is an incremental JSON fragment for the most
	// recently started tool invocation.
	KindToolInputDelta Kind = "tool_input_delta"
	// KindToolUse is a fully assembled tool invocation.
	KindToolUse Kind = "tool_use"
	// KindComplete is the terminal event of a provider stream.
	KindComplete Kind = "complete"
)

// Usage carries token accounting reported by a provider.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Event is the unified provider event: a discriminated union over Kind.
// Only the fields relevant to Kind are populated; consumers must switch on
// Kind before reading any other field.
type Event struct {
	Kind Kind

	// Text carries the payload for KindToken and KindToolInputDelta.
	Text string

	// ToolID and ToolName identify the tool invocation for
	// KindToolUseStart and KindToolUse.
	ToolID   string
	ToolName string
	// ToolInput is the assembled argument map for KindToolUse.
	ToolInput map[string]any

	// Usage and StopReason are populated for KindComplete.
	Usage      Usage
	StopReason string
}

// Streamer is the iterator contract every provider adapter implements.
// Recv returns io.EOF once the stream is exhausted after a clean
// KindComplete event, or a non-nil error on transport/provider failure.
type Streamer interface {
	Recv() (Event, error)
	Close() error
}

// Message is one turn of conversation history.
type Message struct {
	Role    string
	Content string
}

// ToolDescriptor mirrors the wire Tool Descriptor: a tool's schema plus
// whether invoking it requires an out-of-band approval.
type ToolDescriptor struct {
	Name             string
	Description      string
	InputSchema      map[string]any
	RequiresApproval bool
}

// TurnConfig is the subset of per-turn Configuration a provider adapter
// needs to build a completion request.
type TurnConfig struct {
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Tools        []ToolDescriptor
}
