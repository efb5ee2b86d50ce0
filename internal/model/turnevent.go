package model

// TurnEventKind discriminates the variants of TurnEvent, the event emitted
// by the orchestrator to the caller.
type TurnEventKind string

const (
	TurnStatus             TurnEventKind = "status"
	TurnToken              TurnEventKind = "token"
	TurnCodeBlock          TurnEventKind = "code_block"
	TurnToolCall           TurnEventKind = "tool_call"
	TurnApprovalRequested  TurnEventKind = "approval_requested"
	TurnAwaitingApproval   TurnEventKind = "awaiting_approval"
	TurnToolResult         TurnEventKind = "tool_result"
	TurnComplete           TurnEventKind = "complete"
	TurnError              TurnEventKind = "error"
)

// ApprovalScope is the scope a client attaches to an approval decision.
// allow_for_session and always_for_agent_tool are accepted but, matching
// the reference implementation, are not persisted anywhere: every scope
// behaves like allow_once for the remainder of this turn and all future
// turns. See DESIGN.md for the rationale.
type ApprovalScope string

const (
	ScopeAllowOnce           ApprovalScope = "allow_once"
	ScopeAllowForSession     ApprovalScope = "allow_for_session"
	ScopeAlwaysForAgentTool  ApprovalScope = "always_for_agent_tool"
)

// AvailableScopes is the fixed set of scopes offered on every
// approval_requested event.
var AvailableScopes = []ApprovalScope{ScopeAllowOnce, ScopeAllowForSession, ScopeAlwaysForAgentTool}

// TurnEvent is the discriminated union emitted on the public turn stream.
// Only the fields relevant to Kind are populated.
type TurnEvent struct {
	Kind TurnEventKind

	// status
	Message  string
	Category string

	// token
	Text string

	// code_block (Code is shared with error, where it carries the error code)
	Language string
	Code     string
	Filename string

	// tool_call / approval_requested / awaiting_approval / tool_result
	RequestID         string
	ToolName          string
	Arguments         map[string]any
	ArgumentsPreview  map[string]any
	AvailableScopes   []ApprovalScope
	Result            string
	IsError           bool

	// complete
	Model            string
	StopReason       string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int

	// error (the error code is carried in Code, declared above)
	ErrMsg    string
	Retryable bool
}
