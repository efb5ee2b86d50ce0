package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"

	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// wireFrame is one message on the execution websocket, in the backend's
// own framing. Only the fields relevant to T are populated.
type wireFrame struct {
	T        string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	Output   string   `json:"output,omitempty"`
	Files    []string `json:"files,omitempty"`
	ExitCode int      `json:"exit_code,omitempty"`
	Code     string   `json:"code,omitempty"`
	Message  string   `json:"message,omitempty"`
}

func (m *Manager) executeEndpoint(sandboxID string) (string, error) {
	u, err := url.Parse(m.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/sandboxes/%s/execute", sandboxID)
	return u.String(), nil
}

// Execute runs code inside sandboxID and returns a channel of stdout,
// stderr, and a single terminal result or error event, in arrival order.
// The channel is closed after the terminal event. An unknown sandbox id
// is a fatal, synchronous error.
func (m *Manager) Execute(ctx context.Context, sandboxID, code, language string) (<-chan Event, error) {
	ctx, span := m.tel.Tracer.Start(ctx, "sandbox.execute")
	m.tel.Logger.Info(ctx, "sandbox execution started", "sandbox_id", sandboxID, "language", language)
	m.tel.Metrics.IncCounter("sandbox_execution_total", 1, "language", language)

	if _, err := m.lookup(sandboxID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown sandbox")
		span.End()
		return nil, err
	}

	endpoint, err := m.executeEndpoint(sandboxID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid endpoint")
		span.End()
		return nil, err
	}
	header := make(map[string][]string)
	header["Authorization"] = []string{"Bearer " + m.apiKey}

	conn, _, err := m.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		span.End()
		m.tel.Logger.Error(ctx, "sandbox execute dial failed", "sandbox_id", sandboxID, "err", err)
		return nil, fmt.Errorf("dial sandbox execute stream: %w", err)
	}

	if err := conn.WriteJSON(map[string]string{"code": code, "language": language}); err != nil {
		_ = conn.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send execute request failed")
		span.End()
		m.tel.Logger.Error(ctx, "sandbox execute request send failed", "sandbox_id", sandboxID, "err", err)
		return nil, fmt.Errorf("send execute request: %w", err)
	}

	events := make(chan Event, 64)
	go m.pumpExecute(ctx, sandboxID, conn, events, span, time.Now())
	return events, nil
}

// pumpExecute is the sole reader of conn. It forwards stdout/stderr
// frames into events as they arrive, then forwards the terminal
// result/error frame and closes events. Any buffered frames already read
// off the socket are flushed to events before the terminal one, since a
// single channel preserves arrival order by construction — no separate
// drain pass is needed once every frame flows through this one loop.
func (m *Manager) pumpExecute(ctx context.Context, sandboxID string, conn *websocket.Conn, events chan<- Event, span telemetry.Span, start time.Time) {
	defer close(events)
	defer func() { _ = conn.Close() }()

	outcome := "error"
	defer func() {
		span.End()
		duration := time.Since(start)
		m.tel.Metrics.RecordTimer("sandbox_execution_duration", duration, "outcome", outcome)
		m.tel.Logger.Info(ctx, "sandbox execution finished", "sandbox_id", sandboxID, "outcome", outcome, "duration_ms", duration.Milliseconds())
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var frame wireFrame
		if err := conn.ReadJSON(&frame); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transport error")
			m.tel.Logger.Warn(ctx, "sandbox execute stream transport error", "sandbox_id", sandboxID, "err", err)
			select {
			case events <- Event{Kind: EventError, Code: "transport-error", Message: err.Error()}:
			default:
			}
			return
		}

		switch frame.T {
		case "stdout":
			events <- Event{Kind: EventStdout, Text: frame.Text}
		case "stderr":
			events <- Event{Kind: EventStderr, Text: frame.Text}
		case "result":
			events <- Event{Kind: EventResult, Output: frame.Output, Files: frame.Files, ExitCode: frame.ExitCode}
			outcome = "success"
			span.SetStatus(codes.Ok, "")
			return
		case "error":
			events <- Event{Kind: EventError, Code: frame.Code, Message: frame.Message}
			span.SetStatus(codes.Error, frame.Message)
			m.tel.Logger.Warn(ctx, "sandbox execution reported error", "sandbox_id", sandboxID, "code", frame.Code, "message", frame.Message)
			return
		default:
			// unrecognized frame type: ignore, the backend may add
			// forward-compatible frames we don't need to render.
		}
	}
}
