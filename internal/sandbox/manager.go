// Package sandbox manages the lifecycle of sandboxes hosted by an external
// execution backend (an E2B-like service): create, stream code execution,
// upload files, and destroy. Lifecycle calls are plain REST over
// net/http, matching the remote-tool client's transport idiom; streamed
// execution output arrives over a websocket connection, forwarded into a
// bounded producer/consumer channel the caller drains.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/codes"

	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// ErrAPIKeyNotConfigured is returned synchronously by Create when no
// backend API key is configured — a configuration error, per the error
// handling design, that never reaches an event stream.
var ErrAPIKeyNotConfigured = errors.New("e2b api key not configured")

// ErrUnknownSandbox is returned when an operation names a sandbox id this
// manager never created or has already destroyed.
var ErrUnknownSandbox = errors.New("unknown sandbox")

// Limits bounds one sandbox's resources. A zero Limits is filled in by
// Create with the manager's defaults, clamped to its configured ceilings.
type Limits struct {
	CPU            int
	MemoryMB       int
	TimeoutSeconds int
	Network        bool
}

// Ceilings caps the values Create will accept for Limits, independent of
// the defaults a caller omits. A caller-supplied limit above a ceiling is
// clamped down to it, never rejected outright.
type Ceilings struct {
	MaxCPU      int
	MaxMemoryMB int
}

// Info describes a created sandbox.
type Info struct {
	SandboxID      string
	ConversationID string
	Template       string
	Limits         Limits
}

// UploadResult reports where an uploaded file landed.
type UploadResult struct {
	Path      string
	SizeBytes int
}

// EventKind discriminates the variants of Event, the sum type Execute
// streams back.
type EventKind string

const (
	EventStdout EventKind = "stdout"
	EventStderr EventKind = "stderr"
	EventResult EventKind = "result"
	EventError  EventKind = "error"
)

// Event is one item of an Execute stream. Only the fields relevant to
// Kind are populated.
type Event struct {
	Kind EventKind

	// stdout / stderr
	Text string

	// result
	Output   string
	Files    []string
	ExitCode int

	// error
	Code    string
	Message string
}

type sandboxState struct {
	info      Info
	mu        sync.Mutex
	destroyed bool
}

// Manager is a client for one external sandbox backend.
type Manager struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	dialer     *websocket.Dialer

	ceilings Ceilings
	tel      telemetry.Bundle

	mu        sync.Mutex
	sandboxes map[string]*sandboxState
}

// New constructs a Manager. baseURL is the backend's HTTP(S) origin, used
// both for REST lifecycle calls and, with its scheme swapped to ws/wss,
// for the execution websocket. tel receives structured logs and metrics
// for every lifecycle and execution operation.
func New(baseURL, apiKey string, ceilings Ceilings, tel telemetry.Bundle) *Manager {
	return &Manager{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		ceilings:   ceilings,
		tel:        tel,
		sandboxes:  make(map[string]*sandboxState),
	}
}

func (m *Manager) clamp(l Limits) Limits {
	if m.ceilings.MaxCPU > 0 && l.CPU > m.ceilings.MaxCPU {
		l.CPU = m.ceilings.MaxCPU
	}
	if m.ceilings.MaxMemoryMB > 0 && l.MemoryMB > m.ceilings.MaxMemoryMB {
		l.MemoryMB = m.ceilings.MaxMemoryMB
	}
	return l
}

// Create provisions a new sandbox scoped to conversationID. A zero-value
// limits argument is filled with the default {cpu:2, memory_mb:512,
// timeout_seconds:defaultTimeoutSeconds, network:true} before clamping to
// the manager's ceilings.
func (m *Manager) Create(ctx context.Context, conversationID, template string, limits Limits, defaultTimeoutSeconds int) (Info, error) {
	if m.apiKey == "" {
		return Info{}, ErrAPIKeyNotConfigured
	}

	if limits == (Limits{}) {
		limits = Limits{CPU: 2, MemoryMB: 512, TimeoutSeconds: defaultTimeoutSeconds, Network: true}
	}
	limits = m.clamp(limits)

	reqBody := map[string]any{
		"conversation_id": conversationID,
		"template":        template,
		"cpu":             limits.CPU,
		"memory_mb":       limits.MemoryMB,
		"timeout_seconds": limits.TimeoutSeconds,
		"network":         limits.Network,
	}
	var resp struct {
		SandboxID string `json:"sandbox_id"`
	}
	if err := m.doJSON(ctx, http.MethodPost, "/sandboxes", reqBody, &resp); err != nil {
		m.tel.Logger.Error(ctx, "sandbox create failed", "conversation_id", conversationID, "template", template, "err", err)
		m.tel.Metrics.IncCounter("sandbox_created_total", 1, "template", template, "outcome", "error")
		return Info{}, err
	}

	info := Info{SandboxID: resp.SandboxID, ConversationID: conversationID, Template: template, Limits: limits}
	m.mu.Lock()
	m.sandboxes[info.SandboxID] = &sandboxState{info: info}
	m.mu.Unlock()
	m.tel.Logger.Info(ctx, "sandbox created", "sandbox_id", info.SandboxID, "conversation_id", conversationID, "template", template)
	m.tel.Metrics.IncCounter("sandbox_created_total", 1, "template", template, "outcome", "success")
	return info, nil
}

// Upload writes data to path inside sandboxID.
func (m *Manager) Upload(ctx context.Context, sandboxID, path string, data []byte) (UploadResult, error) {
	if _, err := m.lookup(sandboxID); err != nil {
		return UploadResult{}, err
	}
	reqBody := map[string]any{
		"path": path,
		"data": data,
	}
	var resp struct {
		Path      string `json:"path"`
		SizeBytes int    `json:"size_bytes"`
	}
	endpoint := fmt.Sprintf("/sandboxes/%s/files", sandboxID)
	if err := m.doJSON(ctx, http.MethodPost, endpoint, reqBody, &resp); err != nil {
		return UploadResult{}, err
	}
	return UploadResult{Path: resp.Path, SizeBytes: resp.SizeBytes}, nil
}

// Destroy releases sandboxID's underlying resource. It is idempotent: a
// second call on an already-destroyed (or never-known) sandbox is a
// no-op.
func (m *Manager) Destroy(ctx context.Context, sandboxID string) error {
	m.mu.Lock()
	st, ok := m.sandboxes[sandboxID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.destroyed {
		return nil
	}
	endpoint := fmt.Sprintf("/sandboxes/%s", sandboxID)
	if err := m.doJSON(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		m.tel.Logger.Error(ctx, "sandbox destroy failed", "sandbox_id", sandboxID, "err", err)
		m.tel.Metrics.IncCounter("sandbox_destroyed_total", 1, "outcome", "error")
		return err
	}
	st.destroyed = true
	m.mu.Lock()
	delete(m.sandboxes, sandboxID)
	m.mu.Unlock()
	m.tel.Logger.Info(ctx, "sandbox destroyed", "sandbox_id", sandboxID)
	m.tel.Metrics.IncCounter("sandbox_destroyed_total", 1, "outcome", "success")
	return nil
}

// DestroyAll destroys every sandbox this manager knows about, idempotent
// per-sandbox, aggregating any failures.
func (m *Manager) DestroyAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sandboxes))
	for id := range m.sandboxes {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := m.Destroy(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("destroy %s: %w", id, err))
		}
	}
	if joined := errors.Join(errs...); joined != nil {
		m.tel.Logger.Warn(ctx, "destroy all sandboxes completed with errors", "total", len(ids), "failed", len(errs), "err", joined)
		return joined
	}
	m.tel.Logger.Info(ctx, "destroy all sandboxes completed", "total", len(ids))
	return nil
}

func (m *Manager) lookup(sandboxID string) (*sandboxState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.sandboxes[sandboxID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSandbox, sandboxID)
	}
	return st, nil
}

func (m *Manager) doJSON(ctx context.Context, method, path string, body any, out any) error {
	ctx, span := m.tel.Tracer.Start(ctx, "sandbox.rest_call")
	defer span.End()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		m.tel.Logger.Error(ctx, "sandbox backend request failed", "method", method, "path", path, "err", err)
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("sandbox backend status %d: %s", resp.StatusCode, string(raw))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-2xx response")
		m.tel.Logger.Error(ctx, "sandbox backend returned error status", "method", method, "path", path, "status", resp.StatusCode)
		return err
	}
	span.SetStatus(codes.Ok, "")
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
