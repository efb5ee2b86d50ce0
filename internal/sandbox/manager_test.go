package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

func newTestServer(t *testing.T) (*httptest.Server, *Manager) {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"sandbox_id": "sb-1"})
	})
	mux.HandleFunc("/sandboxes/sb-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			http.Error(w, "bad method", http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/sandboxes/sb-1/files", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"path": "/tmp/x.txt", "size_bytes": 5})
	})
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	mux.HandleFunc("/sandboxes/sb-1/execute", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var req map[string]string
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		_ = conn.WriteJSON(wireFrame{T: "stdout", Text: "hello "})
		_ = conn.WriteJSON(wireFrame{T: "stdout", Text: "world\n"})
		_ = conn.WriteJSON(wireFrame{T: "result", Output: "hello world\n", ExitCode: 0})
	})

	srv := httptest.NewServer(mux)
	m := New(srv.URL, "test-key", Ceilings{MaxCPU: 4, MaxMemoryMB: 1024}, telemetry.Noop())
	return srv, m
}

func TestCreateAndDestroy(t *testing.T) {
	srv, m := newTestServer(t)
	defer srv.Close()

	info, err := m.Create(context.Background(), "conv-1", "python", Limits{}, 300)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.SandboxID != "sb-1" {
		t.Fatalf("unexpected sandbox id %q", info.SandboxID)
	}
	if info.Limits.CPU != 2 || info.Limits.MemoryMB != 512 {
		t.Fatalf("unexpected default limits %+v", info.Limits)
	}

	if err := m.Destroy(context.Background(), "sb-1"); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := m.Destroy(context.Background(), "sb-1"); err != nil {
		t.Fatalf("second Destroy should be a no-op, got: %v", err)
	}
	if err := m.Destroy(context.Background(), "never-existed"); err != nil {
		t.Fatalf("Destroy of unknown sandbox should be a no-op, got: %v", err)
	}
}

func TestCreateClampsOverCeiling(t *testing.T) {
	srv, m := newTestServer(t)
	defer srv.Close()

	info, err := m.Create(context.Background(), "conv-1", "python", Limits{CPU: 64, MemoryMB: 65536, TimeoutSeconds: 60, Network: true}, 300)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Limits.CPU != 4 || info.Limits.MemoryMB != 1024 {
		t.Fatalf("expected clamp to ceilings, got %+v", info.Limits)
	}
}

func TestCreateRequiresAPIKey(t *testing.T) {
	srv, m := newTestServer(t)
	defer srv.Close()
	m.apiKey = ""

	_, err := m.Create(context.Background(), "conv-1", "python", Limits{}, 300)
	if !errors.Is(err, ErrAPIKeyNotConfigured) {
		t.Fatalf("expected ErrAPIKeyNotConfigured, got %v", err)
	}
}

func TestUpload(t *testing.T) {
	srv, m := newTestServer(t)
	defer srv.Close()
	if _, err := m.Create(context.Background(), "conv-1", "python", Limits{}, 300); err != nil {
		t.Fatalf("Create: %v", err)
	}

	res, err := m.Upload(context.Background(), "sb-1", "/tmp/x.txt", []byte("hello"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Path != "/tmp/x.txt" || res.SizeBytes != 5 {
		t.Fatalf("unexpected upload result %+v", res)
	}

	if _, err := m.Upload(context.Background(), "no-such-sandbox", "/tmp/y.txt", nil); !errors.Is(err, ErrUnknownSandbox) {
		t.Fatalf("expected ErrUnknownSandbox, got %v", err)
	}
}

func TestExecuteStreamsInOrderThenCloses(t *testing.T) {
	srv, m := newTestServer(t)
	defer srv.Close()
	if _, err := m.Create(context.Background(), "conv-1", "python", Limits{}, 300); err != nil {
		t.Fatalf("Create: %v", err)
	}

	events, err := m.Execute(context.Background(), "sb-1", "print('hello world')", "python")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[0].Kind != EventStdout || got[1].Kind != EventStdout {
		t.Fatalf("expected two stdout events first, got %+v", got)
	}
	if got[2].Kind != EventResult || !strings.Contains(got[2].Output, "hello world") {
		t.Fatalf("expected terminal result event, got %+v", got[2])
	}
}

func TestExecuteUnknownSandbox(t *testing.T) {
	srv, m := newTestServer(t)
	defer srv.Close()

	_, err := m.Execute(context.Background(), "nope", "1+1", "python")
	if !errors.Is(err, ErrUnknownSandbox) {
		t.Fatalf("expected ErrUnknownSandbox, got %v", err)
	}
}
