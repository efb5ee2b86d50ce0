package remotetool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDiscoverAndCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		switch req.Method {
		case "tools/list":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `","result":{"tools":[{"name":"search","description":"d","input_schema":{}}]}}`))
		case "tools/call":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"` + req.ID + `","result":"ok"}`))
		default:
			t.Fatalf("unexpected method %q", req.Method)
		}
	}))
	defer srv.Close()

	c := New(nil)
	c.Connect("srv1", srv.URL, nil)

	descs, err := c.Discover(context.Background(), "srv1")
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(descs) != 1 || descs[0].Name != "search" || descs[0].Server != "srv1" {
		t.Fatalf("unexpected descriptors: %+v", descs)
	}

	result, err := c.Call(context.Background(), "srv1", "search", map[string]any{"q": "x"})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if result != "ok" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestCallUnknownServer(t *testing.T) {
	c := New(nil)
	_, err := c.Call(context.Background(), "missing", "tool", nil)
	rtErr, ok := err.(*Error)
	if !ok || rtErr.Code != CodeNotConnected {
		t.Fatalf("expected not-connected error, got %v", err)
	}
}

func TestCallServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"boom"}}`))
	}))
	defer srv.Close()

	c := New(nil)
	c.Connect("srv1", srv.URL, nil)
	_, err := c.Call(context.Background(), "srv1", "tool", nil)
	rtErr, ok := err.(*Error)
	if !ok || rtErr.Code != CodeServerError {
		t.Fatalf("expected server-error, got %v", err)
	}
}

func TestCallInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := New(nil)
	c.Connect("srv1", srv.URL, nil)
	_, err := c.Call(context.Background(), "srv1", "tool", nil)
	rtErr, ok := err.(*Error)
	if !ok || rtErr.Code != CodeInvalidJSON {
		t.Fatalf("expected invalid-json, got %v", err)
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	c := New(nil)
	c.Connect("srv1", "http://example.invalid", nil)
	c.Disconnect("srv1")
	c.Disconnect("srv1")
	c.DisconnectAll()
	c.DisconnectAll()
}

func TestAuthHeaderSent(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"1","result":{"tools":[]}}`))
	}))
	defer srv.Close()

	c := New(nil)
	c.Connect("srv1", srv.URL, &Auth{Token: "secret"})
	if _, err := c.Discover(context.Background(), "srv1"); err != nil {
		t.Fatalf("discover: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}
