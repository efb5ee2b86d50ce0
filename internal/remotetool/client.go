// Package remotetool implements the JSON-RPC-over-HTTP client used to
// discover and invoke tools hosted by external tool servers.
package remotetool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Auth carries the bearer token attached to requests against a server.
type Auth struct {
	Token string
}

// Descriptor is a tool advertised by a remote server, attributed to the
// server it was discovered on.
type Descriptor struct {
	Name        string
	Description string
	InputSchema map[string]any
	Server      string
}

// Code identifies the fatal failure classes this client can produce.
type Code string

const (
	CodeNotConnected Code = "not-connected"
	CodeInvalidJSON  Code = "invalid-json"
	CodeServerError  Code = "server-error"
)

// Error is a fatal remote-tool-client error.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type connection struct {
	url    string
	auth   *Auth
	cached []Descriptor
}

// Client is safe for concurrent use, though connect/disconnect are
// expected to happen during setup rather than racing discover/call.
type Client struct {
	httpClient *http.Client

	mu    sync.RWMutex
	conns map[string]*connection
}

// New constructs a Client. If httpClient is nil, http.DefaultClient is used.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, conns: make(map[string]*connection)}
}

// Connect records server name at url with an optional auth token, with an
// empty cached tool list.
func (c *Client) Connect(name, url string, auth *Auth) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[name] = &connection{url: url, auth: auth}
}

// Disconnect removes server name. It is idempotent.
func (c *Client) Disconnect(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, name)
}

// DisconnectAll removes every connected server. It is idempotent.
func (c *Client) DisconnectAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns = make(map[string]*connection)
}

// Discover queries tools/list. When name is non-empty, only that server is
// queried; otherwise every connected server is queried and results are
// concatenated. A failure against one server in the all-servers case does
// not prevent the others from being queried; their errors are joined.
func (c *Client) Discover(ctx context.Context, name string) ([]Descriptor, error) {
	if name != "" {
		return c.discoverOne(ctx, name)
	}

	c.mu.RLock()
	names := make([]string, 0, len(c.conns))
	for n := range c.conns {
		names = append(names, n)
	}
	c.mu.RUnlock()

	var all []Descriptor
	var errs []error
	for _, n := range names {
		descs, err := c.discoverOne(ctx, n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, descs...)
	}
	if len(errs) > 0 {
		return all, errors.Join(errs...)
	}
	return all, nil
}

func (c *Client) discoverOne(ctx context.Context, name string) ([]Descriptor, error) {
	c.mu.RLock()
	conn, ok := c.conns[name]
	c.mu.RUnlock()
	if !ok {
		return nil, &Error{Code: CodeNotConnected, Message: name}
	}

	var result struct {
		Tools []struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			InputSchema map[string]any `json:"input_schema"`
		} `json:"tools"`
	}
	if err := c.call(ctx, conn, "tools/list", map[string]any{}, &result); err != nil {
		return nil, err
	}

	descs := make([]Descriptor, 0, len(result.Tools))
	for _, t := range result.Tools {
		descs = append(descs, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
			Server:      name,
		})
	}

	c.mu.Lock()
	if conn, ok := c.conns[name]; ok {
		conn.cached = descs
	}
	c.mu.Unlock()

	return descs, nil
}

// Call invokes tools/call on server with tool and args. An unknown server
// is a fatal not-connected error.
func (c *Client) Call(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	c.mu.RLock()
	conn, ok := c.conns[server]
	c.mu.RUnlock()
	if !ok {
		return nil, &Error{Code: CodeNotConnected, Message: server}
	}

	var result any
	if err := c.call(ctx, conn, "tools/call", map[string]any{"name": tool, "arguments": args}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, conn *connection, method string, params any, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, conn.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if conn.auth != nil && conn.auth.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+conn.auth.Token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("remote tool call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return &Error{Code: CodeInvalidJSON, Message: err.Error()}
	}
	if rpcResp.Error != nil {
		return &Error{Code: CodeServerError, Message: rpcResp.Error.Message}
	}
	if out != nil && len(rpcResp.Result) > 0 {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &Error{Code: CodeInvalidJSON, Message: err.Error()}
		}
	}
	return nil
}
