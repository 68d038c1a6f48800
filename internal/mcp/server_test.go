// ABOUTME: Tests for the MCP HTTP transport and dispatcher routing
// ABOUTME: Covers the handshake, session enforcement, scope checks, and response framing

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/octogate/octogate/internal/github"
	"github.com/octogate/octogate/internal/registry"
	"github.com/octogate/octogate/internal/session"
)

const testProtocolVersion = "2025-06-18"

// mockVerifier implements auth.ScopeVerifier for testing.
type mockVerifier struct {
	subject string
	scopes  []string
	err     error
}

func (m *mockVerifier) Verify(token string) (string, []string, error) {
	if m.err != nil {
		return "", nil, m.err
	}
	return m.subject, m.scopes, nil
}

func setupTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	echo := &registry.Tool{
		Descriptor: registry.Descriptor{
			Name:           "echo",
			Description:    "Echoes its arguments back",
			InputSchema:    json.RawMessage(`{"type":"object"}`),
			OutputSchema:   json.RawMessage(`{"type":"object"}`),
			RequiredScopes: []string{"pulls:read"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return args, nil
		},
	}
	failing := &registry.Tool{
		Descriptor: registry.Descriptor{
			Name:           "failing",
			Description:    "Always fails",
			InputSchema:    json.RawMessage(`{"type":"object"}`),
			OutputSchema:   json.RawMessage(`{"type":"object"}`),
			RequiredScopes: []string{"pulls:write"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("review pull request: boom")
		},
	}
	upstream := &registry.Tool{
		Descriptor: registry.Descriptor{
			Name:           "upstream",
			Description:    "Fails with an upstream API error",
			InputSchema:    json.RawMessage(`{"type":"object"}`),
			OutputSchema:   json.RawMessage(`{"type":"object"}`),
			RequiredScopes: []string{"pulls:write"},
		},
		Handler: func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
			return nil, &github.APIError{Operation: "merge pull request", StatusCode: 404, Body: "Not Found"}
		},
	}

	reg, err := registry.New(echo, failing, upstream)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

type serverOptions struct {
	requireScopes bool
	verifier      *mockVerifier
	defaultScopes []string
}

func setupTestServer(t *testing.T, opts serverOptions) (*httptest.Server, *session.Store) {
	t.Helper()

	sessions := session.NewStore()
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Registry:        setupTestRegistry(t),
		Sessions:        sessions,
		Logger:          slog.Default(),
		ProtocolVersion: testProtocolVersion,
		ServerName:      "octogate",
		ServerVersion:   "test",
		RequireScopes:   opts.requireScopes,
	})
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	var verifier *mockVerifier
	if opts.verifier != nil {
		verifier = opts.verifier
	}

	cfg := ServerConfig{
		Dispatcher:    dispatcher,
		Logger:        slog.Default(),
		DefaultScopes: opts.defaultScopes,
	}
	if verifier != nil {
		cfg.Verifier = verifier
	}

	server, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, sessions
}

func postJSON(t *testing.T, ts *httptest.Server, body string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeResponse(t *testing.T, resp *http.Response) JSONRPCResponse {
	t.Helper()
	var out JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func initializeBody(version string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":%q,"capabilities":{},"clientInfo":{"name":"test-client","version":"1.0"}}}`, version)
}

// initializeSession performs a full handshake and returns the session ID.
func initializeSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()

	resp := postJSON(t, ts, initializeBody(testProtocolVersion), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("initialize returned status %d", resp.StatusCode)
	}

	sessionID := resp.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not set Mcp-Session-Id header")
	}
	return sessionID
}

func TestInitialize(t *testing.T) {
	t.Run("success creates session and returns server info", func(t *testing.T) {
		ts, sessions := setupTestServer(t, serverOptions{})

		resp := postJSON(t, ts, initializeBody(testProtocolVersion), nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected status 200, got %d", resp.StatusCode)
		}

		out := decodeResponse(t, resp)
		if out.Error != nil {
			t.Fatalf("unexpected error: %+v", out.Error)
		}

		result, _ := json.Marshal(out.Result)
		var init InitializeResult
		if err := json.Unmarshal(result, &init); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}

		if init.ProtocolVersion != testProtocolVersion {
			t.Errorf("expected protocol version %q, got %q", testProtocolVersion, init.ProtocolVersion)
		}
		if init.ServerInfo.Name != "octogate" {
			t.Errorf("expected server name octogate, got %q", init.ServerInfo.Name)
		}
		if init.SessionID == "" {
			t.Error("expected a session id in the result")
		}
		if got := resp.Header.Get("Mcp-Session-Id"); got != init.SessionID {
			t.Errorf("header session %q does not match result session %q", got, init.SessionID)
		}
		if sessions.Count() != 1 {
			t.Errorf("expected 1 session in store, got %d", sessions.Count())
		}
	})

	t.Run("unsupported version yields -32001 and no session", func(t *testing.T) {
		ts, sessions := setupTestServer(t, serverOptions{})

		resp := postJSON(t, ts, initializeBody("1999-01-01"), nil)
		out := decodeResponse(t, resp)

		if out.Error == nil || out.Error.Code != CodeUnsupportedProtocolVersion {
			t.Fatalf("expected code %d, got %+v", CodeUnsupportedProtocolVersion, out.Error)
		}
		if sessions.Count() != 0 {
			t.Errorf("expected no sessions after rejected handshake, got %d", sessions.Count())
		}
		if resp.Header.Get("Mcp-Session-Id") != "" {
			t.Error("rejected handshake must not set a session header")
		}

		data, _ := out.Error.Data.(map[string]any)
		if data == nil || data["requested"] != "1999-01-01" {
			t.Errorf("expected requested version in error data, got %v", out.Error.Data)
		}
	})

	t.Run("missing fields yield -32602", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})

		cases := map[string]string{
			"no params":        `{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
			"no version":       `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"capabilities":{},"clientInfo":{"name":"c"}}}`,
			"bad capabilities": `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":[],"clientInfo":{"name":"c"}}}`,
			"no client name":   `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","capabilities":{},"clientInfo":{}}}`,
		}
		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				out := decodeResponse(t, postJSON(t, ts, body, nil))
				if out.Error == nil || out.Error.Code != CodeInvalidParams {
					t.Errorf("expected code %d, got %+v", CodeInvalidParams, out.Error)
				}
			})
		}
	})
}

func TestInitializedNotificationAndMethod(t *testing.T) {
	ts, _ := setupTestServer(t, serverOptions{})

	t.Run("as request returns ok", func(t *testing.T) {
		out := decodeResponse(t, postJSON(t, ts, `{"jsonrpc":"2.0","id":2,"method":"initialized"}`, nil))
		if out.Error != nil {
			t.Fatalf("unexpected error: %+v", out.Error)
		}
		result, _ := json.Marshal(out.Result)
		if string(result) != `{"ok":true}` {
			t.Errorf("expected {\"ok\":true}, got %s", result)
		}
	})

	t.Run("as notification returns 202 with no body", func(t *testing.T) {
		resp := postJSON(t, ts, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
		if resp.StatusCode != http.StatusAccepted {
			t.Errorf("expected status 202, got %d", resp.StatusCode)
		}
	})
}

func TestToolsList(t *testing.T) {
	t.Run("works without a session", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})

		out := decodeResponse(t, postJSON(t, ts, `{"jsonrpc":"2.0","id":3,"method":"tools/list"}`, nil))
		if out.Error != nil {
			t.Fatalf("unexpected error: %+v", out.Error)
		}

		result, _ := json.Marshal(out.Result)
		var list struct {
			Tools []registry.Descriptor `json:"tools"`
		}
		if err := json.Unmarshal(result, &list); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if len(list.Tools) != 3 {
			t.Fatalf("expected 3 tools, got %d", len(list.Tools))
		}
		if list.Tools[0].Name != "echo" {
			t.Errorf("expected registration order, got %q first", list.Tools[0].Name)
		}
	})
}

func TestToolsCall(t *testing.T) {
	t.Run("without session yields -32002", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{}}}`, nil))
		if out.Error == nil || out.Error.Code != CodeMissingSession {
			t.Fatalf("expected code %d, got %+v", CodeMissingSession, out.Error)
		}
	})

	t.Run("stale session id yields -32002", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": "gone"}))
		if out.Error == nil || out.Error.Code != CodeMissingSession {
			t.Fatalf("expected code %d, got %+v", CodeMissingSession, out.Error)
		}
	})

	t.Run("unknown tool yields -32601", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"nope","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error == nil || out.Error.Code != CodeMethodNotFound {
			t.Fatalf("expected code %d, got %+v", CodeMethodNotFound, out.Error)
		}
	})

	t.Run("non-object arguments yield -32602", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"echo","arguments":[1,2]}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error == nil || out.Error.Code != CodeInvalidParams {
			t.Fatalf("expected code %d, got %+v", CodeInvalidParams, out.Error)
		}
	})

	t.Run("success wraps output as json content", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"echo","arguments":{"hello":"world"}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error != nil {
			t.Fatalf("unexpected error: %+v", out.Error)
		}

		result, _ := json.Marshal(out.Result)
		var call CallToolResult
		if err := json.Unmarshal(result, &call); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if call.IsError {
			t.Fatal("expected a successful result")
		}
		if len(call.Content) != 1 || call.Content[0].Type != "json" {
			t.Fatalf("expected one json content item, got %+v", call.Content)
		}
		if string(call.Content[0].JSON) != `{"hello":"world"}` {
			t.Errorf("unexpected content payload: %s", call.Content[0].JSON)
		}
	})

	t.Run("handler failure is a tool-level error not a protocol error", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"failing","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error != nil {
			t.Fatalf("handler failures must not surface as protocol errors: %+v", out.Error)
		}

		result, _ := json.Marshal(out.Result)
		var call CallToolResult
		if err := json.Unmarshal(result, &call); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if !call.IsError {
			t.Fatal("expected isError to be set")
		}
		if len(call.Content) != 1 || call.Content[0].Type != "text" {
			t.Fatalf("expected one text content item, got %+v", call.Content)
		}
		if !strings.Contains(call.Content[0].Text, "boom") {
			t.Errorf("expected the handler message, got %q", call.Content[0].Text)
		}
	})

	t.Run("upstream API error carries status and body", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":8,"method":"tools/call","params":{"name":"upstream","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))

		result, _ := json.Marshal(out.Result)
		var call CallToolResult
		if err := json.Unmarshal(result, &call); err != nil {
			t.Fatalf("failed to decode result: %v", err)
		}
		if !call.IsError {
			t.Fatal("expected isError to be set")
		}
		data, _ := call.Data.(map[string]any)
		if data == nil || data["status"] != float64(404) || data["body"] != "Not Found" {
			t.Errorf("expected upstream status data, got %v", call.Data)
		}
	})
}

func TestScopeEnforcement(t *testing.T) {
	t.Run("insufficient scopes yield -32003 with required and provided", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{
			requireScopes: true,
			defaultScopes: []string{"pulls:read"},
		})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"failing","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error == nil || out.Error.Code != CodeInsufficientPermissions {
			t.Fatalf("expected code %d, got %+v", CodeInsufficientPermissions, out.Error)
		}

		data, _ := out.Error.Data.(map[string]any)
		if data == nil {
			t.Fatal("expected error data")
		}
		required, _ := data["required"].([]any)
		provided, _ := data["provided"].([]any)
		if len(required) != 1 || required[0] != "pulls:write" {
			t.Errorf("unexpected required scopes: %v", data["required"])
		}
		if len(provided) != 1 || provided[0] != "pulls:read" {
			t.Errorf("unexpected provided scopes: %v", data["provided"])
		}
	})

	t.Run("sufficient scopes pass", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{
			requireScopes: true,
			defaultScopes: []string{"pulls:read"},
		})
		sessionID := initializeSession(t, ts)

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":10,"method":"tools/call","params":{"name":"echo","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error != nil {
			t.Fatalf("unexpected error: %+v", out.Error)
		}
	})

	t.Run("bearer token scopes flow into the session", func(t *testing.T) {
		ts, _ := setupTestServer(t, serverOptions{
			requireScopes: true,
			verifier:      &mockVerifier{subject: "ci-bot", scopes: []string{"pulls:write"}},
		})

		resp := postJSON(t, ts, initializeBody(testProtocolVersion),
			map[string]string{"Authorization": "Bearer token"})
		sessionID := resp.Header.Get("Mcp-Session-Id")
		if sessionID == "" {
			t.Fatal("expected a session")
		}

		out := decodeResponse(t, postJSON(t, ts,
			`{"jsonrpc":"2.0","id":11,"method":"tools/call","params":{"name":"failing","arguments":{}}}`,
			map[string]string{"Mcp-Session-Id": sessionID}))
		if out.Error != nil {
			t.Fatalf("expected scope check to pass, got %+v", out.Error)
		}
	})

	t.Run("invalid token is rejected at initialize", func(t *testing.T) {
		ts, sessions := setupTestServer(t, serverOptions{
			verifier: &mockVerifier{err: errors.New("signature invalid")},
		})

		out := decodeResponse(t, postJSON(t, ts, initializeBody(testProtocolVersion),
			map[string]string{"Authorization": "Bearer bad"}))
		if out.Error == nil || out.Error.Code != CodeInvalidRequest {
			t.Fatalf("expected code %d, got %+v", CodeInvalidRequest, out.Error)
		}
		if out.Error.Message != "invalid or expired token" {
			t.Errorf("unexpected message: %q", out.Error.Message)
		}
		if sessions.Count() != 0 {
			t.Errorf("expected no sessions, got %d", sessions.Count())
		}
	})
}

func TestEnvelopeValidation(t *testing.T) {
	ts, _ := setupTestServer(t, serverOptions{})

	t.Run("malformed JSON yields -32700", func(t *testing.T) {
		out := decodeResponse(t, postJSON(t, ts, `{not json`, nil))
		if out.Error == nil || out.Error.Code != CodeParseError {
			t.Errorf("expected code %d, got %+v", CodeParseError, out.Error)
		}
	})

	t.Run("wrong jsonrpc version yields -32600", func(t *testing.T) {
		out := decodeResponse(t, postJSON(t, ts, `{"jsonrpc":"1.0","id":1,"method":"tools/list"}`, nil))
		if out.Error == nil || out.Error.Code != CodeInvalidRequest {
			t.Errorf("expected code %d, got %+v", CodeInvalidRequest, out.Error)
		}
	})

	t.Run("unknown method yields -32601", func(t *testing.T) {
		out := decodeResponse(t, postJSON(t, ts, `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, nil))
		if out.Error == nil || out.Error.Code != CodeMethodNotFound {
			t.Errorf("expected code %d, got %+v", CodeMethodNotFound, out.Error)
		}
	})

	t.Run("oversized body yields -32600", func(t *testing.T) {
		big := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{"pad":%q}}`,
			strings.Repeat("x", MaxRequestBodySize))
		out := decodeResponse(t, postJSON(t, ts, big, nil))
		if out.Error == nil || out.Error.Code != CodeInvalidRequest {
			t.Errorf("expected code %d, got %+v", CodeInvalidRequest, out.Error)
		}
	})

	t.Run("version header mismatch on non-initialize yields 400", func(t *testing.T) {
		resp := postJSON(t, ts, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			map[string]string{"Mcp-Protocol-Version": "1999-01-01"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("matching version header passes", func(t *testing.T) {
		resp := postJSON(t, ts, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			map[string]string{"Mcp-Protocol-Version": testProtocolVersion})
		if resp.StatusCode != http.StatusOK {
			t.Errorf("expected status 200, got %d", resp.StatusCode)
		}
	})

	t.Run("GET is not allowed", func(t *testing.T) {
		resp, err := ts.Client().Get(ts.URL + "/mcp")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("expected status 405, got %d", resp.StatusCode)
		}
	})
}

func TestSSEFraming(t *testing.T) {
	ts, _ := setupTestServer(t, serverOptions{})

	resp := postJSON(t, ts, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		map[string]string{"Accept": "text/event-stream"})

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream content type, got %q", ct)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	body := buf.String()

	if !strings.HasPrefix(body, "event: message\ndata: ") {
		t.Fatalf("expected SSE framing, got %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Errorf("expected a blank line terminator, got %q", body)
	}

	payload := strings.TrimSuffix(strings.TrimPrefix(body, "event: message\ndata: "), "\n\n")
	var out JSONRPCResponse
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		t.Fatalf("SSE data is not valid JSON-RPC: %v", err)
	}
	if out.Error != nil {
		t.Errorf("unexpected error: %+v", out.Error)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := setupTestServer(t, serverOptions{})

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health body: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("expected ok status, got %v", health)
	}
}
