// ABOUTME: JSON-RPC method router tying the session store and tool registry together
// ABOUTME: Stateless and re-entrant per request; all session state lives in the store

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/octogate/octogate/internal/github"
	"github.com/octogate/octogate/internal/registry"
	"github.com/octogate/octogate/internal/session"
)

// rpcMethod is the closed set of methods the dispatcher understands.
type rpcMethod string

const (
	methodInitialize  rpcMethod = "initialize"
	methodInitialized rpcMethod = "initialized"
	methodToolsList   rpcMethod = "tools/list"
	methodToolsCall   rpcMethod = "tools/call"
)

// Dispatcher routes JSON-RPC methods to their handlers. It holds no
// per-request state; concurrent dispatches are independent.
type Dispatcher struct {
	registry        *registry.Registry
	sessions        *session.Store
	logger          *slog.Logger
	protocolVersion string
	serverName      string
	serverVersion   string
	requireScopes   bool
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Registry        *registry.Registry
	Sessions        *session.Store
	Logger          *slog.Logger
	ProtocolVersion string
	ServerName      string
	ServerVersion   string
	RequireScopes   bool
}

// NewDispatcher creates a dispatcher over the given session store and registry.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.ProtocolVersion == "" {
		return nil, errors.New("protocol version is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName = "octogate"
	}
	serverVersion := cfg.ServerVersion
	if serverVersion == "" {
		serverVersion = "dev"
	}

	return &Dispatcher{
		registry:        cfg.Registry,
		sessions:        cfg.Sessions,
		logger:          logger.With("component", "dispatcher"),
		protocolVersion: cfg.ProtocolVersion,
		serverName:      serverName,
		serverVersion:   serverVersion,
		requireScopes:   cfg.RequireScopes,
	}, nil
}

// Outcome is the dispatcher's answer for one request. Exactly one of Result
// and Err is set. NewSession is non-nil only after a successful initialize.
type Outcome struct {
	Result     any
	Err        *JSONRPCError
	NewSession *session.Session
}

func errOutcome(code int, message string, data any) Outcome {
	return Outcome{Err: &JSONRPCError{Code: code, Message: message, Data: data}}
}

// Dispatch routes one request. sessionID is the session identifier echoed by
// the client (empty when absent); grantedScopes are the scopes the
// authentication layer resolved for this request, consumed only by initialize.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage, sessionID string, grantedScopes []string) Outcome {
	switch rpcMethod(method) {
	case methodInitialize:
		return d.handleInitialize(params, grantedScopes)
	case methodInitialized:
		return Outcome{Result: InitializedResult{OK: true}}
	case methodToolsList:
		return d.handleToolsList()
	case methodToolsCall:
		return d.handleToolsCall(ctx, params, sessionID)
	default:
		return errOutcome(CodeMethodNotFound, "method not found", nil)
	}
}

// handleInitialize validates the handshake strictly, negotiates the protocol
// version, and creates a session. No session is created on any failure path.
func (d *Dispatcher) handleInitialize(params json.RawMessage, grantedScopes []string) Outcome {
	if len(params) == 0 {
		return errOutcome(CodeInvalidParams, "initialize params are required", nil)
	}

	var p InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return errOutcome(CodeInvalidParams, "invalid initialize params", nil)
	}

	if p.ProtocolVersion == "" {
		return errOutcome(CodeInvalidParams, "protocolVersion is required", nil)
	}
	if !isJSONObject(p.Capabilities) {
		return errOutcome(CodeInvalidParams, "capabilities must be an object", nil)
	}
	if p.ClientInfo.Name == "" {
		return errOutcome(CodeInvalidParams, "clientInfo.name is required", nil)
	}

	if p.ProtocolVersion != d.protocolVersion {
		return errOutcome(CodeUnsupportedProtocolVersion, "unsupported protocol version", map[string]any{
			"supported": []string{d.protocolVersion},
			"requested": p.ProtocolVersion,
		})
	}

	sess := d.sessions.Create(d.protocolVersion, grantedScopes)

	d.logger.Info("session created",
		"session_id", sess.ID,
		"client", p.ClientInfo.Name,
		"protocol_version", sess.ProtocolVersion,
		"scope_count", len(sess.Scopes),
	)

	return Outcome{
		Result: InitializeResult{
			ProtocolVersion: d.protocolVersion,
			Capabilities: map[string]any{
				"tools": map[string]any{},
			},
			ServerInfo: ServerInfo{
				Name:    d.serverName,
				Version: d.serverVersion,
			},
			SessionID: sess.ID,
		},
		NewSession: sess,
	}
}

// handleToolsList returns the static catalog verbatim, in registration order.
func (d *Dispatcher) handleToolsList() Outcome {
	descriptors := d.registry.List()
	tools := make([]any, len(descriptors))
	for i := range descriptors {
		tools[i] = descriptors[i]
	}
	return Outcome{Result: ListToolsResult{Tools: tools}}
}

// handleToolsCall resolves the session, authorizes, validates, and invokes
// the tool. Handler failures surface as tool-level isError results, never as
// protocol errors.
func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage, sessionID string) Outcome {
	sess, ok := d.sessions.Get(sessionID)
	if sessionID == "" || !ok {
		return errOutcome(CodeMissingSession, "missing session", nil)
	}

	var p CallToolParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return errOutcome(CodeInvalidParams, "invalid params", nil)
		}
	}

	if p.Name == "" {
		return errOutcome(CodeInvalidParams, "tool name is required", nil)
	}

	args := normalizeArguments(p.Arguments)
	if args == nil {
		return errOutcome(CodeInvalidParams, "arguments must be an object", nil)
	}

	tool := d.registry.Get(p.Name)
	if tool == nil {
		return errOutcome(CodeMethodNotFound, fmt.Sprintf("unknown tool: %s", p.Name), nil)
	}

	if d.requireScopes && !sess.HasScopes(tool.Descriptor.RequiredScopes) {
		return errOutcome(CodeInsufficientPermissions, "insufficient permissions", map[string]any{
			"required": tool.Descriptor.RequiredScopes,
			"provided": sess.Scopes,
		})
	}

	requestID := uuid.New().String()
	d.logger.Debug("tools/call",
		"tool", p.Name,
		"session_id", sess.ID,
		"request_id", requestID,
	)

	output, err := tool.Handler(ctx, args)
	if err != nil {
		return Outcome{Result: toolErrorResult(err)}
	}

	return Outcome{Result: CallToolResult{
		Content: []Content{{Type: "json", JSON: output}},
	}}
}

// toolErrorResult wraps a handler failure as a tool-level error. Upstream
// GitHub failures keep their original HTTP status in the diagnostic data.
func toolErrorResult(err error) CallToolResult {
	result := CallToolResult{
		IsError: true,
		Content: []Content{{Type: "text", Text: err.Error()}},
	}

	var apiErr *github.APIError
	if errors.As(err, &apiErr) {
		result.Data = map[string]any{
			"status": apiErr.StatusCode,
			"body":   apiErr.Body,
		}
	}

	return result
}

// normalizeArguments returns the arguments as a JSON object, treating absent
// and null as empty. Returns nil when the payload is present but not an object.
func normalizeArguments(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage(`{}`)
	}
	if trimmed[0] != '{' {
		return nil
	}
	return trimmed
}

// isJSONObject reports whether raw is a present JSON object.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
