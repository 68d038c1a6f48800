// ABOUTME: Streamable HTTP transport for the MCP endpoint, plus the health probe
// ABOUTME: Parses JSON-RPC envelopes, resolves auth scopes, and frames responses as JSON or SSE

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/octogate/octogate/internal/auth"
)

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// ServerConfig holds configuration for the MCP HTTP server.
type ServerConfig struct {
	Dispatcher    *Dispatcher
	Logger        *slog.Logger
	Verifier      auth.ScopeVerifier
	DefaultScopes []string // Scopes granted when no bearer token is presented
}

// Server exposes the gateway over the MCP Streamable HTTP transport.
type Server struct {
	dispatcher    *Dispatcher
	logger        *slog.Logger
	verifier      auth.ScopeVerifier
	defaultScopes []string
}

// NewServer creates an MCP HTTP server around a dispatcher.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var defaultScopes []string
	if len(cfg.DefaultScopes) > 0 {
		defaultScopes = make([]string, len(cfg.DefaultScopes))
		copy(defaultScopes, cfg.DefaultScopes)
	}

	return &Server{
		dispatcher:    cfg.Dispatcher,
		logger:        logger.With("component", "mcp"),
		verifier:      cfg.Verifier,
		defaultScopes: defaultScopes,
	}, nil
}

// RegisterRoutes registers the MCP endpoint and health probe on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// Server-initiated SSE streams are not supported
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	default:
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// handlePost processes one JSON-RPC message sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get("Mcp-Session-Id")
	protoHeader := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendError(w, r, nil, CodeParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendError(w, r, nil, CodeInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendError(w, r, nil, CodeParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, r, req.ID, CodeInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}
	if req.Method == "" {
		s.sendError(w, r, req.ID, CodeInvalidRequest, "method is required", nil)
		return
	}

	isInitialize := req.Method == string(methodInitialize)
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// The version header is advisory on initialize and binding afterwards.
	if !isInitialize && protoHeader != "" && protoHeader != s.dispatcher.protocolVersion {
		http.Error(w, "Bad Request: unsupported Mcp-Protocol-Version", http.StatusBadRequest)
		return
	}

	// Notifications are accepted and dropped; no response body, HTTP 202.
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted notification", "method", req.Method)
		} else {
			s.logger.Warn("notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var grantedScopes []string
	if isInitialize {
		scopes, err := s.resolveScopes(r)
		if err != nil {
			s.sendError(w, r, req.ID, CodeInvalidRequest, "invalid or expired token", nil)
			return
		}
		grantedScopes = scopes
	}

	outcome := s.dispatcher.Dispatch(r.Context(), req.Method, req.Params, sessionID, grantedScopes)
	if outcome.Err != nil {
		s.sendError(w, r, req.ID, outcome.Err.Code, outcome.Err.Message, outcome.Err.Data)
		return
	}

	if outcome.NewSession != nil {
		w.Header().Set("Mcp-Session-Id", outcome.NewSession.ID)
	}
	s.sendResult(w, r, req.ID, outcome.Result)
}

// resolveScopes determines the scopes for a new session. A presented bearer
// token must verify; absence of a token falls back to the default scopes.
func (s *Server) resolveScopes(r *http.Request) ([]string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return s.defaultScopes, nil
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader || token == "" {
		return nil, errors.New("invalid authorization header format")
	}

	if s.verifier == nil {
		return nil, errors.New("token presented but no verifier configured")
	}

	subject, scopes, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("token verified", "subject", subject, "scope_count", len(scopes))
	return scopes, nil
}

func (s *Server) sendResult(w http.ResponseWriter, r *http.Request, id json.RawMessage, result any) {
	s.writeResponse(w, r, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

func (s *Server) sendError(w http.ResponseWriter, r *http.Request, id json.RawMessage, code int, message string, data any) {
	s.writeResponse(w, r, JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// writeResponse frames the response as plain JSON, or as a single SSE message
// event when the client asked for an event stream.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, resp JSONRPCResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if wantsSSE(r) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(append(payload, '\n'))
}

func wantsSSE(r *http.Request) bool {
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType := strings.TrimSpace(accept)
		if i := strings.IndexByte(mediaType, ';'); i >= 0 {
			mediaType = mediaType[:i]
		}
		if mediaType == "text/event-stream" {
			return true
		}
	}
	return false
}
