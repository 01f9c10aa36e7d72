// ABOUTME: MCP-compatible HTTP server exposing ANP bridge tools to external clients.
// ABOUTME: Implements Streamable HTTP transport with per-client authenticated sessions.

package mcp

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/anpkit/anp-bridge/internal/auth"
	"github.com/anpkit/anp-bridge/internal/session"
)

// Supported MCP protocol versions
var supportedProtocolVersions = map[string]bool{
	"2025-03-26": true,
	"2025-11-25": true,
}

// latestProtocolVersion is the version we advertise in initialize responses
const latestProtocolVersion = "2025-11-25"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// SessionHeader carries the session identifier on requests and on the
// response that created the session.
const SessionHeader = "Mcp-Session-Id"

// serverInstructions is surfaced to clients in the initialize result.
const serverInstructions = `This server bridges the ANP agent network into MCP.
Use anp.fetchDoc to pull ANP documents and discover links, anp.invokeOpenRPC
to call JSON-RPC methods on discovered agents, and anp.setAuth to switch the
DID credential used to sign outbound requests. All ANP resources must be
accessed through these tools.`

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// MCP-specific types

// MCPToolInfo represents an MCP tool definition.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// rejection codes for gatekeeper errors
const (
	codeInvalidSession        = "INVALID_SESSION"
	codeAuthenticationFailed  = "AUTHENTICATION_FAILED"
	codeSessionCreationFailed = "SESSION_CREATION_FAILED"
)

// Config holds configuration for the MCP server.
type Config struct {
	Store    *session.Store
	Resolver auth.Resolver
	Logger   *slog.Logger
	Version  string
}

// Server implements the MCP Streamable HTTP endpoint for the ANP bridge.
// Every request passes the gatekeeper before any tool logic runs: a
// presented session id must resolve to a live session, and a request without
// one is authenticated and given a new session whose id is returned in the
// response headers.
type Server struct {
	store    *session.Store
	resolver auth.Resolver
	logger   *slog.Logger
	version  string
}

// NewServer creates a new MCP server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("session store is required")
	}
	if cfg.Resolver == nil {
		return nil, errors.New("credential resolver is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	return &Server{
		store:    cfg.Store,
		resolver: cfg.Resolver,
		logger:   logger,
		version:  version,
	}, nil
}

// RegisterRoutes registers the MCP endpoint on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
}

// handleMCP is the single MCP endpoint supporting POST and DELETE per the
// Streamable HTTP transport spec.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handlePost(w, r)
	case http.MethodGet:
		// We don't support server-initiated SSE streams
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	case http.MethodDelete:
		s.handleDelete(w, r)
	default:
		w.Header().Set("Allow", "POST, DELETE")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleDelete terminates a session per the Streamable HTTP spec.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(SessionHeader)
	if sessionID == "" {
		http.Error(w, "Bad Request: missing "+SessionHeader, http.StatusBadRequest)
		return
	}

	if s.store.Get(sessionID) == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	s.store.Remove(sessionID)
	s.logger.Info("MCP session terminated", "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// gatekeep resolves the request to a session before any tool logic runs.
// A presented session id that does not resolve is rejected, never silently
// replaced with a fresh session. When a new session is created its id is set
// on the response headers, exposed through the CORS allow-list so
// intermediate layers do not strip it.
func (s *Server) gatekeep(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if sessionID := r.Header.Get(SessionHeader); sessionID != "" {
		sess := s.store.Get(sessionID)
		if sess == nil {
			s.logger.Warn("invalid session id presented", "session_id", sessionID)
			s.writeRejection(w, http.StatusUnauthorized, codeInvalidSession, "Session not found or expired")
			return nil, false
		}
		return sess, true
	}

	token, ok := auth.TokenFromRequest(r)
	if !ok {
		s.logger.Warn("malformed authorization header")
		s.writeRejection(w, http.StatusUnauthorized, codeAuthenticationFailed, "Authentication failed")
		return nil, false
	}

	cred, err := s.resolver.Resolve(r.Context(), token)
	if err != nil {
		s.logger.Warn("authentication failed", "error", err)
		s.writeRejection(w, http.StatusUnauthorized, codeAuthenticationFailed, "Authentication failed")
		return nil, false
	}

	sess := s.store.Create(cred)
	if _, _, err := sess.Clients(); err != nil {
		// Bad credential paths from a misconfigured resolver. Don't leave a
		// half-initialized record behind.
		s.store.Remove(sess.ID)
		s.logger.Error("session creation failed", "error", err)
		s.writeRejection(w, http.StatusInternalServerError, codeSessionCreationFailed, err.Error())
		return nil, false
	}

	w.Header().Set(SessionHeader, sess.ID)
	w.Header().Set("Access-Control-Expose-Headers", SessionHeader)
	s.logger.Info("session created for new client", "session_id", sess.ID)
	return sess, true
}

// handlePost processes JSON-RPC messages sent via HTTP POST.
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	protoVersion := r.Header.Get("Mcp-Protocol-Version")

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	isInitialize := req.Method == "initialize"
	isNotification := len(req.ID) == 0 || string(req.ID) == "null"

	// Validate protocol version header (not required on initialize)
	if !isInitialize && protoVersion != "" {
		if !supportedProtocolVersions[protoVersion] {
			http.Error(w, "Bad Request: unsupported MCP-Protocol-Version", http.StatusBadRequest)
			return
		}
	}

	// Authenticate or resolve the session before any method dispatch.
	sess, ok := s.gatekeep(w, r)
	if !ok {
		return
	}
	ctx := session.WithSession(r.Context(), sess)

	s.logger.Debug("MCP request",
		"method", req.Method,
		"is_notification", isNotification,
		"session_id", sess.ID,
	)

	// Handle notifications: accept and return HTTP 202 with no body
	if isNotification {
		if strings.HasPrefix(req.Method, "notifications/") {
			s.logger.Debug("accepted MCP notification", "method", req.Method)
		} else {
			s.logger.Warn("received notification for non-notification method", "method", req.Method)
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Route to appropriate handler
	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(ctx, w, req)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize handles the MCP initialize handshake.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	result := map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "anp-bridge",
			"version": s.version,
		},
		"instructions": serverInstructions,
	}
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList handles tools/list requests.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	result := MCPListToolsResult{Tools: toolDefinitions()}

	s.logger.Debug("tools/list", "count", len(result.Tools))
	s.sendJSONRPCResult(w, req.ID, result)
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}

// writeRejection emits the gatekeeper's structured rejection payload.
func (s *Server) writeRejection(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode rejection payload", "error", err)
	}
}
