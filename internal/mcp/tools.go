// ABOUTME: ANP bridge tool definitions and handlers for tools/call.
// ABOUTME: anp.fetchDoc, anp.invokeOpenRPC, and anp.setAuth operate on the call's session.

package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/anpkit/anp-bridge/internal/anp"
	"github.com/anpkit/anp-bridge/internal/didauth"
	"github.com/anpkit/anp-bridge/internal/session"
)

// Tool names
const (
	ToolFetchDoc      = "anp.fetchDoc"
	ToolInvokeOpenRPC = "anp.invokeOpenRPC"
	ToolSetAuth       = "anp.setAuth"
)

// toolDefinitions returns the bridge's tool catalog.
func toolDefinitions() []MCPToolInfo {
	return []MCPToolInfo{
		{
			Name: ToolFetchDoc,
			Description: "Fetch and parse an ANP document, extracting followable links. " +
				"This is the only allowed way to access URLs in the ANP ecosystem. " +
				"Returns document content, type information, and discovered links.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "URL of the ANP document to fetch"}
				},
				"required": ["url"]
			}`),
		},
		{
			Name: ToolInvokeOpenRPC,
			Description: "Invoke a method on an OpenRPC endpoint using the JSON-RPC 2.0 protocol. " +
				"Handles structured interaction with ANP agents that expose OpenRPC interfaces.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"endpoint": {"type": "string", "description": "OpenRPC endpoint URL"},
					"method": {"type": "string", "description": "RPC method name to invoke"},
					"params": {"description": "Parameters to pass to the method (object or array)"},
					"id": {"type": "string", "description": "Optional request id for correlation"}
				},
				"required": ["endpoint", "method"]
			}`),
		},
		{
			Name: ToolSetAuth,
			Description: "Set DID-based authentication context for ANP interactions. " +
				"Stores local DID credentials that will be used for subsequent " +
				"fetchDoc and invokeOpenRPC calls.",
			InputSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"didDocumentPath": {"type": "string", "description": "Path to the DID document JSON file"},
					"didPrivateKeyPath": {"type": "string", "description": "Path to the DID private key PEM file"}
				},
				"required": ["didDocumentPath", "didPrivateKeyPath"]
			}`),
		},
	}
}

// fetchDocParams are the arguments for anp.fetchDoc.
type fetchDocParams struct {
	URL string `json:"url"`
}

// invokeOpenRPCParams are the arguments for anp.invokeOpenRPC.
type invokeOpenRPCParams struct {
	Endpoint string `json:"endpoint"`
	Method   string `json:"method"`
	Params   any    `json:"params,omitempty"`
	ID       string `json:"id,omitempty"`
}

// setAuthParams are the arguments for anp.setAuth.
type setAuthParams struct {
	DIDDocumentPath   string `json:"didDocumentPath"`
	DIDPrivateKeyPath string `json:"didPrivateKeyPath"`
}

// handleToolsCall handles tools/call requests against the call's session.
func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}

	if params.Name == "" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	s.logger.Debug("tools/call", "tool_name", params.Name)

	var envelope any
	switch params.Name {
	case ToolFetchDoc:
		envelope = s.runFetchDoc(ctx, args)
	case ToolInvokeOpenRPC:
		envelope = s.runInvokeOpenRPC(ctx, args)
	case ToolSetAuth:
		envelope = s.runSetAuth(ctx, args)
	default:
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}

	text, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "failed to encode tool result", nil)
		return
	}

	isError := false
	if e, ok := envelope.(interface{ failed() bool }); ok {
		isError = e.failed()
	}

	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(text)}},
		IsError: isError,
	})
}

// toolFailure builds the {ok:false, error:{...}} envelope for tool-level errors.
type toolFailure struct {
	OK    bool       `json:"ok"`
	Error *anp.Error `json:"error"`
}

func (toolFailure) failed() bool { return true }

func failure(code, message string) toolFailure {
	return toolFailure{OK: false, Error: &anp.Error{Code: code, Message: message}}
}

// fetchEnvelope and invokeEnvelope let handleToolsCall flag IsError without
// re-decoding the marshaled result.
type fetchEnvelope struct{ anp.FetchResult }

func (e fetchEnvelope) failed() bool { return !e.OK }

type invokeEnvelope struct{ anp.InvokeResult }

func (e invokeEnvelope) failed() bool { return !e.OK }

// sessionClients pulls the call's session and its clients out of the context.
// A missing session is an internal error: the gatekeeper always binds one
// before tool dispatch.
func (s *Server) sessionClients(ctx context.Context) (*anp.DocClient, *anp.RPCClient, *toolFailure) {
	sess := session.FromContext(ctx)
	if sess == nil {
		s.logger.Error("tool invoked without session binding")
		f := failure("NO_SESSION", "No active session found. Please authenticate first.")
		return nil, nil, &f
	}

	doc, rpc, err := sess.Clients()
	if err != nil {
		f := failure(anp.CodeNotInitialized, err.Error())
		return nil, nil, &f
	}
	return doc, rpc, nil
}

func (s *Server) runFetchDoc(ctx context.Context, args json.RawMessage) any {
	var p fetchDocParams
	if err := json.Unmarshal(args, &p); err != nil || p.URL == "" {
		return failure("INVALID_ARGUMENTS", "url is required")
	}

	doc, _, fail := s.sessionClients(ctx)
	if fail != nil {
		return *fail
	}

	s.logger.Info("tool called", "tool_name", ToolFetchDoc, "url", p.URL)
	return fetchEnvelope{doc.Fetch(ctx, p.URL)}
}

func (s *Server) runInvokeOpenRPC(ctx context.Context, args json.RawMessage) any {
	var p invokeOpenRPCParams
	if err := json.Unmarshal(args, &p); err != nil || p.Endpoint == "" || p.Method == "" {
		return failure("INVALID_ARGUMENTS", "endpoint and method are required")
	}

	_, rpc, fail := s.sessionClients(ctx)
	if fail != nil {
		return *fail
	}

	s.logger.Info("tool called", "tool_name", ToolInvokeOpenRPC, "endpoint", p.Endpoint, "method", p.Method)
	return invokeEnvelope{rpc.Invoke(ctx, p.Endpoint, p.Method, p.Params, p.ID)}
}

// setAuthResult is the success envelope for anp.setAuth.
type setAuthResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	DID     string `json:"did,omitempty"`
}

func (setAuthResult) failed() bool { return false }

func (s *Server) runSetAuth(ctx context.Context, args json.RawMessage) any {
	var p setAuthParams
	if err := json.Unmarshal(args, &p); err != nil || p.DIDDocumentPath == "" || p.DIDPrivateKeyPath == "" {
		return failure("INVALID_ARGUMENTS", "didDocumentPath and didPrivateKeyPath are required")
	}

	sess := session.FromContext(ctx)
	if sess == nil {
		s.logger.Error("tool invoked without session binding")
		return failure("NO_SESSION", "No active session found. Please authenticate first.")
	}

	cred := didauth.Credential{
		DocumentPath:   p.DIDDocumentPath,
		PrivateKeyPath: p.DIDPrivateKeyPath,
	}
	// Validate before swapping so a bad path never becomes the active credential.
	identity, err := didauth.Load(cred)
	if err != nil {
		s.logger.Warn("setAuth failed", "session_id", sess.ID, "error", err)
		return failure("AUTH_SETUP_ERROR", err.Error())
	}
	sess.SetCredential(cred)

	s.logger.Info("tool called", "tool_name", ToolSetAuth, "session_id", sess.ID, "did", identity.DID())
	return setAuthResult{
		OK:      true,
		Message: "Authentication context set successfully",
		DID:     identity.DID(),
	}
}
