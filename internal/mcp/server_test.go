// ABOUTME: Tests for the MCP Streamable HTTP endpoint and its session gatekeeper.
// ABOUTME: Exercises the full path from HTTP request through tool execution.

package mcp

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/anpkit/anp-bridge/internal/auth"
	"github.com/anpkit/anp-bridge/internal/didauth"
	"github.com/anpkit/anp-bridge/internal/session"
)

// failingResolver rejects every token.
type failingResolver struct{}

func (failingResolver) Resolve(_ context.Context, _ string) (didauth.Credential, error) {
	return didauth.Credential{}, auth.ErrInvalidKey
}

// testCredential writes a loadable DID document and RSA key into a temp dir.
func testCredential(t *testing.T, did string) didauth.Credential {
	t.Helper()
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	keyPath := filepath.Join(dir, "key.pem")
	if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
		t.Fatalf("writing key: %v", err)
	}

	docPath := filepath.Join(dir, "did.json")
	if err := os.WriteFile(docPath, []byte(`{"id": "`+did+`"}`), 0o644); err != nil {
		t.Fatalf("writing did document: %v", err)
	}

	return didauth.Credential{DocumentPath: docPath, PrivateKeyPath: keyPath}
}

// newTestServer wires a store and server behind a mux.
func newTestServer(t *testing.T, resolver auth.Resolver) (*http.ServeMux, *session.Store) {
	t.Helper()
	store := session.NewStore(session.StoreConfig{
		Timeout:    30 * time.Minute,
		ANPTimeout: 5 * time.Second,
	})
	server, err := NewServer(Config{Store: store, Resolver: resolver, Version: "test"})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	return mux, store
}

// doRPC posts a JSON-RPC request to /mcp and returns the recorder.
func doRPC(t *testing.T, mux *http.ServeMux, sessionID string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

// decodeResponse decodes a JSON-RPC response body.
func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

// initSession runs the initialize handshake and returns the new session id.
func initSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	rr := doRPC(t, mux, "", `{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("initialize returned status %d: %s", rr.Code, rr.Body.String())
	}
	id := rr.Header().Get(SessionHeader)
	if id == "" {
		t.Fatal("initialize response missing session header")
	}
	return id
}

// rejectionCode pulls the error code out of a gatekeeper rejection body.
func rejectionCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode rejection body: %v", err)
	}
	return payload.Error.Code
}

func TestInitialize(t *testing.T) {
	mux, store := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})

	rr := doRPC(t, mux, "", `{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if rr.Header().Get(SessionHeader) == "" {
		t.Error("response missing session header")
	}
	if rr.Header().Get("Access-Control-Expose-Headers") != SessionHeader {
		t.Error("session header not exposed for CORS")
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 session, got %d", store.Len())
	}

	resp := decodeResponse(t, rr)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("unexpected result type %T", resp.Result)
	}
	if result["protocolVersion"] != latestProtocolVersion {
		t.Errorf("expected protocol version %s, got %v", latestProtocolVersion, result["protocolVersion"])
	}
	serverInfo, _ := result["serverInfo"].(map[string]any)
	if serverInfo["name"] != "anp-bridge" {
		t.Errorf("unexpected server name %v", serverInfo["name"])
	}
	if result["instructions"] == "" {
		t.Error("expected non-empty instructions")
	}
}

func TestSessionReuse(t *testing.T) {
	mux, store := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})

	id := initSession(t, mux)

	rr := doRPC(t, mux, id, `{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	// Reusing a session must not mint a second one.
	if store.Len() != 1 {
		t.Errorf("expected 1 session, got %d", store.Len())
	}
	if got := rr.Header().Get(SessionHeader); got != "" {
		t.Errorf("reuse response should not carry a session header, got %s", got)
	}
}

func TestToolsList(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	rr := doRPC(t, mux, id, `{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}`)
	resp := decodeResponse(t, rr)
	raw, _ := json.Marshal(resp.Result)
	var result MCPListToolsResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode tools/list result: %v", err)
	}

	if len(result.Tools) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(result.Tools))
	}
	want := map[string]bool{ToolFetchDoc: true, ToolInvokeOpenRPC: true, ToolSetAuth: true}
	for _, tool := range result.Tools {
		if !want[tool.Name] {
			t.Errorf("unexpected tool %s", tool.Name)
		}
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %s missing input schema", tool.Name)
		}
	}
}

func TestGatekeeper_UnknownSessionID(t *testing.T) {
	mux, store := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})

	rr := doRPC(t, mux, "e2a6c1f0-0000-0000-0000-000000000000",
		`{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if code := rejectionCode(t, rr); code != codeInvalidSession {
		t.Errorf("expected code %s, got %s", codeInvalidSession, code)
	}
	// A stale id must never be silently replaced with a fresh session.
	if store.Len() != 0 {
		t.Errorf("expected no sessions, got %d", store.Len())
	}
}

func TestGatekeeper_FixedToken(t *testing.T) {
	cred := testCredential(t, "did:wba:example.com:alice")
	mux, store := newTestServer(t, &auth.FixedTokenResolver{Secret: "s3cret", Credential: cred})

	t.Run("missing token rejected", func(t *testing.T) {
		rr := doRPC(t, mux, "", `{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
		if code := rejectionCode(t, rr); code != codeAuthenticationFailed {
			t.Errorf("expected code %s, got %s", codeAuthenticationFailed, code)
		}
	})

	t.Run("wrong token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp",
			bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`))
		req.Header.Set("X-API-Key", "wrong")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("api key header accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp",
			bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`))
		req.Header.Set("X-API-Key", "s3cret")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if rr.Header().Get(SessionHeader) == "" {
			t.Error("response missing session header")
		}
	})

	t.Run("bearer token accepted", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/mcp",
			bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`))
		req.Header.Set("Authorization", "Bearer s3cret")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	if store.Len() != 2 {
		t.Errorf("expected 2 sessions after the accepted requests, got %d", store.Len())
	}
}

func TestGatekeeper_MalformedAuthHeader(t *testing.T) {
	// Even a resolver that accepts anything never sees a malformed header.
	mux, store := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})

	for _, header := range []string{"Basic xyz", "Bearer ", "bearer abc"} {
		req := httptest.NewRequest(http.MethodPost, "/mcp",
			bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`))
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status 401, got %d", header, rr.Code)
		}
	}
	if store.Len() != 0 {
		t.Errorf("expected no sessions, got %d", store.Len())
	}
}

func TestGatekeeper_ResolverFailure(t *testing.T) {
	mux, store := newTestServer(t, failingResolver{})

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`))
	req.Header.Set("X-API-Key", "whatever")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
	if code := rejectionCode(t, rr); code != codeAuthenticationFailed {
		t.Errorf("expected code %s, got %s", codeAuthenticationFailed, code)
	}
	if store.Len() != 0 {
		t.Errorf("expected no sessions after failed auth, got %d", store.Len())
	}
}

func TestGatekeeper_SessionCreationFailed(t *testing.T) {
	// Resolver succeeds but hands back credential paths that don't exist.
	mux, store := newTestServer(t, &auth.StaticResolver{
		Credential: didauth.Credential{
			DocumentPath:   "/nonexistent/did.json",
			PrivateKeyPath: "/nonexistent/key.pem",
		},
	})

	rr := doRPC(t, mux, "", `{"jsonrpc": "2.0", "id": 1, "method": "initialize"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
	if code := rejectionCode(t, rr); code != codeSessionCreationFailed {
		t.Errorf("expected code %s, got %s", codeSessionCreationFailed, code)
	}
	// The half-initialized record must not linger.
	if store.Len() != 0 {
		t.Errorf("expected no sessions, got %d", store.Len())
	}
}

func TestNotificationsAccepted(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	rr := doRPC(t, mux, id, `{"jsonrpc": "2.0", "method": "notifications/initialized"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}
	if rr.Body.Len() != 0 {
		t.Errorf("expected empty body, got %s", rr.Body.String())
	}
}

func TestDeleteSession(t *testing.T) {
	mux, store := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	del := func(sessionID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
		if sessionID != "" {
			req.Header.Set(SessionHeader, sessionID)
		}
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		return rr
	}

	if rr := del(id); rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if store.Len() != 0 {
		t.Errorf("expected no sessions after delete, got %d", store.Len())
	}

	if rr := del(id); rr.Code != http.StatusNotFound {
		t.Errorf("second delete: expected status 404, got %d", rr.Code)
	}
	if rr := del(""); rr.Code != http.StatusBadRequest {
		t.Errorf("delete without session header: expected status 400, got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rr.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})

	rr := doRPC(t, mux, "", `{not json`)
	resp := decodeResponse(t, rr)
	if resp.Error == nil || resp.Error.Code != JSONRPCParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	rr := doRPC(t, mux, id, `{"jsonrpc": "2.0", "id": 2, "method": "resources/list"}`)
	resp := decodeResponse(t, rr)
	if resp.Error == nil || resp.Error.Code != JSONRPCMethodNotFound {
		t.Errorf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 2, "method": "tools/list"}`))
	req.Header.Set(SessionHeader, id)
	req.Header.Set("Mcp-Protocol-Version", "1999-01-01")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", rr.Code)
	}
}

// callTool runs tools/call and returns the decoded tool result.
func callTool(t *testing.T, mux *http.ServeMux, sessionID, name string, args any) MCPCallToolResult {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      99,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}

	rr := doRPC(t, mux, sessionID, string(body))
	if rr.Code != http.StatusOK {
		t.Fatalf("tools/call returned status %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeResponse(t, rr)
	if resp.Error != nil {
		t.Fatalf("unexpected JSON-RPC error: %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var result MCPCallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatalf("failed to decode tool result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("unexpected tool content: %+v", result.Content)
	}
	return result
}

func TestToolsCall_FetchDoc(t *testing.T) {
	var gotSubject string
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get("X-DID-Subject")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"name": "hotel-agent", "interfaces": [{"url": "/openrpc.json"}]}`))
	}))
	defer agent.Close()

	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	result := callTool(t, mux, id, ToolFetchDoc, map[string]any{"url": agent.URL + "/ad.json"})
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", result.Content[0].Text)
	}

	var envelope struct {
		OK    bool `json:"ok"`
		Links []struct {
			Rel string `json:"rel"`
			URL string `json:"url"`
		} `json:"links"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if !envelope.OK {
		t.Error("expected ok envelope")
	}
	if len(envelope.Links) != 1 || envelope.Links[0].URL != agent.URL+"/openrpc.json" {
		t.Errorf("unexpected links: %+v", envelope.Links)
	}
	if gotSubject != "did:wba:example.com:alice" {
		t.Errorf("fetch did not carry the session DID, got %q", gotSubject)
	}
}

func TestToolsCall_FetchDoc_MissingURL(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	result := callTool(t, mux, id, ToolFetchDoc, map[string]any{})
	if !result.IsError {
		t.Fatal("expected error result")
	}

	var envelope struct {
		OK    bool `json:"ok"`
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.OK || envelope.Error.Code != "INVALID_ARGUMENTS" {
		t.Errorf("unexpected envelope: %s", result.Content[0].Text)
	}
}

func TestToolsCall_FetchDoc_UpstreamError(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer agent.Close()

	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	// An upstream failure is a tool-level error envelope, not a JSON-RPC error.
	result := callTool(t, mux, id, ToolFetchDoc, map[string]any{"url": agent.URL})
	if !result.IsError {
		t.Fatal("expected error result")
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.Error.Code != "ANP_HTTP_ERROR" {
		t.Errorf("expected ANP_HTTP_ERROR, got %s", envelope.Error.Code)
	}
}

func TestToolsCall_InvokeOpenRPC(t *testing.T) {
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			ID     string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode rpc request: %v", err)
		}
		if req.Method != "bookRoom" {
			t.Errorf("unexpected method %s", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc": "2.0", "id": "` + req.ID + `", "result": {"booked": true}}`))
	}))
	defer agent.Close()

	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	result := callTool(t, mux, id, ToolInvokeOpenRPC, map[string]any{
		"endpoint": agent.URL,
		"method":   "bookRoom",
		"params":   map[string]any{"nights": 2},
	})
	if result.IsError {
		t.Fatalf("expected success, got: %s", result.Content[0].Text)
	}

	var envelope struct {
		OK     bool           `json:"ok"`
		Result map[string]any `json:"result"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if !envelope.OK || envelope.Result["booked"] != true {
		t.Errorf("unexpected envelope: %s", result.Content[0].Text)
	}
}

func TestToolsCall_SetAuth(t *testing.T) {
	subjects := make(chan string, 2)
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subjects <- r.Header.Get("X-DID-Subject")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer agent.Close()

	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	if r := callTool(t, mux, id, ToolFetchDoc, map[string]any{"url": agent.URL}); r.IsError {
		t.Fatalf("fetch before setAuth failed: %s", r.Content[0].Text)
	}

	bob := testCredential(t, "did:wba:example.com:bob")
	result := callTool(t, mux, id, ToolSetAuth, map[string]any{
		"didDocumentPath":   bob.DocumentPath,
		"didPrivateKeyPath": bob.PrivateKeyPath,
	})
	if result.IsError {
		t.Fatalf("setAuth failed: %s", result.Content[0].Text)
	}

	var envelope struct {
		OK  bool   `json:"ok"`
		DID string `json:"did"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if !envelope.OK || envelope.DID != "did:wba:example.com:bob" {
		t.Errorf("unexpected setAuth envelope: %s", result.Content[0].Text)
	}

	// Subsequent fetches sign with the replaced credential.
	if r := callTool(t, mux, id, ToolFetchDoc, map[string]any{"url": agent.URL}); r.IsError {
		t.Fatalf("fetch after setAuth failed: %s", r.Content[0].Text)
	}

	if got := <-subjects; got != "did:wba:example.com:alice" {
		t.Errorf("first fetch: expected alice, got %s", got)
	}
	if got := <-subjects; got != "did:wba:example.com:bob" {
		t.Errorf("second fetch: expected bob, got %s", got)
	}
}

func TestToolsCall_SetAuth_BadPaths(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	result := callTool(t, mux, id, ToolSetAuth, map[string]any{
		"didDocumentPath":   "/nonexistent/did.json",
		"didPrivateKeyPath": "/nonexistent/key.pem",
	})
	if !result.IsError {
		t.Fatal("expected error result")
	}

	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &envelope); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if envelope.Error.Code != "AUTH_SETUP_ERROR" {
		t.Errorf("expected AUTH_SETUP_ERROR, got %s", envelope.Error.Code)
	}

	// The bad paths never became the active credential.
	agent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer agent.Close()
	if r := callTool(t, mux, id, ToolFetchDoc, map[string]any{"url": agent.URL}); r.IsError {
		t.Errorf("fetch after rejected setAuth failed: %s", r.Content[0].Text)
	}
}

func TestToolsCall_UnknownTool(t *testing.T) {
	mux, _ := newTestServer(t, &auth.StaticResolver{
		Credential: testCredential(t, "did:wba:example.com:alice"),
	})
	id := initSession(t, mux)

	rr := doRPC(t, mux, id, `{"jsonrpc": "2.0", "id": 2, "method": "tools/call", "params": {"name": "anp.noSuchTool"}}`)
	resp := decodeResponse(t, rr)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("expected invalid-params error, got %+v", resp.Error)
	}
}
