// ABOUTME: JSON-RPC 2.0 client for invoking methods on OpenRPC-speaking ANP agents.
// ABOUTME: Requests are signed with the session's DID identity.

package anp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/anpkit/anp-bridge/internal/didauth"
)

// RPCClient invokes JSON-RPC 2.0 methods on ANP agent endpoints. Like
// DocClient it is scoped to a single session's credential and safe for
// concurrent use.
type RPCClient struct {
	identity *didauth.Identity
	http     *http.Client
	logger   *slog.Logger
}

// NewRPCClient creates an OpenRPC invocation client bound to the given identity.
func NewRPCClient(identity *didauth.Identity, timeout time.Duration, logger *slog.Logger) *RPCClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCClient{
		identity: identity,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// rpcRequest is the wire form of a JSON-RPC 2.0 call.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Invoke calls method on the endpoint and returns an InvokeResult envelope.
// A missing request id is replaced with a generated uuid.
func (c *RPCClient) Invoke(ctx context.Context, endpoint, method string, params any, requestID string) InvokeResult {
	if requestID == "" {
		requestID = uuid.New().String()
	}

	c.logger.Info("invoking OpenRPC method",
		"endpoint", endpoint,
		"method", method,
		"request_id", requestID,
	)

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      requestID,
	})
	if err != nil {
		return InvokeResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return InvokeResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}
	req.Header.Set("Content-Type", "application/json")

	headers, err := c.identity.Headers(endpoint)
	if err != nil {
		return InvokeResult{OK: false, Error: &Error{Code: CodeRequestError, Message: fmt.Sprintf("signing request: %v", err)}}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("OpenRPC request failed", "endpoint", endpoint, "method", method, "error", err)
		return InvokeResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("OpenRPC endpoint returned error status",
			"endpoint", endpoint,
			"method", method,
			"status", resp.StatusCode,
		)
		return InvokeResult{OK: false, Error: &Error{
			Code:    CodeHTTPError,
			Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, endpoint),
		}}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return InvokeResult{OK: false, Error: &Error{Code: CodeRequestError, Message: err.Error()}}
	}

	var rpcResponse map[string]any
	if err := json.Unmarshal(body, &rpcResponse); err != nil {
		c.logger.Error("invalid JSON from OpenRPC endpoint", "endpoint", endpoint, "error", err)
		return InvokeResult{OK: false, Error: &Error{
			Code:    CodeInvalidResponse,
			Message: "invalid JSON response from server",
		}}
	}

	if rpcErr, ok := rpcResponse["error"]; ok && rpcErr != nil {
		message := "Unknown error"
		if errObj, ok := rpcErr.(map[string]any); ok {
			if m, ok := errObj["message"].(string); ok && m != "" {
				message = m
			}
		}
		c.logger.Warn("OpenRPC method returned error", "endpoint", endpoint, "method", method, "rpc_error", rpcErr)
		return InvokeResult{OK: false, Error: &Error{
			Code:    CodeInvocationFailed,
			Message: "JSON-RPC error: " + message,
			Raw:     rpcErr,
		}}
	}

	c.logger.Info("OpenRPC method invoked", "endpoint", endpoint, "method", method, "request_id", requestID)
	return InvokeResult{OK: true, Result: rpcResponse["result"], Raw: rpcResponse}
}
