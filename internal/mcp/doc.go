// Package mcp implements the Model Context Protocol server for the ANP bridge.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This
// package provides an MCP-compatible HTTP server that exposes the bridge's
// ANP tools (anp.fetchDoc, anp.invokeOpenRPC, anp.setAuth) to external AI
// clients.
//
// # Protocol
//
// The server uses JSON-RPC 2.0 over HTTP POST following the MCP Streamable
// HTTP transport. Key endpoints:
//
//   - POST /mcp - JSON-RPC requests (initialize, tools/list, tools/call)
//   - DELETE /mcp - session termination
//
// # Sessions and Authentication
//
// Every request is gated on a session. A request carrying Mcp-Session-Id
// must name a live session or it is rejected with 401; a request without one
// is authenticated (X-API-Key or Authorization: Bearer), a session is
// created with the resolved DID credential, and the new id is returned in
// the Mcp-Session-Id response header. Each session owns its own document and
// RPC clients so credentials never bleed between clients.
//
// # Tool Results
//
// Tool calls always return parseable JSON: on success an {ok: true, ...}
// envelope, on failure {ok: false, error: {code, message}}. Downstream ANP
// failures are tool-level errors and leave the session valid.
package mcp
