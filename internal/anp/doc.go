// Package anp provides the outbound clients for the Agent Network Protocol:
// document fetching with link extraction, and OpenRPC (JSON-RPC 2.0) method
// invocation. All requests are signed with the owning session's DID identity.
package anp
