// ABOUTME: Auth token extraction from inbound request headers.
// ABOUTME: Prefers X-API-Key, falls back to the Bearer scheme with strict parsing.

package auth

import (
	"net/http"
	"strings"
)

// APIKeyHeader is the preferred header for presenting an API key.
const APIKeyHeader = "X-API-Key"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest pulls the auth token from an inbound request. The API-key
// header wins when both are present. ok is false only when a malformed
// Authorization header was presented; a request with no auth material at all
// returns ("", true) so the resolver can decide whether that is acceptable.
func TokenFromRequest(r *http.Request) (token string, ok bool) {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key, true
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", true
	}

	token, errMsg := extractBearerToken(authHeader)
	if errMsg != "" {
		return "", false
	}
	return token, true
}
