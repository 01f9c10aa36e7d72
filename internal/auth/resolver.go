// ABOUTME: Credential resolvers turning inbound bearer tokens into DID credentials.
// ABOUTME: Three strategies: static default, fixed-token match, remote verification.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/anpkit/anp-bridge/internal/didauth"
)

// Resolver errors. ErrInvalidKey and ErrAuthService both wrap ErrAuthFailed
// so callers can treat every resolution failure uniformly with errors.Is.
var (
	ErrAuthFailed  = errors.New("authentication failed")
	ErrInvalidKey  = fmt.Errorf("%w: invalid or expired API key", ErrAuthFailed)
	ErrAuthService = fmt.Errorf("%w: auth service error", ErrAuthFailed)
)

// Resolver turns an inbound token into the DID credential a session will
// sign requests with. Every failure mode maps to an error wrapping
// ErrAuthFailed; a resolver never panics across this boundary.
type Resolver interface {
	Resolve(ctx context.Context, token string) (didauth.Credential, error)
}

// StaticResolver ignores the token and always returns one well-known
// credential. Used when no access control is desired.
type StaticResolver struct {
	Credential didauth.Credential
}

// Resolve returns the static credential regardless of token value.
func (r *StaticResolver) Resolve(_ context.Context, _ string) (didauth.Credential, error) {
	return r.Credential, nil
}

// FixedTokenResolver accepts exactly one configured secret. The comparison
// is an exact string match with no normalization.
type FixedTokenResolver struct {
	Secret     string
	Credential didauth.Credential
	Logger     *slog.Logger
}

// Resolve returns the credential iff token equals the configured secret.
func (r *FixedTokenResolver) Resolve(_ context.Context, token string) (didauth.Credential, error) {
	if token != r.Secret {
		if r.Logger != nil {
			r.Logger.Warn("fixed token mismatch")
		}
		return didauth.Credential{}, fmt.Errorf("%w: token mismatch", ErrAuthFailed)
	}
	return r.Credential, nil
}

// verifyResponse is the JSON body the verification endpoint returns on 200.
type verifyResponse struct {
	DID            string `json:"did"`
	DIDDocPath     string `json:"did_doc_path"`
	PrivatePEMPath string `json:"private_pem_path"`
}

// RemoteResolver verifies tokens against an external verification endpoint,
// sending the token in a configurable header. A 200 with a well-formed
// payload yields a credential; 401 means the key is bad; every other status,
// a malformed payload, or a transport failure resolves as failure, never as
// success.
type RemoteResolver struct {
	VerifyURL string
	Header    string // header carrying the token, e.g. "X-API-Key"
	Client    *http.Client
	Logger    *slog.Logger
	Attempts  int // retry attempts for transient failures (default 3)

	backoffBase time.Duration
}

// NewRemoteResolver creates a remote resolver with a bounded timeout.
func NewRemoteResolver(verifyURL string, timeout time.Duration, logger *slog.Logger) *RemoteResolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteResolver{
		VerifyURL:   verifyURL,
		Header:      "X-API-Key",
		Client:      &http.Client{Timeout: timeout},
		Logger:      logger,
		Attempts:    3,
		backoffBase: time.Second,
	}
}

// retryable statuses for the verification call. 401 is a hard failure and
// never retried.
func isRetryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Resolve verifies the token remotely and returns the credential the
// endpoint locates.
func (r *RemoteResolver) Resolve(ctx context.Context, token string) (didauth.Credential, error) {
	if token == "" {
		return didauth.Credential{}, fmt.Errorf("%w: empty token", ErrAuthFailed)
	}

	resp, err := r.call(ctx, token)
	if err != nil {
		r.Logger.Error("auth verification request failed", "error", err)
		return didauth.Credential{}, fmt.Errorf("%w: %v", ErrAuthService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		r.Logger.Warn("invalid api key")
		return didauth.Credential{}, ErrInvalidKey
	}
	if resp.StatusCode != http.StatusOK {
		r.Logger.Error("auth service returned unexpected status", "status", resp.StatusCode)
		return didauth.Credential{}, fmt.Errorf("%w: status %d", ErrAuthService, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return didauth.Credential{}, fmt.Errorf("%w: reading body: %v", ErrAuthService, err)
	}

	var payload verifyResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		r.Logger.Error("auth response parse error", "error", err)
		return didauth.Credential{}, fmt.Errorf("%w: invalid response body", ErrAuthService)
	}
	if payload.DID == "" || payload.DIDDocPath == "" || payload.PrivatePEMPath == "" {
		r.Logger.Error("auth response missing required fields")
		return didauth.Credential{}, fmt.Errorf("%w: incomplete response", ErrAuthService)
	}

	r.Logger.Info("auth ok", "did", payload.DID)
	return didauth.Credential{
		DocumentPath:   payload.DIDDocPath,
		PrivateKeyPath: payload.PrivatePEMPath,
	}, nil
}

// call performs the verification GET with jittered exponential backoff on
// retryable statuses and transport errors.
func (r *RemoteResolver) call(ctx context.Context, token string) (*http.Response, error) {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	header := r.Header
	if header == "" {
		header = "X-API-Key"
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.VerifyURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(header, token)

		resp, err := r.Client.Do(req)
		if err == nil && !isRetryable(resp.StatusCode) {
			return resp, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			resp.Body.Close()
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		base := r.backoffBase
		if base <= 0 {
			base = time.Second
		}
		// jittered exponential backoff: 2^i + [0,1) units
		backoff := time.Duration((float64(int(1)<<i) + rand.Float64()) * float64(base))
		r.Logger.Warn("auth call retrying", "attempt", i+1, "error", lastErr, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
