// ABOUTME: DID credential loading and DIDWBA token generation for outbound ANP requests.
// ABOUTME: Signs RS256 JWT-style tokens bound to a target URL with a 5 minute lifetime.

package didauth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors
var (
	ErrDocumentNotFound = errors.New("did document not found")
	ErrInvalidDocument  = errors.New("invalid did document")
	ErrInvalidKey       = errors.New("invalid private key")
)

// tokenLifetime is how long a generated DIDWBA token remains valid.
const tokenLifetime = 5 * time.Minute

// UserAgent is sent on all outbound ANP requests.
const UserAgent = "anp-bridge/1.0"

// Credential identifies the DID identity a session signs requests with.
// It is a value object: immutable once created.
type Credential struct {
	DocumentPath   string
	PrivateKeyPath string
}

// Document is a parsed DID document. Only the fields the bridge needs are
// decoded; the full document is retained for callers that want it.
type Document struct {
	ID  string
	Raw map[string]any
}

// Identity is a loaded, validated credential: the DID document plus the
// parsed signing key. Construct with Load.
type Identity struct {
	Document *Document
	key      *rsa.PrivateKey
}

// Load reads and validates the DID document and private key named by cred.
func Load(cred Credential) (*Identity, error) {
	doc, err := loadDocument(cred.DocumentPath)
	if err != nil {
		return nil, err
	}

	key, err := loadPrivateKey(cred.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	return &Identity{Document: doc, key: key}, nil
}

func loadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, path)
		}
		return nil, fmt.Errorf("reading did document: %w", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	id, _ := raw["id"].(string)
	if id == "" {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidDocument)
	}

	return &Document{ID: id, Raw: raw}, nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: not PEM encoded", ErrInvalidKey)
	}

	// PKCS#1 first, then PKCS#8
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
	}
	return key, nil
}

// DID returns the identity's DID identifier.
func (i *Identity) DID() string {
	return i.Document.ID
}

// Token generates a DIDWBA auth token bound to the target URL.
func (i *Identity) Token(targetURL string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss": i.Document.ID,
		"sub": i.Document.ID,
		"aud": targetURL,
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["typ"] = "DIDWBA"

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Headers returns the auth headers to attach to an outbound ANP request
// targeting the given URL.
func (i *Identity) Headers(targetURL string) (map[string]string, error) {
	token, err := i.Token(targetURL)
	if err != nil {
		return nil, err
	}
	return map[string]string{
		"User-Agent":    UserAgent,
		"Authorization": "DIDWBA " + token,
		"X-DID-Subject": i.Document.ID,
	}, nil
}
