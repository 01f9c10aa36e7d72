// ABOUTME: Tests for DID credential loading and DIDWBA token generation.
// ABOUTME: Uses throwaway RSA keys and DID documents written to temp dirs.

package didauth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeCredential writes a valid DID document and RSA private key into dir
// and returns the credential pointing at them plus the public key.
func writeCredential(t *testing.T, dir, did string) (Credential, *rsa.PublicKey) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	keyPath := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	docPath := filepath.Join(dir, "did.json")
	doc := `{"id": "` + did + `", "verificationMethod": []}`
	require.NoError(t, os.WriteFile(docPath, []byte(doc), 0o644))

	return Credential{DocumentPath: docPath, PrivateKeyPath: keyPath}, &key.PublicKey
}

func TestLoad(t *testing.T) {
	cred, _ := writeCredential(t, t.TempDir(), "did:wba:example.com:alice")

	identity, err := Load(cred)
	require.NoError(t, err)
	assert.Equal(t, "did:wba:example.com:alice", identity.DID())
	assert.Equal(t, "did:wba:example.com:alice", identity.Document.ID)
}

func TestLoad_MissingDocument(t *testing.T) {
	cred, _ := writeCredential(t, t.TempDir(), "did:wba:example.com:alice")
	cred.DocumentPath = filepath.Join(t.TempDir(), "nope.json")

	_, err := Load(cred)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestLoad_InvalidDocument(t *testing.T) {
	dir := t.TempDir()
	cred, _ := writeCredential(t, dir, "did:wba:example.com:alice")

	require.NoError(t, os.WriteFile(cred.DocumentPath, []byte("not json"), 0o644))
	_, err := Load(cred)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestLoad_DocumentMissingID(t *testing.T) {
	dir := t.TempDir()
	cred, _ := writeCredential(t, dir, "did:wba:example.com:alice")

	require.NoError(t, os.WriteFile(cred.DocumentPath, []byte(`{"verificationMethod": []}`), 0o644))
	_, err := Load(cred)
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestLoad_InvalidKey(t *testing.T) {
	dir := t.TempDir()
	cred, _ := writeCredential(t, dir, "did:wba:example.com:alice")

	require.NoError(t, os.WriteFile(cred.PrivateKeyPath, []byte("garbage"), 0o600))
	_, err := Load(cred)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestLoad_PKCS8Key(t *testing.T) {
	dir := t.TempDir()
	cred, _ := writeCredential(t, dir, "did:wba:example.com:alice")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	require.NoError(t, os.WriteFile(cred.PrivateKeyPath, keyPEM, 0o600))

	_, err = Load(cred)
	assert.NoError(t, err)
}

func TestToken(t *testing.T) {
	cred, pub := writeCredential(t, t.TempDir(), "did:wba:example.com:alice")
	identity, err := Load(cred)
	require.NoError(t, err)

	target := "https://agent.example.com/ad.json"
	tokenString, err := identity.Token(target)
	require.NoError(t, err)

	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		return pub, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "DIDWBA", parsed.Header["typ"])

	claims := parsed.Claims.(jwt.MapClaims)
	assert.Equal(t, "did:wba:example.com:alice", claims["iss"])
	assert.Equal(t, "did:wba:example.com:alice", claims["sub"])
	aud, err := claims.GetAudience()
	require.NoError(t, err)
	assert.Equal(t, jwt.ClaimStrings{target}, aud)

	exp, err := claims.GetExpirationTime()
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(tokenLifetime), exp.Time, 10*time.Second)
}

func TestHeaders(t *testing.T) {
	cred, _ := writeCredential(t, t.TempDir(), "did:wba:example.com:alice")
	identity, err := Load(cred)
	require.NoError(t, err)

	headers, err := identity.Headers("https://agent.example.com/ad.json")
	require.NoError(t, err)

	assert.Equal(t, "did:wba:example.com:alice", headers["X-DID-Subject"])
	assert.Equal(t, UserAgent, headers["User-Agent"])
	assert.Contains(t, headers["Authorization"], "DIDWBA ")
}
