package auth_test

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/xray/internal/auth"
)

func TestHashAndVerifyKey(t *testing.T) {
	hash, err := auth.HashKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyKeyRejectsMalformedHash(t *testing.T) {
	_, err := auth.VerifyKey("any", "not-a-valid-hash")
	require.Error(t, err)
}

func TestRolePermissions(t *testing.T) {
	assert.True(t, auth.RoleAdmin.Valid())
	assert.True(t, auth.RoleViewer.Valid())
	assert.False(t, auth.Role("root").Valid())

	assert.True(t, auth.RoleAdmin.CanWrite())
	assert.False(t, auth.RoleViewer.CanWrite())
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := mgr.IssueToken(auth.RoleAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, claims.Role)
	assert.Equal(t, "xray", claims.Issuer)
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	_, _, err = mgr.IssueToken(auth.Role("superuser"))
	require.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	mgr, err := auth.NewJWTManager("", "", -1*time.Minute)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(auth.RoleViewer)
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateRejectsForeignKey(t *testing.T) {
	issuer, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)
	verifier, err := auth.NewJWTManager("", "", 1*time.Hour)
	require.NoError(t, err)

	token, _, err := issuer.IssueToken(auth.RoleAdmin)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	require.Error(t, err)
}

// writeKeyPair writes a fresh Ed25519 key pair as PEM files into dir and
// returns their paths plus the raw private key for forging tokens.
func writeKeyPair(t *testing.T, dir string) (privPath, pubPath string, priv ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)

	privPath = filepath.Join(dir, "jwt_private.pem")
	pubPath = filepath.Join(dir, "jwt_public.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER}), 0o600))
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}), 0o600))
	return privPath, pubPath, priv
}

func TestJWTManagerFromPEMFiles(t *testing.T) {
	privPath, pubPath, _ := writeKeyPair(t, t.TempDir())

	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(auth.RoleViewer)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleViewer, claims.Role)
}

func TestJWTManagerRejectsMismatchedKeyPair(t *testing.T) {
	dir := t.TempDir()
	privPath, _, _ := writeKeyPair(t, dir)

	otherDir := t.TempDir()
	_, otherPubPath, _ := writeKeyPair(t, otherDir)

	_, err := auth.NewJWTManager(privPath, otherPubPath, time.Hour)
	require.Error(t, err)
}

func TestValidateRejectsWrongSigningMethod(t *testing.T) {
	privPath, pubPath, _ := writeKeyPair(t, t.TempDir())
	mgr, err := auth.NewJWTManager(privPath, pubPath, time.Hour)
	require.NoError(t, err)

	// HMAC-signed token with an arbitrary secret must be rejected
	// before signature verification is even attempted.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:  "admin",
		Issuer:   "xray",
		Audience: jwt.ClaimStrings{"xray"},
	})
	tokenStr, err := forged.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = mgr.ValidateToken(tokenStr)
	require.Error(t, err)
}
