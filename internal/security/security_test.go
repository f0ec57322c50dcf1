package security_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/security"
)

func newKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

var opts = security.TokenOptions{Issuer: "soulsync-auth", Audience: "soulsync", TTL: time.Hour, ClockSkew: 30 * time.Second}

func TestTokens_RoundTrip(t *testing.T) {
	key := newKey(t)

	tok, err := security.NewSigner(key, opts).Issue("user-1", "Ann")
	require.NoError(t, err)

	verifier := security.NewVerifier(&key.PublicKey, opts)
	uid, err := verifier.VerifyAccessToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", uid)

	claims, err := verifier.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "Ann", claims.Name)
}

func TestTokens_Rejects(t *testing.T) {
	key := newKey(t)
	other := newKey(t)

	issue := func(priv *rsa.PrivateKey, o security.TokenOptions, sub string) string {
		tok, err := security.NewSigner(priv, o).Issue(sub, "")
		require.NoError(t, err)
		return tok
	}
	v := security.NewVerifier(&key.PublicKey, opts)

	bad := opts
	bad.Issuer = "other"
	_, err := v.VerifyAccessToken(issue(key, bad, "u"))
	assert.ErrorIs(t, err, security.ErrInvalidIssuer)

	bad = opts
	bad.Audience = "other"
	_, err = v.VerifyAccessToken(issue(key, bad, "u"))
	assert.ErrorIs(t, err, security.ErrInvalidAudience)

	_, err = v.VerifyAccessToken(issue(other, opts, "u"))
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	_, err = v.VerifyAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, security.ErrInvalidToken)

	_, err = security.NewSigner(key, opts).Issue(" ", "")
	assert.ErrorIs(t, err, security.ErrInvalidSubject)
}

func TestTokens_ClockSkew(t *testing.T) {
	key := newKey(t)
	issuedAt := time.Unix(1_700_000_000, 0)
	tok, err := security.NewSigner(key, opts).WithClock(func() time.Time { return issuedAt }).Issue("u", "")
	require.NoError(t, err)

	at := func(d time.Duration) error {
		v := security.NewVerifier(&key.PublicKey, opts).WithClock(func() time.Time { return issuedAt.Add(d) })
		_, err := v.VerifyAccessToken(tok)
		return err
	}

	assert.NoError(t, at(0))
	assert.NoError(t, at(time.Hour+20*time.Second))
	assert.ErrorIs(t, at(time.Hour+time.Minute), security.ErrTokenExpired)
	assert.NoError(t, at(-20*time.Second))
	assert.ErrorIs(t, at(-time.Minute), security.ErrTokenNotYetValid)
}

func TestIssueWithoutPrivateKey(t *testing.T) {
	key := newKey(t)
	_, err := security.NewVerifier(&key.PublicKey, opts).Issue("u", "")
	assert.Error(t, err)
}

func TestLoadKeysFromPEM(t *testing.T) {
	key := newKey(t)
	dir := t.TempDir()

	privPath := filepath.Join(dir, "private.pem")
	require.NoError(t, os.WriteFile(privPath, pem.EncodeToMemory(&pem.Block{
		Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(pubPath, pem.EncodeToMemory(&pem.Block{
		Type: "PUBLIC KEY", Bytes: pubDER,
	}), 0o600))

	priv, err := security.LoadRSAPrivateKey(privPath)
	require.NoError(t, err)
	assert.True(t, priv.Equal(key))

	pub, err := security.LoadRSAPublicKey(pubPath)
	require.NoError(t, err)
	assert.True(t, pub.Equal(&key.PublicKey))

	_, err = security.LoadRSAPublicKey(filepath.Join(dir, "missing.pem"))
	assert.Error(t, err)
}

func TestRoomCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		code, err := security.RoomCode()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.Contains(t, security.CodeAlphabet, string(r))
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 45)

	_, err := security.RandomString(0, "ab")
	assert.Error(t, err)
}
