package certificate

import (
	"path/filepath"
	"testing"

	"smallbiznis-licensing/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestLoadKeyRingGeneratesAndReloads(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Certificate.PrivateKeyPath = filepath.Join(dir, "keys", "signing.pem")
	cfg.Certificate.PublicKeyPath = filepath.Join(dir, "keys", "signing.pub.pem")

	_, err := LoadKeyRing(cfg)
	require.Error(t, err)

	cfg.Certificate.AutoGenerateKey = true
	first, err := LoadKeyRing(cfg)
	require.NoError(t, err)
	require.True(t, first.CanSign())

	again, err := LoadKeyRing(cfg)
	require.NoError(t, err)
	require.Equal(t, first.KeyID(), again.KeyID())

	jwks := again.JWKS()
	require.Len(t, jwks.Keys, 1)
	require.Equal(t, first.KeyID(), jwks.Keys[0].KeyID)
	require.True(t, jwks.Keys[0].IsPublic())
}

func TestLoadKeyRingFromPEMValues(t *testing.T) {
	key := newKey(t)
	privatePEM, err := EncodePrivateKeyPEM(key)
	require.NoError(t, err)
	publicPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Certificate.PrivateKeyPath = ""
	cfg.Certificate.PublicKeyPath = ""
	cfg.Certificate.PublicKeyPEM = string(publicPEM)

	verifyOnly, err := LoadKeyRing(cfg)
	require.NoError(t, err)
	require.False(t, verifyOnly.CanSign())

	cfg.Certificate.PrivateKeyPEM = string(privatePEM)
	ring, err := LoadKeyRing(cfg)
	require.NoError(t, err)
	require.True(t, ring.CanSign())
	require.Equal(t, verifyOnly.KeyID(), ring.KeyID())

	c := sampleCertificate()
	c.Signature, err = ring.Sign(c)
	require.NoError(t, err)
	ok, _ := verifyOnly.Verify(c)
	require.True(t, ok)
}

func TestNewKeyRingRejectsMismatchedPair(t *testing.T) {
	_, err := NewKeyRing(newKey(t), &newKey(t).PublicKey)
	require.Error(t, err)
}
