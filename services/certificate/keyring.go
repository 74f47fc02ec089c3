package certificate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"smallbiznis-licensing/pkg/config"

	"github.com/go-jose/go-jose/v4"
	"go.uber.org/zap"
)

// KeyRing holds the certificate signing key pair. A ring without a private
// key can still verify.
type KeyRing struct {
	private *ecdsa.PrivateKey
	public  *ecdsa.PublicKey
	keyID   string
}

func NewKeyRing(private *ecdsa.PrivateKey, public *ecdsa.PublicKey) (*KeyRing, error) {
	if public == nil && private != nil {
		public = &private.PublicKey
	}
	if public == nil {
		return nil, errors.New("certificate verification key is required")
	}
	if public.Curve != elliptic.P256() {
		return nil, errors.New("certificate keys must use P-256")
	}
	if private != nil && !private.PublicKey.Equal(public) {
		return nil, errors.New("certificate private and public keys do not match")
	}

	jwk := jose.JSONWebKey{Key: public}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, err
	}

	return &KeyRing{
		private: private,
		public:  public,
		keyID:   base64.RawURLEncoding.EncodeToString(thumb),
	}, nil
}

func (k *KeyRing) CanSign() bool {
	return k != nil && k.private != nil
}

func (k *KeyRing) KeyID() string {
	return k.keyID
}

func (k *KeyRing) Sign(c *Certificate) (string, error) {
	if !k.CanSign() {
		return "", ErrSigningUnavailable
	}
	return Sign(c, k.private)
}

func (k *KeyRing) Verify(c *Certificate) (bool, string) {
	if k == nil {
		return false, "no verification key configured"
	}
	return Verify(c, k.public)
}

// JWKS publishes the verification key.
func (k *KeyRing) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       k.public,
		KeyID:     k.keyID,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}}}
}

// LoadKeyRing reads the key pair from PEM values (usually Vault secrets),
// then from the configured files, and finally generates a pair into those
// files when AUTO_GENERATE_KEY is set.
func LoadKeyRing(cfg *config.Config) (*KeyRing, error) {
	cc := cfg.Certificate

	privatePEM := []byte(cc.PrivateKeyPEM)
	publicPEM := []byte(cc.PublicKeyPEM)
	if len(privatePEM) == 0 && cc.PrivateKeyPath != "" {
		if b, err := os.ReadFile(cc.PrivateKeyPath); err == nil {
			privatePEM = b
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read certificate private key: %w", err)
		}
	}
	if len(publicPEM) == 0 && cc.PublicKeyPath != "" {
		if b, err := os.ReadFile(cc.PublicKeyPath); err == nil {
			publicPEM = b
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read certificate public key: %w", err)
		}
	}

	if len(privatePEM) == 0 && len(publicPEM) == 0 {
		if !cc.AutoGenerateKey {
			return nil, errors.New("no certificate signing key configured")
		}
		return generateKeyFiles(cc.PrivateKeyPath, cc.PublicKeyPath)
	}

	var (
		private *ecdsa.PrivateKey
		public  *ecdsa.PublicKey
		err     error
	)
	if len(privatePEM) > 0 {
		if private, err = ParsePrivateKeyPEM(privatePEM); err != nil {
			return nil, err
		}
	}
	if len(publicPEM) > 0 {
		if public, err = ParsePublicKeyPEM(publicPEM); err != nil {
			return nil, err
		}
	}
	if private == nil {
		zap.L().Warn("certificate private key missing, server can verify but not sign")
	}
	return NewKeyRing(private, public)
}

func generateKeyFiles(privatePath, publicPath string) (*KeyRing, error) {
	private, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	privatePEM, err := EncodePrivateKeyPEM(private)
	if err != nil {
		return nil, err
	}
	publicPEM, err := EncodePublicKeyPEM(&private.PublicKey)
	if err != nil {
		return nil, err
	}

	if err := writeKeyFile(privatePath, privatePEM, 0o600); err != nil {
		return nil, err
	}
	if err := writeKeyFile(publicPath, publicPEM, 0o644); err != nil {
		return nil, err
	}

	zap.L().Info("generated certificate signing key pair",
		zap.String("private_key_path", privatePath),
		zap.String("public_key_path", publicPath),
	)
	return NewKeyRing(private, &private.PublicKey)
}

func writeKeyFile(path string, data []byte, mode os.FileMode) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, data, mode)
}

func ParsePrivateKeyPEM(b []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("certificate private key is not PEM encoded")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		ec, ecErr := x509.ParseECPrivateKey(block.Bytes)
		if ecErr != nil {
			return nil, fmt.Errorf("parse certificate private key: %w", err)
		}
		return ec, nil
	}

	ec, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("certificate private key is not an ECDSA key")
	}
	return ec, nil
}

func ParsePublicKeyPEM(b []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("certificate public key is not PEM encoded")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse certificate public key: %w", err)
	}

	ec, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("certificate public key is not an ECDSA key")
	}
	return ec, nil
}

func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

func EncodePublicKeyPEM(key *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
