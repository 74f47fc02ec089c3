package certificate

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

const AlgorithmECDSAP256SHA256 = "ECDSA-P256-SHA256"

// Sign signs the canonical form of c with key and returns the base64
// encoded ASN.1 signature.
func Sign(c *Certificate, key *ecdsa.PrivateKey) (string, error) {
	if key == nil {
		return "", ErrSigningUnavailable
	}
	if field := nonCanonicalField(c); field != "" {
		return "", fmt.Errorf("%w: %s", ErrNonCanonical, field)
	}
	digest := sha256.Sum256([]byte(BuildCanonicalForm(c)))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks the stored signature of c against pub. A mismatch is a
// normal negative result: it returns false with a reason, never an error.
func Verify(c *Certificate, pub *ecdsa.PublicKey) (bool, string) {
	switch {
	case pub == nil:
		return false, "no verification key configured"
	case c.Signature == "":
		return false, "certificate is not signed"
	case c.SignatureAlgorithm != "" && c.SignatureAlgorithm != AlgorithmECDSAP256SHA256:
		return false, "unsupported signature algorithm"
	case nonCanonicalField(c) != "":
		return false, "certificate fields contain line breaks or an '=' in a data key"
	}

	sig, err := base64.StdEncoding.DecodeString(c.Signature)
	if err != nil {
		return false, "malformed signature"
	}

	digest := sha256.Sum256([]byte(BuildCanonicalForm(c)))
	if !ecdsa.VerifyASN1(pub, digest[:], sig) {
		return false, "signature does not match certificate contents"
	}
	return true, ""
}
