package certificate

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func sampleCertificate() *Certificate {
	return &Certificate{
		ID:                    FormatID("FO", "2501", 7),
		LicenseeCode:          "FO",
		ModuleID:              "calibration",
		ModuleCertificateCode: "CAL",
		ModuleVersion:         "2.4.1",
		IssuedAt:              time.Date(2025, 1, 15, 9, 30, 12, 987654321, time.FixedZone("WIB", 7*3600)),
		ProjectName:           "Plant 4",
		SignatoryName:         "J. Doe",
		CompanyName:           "Acme",
		ProcessingData: datatypes.NewJSONType(map[string]string{
			"zeta":  "last",
			"alpha": "first",
			"mid":   "a=b",
		}),
	}
}

func TestFormatID(t *testing.T) {
	require.Equal(t, "FO-2501-00007", FormatID("FO", "2501", 7))
	require.Equal(t, "AB-2512-123456", FormatID("AB", "2512", 123456))

	code, month, seq, ok := ParseID("FO-2501-00007")
	require.True(t, ok)
	require.Equal(t, "FO", code)
	require.Equal(t, "2501", month)
	require.EqualValues(t, 7, seq)

	for _, bad := range []string{"", "fo-2501-00007", "FO-2513-00001", "FO-2501-7", "FO-2501-00000", "FOO-2501-00001"} {
		_, _, _, ok := ParseID(bad)
		require.False(t, ok, bad)
	}
}

func TestBuildCanonicalForm(t *testing.T) {
	want := strings.Join([]string{
		"CertificateId:FO-2501-00007",
		"LicenseeCode:FO",
		"ModuleId:calibration",
		"ModuleCertificateCode:CAL",
		"ModuleVersion:2.4.1",
		"IssuedAt:2025-01-15T02:30:12Z",
		"ProjectName:Plant 4",
		"SignatoryName:J. Doe",
		"CompanyName:Acme",
		"Data:alpha=first",
		"Data:mid=a=b",
		"Data:zeta=last",
	}, "\n")

	for i := 0; i < 20; i++ {
		require.Equal(t, want, BuildCanonicalForm(sampleCertificate()))
	}
}

func TestSignAndVerify(t *testing.T) {
	key := newKey(t)
	c := sampleCertificate()

	sig, err := Sign(c, key)
	require.NoError(t, err)
	c.Signature = sig
	c.SignatureAlgorithm = AlgorithmECDSAP256SHA256

	ok, reason := Verify(c, &key.PublicKey)
	require.True(t, ok, reason)

	// sub-second precision is not part of the signed form
	c.IssuedAt = c.IssuedAt.Truncate(time.Second)
	ok, _ = Verify(c, &key.PublicKey)
	require.True(t, ok)
}

func TestVerifyDetectsTampering(t *testing.T) {
	key := newKey(t)

	mutations := map[string]func(*Certificate){
		"processing data": func(c *Certificate) {
			d := c.Data()
			d["alpha"] = "changed"
			c.ProcessingData = datatypes.NewJSONType(d)
		},
		"added data": func(c *Certificate) {
			d := c.Data()
			d["extra"] = "x"
			c.ProcessingData = datatypes.NewJSONType(d)
		},
		"company":   func(c *Certificate) { c.CompanyName = "Other" },
		"issued at": func(c *Certificate) { c.IssuedAt = c.IssuedAt.Add(time.Second) },
		"id":        func(c *Certificate) { c.ID = FormatID("FO", "2501", 8) },
	}

	for name, mutate := range mutations {
		c := sampleCertificate()
		sig, err := Sign(c, key)
		require.NoError(t, err)
		c.Signature = sig

		mutate(c)
		ok, reason := Verify(c, &key.PublicKey)
		require.False(t, ok, name)
		require.NotEmpty(t, reason, name)
	}
}

func TestVerifyWithWrongKeyReturnsFalse(t *testing.T) {
	c := sampleCertificate()
	sig, err := Sign(c, newKey(t))
	require.NoError(t, err)
	c.Signature = sig

	ok, reason := Verify(c, &newKey(t).PublicKey)
	require.False(t, ok)
	require.Equal(t, "signature does not match certificate contents", reason)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	key := newKey(t)
	c := sampleCertificate()

	ok, _ := Verify(c, &key.PublicKey)
	require.False(t, ok)

	c.Signature = "not base64!"
	ok, reason := Verify(c, &key.PublicKey)
	require.False(t, ok)
	require.Equal(t, "malformed signature", reason)

	c.Signature = "AAAA"
	c.SignatureAlgorithm = "RSA-SHA1"
	ok, reason = Verify(c, &key.PublicKey)
	require.False(t, ok)
	require.Equal(t, "unsupported signature algorithm", reason)

	ok, _ = Verify(c, nil)
	require.False(t, ok)
}

// signRaw signs the canonical bytes of c without any field checks, the way a
// forger holding an old or leaked signature would have them.
func signRaw(t *testing.T, c *Certificate, key *ecdsa.PrivateKey) string {
	t.Helper()
	digest := sha256.Sum256([]byte(BuildCanonicalForm(c)))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func TestSignRefusesFieldsThatShiftAcrossBoundaries(t *testing.T) {
	key := newKey(t)

	cases := map[string]func(*Certificate){
		"data key with '='": func(c *Certificate) {
			c.ProcessingData = datatypes.NewJSONType(map[string]string{"a=b": "c"})
		},
		"data key with newline": func(c *Certificate) {
			c.ProcessingData = datatypes.NewJSONType(map[string]string{"a\nData:b": "c"})
		},
		"data value with newline": func(c *Certificate) {
			c.ProcessingData = datatypes.NewJSONType(map[string]string{"a": "b\nData:z=1"})
		},
		"project name with newline": func(c *Certificate) {
			c.ProjectName = "P\nSignatoryName:S"
			c.SignatoryName = "T"
		},
		"signatory with carriage return": func(c *Certificate) { c.SignatoryName = "S\r" },
		"company with newline":           func(c *Certificate) { c.CompanyName = "Acme\nData:x=y" },
	}

	for name, mutate := range cases {
		c := sampleCertificate()
		mutate(c)

		_, err := Sign(c, key)
		require.ErrorIs(t, err, ErrNonCanonical, name)

		// a signature over the same bytes obtained some other way is still refused
		c.Signature = signRaw(t, c, key)
		ok, reason := Verify(c, &key.PublicKey)
		require.False(t, ok, name)
		require.NotEmpty(t, reason, name)
	}
}

func TestVerifyDetectsShiftAcrossFieldBoundaries(t *testing.T) {
	key := newKey(t)

	// a genuine signature over {"a":"b=c"} must not cover {"a=b":"c"}
	c := sampleCertificate()
	c.ProcessingData = datatypes.NewJSONType(map[string]string{"a": "b=c"})
	sig, err := Sign(c, key)
	require.NoError(t, err)

	shifted := sampleCertificate()
	shifted.ProcessingData = datatypes.NewJSONType(map[string]string{"a=b": "c"})
	shifted.Signature = sig
	require.Equal(t, BuildCanonicalForm(c), BuildCanonicalForm(shifted))

	ok, _ := Verify(shifted, &key.PublicKey)
	require.False(t, ok)

	// nor may text move from one named field into the next
	c = sampleCertificate()
	c.ProjectName = "P\nSignatoryName:S"
	c.SignatoryName = "T"
	sig = signRaw(t, c, key)

	shifted = sampleCertificate()
	shifted.ProjectName = "P"
	shifted.SignatoryName = "S\nSignatoryName:T"
	shifted.Signature = sig
	require.Equal(t, BuildCanonicalForm(c), BuildCanonicalForm(shifted))

	ok, _ = Verify(shifted, &key.PublicKey)
	require.False(t, ok)
}
