package certificate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"smallbiznis-licensing/pkg/config"

	"github.com/minio/minio-go/v7"
	"go.uber.org/fx"
)

// Archive keeps an out-of-database copy of every stored certificate.
type Archive interface {
	Store(ctx context.Context, c *Certificate, keyID string) error
}

type nopArchive struct{}

func (nopArchive) Store(context.Context, *Certificate, string) error { return nil }

type minioArchive struct {
	client *minio.Client
	bucket string
}

type ArchiveParams struct {
	fx.In
	Config *config.Config
	Client *minio.Client `optional:"true"`
}

// NewArchive archives to MinIO when a client is configured and discards
// otherwise.
func NewArchive(p ArchiveParams) Archive {
	if p.Client == nil || p.Config.Minio.BucketName == "" {
		return nopArchive{}
	}
	return &minioArchive{client: p.Client, bucket: p.Config.Minio.BucketName}
}

type archivedCertificate struct {
	CertificateID      string `json:"certificateId"`
	LicenseID          string `json:"licenseId"`
	CanonicalForm      string `json:"canonicalForm"`
	Signature          string `json:"signature"`
	SignatureAlgorithm string `json:"signatureAlgorithm"`
	KeyID              string `json:"keyId"`
}

func objectName(c *Certificate) string {
	return fmt.Sprintf("certificates/%s/%s.json", c.LicenseID, c.ID)
}

func (a *minioArchive) Store(ctx context.Context, c *Certificate, keyID string) error {
	b, err := json.Marshal(archivedCertificate{
		CertificateID:      c.ID,
		LicenseID:          c.LicenseID,
		CanonicalForm:      BuildCanonicalForm(c),
		Signature:          c.Signature,
		SignatureAlgorithm: c.SignatureAlgorithm,
		KeyID:              keyID,
	})
	if err != nil {
		return err
	}

	_, err = a.client.PutObject(ctx, a.bucket, objectName(c), bytes.NewReader(b), int64(len(b)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}
