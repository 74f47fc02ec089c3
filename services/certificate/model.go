package certificate

import (
	"errors"
	"time"

	"gorm.io/datatypes"
)

var (
	ErrInvalidLicenseeCode = errors.New("invalid licensee code")
	ErrInvalidIssueMonth   = errors.New("invalid issue month")
	ErrNotFound            = errors.New("certificate not found")
	ErrSigningUnavailable  = errors.New("no signing key configured")
	ErrNonCanonical        = errors.New("field breaks the canonical form")
	ErrIDInUse             = errors.New("certificate id already in use")
)

// Certificate is a signed proof of work. Once signed none of the fields
// covered by the canonical form may change.
type Certificate struct {
	ID                    string                                 `gorm:"column:id;primaryKey;size:32"`
	CreatedAt             time.Time                              `gorm:"column:created_at"`
	LicenseID             string                                 `gorm:"column:license_id;size:64;index"`
	LicenseeCode          string                                 `gorm:"column:licensee_code;size:2"`
	IssueMonth            string                                 `gorm:"column:issue_month;size:4"`
	SequenceNumber        int64                                  `gorm:"column:sequence_number"`
	ModuleID              string                                 `gorm:"column:module_id"`
	ModuleName            string                                 `gorm:"column:module_name"`
	ModuleCertificateCode string                                 `gorm:"column:module_certificate_code"`
	ModuleVersion         string                                 `gorm:"column:module_version"`
	IssuedAt              time.Time                              `gorm:"column:issued_at"`
	ProjectName           string                                 `gorm:"column:project_name"`
	SignatoryName         string                                 `gorm:"column:signatory_name"`
	CompanyName           string                                 `gorm:"column:company_name"`
	ProcessingData        datatypes.JSONType[map[string]string] `gorm:"column:processing_data"`
	Signature             string                                 `gorm:"column:signature;type:text"`
	SignatureAlgorithm    string                                 `gorm:"column:signature_algorithm;size:32"`
	IsSignatureVerified   bool                                   `gorm:"column:is_signature_verified"`
	LastVerifiedAt        *time.Time                             `gorm:"column:last_verified_at"`
}

func (Certificate) TableName() string {
	return "certificates"
}

// Data returns the processing data, never nil.
func (c *Certificate) Data() map[string]string {
	d := c.ProcessingData.Data()
	if d == nil {
		return map[string]string{}
	}
	return d
}

// Input carries the caller supplied fields of a certificate, for issuing a
// new one or syncing one produced offline.
type Input struct {
	CertificateID         string            `json:"certificateId"`
	LicenseeCode          string            `json:"licenseeCode"`
	ModuleID              string            `json:"moduleId"`
	ModuleName            string            `json:"moduleName"`
	ModuleCertificateCode string            `json:"moduleCertificateCode"`
	ModuleVersion         string            `json:"moduleVersion"`
	IssuedAt              time.Time         `json:"issuedAt"`
	ProjectName           string            `json:"projectName"`
	SignatoryName         string            `json:"signatoryName"`
	CompanyName           string            `json:"companyName"`
	ProcessingData        map[string]string `json:"processingData"`
	Signature             string            `json:"signature"`
	SignatureAlgorithm    string            `json:"signatureAlgorithm"`
}

type SequenceResult struct {
	CertificateID  string `json:"certificateId"`
	SequenceNumber int64  `json:"sequenceNumber"`
	IssueMonth     string `json:"issueMonth"`
}

type SyncFailure struct {
	CertificateID string `json:"certificateId"`
	Reason        string `json:"reason"`
}

type SyncResult struct {
	SyncedCount int           `json:"syncedCount"`
	FailedIDs   []string      `json:"failedIds"`
	Failures    []SyncFailure `json:"failures,omitempty"`
}

type VerifyResult struct {
	CertificateID       string     `json:"certificateId"`
	IsValid             bool       `json:"isValid"`
	IsSignatureVerified bool       `json:"isSignatureVerified"`
	Message             string     `json:"message,omitempty"`
	IssuedAt            *time.Time `json:"issuedAt,omitempty"`
	CompanyName         string     `json:"companyName,omitempty"`
	ModuleName          string     `json:"moduleName,omitempty"`
	ProjectName         string     `json:"projectName,omitempty"`
}
