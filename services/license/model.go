package license

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("license not found")
	ErrRevoked  = errors.New("license revoked")
	ErrExpired  = errors.New("license expired")
)

type License struct {
	ID            string     `gorm:"column:id;primaryKey;size:64" json:"licenseId"`
	CreatedAt     time.Time  `gorm:"column:created_at" json:"createdAt"`
	UpdatedAt     time.Time  `gorm:"column:updated_at" json:"updatedAt"`
	CustomerID    string     `gorm:"column:customer_id;index;size:64" json:"customerId"`
	CustomerName  string     `gorm:"column:customer_name" json:"customerName"`
	LicenseeCode  string     `gorm:"column:licensee_code;size:2" json:"licenseeCode"`
	Tier          string     `gorm:"column:tier;size:32" json:"tier"`
	Features      string     `gorm:"column:features;type:text" json:"features"`
	ExpiresAt     *time.Time `gorm:"column:expires_at" json:"expiresAt,omitempty"`
	IsRevoked     bool       `gorm:"column:is_revoked;not null;default:false" json:"isRevoked"`
	RevokedReason string     `gorm:"column:revoked_reason" json:"revokedReason,omitempty"`
	RevokedAt     *time.Time `gorm:"column:revoked_at" json:"revokedAt,omitempty"`
}

func (License) TableName() string {
	return "licenses"
}

// Usable reports why the license cannot be used at now, or nil.
func (l *License) Usable(now time.Time) error {
	if l.IsRevoked {
		return ErrRevoked
	}
	if l.IsExpired(now) {
		return ErrExpired
	}
	return nil
}

// IsExpired reports whether the license expired at or before now. A nil
// expiry is perpetual.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && !now.Before(*l.ExpiresAt)
}

// MaxSeats is the seat quota derived from the tier and feature string.
func (l *License) MaxSeats() int {
	return SeatQuota(l.Tier, l.Features)
}
