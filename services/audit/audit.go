// Package audit is the append-only record of leasing and certificate events.
// The core writes to it and never reads from it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"smallbiznis-licensing/pkg/clock"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SeatGranted         = "seat.granted"
	SeatResumed         = "seat.resumed"
	SeatDenied          = "seat.denied"
	SeatReleased        = "seat.released"
	SeatReclaimed       = "seat.reclaimed"
	SeatForceTerminated = "seat.force_terminated"
	SeatSuperseded      = "seat.superseded"

	LicenseCreated = "license.created"
	LicenseRevoked = "license.revoked"

	CertificateIssued     = "certificate.issued"
	CertificateSynced     = "certificate.synced"
	CertificateSyncFailed = "certificate.sync_failed"
)

var Module = fx.Module("audit",
	fx.Provide(NewLog),
)

type Event struct {
	ID            string         `gorm:"column:id;primaryKey;size:32"`
	CreatedAt     time.Time      `gorm:"column:created_at;index"`
	Type          string         `gorm:"column:type;size:64;index"`
	LicenseID     string         `gorm:"column:license_id;size:64;index"`
	SeatID        string         `gorm:"column:seat_id;size:32"`
	CertificateID string         `gorm:"column:certificate_id;size:32"`
	Actor         string         `gorm:"column:actor"`
	Payload       datatypes.JSON `gorm:"column:payload"`
}

func (Event) TableName() string {
	return "audit_events"
}

// Log appends audit events.
type Log interface {
	Append(ctx context.Context, e Event) error
}

type gormLog struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
}

type Params struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
}

func NewLog(p Params) Log {
	return &gormLog{db: p.DB, node: p.Node, clock: p.Clock}
}

func (l *gormLog) Append(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = l.node.Generate().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.clock.Now().UTC()
	}
	return l.db.WithContext(ctx).Create(&e).Error
}

// Emit appends e and logs instead of failing: by the time an event is
// emitted the operation it describes has already committed.
func Emit(ctx context.Context, log Log, e Event) {
	if log == nil {
		return
	}
	if err := log.Append(ctx, e); err != nil {
		zap.L().Warn("failed to append audit event",
			zap.String("type", e.Type),
			zap.String("license_id", e.LicenseID),
			zap.Error(err),
		)
	}
}

// Payload encodes v as a JSON column value. Encoding failures yield an empty
// payload.
func Payload(v any) datatypes.JSON {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Append(context.Context, Event) error { return nil }
