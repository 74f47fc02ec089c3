package license

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/clock"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/logger"
	"smallbiznis-licensing/services/audit"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("smallbiznis-licensing/services/license")

var licenseeCodePattern = regexp.MustCompile(`^[A-Z0-9]{2}$`)

// ValidLicenseeCode reports whether code is a two character upper case
// alphanumeric licensee code.
func ValidLicenseeCode(code string) bool {
	return licenseeCodePattern.MatchString(code)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock
	store Store
	audit audit.Log
	group singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Audit audit.Log `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		clock: p.Clock,
		store: NewStore(p.DB),
		audit: p.Audit,
	}
}

// Store exposes the underlying store so other services can lock licenses
// inside their own transactions.
func (s *Service) Store() Store {
	return s.store
}

type CreateRequest struct {
	ID           string     `json:"licenseId"`
	CustomerID   string     `json:"customerId"`
	CustomerName string     `json:"customerName"`
	LicenseeCode string     `json:"licenseeCode"`
	Tier         string     `json:"tier"`
	Features     string     `json:"features"`
	ExpiresAt    *time.Time `json:"expiresAt"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.Create")
	defer span.End()

	zapLog := logger.FromContext(ctx)

	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.LicenseeCode = strings.ToUpper(strings.TrimSpace(req.LicenseeCode))
	req.Tier = strings.ToLower(strings.TrimSpace(req.Tier))

	var details []errutil.Detail
	if req.CustomerID == "" {
		details = append(details, errutil.Detail{Field: "customerId", Message: "is required"})
	}
	if req.LicenseeCode != "" && !ValidLicenseeCode(req.LicenseeCode) {
		details = append(details, errutil.Detail{Field: "licenseeCode", Message: "must be two characters A-Z or 0-9"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid license", nil, errutil.WithDetails(details...))
	}
	if req.Tier == "" {
		req.Tier = TierBasic
	}

	now := s.clock.Now().UTC()
	l := &License{
		ID:           strings.TrimSpace(req.ID),
		CreatedAt:    now,
		UpdatedAt:    now,
		CustomerID:   req.CustomerID,
		CustomerName: req.CustomerName,
		LicenseeCode: req.LicenseeCode,
		Tier:         req.Tier,
		Features:     req.Features,
		ExpiresAt:    req.ExpiresAt,
	}
	if l.ID == "" {
		l.ID = "lic_" + s.node.Generate().String()
	}

	if _, err := s.store.Get(ctx, l.ID); err == nil {
		return nil, errutil.Conflict("license already exists", nil)
	} else if !errors.Is(err, ErrNotFound) {
		zapLog.Error("failed to look up license", zap.String("license_id", l.ID), zap.Error(err))
		return nil, errutil.Internal("failed to create license", err)
	}

	if err := s.store.Create(ctx, l); err != nil {
		zapLog.Error("failed to create license", zap.String("license_id", l.ID), zap.Error(err))
		return nil, errutil.Internal("failed to create license", err)
	}

	audit.Emit(ctx, s.audit, audit.Event{
		Type:      audit.LicenseCreated,
		LicenseID: l.ID,
		Payload:   audit.Payload(map[string]any{"tier": l.Tier, "maxSeats": l.MaxSeats()}),
	})

	zapLog.Info("license created", zap.String("license_id", l.ID), zap.String("tier", l.Tier))
	return l, nil
}

// Get loads a license. Concurrent lookups of the same id share one query.
func (s *Service) Get(ctx context.Context, id string) (*License, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errutil.BadRequest("licenseId is required", nil)
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		return s.store.Get(ctx, id)
	})
	if err != nil {
		return nil, ToError(err, nil)
	}

	l := *v.(*License)
	return &l, nil
}

func (s *Service) Revoke(ctx context.Context, id, reason, actor string) (*License, error) {
	ctx, span := tracer.Start(ctx, "license.Revoke")
	defer span.End()

	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errutil.BadRequest("licenseId is required", nil)
	}

	l, revoked, err := s.store.Revoke(ctx, id, strings.TrimSpace(reason), s.clock.Now().UTC())
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.FromContext(ctx).Error("failed to revoke license", zap.String("license_id", id), zap.Error(err))
		}
		return nil, ToError(err, nil)
	}

	if !revoked {
		return l, nil
	}

	audit.Emit(ctx, s.audit, audit.Event{
		Type:      audit.LicenseRevoked,
		LicenseID: l.ID,
		Actor:     actor,
		Payload:   audit.Payload(map[string]any{"reason": l.RevokedReason}),
	})
	return l, nil
}

func (s *Service) List(ctx context.Context, params ListParams) ([]License, error) {
	if params.Limit <= 0 || params.Limit > 100 {
		params.Limit = 100
	}
	licenses, err := s.store.List(ctx, params)
	if err != nil {
		return nil, errutil.Internal("failed to list licenses", err)
	}
	return licenses, nil
}
