package license

import (
	"context"
	"errors"
	"time"

	"smallbiznis-licensing/pkg/db/option"

	"gorm.io/gorm"
)

// ListParams filters licenses in List.
type ListParams struct {
	CustomerID string
	AfterID    string
	Limit      int
}

// Store is the durable record of licenses. It holds no concurrency logic of
// its own; callers lock rows through GetForUpdate inside their transaction.
type Store interface {
	WithTrx(tx *gorm.DB) Store
	Get(ctx context.Context, id string) (*License, error)
	GetForUpdate(ctx context.Context, id string) (*License, error)
	Create(ctx context.Context, l *License) error
	Revoke(ctx context.Context, id, reason string, at time.Time) (*License, bool, error)
	List(ctx context.Context, params ListParams) ([]License, error)
}

type gormStore struct {
	db *gorm.DB
}

// NewStore returns a gorm backed Store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) WithTrx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &gormStore{db: tx}
}

func (s *gormStore) Get(ctx context.Context, id string) (*License, error) {
	return s.get(ctx, id)
}

func (s *gormStore) GetForUpdate(ctx context.Context, id string) (*License, error) {
	return s.get(ctx, id, option.WithLockingUpdate())
}

func (s *gormStore) get(ctx context.Context, id string, opts ...option.QueryOption) (*License, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	var l License
	err := option.Apply(s.db.WithContext(ctx), opts...).
		Where("id = ?", id).
		Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *gormStore) Create(ctx context.Context, l *License) error {
	if s == nil || s.db == nil {
		return gorm.ErrInvalidDB
	}
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *gormStore) Revoke(ctx context.Context, id, reason string, at time.Time) (*License, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, gorm.ErrInvalidDB
	}

	res := s.db.WithContext(ctx).
		Model(&License{}).
		Where("id = ? AND is_revoked = ?", id, false).
		Updates(map[string]any{
			"is_revoked":     true,
			"revoked_reason": reason,
			"revoked_at":     at,
			"updated_at":     at,
		})
	if res.Error != nil {
		return nil, false, res.Error
	}

	// revoking twice keeps the first reason and timestamp
	l, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return l, res.RowsAffected > 0, nil
}

func (s *gormStore) List(ctx context.Context, params ListParams) ([]License, error) {
	if s == nil || s.db == nil {
		return nil, gorm.ErrInvalidDB
	}

	query := s.db.WithContext(ctx).Model(&License{})
	if params.CustomerID != "" {
		query = query.Where("customer_id = ?", params.CustomerID)
	}
	if params.AfterID != "" {
		query = query.Where("id > ?", params.AfterID)
	}
	query = option.Apply(query, option.WithLimit(params.Limit)).Order("id ASC")

	var licenses []License
	if err := query.Find(&licenses).Error; err != nil {
		return nil, err
	}
	return licenses, nil
}
