package license

import (
	"context"
	"fmt"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/services/audit"
	"smallbiznis-licensing/services/testutil"

	"github.com/bwmarrin/snowflake"
	fbclock "github.com/facebookgo/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newService(t *testing.T) (*Service, *gorm.DB, *fbclock.Mock) {
	t.Helper()

	db := testutil.NewTestDB(t, &License{}, &audit.Event{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mock := fbclock.NewMock()
	mock.Add(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC).Sub(mock.Now()))

	svc := NewService(ServiceParams{
		DB:    db,
		Node:  node,
		Clock: mock,
		Audit: audit.NewLog(audit.Params{DB: db, Node: node, Clock: mock}),
	})
	return svc, db, mock
}

func TestCreate(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	l, err := svc.Create(ctx, CreateRequest{CustomerID: " cust_1 ", LicenseeCode: "fo", Features: "MaxSeats:4"})
	require.NoError(t, err)
	require.Regexp(t, `^lic_\d+$`, l.ID)
	require.Equal(t, "cust_1", l.CustomerID)
	require.Equal(t, "FO", l.LicenseeCode)
	require.Equal(t, TierBasic, l.Tier)
	require.Equal(t, 4, l.MaxSeats())

	var events int64
	require.NoError(t, db.Model(&audit.Event{}).Where("type = ? AND license_id = ?", audit.LicenseCreated, l.ID).Count(&events).Error)
	require.EqualValues(t, 1, events)

	_, err = svc.Create(ctx, CreateRequest{ID: l.ID, CustomerID: "cust_2"})
	require.Equal(t, errutil.StatusConflict, errutil.StatusOf(err))
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Create(context.Background(), CreateRequest{LicenseeCode: "FOO"})
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	be, ok := errutil.As(err)
	require.True(t, ok)
	require.Len(t, be.Details, 2)
}

func TestGetAndRevoke(t *testing.T) {
	svc, _, mock := newService(t)
	ctx := context.Background()

	_, err := svc.Get(ctx, "lic_missing")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Create(ctx, CreateRequest{ID: "lic_1", CustomerID: "cust_1", Tier: "Professional"})
	require.NoError(t, err)

	l, err := svc.Get(ctx, "lic_1")
	require.NoError(t, err)
	require.Equal(t, TierProfessional, l.Tier)
	require.Equal(t, 3, l.MaxSeats())

	revoked, err := svc.Revoke(ctx, "lic_1", "chargeback", "admin")
	require.NoError(t, err)
	require.True(t, revoked.IsRevoked)
	require.Equal(t, "chargeback", revoked.RevokedReason)
	require.ErrorIs(t, revoked.Usable(mock.Now()), ErrRevoked)

	// a second revocation keeps the first reason
	mock.Add(time.Hour)
	again, err := svc.Revoke(ctx, "lic_1", "other", "admin")
	require.NoError(t, err)
	require.Equal(t, "chargeback", again.RevokedReason)
	require.True(t, again.RevokedAt.Equal(*revoked.RevokedAt))

	_, err = svc.Revoke(ctx, "lic_missing", "", "admin")
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestRevokeAuditsOnlyTheFirstRevocation(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{ID: "lic_1", CustomerID: "cust_1"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = svc.Revoke(ctx, "lic_1", "chargeback", "admin")
		require.NoError(t, err)
	}

	var n int64
	require.NoError(t, db.Model(&audit.Event{}).
		Where("type = ? AND license_id = ?", audit.LicenseRevoked, "lic_1").
		Count(&n).Error)
	require.EqualValues(t, 1, n)
}

func TestList(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		customer := "cust_a"
		if i%2 == 0 {
			customer = "cust_b"
		}
		_, err := svc.Create(ctx, CreateRequest{ID: fmt.Sprintf("lic_%d", i), CustomerID: customer})
		require.NoError(t, err)
	}

	page, err := svc.List(ctx, ListParams{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "lic_2", page[1].ID)

	page, err = svc.List(ctx, ListParams{AfterID: "lic_2", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"lic_3", "lic_4"}, []string{page[0].ID, page[1].ID})

	page, err = svc.List(ctx, ListParams{CustomerID: "cust_b"})
	require.NoError(t, err)
	require.Len(t, page, 2)
}

func TestToError(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	err := ToError(ErrRevoked, &License{RevokedAt: &at})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
	be, _ := errutil.As(err)
	require.Equal(t, map[string]any{"revokedAt": "2025-01-01T00:00:00Z"}, be.Meta)

	err = ToError(ErrExpired, &License{ExpiresAt: &at})
	require.Equal(t, errutil.StatusBadRequest, errutil.StatusOf(err))

	require.Equal(t, "revoked", Reason(ErrRevoked))
	require.Equal(t, "expired", Reason(fmt.Errorf("wrapped: %w", ErrExpired)))
	require.Equal(t, "", Reason(nil))
}
