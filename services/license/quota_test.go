package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSeatQuota(t *testing.T) {
	cases := []struct {
		tier, features string
		want           int
	}{
		{TierBasic, "", 1},
		{TierProfessional, "", 3},
		{"Enterprise", "", 10},
		{"trial", "", 1},
		{TierBasic, "Calibration,MaxSeats:5", 5},
		{TierEnterprise, "maxseats:2;Reports", 2},
		{TierProfessional, "MaxSeats:0", 3},
		{TierProfessional, "MaxSeats:abc", 3},
	}

	for _, tc := range cases {
		require.Equal(t, tc.want, SeatQuota(tc.tier, tc.features), "%s/%s", tc.tier, tc.features)
	}
}

func TestModulesSkipsQuotaEntries(t *testing.T) {
	require.Equal(t, []string{"Calibration", "Reports"}, Modules("Calibration, MaxSeats:4 ,Reports"))
	require.Empty(t, Modules(""))
}

func TestUsable(t *testing.T) {
	now := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	require.NoError(t, (&License{}).Usable(now))
	require.NoError(t, (&License{ExpiresAt: &future}).Usable(now))
	require.ErrorIs(t, (&License{ExpiresAt: &past}).Usable(now), ErrExpired)
	require.ErrorIs(t, (&License{ExpiresAt: &now}).Usable(now), ErrExpired)
	// revocation wins over expiry
	require.ErrorIs(t, (&License{IsRevoked: true, ExpiresAt: &past}).Usable(now), ErrRevoked)
}
