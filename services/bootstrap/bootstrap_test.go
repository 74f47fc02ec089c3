package bootstrap

import (
	"testing"

	"smallbiznis-licensing/services/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMigrateCreatesEveryTable(t *testing.T) {
	zap.ReplaceGlobals(zap.NewNop())
	gdb := testutil.NewTestDB(t)

	require.NoError(t, Migrate(gdb))
	// second run is a no-op
	require.NoError(t, Migrate(gdb))

	for _, table := range []string{"licenses", "seats", "certificates", "sequence_counters", "audit_events"} {
		require.True(t, gdb.Migrator().HasTable(table), table)
	}
}
