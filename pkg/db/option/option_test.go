package option

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type row struct {
	ID        string
	Name      string
	CreatedAt int64
}

func dryRun(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{DryRun: true})
	require.NoError(t, err)
	return db
}

func sql(db *gorm.DB, opts ...QueryOption) string {
	var rows []row
	return Apply(db.Model(&row{}), opts...).Find(&rows).Statement.SQL.String()
}

func TestSortByAllowList(t *testing.T) {
	db := dryRun(t)
	allow := map[string]bool{"name": true}

	require.Contains(t, sql(db, WithSortBy(QuerySortBy{SortBy: "name", OrderBy: "DESC", Allow: allow})), "ORDER BY `name` DESC")
	require.Contains(t, sql(db, WithSortBy(QuerySortBy{SortBy: "password", Allow: allow})), "ORDER BY `created_at`")
}

func TestLimitAndNilOptions(t *testing.T) {
	db := dryRun(t)

	require.Contains(t, sql(db, WithLimit(5), nil), "LIMIT 5")
	require.NotContains(t, sql(db, WithLimit(0)), "LIMIT")
}
