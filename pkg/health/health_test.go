package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRouter(h HealthService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
	return r
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db
}

func get(t *testing.T, r http.Handler, path string) (int, Health) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestReadinessHealthy(t *testing.T) {
	r := newRouter(ProvideHealth(HealthParams{DB: openDB(t)}))

	code, body := get(t, r, "/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, body.Status)
	require.Len(t, body.Deps, 1)
}

func TestReadinessReportsClosedDatabase(t *testing.T) {
	db := openDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	r := newRouter(ProvideHealth(HealthParams{DB: db}))

	code, body := get(t, r, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, StatusUnhealthy, body.Status)
	require.Equal(t, StatusUnhealthy, body.Deps[0].Status)

	code, body = get(t, r, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusHealthy, body.Status)
}
