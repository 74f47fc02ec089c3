package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/middleware"

	fbclock "github.com/facebookgo/clock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	zap.ReplaceGlobals(zap.NewNop())
}

func TestGuardRefusesWithRetryAfter(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.ForceTerminate = config.RateRule{MaxAttempts: 2, Window: 15 * time.Minute}

	guard := NewGuard(NewMemoryLimiter(fbclock.NewMock()), cfg)

	r := gin.New()
	r.Use(middleware.Error())
	r.POST("/force", guard.For(ActionForceTerminate), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/force", nil)
		req.RemoteAddr = "192.0.2.10:1234"
		r.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusNoContent, do().Code)
	w := do()
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = do()
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "900", w.Header().Get("Retry-After"))
	require.Contains(t, w.Body.String(), "TOO_MANY_REQUESTS")
}
