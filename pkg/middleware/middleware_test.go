package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestErrorRendersBaseError(t *testing.T) {
	r := gin.New()
	r.Use(AccessLog(), Error())
	r.GET("/limited", func(c *gin.Context) {
		_ = c.Error(errutil.TooManyRequest("slow down", nil, errutil.WithRetryAfter(1500*time.Millisecond)))
	})
	r.GET("/boom", func(c *gin.Context) {
		_ = c.Error(errors.New("disk on fire"))
	})
	r.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, "fine")
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/limited", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "2", w.Header().Get("Retry-After"))
	require.JSONEq(t, `{"error":{"code":"TOO_MANY_REQUESTS","message":"slow down","details":null,"meta":null}}`, w.Body.String())

	w = serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "disk on fire")

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "fine", w.Body.String())
}

func TestAdminKey(t *testing.T) {
	newRouter := func(key string) *gin.Engine {
		r := gin.New()
		r.Use(Error())
		r.GET("/admin", AdminKey(key), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return r
	}

	req := func(key string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if key != "" {
			req.Header.Set(AdminKeyHeader, key)
		}
		return req
	}

	r := newRouter("s3cret")
	require.Equal(t, http.StatusNoContent, serve(r, req("s3cret")).Code)
	require.Equal(t, http.StatusUnauthorized, serve(r, req("s3cre")).Code)
	require.Equal(t, http.StatusUnauthorized, serve(r, req("")).Code)

	// an unset key closes the route even for an empty header
	closed := newRouter("")
	require.Equal(t, http.StatusUnauthorized, serve(closed, req("")).Code)
}
