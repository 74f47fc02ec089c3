package seat

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/middleware"
	"smallbiznis-licensing/services/ratelimit"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, f *fixture) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(middleware.Error())
	guard := ratelimit.NewGuard(ratelimit.NewMemoryLimiter(f.clock), config.Default())
	RegisterRoutes(r, guard, NewHandler(f.svc))
	return r
}

func post(t *testing.T, r http.Handler, path, body string) (int, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestHTTPAcquireConflictAndHeartbeat(t *testing.T) {
	f := newFixture(t)
	f.createLicense(t, "lic_1", "basic", "")
	r := newRouter(t, f)

	code, granted := post(t, r, "/v1/seats/acquire", `{"licenseId":"lic_1","hardwareFingerprint":"fp-a","machineName":"machine-a"}`)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, granted["seatsUsed"])
	require.EqualValues(t, 0, granted["seatsAvailable"])
	token := granted["sessionToken"].(string)
	require.NotEmpty(t, token)

	code, denied := post(t, r, "/v1/seats/acquire", `{"licenseId":"lic_1","hardwareFingerprint":"fp-b","machineName":"machine-b"}`)
	require.Equal(t, http.StatusConflict, code)
	body := denied["error"].(map[string]any)
	require.Equal(t, "CONFLICT", body["code"])
	sessions := body["meta"].(map[string]any)["activeSessions"].([]any)
	require.Len(t, sessions, 1)
	require.Equal(t, "machine-a", sessions[0].(map[string]any)["machineName"])
	require.NotContains(t, sessions[0], "sessionToken")

	code, hb := post(t, r, "/v1/seats/heartbeat", `{"sessionToken":"`+token+`"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, hb["valid"])

	code, _ = post(t, r, "/v1/seats/heartbeat", `{"sessionToken":"nope"}`)
	require.Equal(t, http.StatusNotFound, code)

	// the legacy endpoint resumes the same seat
	code, legacy := post(t, r, "/v1/sessions/start", `{"licenseId":"lic_1","hardwareFingerprint":"fp-a","machineName":"machine-a"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, token, legacy["sessionToken"])
	require.Equal(t, true, legacy["resumed"])

	code, rel := post(t, r, "/v1/seats/release", `{"licenseId":"lic_1","sessionToken":"`+token+`"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, rel["released"])

	code, rel = post(t, r, "/v1/sessions/end", `{"licenseId":"lic_1","sessionToken":"`+token+`"}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, rel["released"])
}

func TestHTTPStatusAndErrors(t *testing.T) {
	f := newFixture(t)
	f.createLicense(t, "lic_1", "professional", "")
	r := newRouter(t, f)

	_, err := f.acquire("a")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/seats/status/lic_1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var status StatusResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, 3, status.MaxSeats)
	require.Equal(t, 1, status.SeatsUsed)
	require.Len(t, status.ActiveSessions, 1)

	code, _ := post(t, r, "/v1/seats/acquire", `{"licenseId":"lic_missing","hardwareFingerprint":"fp-a","machineName":"a"}`)
	require.Equal(t, http.StatusNotFound, code)

	code, _ = post(t, r, "/v1/seats/acquire", `not json`)
	require.Equal(t, http.StatusBadRequest, code)
}
