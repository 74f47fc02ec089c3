package seat

import (
	"net/http"
	"time"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type acquireRequest struct {
	LicenseID           string `json:"licenseId"`
	HardwareFingerprint string `json:"hardwareFingerprint"`
	MachineName         string `json:"machineName"`
	TimeoutMinutes      int    `json:"timeoutMinutes"`
}

func (r acquireRequest) toAcquire(maxSeats int) AcquireRequest {
	return AcquireRequest{
		LicenseID:           r.LicenseID,
		HardwareFingerprint: r.HardwareFingerprint,
		MachineName:         r.MachineName,
		StaleTimeout:        time.Duration(r.TimeoutMinutes) * time.Minute,
		MaxSeats:            maxSeats,
	}
}

type tokenRequest struct {
	LicenseID    string `json:"licenseId"`
	SessionToken string `json:"sessionToken"`
}

type forceTerminateRequest struct {
	LicenseID           string `json:"licenseId"`
	HardwareFingerprint string `json:"hardwareFingerprint"`
	MachineName         string `json:"machineName"`
	SeatID              string `json:"seatId"`
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) Acquire(c *gin.Context) {
	var req acquireRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.AcquireSeat(c.Request.Context(), req.toAcquire(0))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	var req tokenRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.Heartbeat(c.Request.Context(), req.SessionToken)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Release(c *gin.Context) {
	var req tokenRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.Release(c.Request.Context(), req.LicenseID, req.SessionToken)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) ForceTerminate(c *gin.Context) {
	var req forceTerminateRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.ForceTerminate(c.Request.Context(), ForceTerminateRequest{
		LicenseID:           req.LicenseID,
		HardwareFingerprint: req.HardwareFingerprint,
		MachineName:         req.MachineName,
		SeatID:              req.SeatID,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Status(c *gin.Context) {
	res, err := h.svc.Status(c.Request.Context(), c.Param("licenseId"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// StartSession is the single-seat legacy entry point: a seat acquisition
// with a quota of one.
func (h *Handler) StartSession(c *gin.Context) {
	var req acquireRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.AcquireSeat(c.Request.Context(), req.toAcquire(1))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessionToken": res.SessionToken,
		"resumed":      res.Resumed,
	})
}
