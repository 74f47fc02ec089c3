package license

import (
	"net/http"
	"strconv"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	l, err := h.svc.Create(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, licenseResponse(l))
}

func (h *Handler) Get(c *gin.Context) {
	l, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, licenseResponse(l))
}

func (h *Handler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	licenses, err := h.svc.List(c.Request.Context(), ListParams{
		CustomerID: c.Query("customerId"),
		AfterID:    c.Query("after"),
		Limit:      limit,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	out := make([]gin.H, 0, len(licenses))
	for i := range licenses {
		out = append(out, licenseResponse(&licenses[i]))
	}

	resp := gin.H{"licenses": out}
	if len(licenses) > 0 {
		resp["nextCursor"] = licenses[len(licenses)-1].ID
	}
	c.JSON(http.StatusOK, resp)
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Revoke(c *gin.Context) {
	var req revokeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(errutil.BadRequest("invalid request body", err))
			return
		}
	}

	l, err := h.svc.Revoke(c.Request.Context(), c.Param("id"), req.Reason, c.ClientIP())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, licenseResponse(l))
}

func licenseResponse(l *License) gin.H {
	return gin.H{
		"licenseId":     l.ID,
		"customerId":    l.CustomerID,
		"customerName":  l.CustomerName,
		"licenseeCode":  l.LicenseeCode,
		"tier":          l.Tier,
		"features":      l.Features,
		"modules":       Modules(l.Features),
		"maxSeats":      l.MaxSeats(),
		"expiresAt":     l.ExpiresAt,
		"isRevoked":     l.IsRevoked,
		"revokedReason": l.RevokedReason,
		"revokedAt":     l.RevokedAt,
		"createdAt":     l.CreatedAt,
	}
}
