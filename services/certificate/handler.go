package certificate

import (
	"net/http"

	"smallbiznis-licensing/pkg/errutil"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type sequenceRequest struct {
	LicenseeCode string `json:"licenseeCode"`
}

type issueRequest struct {
	LicenseID string `json:"licenseId"`
	Input
}

type syncRequest struct {
	LicenseID    string  `json:"licenseId"`
	Certificates []Input `json:"certificates"`
}

type batchVerifyRequest struct {
	CertificateIDs []string `json:"certificateIds"`
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return false
	}
	return true
}

func (h *Handler) NextSequence(c *gin.Context) {
	var req sequenceRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.NextSequence(c.Request.Context(), req.LicenseeCode)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Issue(c *gin.Context) {
	var req issueRequest
	if !bind(c, &req) {
		return
	}

	cert, err := h.svc.Issue(c.Request.Context(), req.LicenseID, req.Input)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, certificateResponse(cert))
}

func (h *Handler) Sync(c *gin.Context) {
	var req syncRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.Sync(c.Request.Context(), req.LicenseID, req.Certificates)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) Verify(c *gin.Context) {
	res, err := h.svc.Verify(c.Request.Context(), c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) BatchVerify(c *gin.Context) {
	var req batchVerifyRequest
	if !bind(c, &req) {
		return
	}

	res, err := h.svc.BatchVerify(c.Request.Context(), req.CertificateIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": res})
}

func (h *Handler) Keys(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Keys().JWKS())
}

func certificateResponse(cert *Certificate) gin.H {
	return gin.H{
		"certificateId":         cert.ID,
		"licenseId":             cert.LicenseID,
		"licenseeCode":          cert.LicenseeCode,
		"issueMonth":            cert.IssueMonth,
		"sequenceNumber":        cert.SequenceNumber,
		"moduleId":              cert.ModuleID,
		"moduleName":            cert.ModuleName,
		"moduleCertificateCode": cert.ModuleCertificateCode,
		"moduleVersion":         cert.ModuleVersion,
		"issuedAt":              cert.IssuedAt.UTC().Format(IssuedAtLayout),
		"projectName":           cert.ProjectName,
		"signatoryName":         cert.SignatoryName,
		"companyName":           cert.CompanyName,
		"processingData":        cert.Data(),
		"signature":             cert.Signature,
		"signatureAlgorithm":    cert.SignatureAlgorithm,
	}
}
