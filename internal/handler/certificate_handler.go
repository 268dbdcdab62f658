package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lms-progress-api/internal/models"
	appErrors "github.com/noah-isme/lms-progress-api/pkg/errors"
	"github.com/noah-isme/lms-progress-api/pkg/response"
)

type certificateService interface {
	Issue(ctx context.Context, principal models.Principal, courseID string) (*models.Certificate, error)
	Link(ctx context.Context, principal models.Principal, courseID string) (*models.CertificateLink, error)
	ResolveDownload(ctx context.Context, token string) ([]byte, string, error)
}

// CertificateHandler serves completion certificates.
type CertificateHandler struct {
	certificates certificateService
}

// NewCertificateHandler constructs CertificateHandler.
func NewCertificateHandler(certificates certificateService) *CertificateHandler {
	return &CertificateHandler{certificates: certificates}
}

// Download godoc
// @Summary Download the completion certificate
// @Description Returns the PDF, or the certificate metadata when format=json.
// @Tags Certificates
// @Produce application/pdf
// @Produce json
// @Param courseId path string true "Course ID"
// @Param format query string false "pdf (default) or json"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /courses/{courseId}/certificate [get]
func (h *CertificateHandler) Download(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	cert, err := h.certificates.Issue(c.Request.Context(), principal, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if strings.EqualFold(c.Query("format"), "json") {
		response.JSON(c, http.StatusOK, cert, nil)
		return
	}
	response.Attachment(c, "certificate-"+cert.Number+".pdf", "application/pdf", cert.PDF)
}

// Link godoc
// @Summary Create a signed certificate download link
// @Tags Certificates
// @Produce json
// @Param courseId path string true "Course ID"
// @Success 201 {object} response.Envelope
// @Router /courses/{courseId}/certificate/link [post]
func (h *CertificateHandler) Link(c *gin.Context) {
	principal, ok := principalFromContext(c)
	if !ok {
		return
	}
	link, err := h.certificates.Link(c.Request.Context(), principal, c.Param("courseId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, link)
}

// SignedDownload godoc
// @Summary Download an archived certificate through a signed link
// @Tags Certificates
// @Produce application/pdf
// @Param token query string true "Signed token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Router /certificates/download [get]
func (h *CertificateHandler) SignedDownload(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	data, filename, err := h.certificates.ResolveDownload(c.Request.Context(), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, filename, "application/pdf", data)
}
