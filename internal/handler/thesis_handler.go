package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unigrad/thesis-review-api/internal/dto"
	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
	"github.com/unigrad/thesis-review-api/pkg/response"
)

type thesisService interface {
	Submit(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error)
	List(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, *models.Pagination, error)
	RequestTransition(ctx context.Context, thesisID string, actor *models.JWTClaims, req dto.TransitionRequest) (*models.Thesis, error)
	AssignAdvisor(ctx context.Context, thesisID string, actor *models.JWTClaims, req dto.AssignAdvisorRequest) (*models.Thesis, error)
	UploadDocument(ctx context.Context, thesisID string, actor *models.JWTClaims, fileName, contentType string, size int64, r io.Reader) (*models.Thesis, error)
	DownloadToken(ctx context.Context, thesisID string, actor *models.JWTClaims) (string, time.Time, error)
	OpenByToken(ctx context.Context, token string) (io.ReadCloser, string, error)
	ExportReport(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]byte, string, error)
	ExportRosterCSV(ctx context.Context, actor *models.JWTClaims) ([]byte, error)
}

// ThesisHandler exposes REST endpoints for the thesis lifecycle.
type ThesisHandler struct {
	service thesisService
}

// NewThesisHandler constructs the handler.
func NewThesisHandler(service thesisService) *ThesisHandler {
	return &ThesisHandler{service: service}
}

// Create godoc
// @Summary Submit a new thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param payload body dto.CreateThesisRequest true "Thesis payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /theses [post]
func (h *ThesisHandler) Create(c *gin.Context) {
	var req dto.CreateThesisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid thesis payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	thesis, err := h.service.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, thesis, nil)
}

// List godoc
// @Summary List theses visible to the caller
// @Tags Theses
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses [get]
func (h *ThesisHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.ThesisQuery{
		Search: strings.TrimSpace(c.Query("search")),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.ThesisStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.ThesisStatus(part))
		}
		query.Status = statuses
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.PageSize, _ = strconv.Atoi(c.DefaultQuery("page_size", "20"))

	theses, pagination, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, theses, pagination)
}

// Get godoc
// @Summary Get thesis detail with status history
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id} [get]
func (h *ThesisHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	thesis, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// Transition godoc
// @Summary Move a thesis to a new status
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.TransitionRequest true "Target status"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id}/transition [post]
func (h *ThesisHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	thesis, err := h.service.RequestTransition(c.Request.Context(), c.Param("id"), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// Assign godoc
// @Summary Assign an advisor to a submitted thesis
// @Tags Theses
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.AssignAdvisorRequest true "Advisor assignment"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id}/assign [post]
func (h *ThesisHandler) Assign(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.AssignAdvisorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid assignment payload"))
		return
	}
	thesis, err := h.service.AssignAdvisor(c.Request.Context(), c.Param("id"), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// Upload godoc
// @Summary Upload the thesis document
// @Tags Theses
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Thesis ID"
// @Param file formData file true "Thesis PDF"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id}/document [post]
func (h *ThesisHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file field is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unable to read uploaded file"))
		return
	}
	defer file.Close()

	contentType := fileHeader.Header.Get("Content-Type")
	thesis, err := h.service.UploadDocument(c.Request.Context(), c.Param("id"), claims, fileHeader.Filename, contentType, fileHeader.Size, file)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, thesis, nil)
}

// DownloadLink godoc
// @Summary Issue a signed download link for the thesis document
// @Tags Theses
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id}/document [get]
func (h *ThesisHandler) DownloadLink(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	token, expiresAt, err := h.service.DownloadToken(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{
		"url":        fmt.Sprintf("/api/v1/files/%s", token),
		"expires_at": expiresAt,
	}, nil)
}

// Download godoc
// @Summary Stream a document via its signed token
// @Tags Theses
// @Produce application/octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /files/{token} [get]
func (h *ThesisHandler) Download(c *gin.Context) {
	file, name, err := h.service.OpenByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Header("Content-Type", "application/octet-stream")
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}

// Report godoc
// @Summary Export a thesis review summary as PDF
// @Tags Theses
// @Produce application/pdf
// @Param id path string true "Thesis ID"
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /theses/{id}/report [get]
func (h *ThesisHandler) Report(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	data, name, err := h.service.ExportReport(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "application/pdf", data)
}

// Roster godoc
// @Summary Export the thesis roster as CSV
// @Tags Admin
// @Produce text/csv
// @Success 200 {file} binary
// @Security BearerAuth
// @Router /admin/theses/export [get]
func (h *ThesisHandler) Roster(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	data, err := h.service.ExportRosterCSV(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="theses.csv"`)
	c.Data(http.StatusOK, "text/csv", data)
}
