package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unigrad/thesis-review-api/internal/dto"
	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
	"github.com/unigrad/thesis-review-api/pkg/response"
)

type feedbackService interface {
	Create(ctx context.Context, thesisID string, actor *models.JWTClaims, req dto.CreateFeedbackRequest) (*models.Feedback, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Feedback, error)
	ListByThesis(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]models.Feedback, error)
	Update(ctx context.Context, id string, actor *models.JWTClaims, req dto.UpdateFeedbackRequest) (*models.Feedback, error)
	Submit(ctx context.Context, id string, actor *models.JWTClaims) (*models.Feedback, error)
}

// FeedbackHandler exposes REST endpoints for advisor feedback.
type FeedbackHandler struct {
	service feedbackService
}

// NewFeedbackHandler constructs the handler.
func NewFeedbackHandler(service feedbackService) *FeedbackHandler {
	return &FeedbackHandler{service: service}
}

// Create godoc
// @Summary Open a pending feedback on a thesis
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Thesis ID"
// @Param payload body dto.CreateFeedbackRequest true "Feedback payload"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id}/feedback [post]
func (h *FeedbackHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid feedback payload"))
		return
	}
	feedback, err := h.service.Create(c.Request.Context(), c.Param("id"), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, feedback, nil)
}

// ListByThesis godoc
// @Summary List feedback for a thesis
// @Tags Feedback
// @Produce json
// @Param id path string true "Thesis ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /theses/{id}/feedback [get]
func (h *FeedbackHandler) ListByThesis(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	feedback, err := h.service.ListByThesis(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feedback, nil)
}

// Get godoc
// @Summary Get one feedback record
// @Tags Feedback
// @Produce json
// @Param id path string true "Feedback ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /feedback/{id} [get]
func (h *FeedbackHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	feedback, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feedback, nil)
}

// Update godoc
// @Summary Edit a pending feedback
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Feedback ID"
// @Param payload body dto.UpdateFeedbackRequest true "Feedback changes"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /feedback/{id} [patch]
func (h *FeedbackHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.UpdateFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid feedback payload"))
		return
	}
	feedback, err := h.service.Update(c.Request.Context(), c.Param("id"), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feedback, nil)
}

// Submit godoc
// @Summary Submit a pending feedback to the student
// @Tags Feedback
// @Produce json
// @Param id path string true "Feedback ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /feedback/{id}/submit [post]
func (h *FeedbackHandler) Submit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	feedback, err := h.service.Submit(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, feedback, nil)
}
