package dto

import "github.com/unigrad/thesis-review-api/internal/models"

// CreateThesisRequest payload for submitting a new thesis.
type CreateThesisRequest struct {
	Title       string `json:"title" validate:"required,min=3"`
	Description string `json:"description"`
}

// TransitionRequest moves a thesis to the target status.
type TransitionRequest struct {
	TargetStatus models.ThesisStatus `json:"target_status" validate:"required"`
	Note         string              `json:"note"`
}

// AssignAdvisorRequest binds an advisor to a submitted thesis.
type AssignAdvisorRequest struct {
	AdvisorID string `json:"advisor_id" validate:"required"`
	Note      string `json:"note"`
}

// ThesisQuery mirrors supported listing filters.
type ThesisQuery struct {
	Status   []models.ThesisStatus
	Search   string
	Page     int
	PageSize int
}
