package dto

// FeedbackCommentInput is one positional annotation in a feedback payload.
type FeedbackCommentInput struct {
	Content   string   `json:"content" validate:"required"`
	Page      *int     `json:"page"`
	PositionX *float64 `json:"position_x"`
	PositionY *float64 `json:"position_y"`
}

// CreateFeedbackRequest opens a pending feedback on a thesis under review.
type CreateFeedbackRequest struct {
	OverallComments string                 `json:"overall_comments" validate:"required"`
	Rating          *int                   `json:"rating" validate:"omitempty,min=1,max=5"`
	Recommendations string                 `json:"recommendations"`
	Comments        []FeedbackCommentInput `json:"comments"`
}

// UpdateFeedbackRequest amends a pending feedback. Nil fields are left
// untouched.
type UpdateFeedbackRequest struct {
	OverallComments *string                `json:"overall_comments"`
	Rating          *int                   `json:"rating" validate:"omitempty,min=1,max=5"`
	Recommendations *string                `json:"recommendations"`
	Comments        []FeedbackCommentInput `json:"comments"`
}
