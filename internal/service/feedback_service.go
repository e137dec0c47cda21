package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unigrad/thesis-review-api/internal/dto"
	"github.com/unigrad/thesis-review-api/internal/models"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
)

type feedbackStore interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	GetByID(ctx context.Context, id string) (*models.Feedback, error)
	ListByThesis(ctx context.Context, thesisID string) ([]models.Feedback, error)
	Update(ctx context.Context, feedback *models.Feedback) error
	MarkSubmitted(ctx context.Context, id string, ts time.Time) error
}

type thesisReader interface {
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
}

// FeedbackService manages advisor feedback. Records start PENDING and are
// editable only by their author; submitting seals the record and notifies the
// student.
type FeedbackService struct {
	repo      feedbackStore
	theses    thesisReader
	notifier  TransitionNotifier
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeedbackService constructs the service.
func NewFeedbackService(repo feedbackStore, theses thesisReader, notifier TransitionNotifier, logger *zap.Logger) *FeedbackService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{
		repo:      repo,
		theses:    theses,
		notifier:  notifier,
		validator: validator.New(),
		logger:    logger,
	}
}

// Create opens a PENDING feedback record for a thesis under review.
func (s *FeedbackService) Create(ctx context.Context, thesisID string, actor *models.JWTClaims, req dto.CreateFeedbackRequest) (*models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}

	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if thesis.AdvisorID == nil || *thesis.AdvisorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assigned advisor may provide feedback")
	}
	if thesis.Status != models.StatusUnderReview {
		return nil, appErrors.Clone(appErrors.ErrValidation, "feedback requires the thesis to be under review")
	}

	feedback := &models.Feedback{
		ThesisID:        thesis.ID,
		AdvisorID:       actor.UserID,
		State:           models.FeedbackPending,
		OverallComments: strings.TrimSpace(req.OverallComments),
		Rating:          req.Rating,
		Recommendations: optionalString(req.Recommendations),
	}
	if err := s.applyComments(feedback, req.Comments); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, feedback); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create feedback")
	}
	return feedback, nil
}

// Get returns one feedback record, enforcing read scope.
func (s *FeedbackService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	feedback, err := s.loadFeedback(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(ctx, feedback, actor); err != nil {
		return nil, err
	}
	return feedback, nil
}

// ListByThesis returns the feedback visible to the actor for one thesis.
// Students see only SUBMITTED records; pending drafts stay private to the
// advisor.
func (s *FeedbackService) ListByThesis(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleAdvisor:
		if thesis.AdvisorID == nil || *thesis.AdvisorID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	case models.RoleStudent:
		if thesis.StudentID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	default:
		return nil, appErrors.ErrForbidden
	}

	feedback, err := s.repo.ListByThesis(ctx, thesisID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list feedback")
	}
	if actor.Role == models.RoleStudent {
		visible := feedback[:0]
		for _, fb := range feedback {
			if fb.State == models.FeedbackSubmitted {
				visible = append(visible, fb)
			}
		}
		feedback = visible
	}
	for i := range feedback {
		if err := decodeComments(&feedback[i]); err != nil {
			s.logger.Warn("failed to decode feedback comments", zap.String("feedback_id", feedback[i].ID), zap.Error(err))
		}
	}
	return feedback, nil
}

// Update edits a PENDING record owned by the acting advisor.
func (s *FeedbackService) Update(ctx context.Context, id string, actor *models.JWTClaims, req dto.UpdateFeedbackRequest) (*models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}
	feedback, err := s.loadFeedback(ctx, id)
	if err != nil {
		return nil, err
	}
	if feedback.AdvisorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "feedback belongs to another advisor")
	}
	if feedback.State != models.FeedbackPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "submitted feedback cannot be edited")
	}

	if req.OverallComments != nil {
		feedback.OverallComments = strings.TrimSpace(*req.OverallComments)
	}
	if req.Rating != nil {
		feedback.Rating = req.Rating
	}
	if req.Recommendations != nil {
		feedback.Recommendations = optionalString(*req.Recommendations)
	}
	if req.Comments != nil {
		if err := s.applyComments(feedback, req.Comments); err != nil {
			return nil, err
		}
	}
	if err := s.repo.Update(ctx, feedback); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "submitted feedback cannot be edited")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update feedback")
	}
	return feedback, nil
}

// Submit seals a PENDING record and notifies the student.
func (s *FeedbackService) Submit(ctx context.Context, id string, actor *models.JWTClaims) (*models.Feedback, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	feedback, err := s.loadFeedback(ctx, id)
	if err != nil {
		return nil, err
	}
	if feedback.AdvisorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "feedback belongs to another advisor")
	}
	if feedback.State != models.FeedbackPending {
		return nil, appErrors.Clone(appErrors.ErrConflict, "feedback was already submitted")
	}
	if strings.TrimSpace(feedback.OverallComments) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "overall comments are required before submitting")
	}

	now := time.Now().UTC()
	if err := s.repo.MarkSubmitted(ctx, feedback.ID, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "feedback was already submitted")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit feedback")
	}
	feedback.State = models.FeedbackSubmitted
	feedback.UpdatedAt = now

	if thesis, err := s.loadThesis(ctx, feedback.ThesisID); err == nil && s.notifier != nil {
		s.notifier.Emit(models.NotificationEvent{
			Type:       models.NotificationFeedbackProvided,
			ThesisID:   thesis.ID,
			Recipients: []string{thesis.StudentID},
			ActorID:    actor.UserID,
			Title:      "Feedback available",
			Message:    fmt.Sprintf("Your advisor submitted feedback on %q", thesis.Title),
			OccurredAt: now,
		})
	}
	return feedback, nil
}

func (s *FeedbackService) loadThesis(ctx context.Context, id string) (*models.Thesis, error) {
	thesis, err := s.theses.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	return thesis, nil
}

func (s *FeedbackService) loadFeedback(ctx context.Context, id string) (*models.Feedback, error) {
	feedback, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	if err := decodeComments(feedback); err != nil {
		s.logger.Warn("failed to decode feedback comments", zap.String("feedback_id", feedback.ID), zap.Error(err))
	}
	return feedback, nil
}

func (s *FeedbackService) authorizeRead(ctx context.Context, feedback *models.Feedback, actor *models.JWTClaims) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleAdvisor:
		if feedback.AdvisorID == actor.UserID {
			return nil
		}
	case models.RoleStudent:
		if feedback.State != models.FeedbackSubmitted {
			return appErrors.ErrForbidden
		}
		thesis, err := s.loadThesis(ctx, feedback.ThesisID)
		if err != nil {
			return err
		}
		if thesis.StudentID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

func (s *FeedbackService) applyComments(feedback *models.Feedback, inputs []dto.FeedbackCommentInput) error {
	now := time.Now().UTC()
	list := make([]models.FeedbackComment, 0, len(inputs))
	for _, input := range inputs {
		list = append(list, models.FeedbackComment{
			ID:        uuid.NewString(),
			Content:   strings.TrimSpace(input.Content),
			Page:      input.Page,
			PositionX: input.PositionX,
			PositionY: input.PositionY,
			CreatedAt: now,
		})
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback comments")
	}
	feedback.CommentList = list
	feedback.Comments = raw
	return nil
}

func decodeComments(feedback *models.Feedback) error {
	if len(feedback.Comments) == 0 {
		feedback.CommentList = nil
		return nil
	}
	return json.Unmarshal(feedback.Comments, &feedback.CommentList)
}
