package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/unigrad/thesis-review-api/internal/dto"
	"github.com/unigrad/thesis-review-api/internal/lifecycle"
	"github.com/unigrad/thesis-review-api/internal/models"
	"github.com/unigrad/thesis-review-api/internal/repository"
	appErrors "github.com/unigrad/thesis-review-api/pkg/errors"
	"github.com/unigrad/thesis-review-api/pkg/export"
	"github.com/unigrad/thesis-review-api/pkg/storage"
)

type thesisStore interface {
	Create(ctx context.Context, thesis *models.Thesis) error
	GetByID(ctx context.Context, id string) (*models.Thesis, error)
	GetWithHistory(ctx context.Context, id string) (*models.Thesis, error)
	History(ctx context.Context, thesisID string) ([]models.StatusChange, error)
	List(ctx context.Context, filter models.ThesisFilter) ([]models.Thesis, int, error)
	ApplyTransition(ctx context.Context, params repository.TransitionParams, change *models.StatusChange) error
	UpdateFile(ctx context.Context, id, fileKey, fileName string, fileSize int64) error
}

type userDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	ListByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

type feedbackReader interface {
	ListByThesis(ctx context.Context, thesisID string) ([]models.Feedback, error)
}

// TransitionNotifier receives events produced by committed transitions.
// Delivery is decoupled: the transition has already committed by the time
// Emit runs, and Emit never blocks the request path.
type TransitionNotifier interface {
	Emit(event models.NotificationEvent)
}

// ThesisService is the application entry point for every thesis mutation.
// Status only changes through RequestTransition and AssignAdvisor, which
// delegate legality to the lifecycle engine.
type ThesisService struct {
	repo      thesisStore
	users     userDirectory
	feedback  feedbackReader
	notifier  TransitionNotifier
	cache     *CacheService
	metrics   *MetricsService
	store     *storage.LocalStorage
	signer    *storage.SignedURLSigner
	pdf       *export.PDFExporter
	csv       *export.CSVExporter
	validator *validator.Validate
	logger    *zap.Logger

	maxFileSize  int64
	allowedMIMEs []string
}

// ThesisServiceOption configures optional collaborators.
type ThesisServiceOption func(*ThesisService)

// WithThesisCache enables read-path caching.
func WithThesisCache(cache *CacheService) ThesisServiceOption {
	return func(s *ThesisService) { s.cache = cache }
}

// WithThesisMetrics enables transition instrumentation.
func WithThesisMetrics(metrics *MetricsService) ThesisServiceOption {
	return func(s *ThesisService) { s.metrics = metrics }
}

// WithThesisStorage wires document storage and signed downloads.
func WithThesisStorage(store *storage.LocalStorage, signer *storage.SignedURLSigner, maxFileSize int64, allowedMIMEs []string) ThesisServiceOption {
	return func(s *ThesisService) {
		s.store = store
		s.signer = signer
		s.maxFileSize = maxFileSize
		s.allowedMIMEs = allowedMIMEs
	}
}

// WithThesisFeedback wires the feedback reader used by report export.
func WithThesisFeedback(reader feedbackReader) ThesisServiceOption {
	return func(s *ThesisService) { s.feedback = reader }
}

// NewThesisService constructs the service.
func NewThesisService(repo thesisStore, users userDirectory, notifier TransitionNotifier, logger *zap.Logger, opts ...ThesisServiceOption) *ThesisService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &ThesisService{
		repo:      repo,
		users:     users,
		notifier:  notifier,
		pdf:       export.NewPDFExporter(),
		csv:       export.NewCSVExporter(),
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit creates a new thesis in SUBMITTED for the acting student.
func (s *ThesisService) Submit(ctx context.Context, req dto.CreateThesisRequest, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students may submit a thesis")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid thesis payload")
	}

	thesis := &models.Thesis{
		StudentID:   actor.UserID,
		Title:       strings.TrimSpace(req.Title),
		Description: optionalString(req.Description),
		Status:      models.StatusSubmitted,
	}
	if err := s.repo.Create(ctx, thesis); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create thesis")
	}
	s.invalidateCache(ctx)

	s.emit(models.NotificationEvent{
		Type:       models.NotificationNewSubmission,
		ThesisID:   thesis.ID,
		Recipients: s.adminIDs(ctx),
		ActorID:    actor.UserID,
		Title:      "New thesis submission",
		Message:    fmt.Sprintf("%q was submitted and awaits advisor assignment", thesis.Title),
		OccurredAt: time.Now().UTC(),
	})
	return thesis, nil
}

// Get returns one thesis with history, enforcing read scope.
func (s *ThesisService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}

	cacheKey := fmt.Sprintf("thesis:%s:detail", id)
	if s.cache.Enabled() {
		var cached models.Thesis
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			if err := s.authorizeRead(&cached, actor); err != nil {
				return nil, err
			}
			return &cached, nil
		}
	}

	thesis, err := s.loadWithHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(thesis, actor); err != nil {
		return nil, err
	}
	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, thesis, 0); err != nil {
			s.logger.Warn("failed to cache thesis", zap.Error(err))
		}
	}
	return thesis, nil
}

// List returns theses visible to the actor.
func (s *ThesisService) List(ctx context.Context, query dto.ThesisQuery, actor *models.JWTClaims) ([]models.Thesis, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.ThesisFilter{
		Status:   query.Status,
		Search:   strings.TrimSpace(query.Search),
		Page:     query.Page,
		PageSize: query.PageSize,
	}
	switch actor.Role {
	case models.RoleAdmin:
		// full visibility
	case models.RoleAdvisor:
		filter.AdvisorID = actor.UserID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	theses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list theses")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return theses, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// RequestTransition moves a thesis to the target status on behalf of the
// actor. Guards run against the loaded snapshot; the write is protected by
// an optimistic version check so concurrent writers cannot both win the same
// (from, to) window.
func (s *ThesisService) RequestTransition(ctx context.Context, thesisID string, actor *models.JWTClaims, req dto.TransitionRequest) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return nil, err
	}

	target := req.TargetStatus
	if err := lifecycle.Authorize(thesis, lifecycle.Actor{ID: actor.UserID, Role: actor.Role}, target); err != nil {
		return nil, err
	}
	if target == models.StatusAssigned {
		return nil, appErrors.Clone(appErrors.ErrValidation, "advisor assignment must go through the assignment endpoint")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:              thesis.ID,
		ExpectedVersion: thesis.Version,
		Status:          target,
		UpdatedAt:       now,
	}
	if target.Terminal() {
		params.DecidedAt = &now
	}
	change := &models.StatusChange{
		FromStatus: thesis.Status,
		ToStatus:   target,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Note:       optionalString(req.Note),
		CreatedAt:  now,
	}
	if err := s.repo.ApplyTransition(ctx, params, change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrConflictRetry
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
	}
	s.invalidateCache(ctx)
	s.metrics.RecordTransition(string(change.FromStatus), string(change.ToStatus))

	s.emitTransition(thesis, change, actor.UserID)

	updated, err := s.loadWithHistory(ctx, thesis.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// AssignAdvisor binds an advisor and performs SUBMITTED -> ASSIGNED as one
// atomic unit; a thesis with an advisor but the old status is never visible.
func (s *ThesisService) AssignAdvisor(ctx context.Context, thesisID string, actor *models.JWTClaims, req dto.AssignAdvisorRequest) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.Authorize(thesis, lifecycle.Actor{ID: actor.UserID, Role: actor.Role}, models.StatusAssigned); err != nil {
		return nil, err
	}

	advisor, err := s.users.FindByID(ctx, req.AdvisorID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "advisor not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve advisor")
	}
	if advisor.Role != models.RoleAdvisor || !advisor.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee must be an active advisor")
	}

	now := time.Now().UTC()
	params := repository.TransitionParams{
		ID:              thesis.ID,
		ExpectedVersion: thesis.Version,
		Status:          models.StatusAssigned,
		AdvisorID:       &advisor.ID,
		SetAdvisor:      true,
		UpdatedAt:       now,
	}
	change := &models.StatusChange{
		FromStatus: thesis.Status,
		ToStatus:   models.StatusAssigned,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Note:       optionalString(req.Note),
		CreatedAt:  now,
	}
	if err := s.repo.ApplyTransition(ctx, params, change); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrConflictRetry
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign advisor")
	}
	s.invalidateCache(ctx)
	s.metrics.RecordTransition(string(change.FromStatus), string(change.ToStatus))

	s.emit(models.NotificationEvent{
		Type:       models.NotificationAdvisorAssigned,
		ThesisID:   thesis.ID,
		Recipients: []string{thesis.StudentID, advisor.ID},
		ActorID:    actor.UserID,
		Title:      "Advisor assigned",
		Message:    fmt.Sprintf("%s was assigned to review %q", advisor.FullName, thesis.Title),
		OccurredAt: now,
	})

	updated, err := s.loadWithHistory(ctx, thesis.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UploadDocument stores the thesis PDF for the owning student.
func (s *ThesisService) UploadDocument(ctx context.Context, thesisID string, actor *models.JWTClaims, fileName, contentType string, size int64, r io.Reader) (*models.Thesis, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if s.store == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "document storage not configured")
	}
	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return nil, err
	}
	if actor.Role != models.RoleAdmin && thesis.StudentID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owning student may upload the document")
	}
	if thesis.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "thesis is finalized")
	}
	if s.maxFileSize > 0 && size > s.maxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file exceeds the maximum allowed size")
	}
	if len(s.allowedMIMEs) > 0 && !containsString(s.allowedMIMEs, contentType) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported content type: %s", contentType))
	}

	key := fmt.Sprintf("theses/%s/v%d%s", thesis.ID, thesis.Version, filepath.Ext(fileName))
	written, err := s.store.SaveStream(key, r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store document")
	}
	if err := s.repo.UpdateFile(ctx, thesis.ID, key, fileName, written); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record document")
	}
	s.invalidateCache(ctx)

	thesis.FileKey = &key
	thesis.FileName = &fileName
	thesis.FileSize = &written
	return thesis, nil
}

// DownloadToken issues a signed token for the stored document.
func (s *ThesisService) DownloadToken(ctx context.Context, thesisID string, actor *models.JWTClaims) (string, time.Time, error) {
	if actor == nil {
		return "", time.Time{}, appErrors.ErrUnauthorized
	}
	if s.signer == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrInternal, "document storage not configured")
	}
	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return "", time.Time{}, err
	}
	if err := s.authorizeRead(thesis, actor); err != nil {
		return "", time.Time{}, err
	}
	if thesis.FileKey == nil {
		return "", time.Time{}, appErrors.Clone(appErrors.ErrNotFound, "no document uploaded")
	}
	token, expiresAt, err := s.signer.Generate(thesis.ID, *thesis.FileKey)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download")
	}
	return token, expiresAt, nil
}

// OpenByToken resolves a signed token to the stored document.
func (s *ThesisService) OpenByToken(ctx context.Context, token string) (io.ReadCloser, string, error) {
	if s.signer == nil || s.store == nil {
		return nil, "", appErrors.Clone(appErrors.ErrInternal, "document storage not configured")
	}
	thesisID, key, _, err := s.signer.Parse(token)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	thesis, err := s.loadThesis(ctx, thesisID)
	if err != nil {
		return nil, "", err
	}
	name := key
	if thesis.FileName != nil {
		name = *thesis.FileName
	}
	file, err := s.store.Open(key)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrNotFound, "stored document missing")
	}
	return file, name, nil
}

// ExportReport renders the review summary PDF for one thesis.
func (s *ThesisService) ExportReport(ctx context.Context, thesisID string, actor *models.JWTClaims) ([]byte, string, error) {
	if actor == nil {
		return nil, "", appErrors.ErrUnauthorized
	}
	thesis, err := s.loadWithHistory(ctx, thesisID)
	if err != nil {
		return nil, "", err
	}
	if err := s.authorizeRead(thesis, actor); err != nil {
		return nil, "", err
	}

	report := export.ReviewReport{
		Title:       thesis.Title,
		StudentName: s.displayName(ctx, thesis.StudentID),
		Status:      string(thesis.Status),
		Version:     thesis.Version,
		SubmittedAt: thesis.SubmittedAt,
	}
	if thesis.AdvisorID != nil {
		report.AdvisorName = s.displayName(ctx, *thesis.AdvisorID)
	}
	for _, change := range thesis.History {
		note := ""
		if change.Note != nil {
			note = *change.Note
		}
		report.History = append(report.History, export.ReportHistoryRow{
			From:      string(change.FromStatus),
			To:        string(change.ToStatus),
			ActorName: s.displayName(ctx, change.ActorID),
			Role:      string(change.ActorRole),
			Note:      note,
			At:        change.CreatedAt,
		})
	}
	if s.feedback != nil {
		feedback, err := s.feedback.ListByThesis(ctx, thesis.ID)
		if err != nil {
			s.logger.Warn("failed to load feedback for report", zap.Error(err))
		}
		for _, fb := range feedback {
			rating := ""
			if fb.Rating != nil {
				rating = fmt.Sprintf("%d", *fb.Rating)
			}
			recommendations := ""
			if fb.Recommendations != nil {
				recommendations = *fb.Recommendations
			}
			report.Feedback = append(report.Feedback, export.ReportFeedbackRow{
				AdvisorName:     s.displayName(ctx, fb.AdvisorID),
				State:           string(fb.State),
				Rating:          rating,
				OverallComments: fb.OverallComments,
				Recommendations: recommendations,
				At:              fb.UpdatedAt,
			})
		}
	}

	data, err := s.pdf.Render(report)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}
	return data, fmt.Sprintf("thesis-review-%s.pdf", thesis.ID), nil
}

// ExportRosterCSV renders the admin thesis roster.
func (s *ThesisService) ExportRosterCSV(ctx context.Context, actor *models.JWTClaims) ([]byte, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return nil, appErrors.ErrForbidden
	}
	// The roster must be complete, so walk every page.
	filter := models.ThesisFilter{Page: 1, PageSize: 100}
	var theses []models.Thesis
	for {
		page, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list theses")
		}
		theses = append(theses, page...)
		if len(page) == 0 || len(theses) >= total {
			break
		}
		filter.Page++
	}
	dataset := export.Dataset{
		Headers: []string{"id", "title", "student_id", "advisor_id", "status", "version", "submitted_at"},
	}
	for _, thesis := range theses {
		advisorID := ""
		if thesis.AdvisorID != nil {
			advisorID = *thesis.AdvisorID
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"id":           thesis.ID,
			"title":        thesis.Title,
			"student_id":   thesis.StudentID,
			"advisor_id":   advisorID,
			"status":       string(thesis.Status),
			"version":      fmt.Sprintf("%d", thesis.Version),
			"submitted_at": thesis.SubmittedAt.Format(time.RFC3339),
		})
	}
	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
	}
	return data, nil
}

func (s *ThesisService) loadThesis(ctx context.Context, id string) (*models.Thesis, error) {
	thesis, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	return thesis, nil
}

func (s *ThesisService) loadWithHistory(ctx context.Context, id string) (*models.Thesis, error) {
	thesis, err := s.repo.GetWithHistory(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load thesis")
	}
	return thesis, nil
}

func (s *ThesisService) authorizeRead(thesis *models.Thesis, actor *models.JWTClaims) error {
	switch actor.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleStudent:
		if thesis.StudentID == actor.UserID {
			return nil
		}
	case models.RoleAdvisor:
		if thesis.AdvisorID != nil && *thesis.AdvisorID == actor.UserID {
			return nil
		}
	}
	return appErrors.ErrForbidden
}

// emitTransition derives the event for a committed transition. Recipients
// are the student plus the assigned advisor when the advisor is not the
// actor.
func (s *ThesisService) emitTransition(thesis *models.Thesis, change *models.StatusChange, actorID string) {
	eventType, ok := lifecycle.EventFor(change.FromStatus, change.ToStatus)
	if !ok {
		return
	}
	recipients := []string{thesis.StudentID}
	if thesis.AdvisorID != nil && *thesis.AdvisorID != actorID {
		recipients = append(recipients, *thesis.AdvisorID)
	}
	s.emit(models.NotificationEvent{
		Type:       eventType,
		ThesisID:   thesis.ID,
		Recipients: recipients,
		ActorID:    actorID,
		Title:      "Thesis status updated",
		Message:    fmt.Sprintf("%q moved from %s to %s", thesis.Title, change.FromStatus, change.ToStatus),
		OccurredAt: change.CreatedAt,
	})
}

func (s *ThesisService) emit(event models.NotificationEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Emit(event)
}

func (s *ThesisService) adminIDs(ctx context.Context) []string {
	if s.users == nil {
		return nil
	}
	admins, err := s.users.ListByRole(ctx, models.RoleAdmin)
	if err != nil {
		s.logger.Warn("failed to resolve admin recipients", zap.Error(err))
		return nil
	}
	ids := make([]string, 0, len(admins))
	for _, admin := range admins {
		ids = append(ids, admin.ID)
	}
	return ids
}

func (s *ThesisService) displayName(ctx context.Context, userID string) string {
	if s.users == nil {
		return userID
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return userID
	}
	return user.FullName
}

func (s *ThesisService) invalidateCache(ctx context.Context) {
	if !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, "thesis:*"); err != nil {
		s.logger.Warn("failed to invalidate thesis cache", zap.Error(err))
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
