package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/internal/repository"
	"github.com/tutortrack/tutortrack-api/pkg/config"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

type sessionRepository interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.LessonSession, int, error)
	FindByID(ctx context.Context, id string) (*models.LessonSession, error)
	Create(ctx context.Context, session *models.LessonSession) error
	UpdateDetails(ctx context.Context, session *models.LessonSession) error
	ApplyMark(ctx context.Context, params repository.ApplyMarkParams) (*models.LessonSession, error)
	ApplyCancel(ctx context.Context, params repository.ApplyCancelParams) (*models.LessonSession, error)
	ApplyManualStatus(ctx context.Context, params repository.ApplyManualStatusParams) (*models.LessonSession, error)
	Delete(ctx context.Context, id string) error
}

type sessionEnrollmentReader interface {
	FindActiveTeacher(ctx context.Context, studentID string) (string, error)
	IsEnrolled(ctx context.Context, teacherUserID, studentID string) (bool, error)
}

type sessionStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

type sessionCreditReader interface {
	HasRemainingCredit(ctx context.Context, studentID string, now time.Time) (bool, error)
}

type sessionAuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// CreateSessionRequest schedules a lesson for a student. The teacher side
// defaults to the student's actively enrolled teacher; admins may name a
// teacher explicitly to schedule any pairing.
type CreateSessionRequest struct {
	StudentID      string    `json:"student_id" validate:"required,uuid4"`
	TeacherUserID  *string   `json:"teacher_user_id" validate:"omitempty,uuid4"`
	ScheduledStart time.Time `json:"scheduled_start" validate:"required"`
	DurationMin    int       `json:"duration_min" validate:"required,gte=15,lte=480"`
	Mode           string    `json:"mode" validate:"required"`
	Topic          *string   `json:"topic"`
}

// UpdateSessionRequest edits the scheduling fields of a session.
type UpdateSessionRequest struct {
	ScheduledStart *time.Time `json:"scheduled_start"`
	DurationMin    *int       `json:"duration_min" validate:"omitempty,gte=15,lte=480"`
	Mode           *string    `json:"mode"`
	Topic          *string    `json:"topic"`
	AdminNote      *string    `json:"admin_note"`
}

// TeacherMarkRequest is the teacher's confirmation of a held lesson.
type TeacherMarkRequest struct {
	Rating *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Note   *string `json:"note"`
}

// StudentMarkRequest is the student's confirmation. Done=false reports that
// the lesson never happened; the session goes to MISSED and any rating or
// note in the payload is discarded.
type StudentMarkRequest struct {
	Done   *bool   `json:"done"`
	Rating *int    `json:"rating" validate:"omitempty,gte=1,lte=5"`
	Note   *string `json:"note"`
}

// UpdateSessionStatusRequest is an explicit status correction.
type UpdateSessionStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// SessionService drives the lesson-session lifecycle: scheduling, the
// dual-mark confirmation protocol, cancellations and their credit penalty,
// and manual administrative corrections.
type SessionService struct {
	repo        sessionRepository
	enrollments sessionEnrollmentReader
	students    sessionStudentReader
	credits     sessionCreditReader
	audit       sessionAuditWriter
	validator   *validator.Validate
	logger      *zap.Logger
	cfg         config.SessionsConfig
	now         func() time.Time
}

// NewSessionService constructs the session service.
func NewSessionService(repo sessionRepository, enrollments sessionEnrollmentReader, students sessionStudentReader, credits sessionCreditReader, audit sessionAuditWriter, validate *validator.Validate, logger *zap.Logger, cfg config.SessionsConfig) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:        repo,
		enrollments: enrollments,
		students:    students,
		credits:     credits,
		audit:       audit,
		validator:   validate,
		logger:      logger,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// List returns the sessions visible to the caller. Students see their own
// sessions, teachers the ones they deliver, admins everything. A client
// filter pointing outside the caller's scope is rejected, not narrowed.
func (s *SessionService) List(ctx context.Context, claims *models.JWTClaims, filter models.SessionFilter) ([]models.LessonSession, *models.Pagination, error) {
	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if filter.StudentID != "" {
			enrolled, err := s.enrollments.IsEnrolled(ctx, claims.UserID, filter.StudentID)
			if err != nil {
				return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
			}
			if !enrolled {
				return nil, nil, appErrors.Clone(appErrors.ErrForbiddenStudent, "student is not assigned to this teacher")
			}
		}
		filter.TeacherUserID = claims.UserID
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		if filter.TeacherUserID != "" {
			teacherUserID, err := s.enrollments.FindActiveTeacher(ctx, student.ID)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "student has no assigned teacher")
				}
				return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assigned teacher")
			}
			if teacherUserID != filter.TeacherUserID {
				return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "teacher filter does not match the enrolled teacher")
			}
		}
		filter.StudentID = student.ID
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot list sessions")
	}

	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return sessions, pagination, nil
}

// Get returns a single session if the caller may see it.
func (s *SessionService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.LessonSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, claims, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Create schedules a new session. Teachers may only schedule for students
// enrolled with them; admins for any pairing, naming the teacher explicitly
// when the student has no active enrollment. The student must hold at least
// one available lesson credit.
func (s *SessionService) Create(ctx context.Context, claims *models.JWTClaims, req CreateSessionRequest) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	mode, err := models.ParseSessionMode(req.Mode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session mode")
	}
	if claims.Role != models.RoleAdmin && claims.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot create sessions")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	var teacherUserID string
	if claims.Role == models.RoleAdmin && req.TeacherUserID != nil {
		teacherUserID = *req.TeacherUserID
	} else {
		teacherUserID, err = s.enrollments.FindActiveTeacher(ctx, req.StudentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrTeacherNotAssigned, "student has no assigned teacher")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve assigned teacher")
		}
		if claims.Role == models.RoleTeacher && teacherUserID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbiddenStudent, "student is not assigned to this teacher")
		}
	}

	available, err := s.credits.HasRemainingCredit(ctx, req.StudentID, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check lesson credit")
	}
	if !available {
		return nil, appErrors.Clone(appErrors.ErrNoRemainingLessons, "no active package or no remaining lessons")
	}

	session := &models.LessonSession{
		StudentID:       req.StudentID,
		TeacherUserID:   teacherUserID,
		CreatedByUserID: claims.UserID,
		ScheduledStart:  req.ScheduledStart.UTC(),
		DurationMin:     req.DurationMin,
		Mode:            mode,
		Topic:           req.Topic,
		Status:          models.SessionStatusPlanned,
		Consumed:        false,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}
	return session, nil
}

// Update edits scheduling details. Marks, status, and the consumed flag are
// never touched here; terminal sessions are immutable.
func (s *SessionService) Update(ctx context.Context, claims *models.JWTClaims, id string, req UpdateSessionRequest) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeManage(claims, session); err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrCannotMarkTerminal, "cannot edit a finished session")
	}

	if req.ScheduledStart != nil {
		session.ScheduledStart = req.ScheduledStart.UTC()
	}
	if req.DurationMin != nil {
		session.DurationMin = *req.DurationMin
	}
	if req.Mode != nil {
		mode, err := models.ParseSessionMode(*req.Mode)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session mode")
		}
		session.Mode = mode
	}
	if req.Topic != nil {
		session.Topic = req.Topic
	}
	if req.AdminNote != nil {
		if claims.Role != models.RoleAdmin {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may set the admin note")
		}
		session.AdminNote = req.AdminNote
	}

	if err := s.repo.UpdateDetails(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	return session, nil
}

// TeacherMark records the teacher's confirmation that the lesson was held.
func (s *SessionService) TeacherMark(ctx context.Context, claims *models.JWTClaims, id string, req TeacherMarkRequest) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if session.TeacherUserID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot record a teacher mark")
	}
	if session.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrCannotMarkTerminal, "cannot mark a finished session")
	}

	updated, err := s.repo.ApplyMark(ctx, repository.ApplyMarkParams{
		SessionID: id,
		Side:      repository.MarkSideTeacher,
		At:        s.now(),
		Rating:    req.Rating,
		Note:      req.Note,
	})
	if err != nil {
		return nil, s.mapMutationError(err)
	}
	return updated, nil
}

// StudentMark records the student's confirmation, by the owning student or
// an admin on their behalf. The teacher must have marked first. Done=false
// forces the session to MISSED.
func (s *SessionService) StudentMark(ctx context.Context, claims *models.JWTClaims, id string, req StudentMarkRequest) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		if session.StudentID != student.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another student")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot record a student mark")
	}
	if session.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrCannotMarkTerminal, "cannot mark a finished session")
	}
	if session.TeacherMarkedAt == nil {
		return nil, appErrors.Clone(appErrors.ErrTeacherMarkRequired, "teacher must mark the session first")
	}

	done := req.Done == nil || *req.Done
	updated, err := s.repo.ApplyMark(ctx, repository.ApplyMarkParams{
		SessionID:   id,
		Side:        repository.MarkSideStudent,
		At:          s.now(),
		Rating:      req.Rating,
		Note:        req.Note,
		ForceMissed: !done,
	})
	if err != nil {
		return nil, s.mapMutationError(err)
	}
	if updated.Status == models.SessionStatusCompleted && !updated.Consumed {
		s.logger.Warn("session completed without consuming a credit",
			zap.String("session_id", updated.ID),
			zap.String("student_id", updated.StudentID))
	}
	return updated, nil
}

// Cancel cancels a session. A student cancelling inside the penalty window
// forfeits one lesson credit; the cancellation fails outright when no credit
// is available. Teacher and admin cancellations never cost a credit.
func (s *SessionService) Cancel(ctx context.Context, claims *models.JWTClaims, id string) (*models.LessonSession, error) {
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	penalty := false
	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if session.TeacherUserID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
		}
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		if session.StudentID != student.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another student")
		}
		// Inclusive boundary: cancelling exactly at the window edge still costs a credit.
		penalty = !s.now().Before(session.ScheduledStart.Add(-s.cfg.CancelPenaltyWindow))
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot cancel sessions")
	}

	if session.Status != models.SessionStatusPlanned && session.Status != models.SessionStatusPendingConfirmation {
		return nil, appErrors.Clone(appErrors.ErrCannotMarkTerminal, "session can no longer be cancelled")
	}

	updated, err := s.repo.ApplyCancel(ctx, repository.ApplyCancelParams{
		SessionID: id,
		ByUserID:  claims.UserID,
		ByRole:    claims.Role,
		At:        s.now(),
		Penalty:   penalty,
	})
	if err != nil {
		return nil, s.mapMutationError(err)
	}
	if penalty {
		s.logger.Info("late cancellation consumed a credit",
			zap.String("session_id", updated.ID),
			zap.String("student_id", updated.StudentID))
	}
	return updated, nil
}

// UpdateStatus applies a manual status edit by an admin or the owning
// teacher. Only CANCELLED and MISSED are reachable, and only from PLANNED or
// PENDING_CONFIRMATION; the rejection payload carries the targets that would
// have been allowed.
func (s *SessionService) UpdateStatus(ctx context.Context, claims *models.JWTClaims, id string, req UpdateSessionStatusRequest) (*models.LessonSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	target, err := models.ParseSessionStatus(req.Status)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status value")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeManage(claims, session); err != nil {
		return nil, err
	}
	if !models.CanTransitionManually(session.Status, target) {
		return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, map[string]interface{}{
			"current_status":  session.Status,
			"allowed_targets": models.ManualTargets(session.Status),
		})
	}

	updated, err := s.repo.ApplyManualStatus(ctx, repository.ApplyManualStatusParams{
		SessionID: id,
		Target:    target,
		ByUserID:  claims.UserID,
		ByRole:    claims.Role,
		At:        s.now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionTerminal) {
			return nil, appErrors.WithDetails(appErrors.ErrInvalidTransition, map[string]interface{}{
				"current_status":  session.Status,
				"allowed_targets": models.ManualTargets(session.Status),
			})
		}
		return nil, s.mapMutationError(err)
	}
	return updated, nil
}

// Delete removes a session entirely. Admin only; the deletion is audited.
func (s *SessionService) Delete(ctx context.Context, claims *models.JWTClaims, id string, meta models.LoginRequest) error {
	if claims.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only admins may delete sessions")
	}
	session, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete session")
	}
	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionSessionDelete,
		Resource:   "lesson_sessions",
		ResourceID: &session.ID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}); err != nil {
		s.logger.Warn("failed to record session delete audit log", zap.Error(err))
	}
	return nil
}

func (s *SessionService) load(ctx context.Context, id string) (*models.LessonSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

func (s *SessionService) authorizeView(ctx context.Context, claims *models.JWTClaims, session *models.LessonSession) error {
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if session.TeacherUserID == claims.UserID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		if session.StudentID == student.ID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "session belongs to another student")
	}
	return appErrors.Clone(appErrors.ErrForbidden, "role cannot view sessions")
}

func (s *SessionService) authorizeManage(claims *models.JWTClaims, session *models.LessonSession) error {
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if session.TeacherUserID == claims.UserID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
	}
	return appErrors.Clone(appErrors.ErrForbidden, "role cannot edit sessions")
}

func (s *SessionService) mapMutationError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionTerminal):
		return appErrors.Clone(appErrors.ErrCannotMarkTerminal, "cannot mark a cancelled or missed session")
	case errors.Is(err, repository.ErrNoCredit):
		return appErrors.Clone(appErrors.ErrNoRemainingLessons, "no active package or no remaining lessons")
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
}
