package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

type lessonReportRepository interface {
	List(ctx context.Context, filter models.LessonReportFilter) ([]models.LessonReport, int, error)
	FindByID(ctx context.Context, id string) (*models.LessonReport, error)
	Create(ctx context.Context, report *models.LessonReport) error
}

type reportSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.LessonSession, error)
}

type reportStudentReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// CreateLessonReportRequest records a written summary for a session.
type CreateLessonReportRequest struct {
	LessonSessionID   string  `json:"lesson_session_id" validate:"required,uuid4"`
	Topic             *string `json:"topic"`
	PerformanceRating *int    `json:"performance_rating" validate:"omitempty,gte=1,lte=5"`
	TeacherNote       *string `json:"teacher_note"`
	NextNote          *string `json:"next_note"`
}

// LessonReportService manages per-session written reports. Reports belong to
// the session; deleting the session removes them through the DB cascade.
type LessonReportService struct {
	repo      lessonReportRepository
	sessions  reportSessionReader
	students  reportStudentReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLessonReportService constructs the lesson report service.
func NewLessonReportService(repo lessonReportRepository, sessions reportSessionReader, students reportStudentReader, validate *validator.Validate, logger *zap.Logger) *LessonReportService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LessonReportService{repo: repo, sessions: sessions, students: students, validator: validate, logger: logger}
}

// List returns the reports visible to the caller, scoped by role.
func (s *LessonReportService) List(ctx context.Context, claims *models.JWTClaims, filter models.LessonReportFilter) ([]models.LessonReport, int, error) {
	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		filter.TeacherUserID = claims.UserID
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		filter.StudentID = student.ID
	default:
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "role cannot list reports")
	}

	reports, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson reports")
	}
	return reports, total, nil
}

// Get returns a single report if the caller may see it.
func (s *LessonReportService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.LessonReport, error) {
	report, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson report not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson report")
	}

	switch claims.Role {
	case models.RoleAdmin:
	case models.RoleTeacher:
		if report.TeacherUserID != claims.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "report belongs to another teacher")
		}
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		if report.StudentID != student.ID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "report belongs to another student")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role cannot view reports")
	}
	return report, nil
}

// Create writes a report for a session the caller taught.
func (s *LessonReportService) Create(ctx context.Context, claims *models.JWTClaims, req CreateLessonReportRequest) (*models.LessonReport, error) {
	if claims.Role != models.RoleTeacher && claims.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can write lesson reports")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}

	session, err := s.sessions.FindByID(ctx, req.LessonSessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	if claims.Role == models.RoleTeacher && session.TeacherUserID != claims.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
	}
	if session.Status != models.SessionStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "reports can only be written for completed sessions")
	}

	report := &models.LessonReport{
		LessonSessionID:   session.ID,
		StudentID:         session.StudentID,
		TeacherUserID:     session.TeacherUserID,
		Topic:             req.Topic,
		PerformanceRating: req.PerformanceRating,
		TeacherNote:       req.TeacherNote,
		NextNote:          req.NextNote,
	}
	if err := s.repo.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson report")
	}
	return report, nil
}
