package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

type homeworkRepository interface {
	List(ctx context.Context, filter models.HomeworkFilter) ([]models.Homework, int, error)
	FindByID(ctx context.Context, id string) (*models.Homework, error)
	Create(ctx context.Context, homework *models.Homework) error
	Update(ctx context.Context, homework *models.Homework) error
}

type homeworkEnrollmentReader interface {
	IsEnrolled(ctx context.Context, teacherUserID, studentID string) (bool, error)
}

type homeworkStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindByUserID(ctx context.Context, userID string) (*models.Student, error)
}

// CreateHomeworkRequest assigns new homework to a student.
type CreateHomeworkRequest struct {
	StudentID   string     `json:"student_id" validate:"required,uuid4"`
	Title       string     `json:"title" validate:"required"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
}

// TeacherHomeworkUpdateRequest carries the fields a teacher may change.
type TeacherHomeworkUpdateRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Grade       *int       `json:"grade" validate:"omitempty,gte=0,lte=100"`
	TeacherNote *string    `json:"teacher_note"`
}

// StudentHomeworkUpdateRequest carries the fields a student may change.
type StudentHomeworkUpdateRequest struct {
	StudentNote *string `json:"student_note"`
	Submit      bool    `json:"submit"`
}

// HomeworkService manages homework assignments. Which fields an update may
// touch depends on who is calling: teachers own the assignment side (title,
// due date, grade, their note), students own the submission side.
type HomeworkService struct {
	repo        homeworkRepository
	enrollments homeworkEnrollmentReader
	students    homeworkStudentReader
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewHomeworkService constructs the homework service.
func NewHomeworkService(repo homeworkRepository, enrollments homeworkEnrollmentReader, students homeworkStudentReader, validate *validator.Validate, logger *zap.Logger) *HomeworkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HomeworkService{repo: repo, enrollments: enrollments, students: students, validator: validate, logger: logger}
}

// List returns the homeworks visible to the caller, scoped by role.
func (s *HomeworkService) List(ctx context.Context, claims *models.JWTClaims, filter models.HomeworkFilter) ([]models.Homework, int, error) {
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
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "role cannot list homeworks")
	}

	homeworks, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list homeworks")
	}
	return homeworks, total, nil
}

// Get returns a single homework if the caller may see it.
func (s *HomeworkService) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.Homework, error) {
	homework, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeView(ctx, claims, homework); err != nil {
		return nil, err
	}
	return homework, nil
}

// Create assigns homework. Only teachers assign, and only to students
// actively enrolled with them.
func (s *HomeworkService) Create(ctx context.Context, claims *models.JWTClaims, req CreateHomeworkRequest) (*models.Homework, error) {
	if claims.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can assign homework")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid homework payload")
	}

	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, claims.UserID, req.StudentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrForbiddenStudent, "student is not enrolled with this teacher")
	}

	homework := &models.Homework{
		StudentID:     req.StudentID,
		TeacherUserID: claims.UserID,
		Title:         req.Title,
		Description:   req.Description,
		DueDate:       req.DueDate,
		Status:        models.HomeworkStatusAssigned,
	}
	if err := s.repo.Create(ctx, homework); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create homework")
	}
	return homework, nil
}

// TeacherUpdate applies the teacher-owned fields. Setting a grade moves the
// homework to GRADED.
func (s *HomeworkService) TeacherUpdate(ctx context.Context, claims *models.JWTClaims, id string, req TeacherHomeworkUpdateRequest) (*models.Homework, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid homework payload")
	}
	homework, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if claims.Role != models.RoleAdmin && !(claims.Role == models.RoleTeacher && homework.TeacherUserID == claims.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "homework belongs to another teacher")
	}

	if req.Title != nil {
		homework.Title = *req.Title
	}
	if req.Description != nil {
		homework.Description = req.Description
	}
	if req.DueDate != nil {
		homework.DueDate = req.DueDate
	}
	if req.TeacherNote != nil {
		homework.TeacherNote = req.TeacherNote
	}
	if req.Grade != nil {
		homework.Grade = req.Grade
		homework.Status = models.HomeworkStatusGraded
	}
	if err := s.repo.Update(ctx, homework); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update homework")
	}
	return homework, nil
}

// StudentUpdate applies the student-owned fields. Submitting an ASSIGNED
// homework moves it to SUBMITTED; a graded homework is read-only.
func (s *HomeworkService) StudentUpdate(ctx context.Context, claims *models.JWTClaims, id string, req StudentHomeworkUpdateRequest) (*models.Homework, error) {
	if claims.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit homework")
	}
	homework, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	student, err := s.students.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
	}
	if homework.StudentID != student.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "homework belongs to another student")
	}
	if homework.Status == models.HomeworkStatusGraded {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "graded homework can no longer be changed")
	}

	if req.StudentNote != nil {
		homework.StudentNote = req.StudentNote
	}
	if req.Submit {
		homework.Status = models.HomeworkStatusSubmitted
	}
	if err := s.repo.Update(ctx, homework); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update homework")
	}
	return homework, nil
}

func (s *HomeworkService) find(ctx context.Context, id string) (*models.Homework, error) {
	homework, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "homework not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load homework")
	}
	return homework, nil
}

func (s *HomeworkService) authorizeView(ctx context.Context, claims *models.JWTClaims, homework *models.Homework) error {
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleTeacher:
		if homework.TeacherUserID == claims.UserID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "homework belongs to another teacher")
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, claims.UserID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrForbidden, "no student profile for this account")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student profile")
		}
		if homework.StudentID == student.ID {
			return nil
		}
		return appErrors.Clone(appErrors.ErrForbidden, "homework belongs to another student")
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "role cannot view homeworks")
	}
}
