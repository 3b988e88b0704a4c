package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

type mockEnrollmentRepo struct {
	enrollments map[string]*models.Enrollment
	activeByStu map[string]bool
	createErr   error
}

func (m *mockEnrollmentRepo) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var out []models.Enrollment
	for _, e := range m.enrollments {
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (m *mockEnrollmentRepo) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[id]; ok {
		copy := *e
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEnrollmentRepo) HasActiveEnrollment(ctx context.Context, studentID string) (bool, error) {
	return m.activeByStu[studentID], nil
}

func (m *mockEnrollmentRepo) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if enrollment.ID == "" {
		enrollment.ID = "enr-new"
	}
	if m.enrollments == nil {
		m.enrollments = make(map[string]*models.Enrollment)
	}
	copy := *enrollment
	m.enrollments[enrollment.ID] = &copy
	return nil
}

func (m *mockEnrollmentRepo) UpdateStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	if e, ok := m.enrollments[id]; ok {
		e.Status = status
		return nil
	}
	return sql.ErrNoRows
}

const (
	teacherAccountID = "b5bd49b0-9aa5-4be6-b3a1-2d7c56031a50"
	pairedStudentID  = "c13f1b3e-6b77-4f86-9f4d-2f9fcb6f29f2"
)

func TestEnrollmentServiceEnroll(t *testing.T) {
	repo := &mockEnrollmentRepo{activeByStu: map[string]bool{}}
	students := &mockStudentRepo{students: map[string]*models.Student{
		pairedStudentID: {ID: pairedStudentID, FullName: "Ada Short"},
	}}
	users := &mockUserReader{users: map[string]*models.User{
		teacherAccountID: {ID: teacherAccountID, Role: models.RoleTeacher, Active: true},
	}}
	svc := NewEnrollmentService(repo, students, users, validator.New(), zap.NewNop())

	enrollment, err := svc.Enroll(context.Background(), EnrollStudentRequest{TeacherUserID: teacherAccountID, StudentID: pairedStudentID})
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusActive, enrollment.Status)
	assert.NotEmpty(t, enrollment.ID)
}

func TestEnrollmentServiceEnrollRejectsSecondActive(t *testing.T) {
	repo := &mockEnrollmentRepo{activeByStu: map[string]bool{pairedStudentID: true}}
	students := &mockStudentRepo{students: map[string]*models.Student{
		pairedStudentID: {ID: pairedStudentID, FullName: "Ada Short"},
	}}
	users := &mockUserReader{users: map[string]*models.User{
		teacherAccountID: {ID: teacherAccountID, Role: models.RoleTeacher, Active: true},
	}}
	svc := NewEnrollmentService(repo, students, users, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TeacherUserID: teacherAccountID, StudentID: pairedStudentID})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestEnrollmentServiceEnrollRejectsNonTeacher(t *testing.T) {
	repo := &mockEnrollmentRepo{activeByStu: map[string]bool{}}
	students := &mockStudentRepo{students: map[string]*models.Student{
		pairedStudentID: {ID: pairedStudentID, FullName: "Ada Short"},
	}}
	users := &mockUserReader{users: map[string]*models.User{
		teacherAccountID: {ID: teacherAccountID, Role: models.RoleStudent, Active: true},
	}}
	svc := NewEnrollmentService(repo, students, users, validator.New(), zap.NewNop())

	_, err := svc.Enroll(context.Background(), EnrollStudentRequest{TeacherUserID: teacherAccountID, StudentID: pairedStudentID})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
}

func TestEnrollmentServiceEnd(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"enr-1": {ID: "enr-1", TeacherUserID: teacherAccountID, StudentID: pairedStudentID, Status: models.EnrollmentStatusActive},
	}}
	svc := NewEnrollmentService(repo, &mockStudentRepo{}, &mockUserReader{}, validator.New(), zap.NewNop())

	enrollment, err := svc.End(context.Background(), "enr-1")
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentStatusPassive, enrollment.Status)
	assert.Equal(t, models.EnrollmentStatusPassive, repo.enrollments["enr-1"].Status)
}

func TestEnrollmentServiceEndAlreadyPassive(t *testing.T) {
	repo := &mockEnrollmentRepo{enrollments: map[string]*models.Enrollment{
		"enr-1": {ID: "enr-1", Status: models.EnrollmentStatusPassive},
	}}
	svc := NewEnrollmentService(repo, &mockStudentRepo{}, &mockUserReader{}, validator.New(), zap.NewNop())

	_, err := svc.End(context.Background(), "enr-1")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrPreconditionFailed.Code, appErr.Code)
}
