package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

type mockReportRepo struct {
	reports map[string]*models.LessonReport
}

func (m *mockReportRepo) List(ctx context.Context, filter models.LessonReportFilter) ([]models.LessonReport, int, error) {
	var out []models.LessonReport
	for _, r := range m.reports {
		if filter.TeacherUserID != "" && r.TeacherUserID != filter.TeacherUserID {
			continue
		}
		if filter.StudentID != "" && r.StudentID != filter.StudentID {
			continue
		}
		out = append(out, *r)
	}
	return out, len(out), nil
}

func (m *mockReportRepo) FindByID(ctx context.Context, id string) (*models.LessonReport, error) {
	if r, ok := m.reports[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockReportRepo) Create(ctx context.Context, report *models.LessonReport) error {
	if report.ID == "" {
		report.ID = "rep-new"
	}
	if m.reports == nil {
		m.reports = make(map[string]*models.LessonReport)
	}
	stored := *report
	m.reports[report.ID] = &stored
	return nil
}

func newReportFixture(t *testing.T) (*LessonReportService, *mockReportRepo, *sessionFixture) {
	t.Helper()
	f := newSessionFixture(t)
	repo := &mockReportRepo{reports: make(map[string]*models.LessonReport)}
	students := &mockStudentRepo{
		byUserID: map[string]*models.Student{
			sessStudentUserID: {ID: sessStudentID, FullName: "Ada Short", UserID: sessStudentUserID},
		},
	}
	svc := NewLessonReportService(repo, f.repo, students, nil, zap.NewNop())
	return svc, repo, f
}

func TestLessonReportCreateForCompletedSession(t *testing.T) {
	svc, repo, f := newReportFixture(t)
	session := f.seed(models.SessionStatusCompleted, -time.Hour)

	topic := "long division"
	rating := 4
	report, err := svc.Create(context.Background(), teacherClaims(), CreateLessonReportRequest{
		LessonSessionID:   session.ID,
		Topic:             &topic,
		PerformanceRating: &rating,
	})
	require.NoError(t, err)
	require.Equal(t, session.ID, report.LessonSessionID)
	require.Equal(t, sessStudentID, report.StudentID)
	require.Equal(t, sessTeacherID, report.TeacherUserID)
	require.Len(t, repo.reports, 1)
}

func TestLessonReportCreateRejectsPlannedSession(t *testing.T) {
	svc, _, f := newReportFixture(t)
	session := f.seed(models.SessionStatusPlanned, time.Hour)

	_, err := svc.Create(context.Background(), teacherClaims(), CreateLessonReportRequest{
		LessonSessionID: session.ID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestLessonReportCreateRejectsOtherTeacher(t *testing.T) {
	svc, _, f := newReportFixture(t)
	session := f.seed(models.SessionStatusCompleted, -time.Hour)
	other := &models.JWTClaims{UserID: "11e8e8a2-40fa-4a3f-9b0a-6a1f20f8b302", Role: models.RoleTeacher}

	_, err := svc.Create(context.Background(), other, CreateLessonReportRequest{
		LessonSessionID: session.ID,
	})
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestLessonReportListScopesByRole(t *testing.T) {
	svc, repo, _ := newReportFixture(t)
	repo.reports["rep-1"] = &models.LessonReport{
		ID: "rep-1", LessonSessionID: "sess-1", StudentID: sessStudentID, TeacherUserID: sessTeacherID,
	}
	repo.reports["rep-2"] = &models.LessonReport{
		ID: "rep-2", LessonSessionID: "sess-2", StudentID: "other-student", TeacherUserID: "other-teacher",
	}

	forStudent, _, err := svc.List(context.Background(), studentClaims(), models.LessonReportFilter{})
	require.NoError(t, err)
	require.Len(t, forStudent, 1)
	require.Equal(t, sessStudentID, forStudent[0].StudentID)

	forTeacher, _, err := svc.List(context.Background(), teacherClaims(), models.LessonReportFilter{})
	require.NoError(t, err)
	require.Len(t, forTeacher, 1)
}

func TestLessonReportGetForbiddenForOtherStudent(t *testing.T) {
	svc, repo, _ := newReportFixture(t)
	repo.reports["rep-2"] = &models.LessonReport{
		ID: "rep-2", LessonSessionID: "sess-2", StudentID: "other-student", TeacherUserID: "other-teacher",
	}

	_, err := svc.Get(context.Background(), studentClaims(), "rep-2")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
