package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/internal/repository"
	"github.com/tutortrack/tutortrack-api/pkg/config"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
)

// mockSessionRepo mirrors the transactional semantics of the real repository
// against an in-memory map, with a switchable credit supply.
type mockSessionRepo struct {
	sessions    map[string]*models.LessonSession
	credit      bool
	creditCalls int
	deleted     []string
}

func (m *mockSessionRepo) List(ctx context.Context, filter models.SessionFilter) ([]models.LessonSession, int, error) {
	var out []models.LessonSession
	for _, s := range m.sessions {
		if filter.StudentID != "" && s.StudentID != filter.StudentID {
			continue
		}
		if filter.TeacherUserID != "" && s.TeacherUserID != filter.TeacherUserID {
			continue
		}
		out = append(out, *s)
	}
	return out, len(out), nil
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.LessonSession, error) {
	if s, ok := m.sessions[id]; ok {
		copy := *s
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.LessonSession) error {
	if session.ID == "" {
		session.ID = "sess-new"
	}
	if m.sessions == nil {
		m.sessions = make(map[string]*models.LessonSession)
	}
	copy := *session
	m.sessions[session.ID] = &copy
	return nil
}

func (m *mockSessionRepo) UpdateDetails(ctx context.Context, session *models.LessonSession) error {
	copy := *session
	m.sessions[session.ID] = &copy
	return nil
}

func (m *mockSessionRepo) consume() bool {
	m.creditCalls++
	return m.credit
}

func (m *mockSessionRepo) ApplyMark(ctx context.Context, params repository.ApplyMarkParams) (*models.LessonSession, error) {
	stored, ok := m.sessions[params.SessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	session := *stored
	if session.Status == models.SessionStatusCancelled || session.Status == models.SessionStatusMissed {
		return nil, repository.ErrSessionTerminal
	}
	at := params.At
	switch params.Side {
	case repository.MarkSideTeacher:
		session.TeacherMarkedAt = &at
		if params.Rating != nil {
			session.TeacherRatingToStudent = params.Rating
		}
		if params.Note != nil {
			session.TeacherMarkNote = params.Note
		}
	case repository.MarkSideStudent:
		session.StudentMarkedAt = &at
		if !params.ForceMissed {
			if params.Rating != nil {
				session.StudentRatingToTeacher = params.Rating
			}
			if params.Note != nil {
				session.StudentNote = params.Note
			}
		}
	}
	if params.ForceMissed {
		session.Status = models.SessionStatusMissed
	} else {
		session.Status = session.RecalcStatus()
		if session.Status == models.SessionStatusCompleted && !session.Consumed && m.consume() {
			session.Consumed = true
		}
	}
	m.sessions[session.ID] = &session
	copy := session
	return &copy, nil
}

func (m *mockSessionRepo) ApplyCancel(ctx context.Context, params repository.ApplyCancelParams) (*models.LessonSession, error) {
	stored, ok := m.sessions[params.SessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	session := *stored
	if session.Status != models.SessionStatusPlanned && session.Status != models.SessionStatusPendingConfirmation {
		return nil, repository.ErrSessionTerminal
	}
	if params.Penalty && !session.Consumed {
		if !m.consume() {
			return nil, repository.ErrNoCredit
		}
		session.Consumed = true
	}
	at := params.At
	role := params.ByRole
	byUser := params.ByUserID
	session.Status = models.SessionStatusCancelled
	session.CancelledByRole = &role
	session.CancelledByUserID = &byUser
	session.CancelledAt = &at
	m.sessions[session.ID] = &session
	copy := session
	return &copy, nil
}

func (m *mockSessionRepo) ApplyManualStatus(ctx context.Context, params repository.ApplyManualStatusParams) (*models.LessonSession, error) {
	stored, ok := m.sessions[params.SessionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	session := *stored
	if !models.CanTransitionManually(session.Status, params.Target) {
		return nil, repository.ErrSessionTerminal
	}
	at := params.At
	session.Status = params.Target
	if params.Target == models.SessionStatusCancelled {
		role := params.ByRole
		byUser := params.ByUserID
		session.CancelledByRole = &role
		session.CancelledByUserID = &byUser
		session.CancelledAt = &at
	}
	m.sessions[session.ID] = &session
	copy := session
	return &copy, nil
}

func (m *mockSessionRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.sessions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.sessions, id)
	m.deleted = append(m.deleted, id)
	return nil
}

type mockEnrollmentReader struct {
	teacherByStudent map[string]string
}

func (m *mockEnrollmentReader) FindActiveTeacher(ctx context.Context, studentID string) (string, error) {
	if teacher, ok := m.teacherByStudent[studentID]; ok {
		return teacher, nil
	}
	return "", sql.ErrNoRows
}

func (m *mockEnrollmentReader) IsEnrolled(ctx context.Context, teacherUserID, studentID string) (bool, error) {
	return m.teacherByStudent[studentID] == teacherUserID, nil
}

type mockCreditReader struct {
	available bool
}

func (m *mockCreditReader) HasRemainingCredit(ctx context.Context, studentID string, now time.Time) (bool, error) {
	return m.available, nil
}

type mockAuditWriter struct {
	logs []*models.AuditLog
}

func (m *mockAuditWriter) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.logs = append(m.logs, log)
	return nil
}

const (
	sessSessionID     = "3d9f1b2c-8a4e-4f6d-9c1b-2a7e5f8d0c43"
	sessStudentUserID = "6f6bff6a-4f13-44a5-b8cf-2f3a6f3f76f1"
	sessStudentID     = "ad1e43a0-5be1-4b53-a60c-64f1e17f9d70"
	sessTeacherID     = "e9a9d3f4-9d68-49c4-b1e4-0b8f9c1a2d3e"
	sessAdminID       = "1c9a8a74-25f9-4d3a-9a93-5d4f3b2a1c0e"
)

type sessionFixture struct {
	repo        *mockSessionRepo
	enrollments *mockEnrollmentReader
	students    *mockStudentRepo
	credits     *mockCreditReader
	audit       *mockAuditWriter
	svc         *SessionService
	now         time.Time
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	f := &sessionFixture{
		repo: &mockSessionRepo{sessions: make(map[string]*models.LessonSession), credit: true},
		enrollments: &mockEnrollmentReader{teacherByStudent: map[string]string{
			sessStudentID: sessTeacherID,
		}},
		students: &mockStudentRepo{
			students: map[string]*models.Student{
				sessStudentID: {ID: sessStudentID, FullName: "Ada Short", UserID: sessStudentUserID},
			},
			byUserID: map[string]*models.Student{
				sessStudentUserID: {ID: sessStudentID, FullName: "Ada Short", UserID: sessStudentUserID},
			},
		},
		credits: &mockCreditReader{available: true},
		audit:   &mockAuditWriter{},
		now:     now,
	}
	f.svc = NewSessionService(f.repo, f.enrollments, f.students, f.credits, f.audit, validator.New(), zap.NewNop(),
		config.SessionsConfig{CancelPenaltyWindow: 2 * time.Hour})
	f.svc.now = func() time.Time { return now }
	return f
}

func (f *sessionFixture) seed(status models.SessionStatus, startOffset time.Duration) *models.LessonSession {
	session := &models.LessonSession{
		ID:              sessSessionID,
		StudentID:       sessStudentID,
		TeacherUserID:   sessTeacherID,
		CreatedByUserID: sessAdminID,
		ScheduledStart:  f.now.Add(startOffset),
		DurationMin:     60,
		Mode:            models.SessionModeOnline,
		Status:          status,
	}
	f.repo.sessions[session.ID] = session
	return session
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: sessAdminID, Role: models.RoleAdmin}
}

func teacherClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: sessTeacherID, Role: models.RoleTeacher}
}

func studentClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: sessStudentUserID, Role: models.RoleStudent}
}

func TestSessionCreateByTeacher(t *testing.T) {
	f := newSessionFixture(t)
	session, err := f.svc.Create(context.Background(), teacherClaims(), CreateSessionRequest{
		StudentID:      sessStudentID,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPlanned, session.Status)
	assert.Equal(t, sessTeacherID, session.TeacherUserID)
	assert.False(t, session.Consumed)
}

func TestSessionCreateRejectsUnassignedTeacher(t *testing.T) {
	f := newSessionFixture(t)
	other := &models.JWTClaims{UserID: "other-teacher", Role: models.RoleTeacher}
	_, err := f.svc.Create(context.Background(), other, CreateSessionRequest{
		StudentID:      sessStudentID,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbiddenStudent.Code, appErrors.FromError(err).Code)
}

func TestSessionCreateRequiresAssignedTeacher(t *testing.T) {
	f := newSessionFixture(t)
	f.enrollments.teacherByStudent = map[string]string{}
	_, err := f.svc.Create(context.Background(), adminClaims(), CreateSessionRequest{
		StudentID:      sessStudentID,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTeacherNotAssigned.Code, appErrors.FromError(err).Code)
}

func TestSessionCreateRequiresCredit(t *testing.T) {
	f := newSessionFixture(t)
	f.credits.available = false
	_, err := f.svc.Create(context.Background(), adminClaims(), CreateSessionRequest{
		StudentID:      sessStudentID,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoRemainingLessons.Code, appErrors.FromError(err).Code)
}

func TestSessionCreateRejectsStudent(t *testing.T) {
	f := newSessionFixture(t)
	_, err := f.svc.Create(context.Background(), studentClaims(), CreateSessionRequest{
		StudentID:      sessStudentID,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

// Both parties confirm in order and the session completes, consuming exactly
// one credit.
func TestSessionDualMarkCompletes(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, -time.Hour)

	rating := 5
	session, err := f.svc.TeacherMark(context.Background(), teacherClaims(), sessSessionID, TeacherMarkRequest{Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPendingConfirmation, session.Status)
	assert.False(t, session.Consumed)

	session, err = f.svc.StudentMark(context.Background(), studentClaims(), sessSessionID, StudentMarkRequest{Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.True(t, session.Consumed)
	assert.Equal(t, 1, f.repo.creditCalls)
}

func TestSessionStudentMarkBeforeTeacherRejected(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, -time.Hour)

	_, err := f.svc.StudentMark(context.Background(), studentClaims(), sessSessionID, StudentMarkRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTeacherMarkRequired.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.SessionStatusPlanned, f.repo.sessions[sessSessionID].Status)
}

func TestSessionStudentReportsNotHeld(t *testing.T) {
	f := newSessionFixture(t)
	session := f.seed(models.SessionStatusPendingConfirmation, -time.Hour)
	markedAt := f.now.Add(-30 * time.Minute)
	session.TeacherMarkedAt = &markedAt

	done := false
	rating := 3
	updated, err := f.svc.StudentMark(context.Background(), studentClaims(), sessSessionID, StudentMarkRequest{Done: &done, Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusMissed, updated.Status)
	assert.False(t, updated.Consumed)
	assert.Nil(t, updated.StudentRatingToTeacher)
	assert.Equal(t, 0, f.repo.creditCalls)
}

func TestSessionMarkTerminalRejected(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusCancelled, -time.Hour)

	_, err := f.svc.TeacherMark(context.Background(), teacherClaims(), sessSessionID, TeacherMarkRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCannotMarkTerminal.Code, appErrors.FromError(err).Code)
}

func TestSessionStudentEarlyCancelNoPenalty(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, 48*time.Hour)

	session, err := f.svc.Cancel(context.Background(), studentClaims(), sessSessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
	assert.False(t, session.Consumed)
	assert.Equal(t, 0, f.repo.creditCalls)
	require.NotNil(t, session.CancelledByRole)
	assert.Equal(t, models.RoleStudent, *session.CancelledByRole)
}

func TestSessionStudentLateCancelConsumesCredit(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, 30*time.Minute)

	session, err := f.svc.Cancel(context.Background(), studentClaims(), sessSessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
	assert.True(t, session.Consumed)
	assert.Equal(t, 1, f.repo.creditCalls)
}

// A late student cancellation with no credit available fails entirely: the
// session stays in its prior status.
func TestSessionStudentLateCancelWithoutCreditFails(t *testing.T) {
	f := newSessionFixture(t)
	f.repo.credit = false
	f.seed(models.SessionStatusPlanned, 30*time.Minute)

	_, err := f.svc.Cancel(context.Background(), studentClaims(), sessSessionID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoRemainingLessons.Code, appErrors.FromError(err).Code)
	assert.Equal(t, models.SessionStatusPlanned, f.repo.sessions[sessSessionID].Status)
	assert.False(t, f.repo.sessions[sessSessionID].Consumed)
}

func TestSessionTeacherLateCancelNeverPenalizes(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, 30*time.Minute)

	session, err := f.svc.Cancel(context.Background(), teacherClaims(), sessSessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
	assert.False(t, session.Consumed)
	assert.Equal(t, 0, f.repo.creditCalls)
}

func TestSessionCancelCompletedRejected(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusCompleted, -time.Hour)

	_, err := f.svc.Cancel(context.Background(), adminClaims(), sessSessionID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCannotMarkTerminal.Code, appErrors.FromError(err).Code)
}

func TestSessionManualStatusToMissed(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPendingConfirmation, -time.Hour)

	session, err := f.svc.UpdateStatus(context.Background(), adminClaims(), sessSessionID, UpdateSessionStatusRequest{Status: "MISSED"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusMissed, session.Status)
	assert.Equal(t, 0, f.repo.creditCalls)
}

func TestSessionManualStatusInvalidTargetReportsAllowed(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, -time.Hour)

	_, err := f.svc.UpdateStatus(context.Background(), adminClaims(), sessSessionID, UpdateSessionStatusRequest{Status: "COMPLETED"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Equal(t, models.SessionStatusPlanned, appErr.Details["current_status"])
	assert.ElementsMatch(t,
		[]models.SessionStatus{models.SessionStatusCancelled, models.SessionStatusMissed},
		appErr.Details["allowed_targets"])
}

func TestSessionManualStatusFromTerminalRejected(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusCompleted, -time.Hour)

	_, err := f.svc.UpdateStatus(context.Background(), adminClaims(), sessSessionID, UpdateSessionStatusRequest{Status: "CANCELLED"})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInvalidTransition.Code, appErr.Code)
	assert.Empty(t, appErr.Details["allowed_targets"])
}

func TestSessionManualStatusByOwningTeacher(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, -time.Hour)

	session, err := f.svc.UpdateStatus(context.Background(), teacherClaims(), sessSessionID, UpdateSessionStatusRequest{Status: "CANCELLED"})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
}

func TestSessionManualStatusForbiddenForOtherTeacher(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, -time.Hour)

	other := &models.JWTClaims{UserID: "other-teacher", Role: models.RoleTeacher}
	_, err := f.svc.UpdateStatus(context.Background(), other, sessSessionID, UpdateSessionStatusRequest{Status: "CANCELLED"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSessionDeleteAuditsAndRemoves(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, time.Hour)

	err := f.svc.Delete(context.Background(), adminClaims(), sessSessionID, models.LoginRequest{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Contains(t, f.repo.deleted, sessSessionID)
	require.Len(t, f.audit.logs, 1)
	assert.Equal(t, models.AuditActionSessionDelete, f.audit.logs[0].Action)
}

func TestSessionDeleteRequiresAdmin(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, time.Hour)

	err := f.svc.Delete(context.Background(), teacherClaims(), sessSessionID, models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSessionListScopesByRole(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, time.Hour)
	f.repo.sessions["sess-2"] = &models.LessonSession{
		ID: "sess-2", StudentID: "other-student", TeacherUserID: "other-teacher",
		Status: models.SessionStatusPlanned,
	}

	sessions, _, err := f.svc.List(context.Background(), studentClaims(), models.SessionFilter{})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, sessStudentID, sessions[0].StudentID)

	sessions, _, err = f.svc.List(context.Background(), adminClaims(), models.SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestSessionGetForbiddenForOtherTeacher(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, time.Hour)

	other := &models.JWTClaims{UserID: "other-teacher", Role: models.RoleTeacher}
	_, err := f.svc.Get(context.Background(), other, sessSessionID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

// An admin may record the student-side mark on the student's behalf, with no
// student profile of their own.
func TestSessionAdminRecordsStudentMark(t *testing.T) {
	f := newSessionFixture(t)
	session := f.seed(models.SessionStatusPendingConfirmation, -time.Hour)
	markedAt := f.now.Add(-30 * time.Minute)
	session.TeacherMarkedAt = &markedAt

	updated, err := f.svc.StudentMark(context.Background(), adminClaims(), sessSessionID, StudentMarkRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, updated.Status)
	assert.True(t, updated.Consumed)
}

func TestSessionAdminCreateWithExplicitTeacher(t *testing.T) {
	f := newSessionFixture(t)
	f.enrollments.teacherByStudent = map[string]string{}

	teacherID := sessTeacherID
	session, err := f.svc.Create(context.Background(), adminClaims(), CreateSessionRequest{
		StudentID:      sessStudentID,
		TeacherUserID:  &teacherID,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.NoError(t, err)
	assert.Equal(t, sessTeacherID, session.TeacherUserID)
}

// A teacher's explicit teacher_user_id is ignored: the pairing still comes
// from the enrollment ledger.
func TestSessionTeacherCreateIgnoresExplicitTeacher(t *testing.T) {
	f := newSessionFixture(t)
	other := "1d2e3f40-5a6b-47c8-9d0e-1f2a3b4c5d6e"
	session, err := f.svc.Create(context.Background(), teacherClaims(), CreateSessionRequest{
		StudentID:      sessStudentID,
		TeacherUserID:  &other,
		ScheduledStart: f.now.Add(48 * time.Hour),
		DurationMin:    60,
		Mode:           "ONLINE",
	})
	require.NoError(t, err)
	assert.Equal(t, sessTeacherID, session.TeacherUserID)
}

func TestSessionListTeacherStudentFilterRequiresEnrollment(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, time.Hour)

	_, _, err := f.svc.List(context.Background(), teacherClaims(), models.SessionFilter{StudentID: "not-enrolled-student"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbiddenStudent.Code, appErrors.FromError(err).Code)

	sessions, _, err := f.svc.List(context.Background(), teacherClaims(), models.SessionFilter{StudentID: sessStudentID})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSessionListStudentTeacherFilterMustMatch(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, time.Hour)

	_, _, err := f.svc.List(context.Background(), studentClaims(), models.SessionFilter{TeacherUserID: "other-teacher"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	sessions, _, err := f.svc.List(context.Background(), studentClaims(), models.SessionFilter{TeacherUserID: sessTeacherID})
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestSessionListStudentTeacherFilterWithoutEnrollment(t *testing.T) {
	f := newSessionFixture(t)
	f.enrollments.teacherByStudent = map[string]string{}

	_, _, err := f.svc.List(context.Background(), studentClaims(), models.SessionFilter{TeacherUserID: sessTeacherID})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrTeacherNotAssigned.Code, appErrors.FromError(err).Code)
}

// Cancelling exactly on the penalty boundary still costs a credit.
func TestSessionStudentCancelAtWindowEdgeConsumesCredit(t *testing.T) {
	f := newSessionFixture(t)
	f.seed(models.SessionStatusPlanned, 2*time.Hour)

	session, err := f.svc.Cancel(context.Background(), studentClaims(), sessSessionID)
	require.NoError(t, err)
	assert.True(t, session.Consumed)
	assert.Equal(t, 1, f.repo.creditCalls)
}
