package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutortrack/tutortrack-api/internal/models"
)

type stubLedger struct {
	consumed bool
	err      error
	calls    int
}

func (s *stubLedger) ConsumeCreditTx(_ context.Context, _ *sqlx.Tx, _ string, _ time.Time) (bool, error) {
	s.calls++
	return s.consumed, s.err
}

func newSessionRepoMock(t *testing.T, ledger creditLedger) (*SessionRepository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	repo := NewSessionRepository(sqlx.NewDb(db, "sqlmock"), ledger)
	return repo, mock, func() { db.Close() }
}

var sessionRowColumns = []string{
	"id", "student_id", "teacher_user_id", "created_by_user_id", "scheduled_start", "duration_min", "mode", "topic", "status", "consumed",
	"teacher_rating_to_student", "teacher_mark_note", "teacher_marked_at",
	"student_rating_to_teacher", "student_note", "student_marked_at",
	"cancelled_by_role", "cancelled_by_user_id", "cancelled_at", "admin_note", "created_at", "updated_at",
}

func sessionRow(status models.SessionStatus, consumed bool, teacherMarkedAt *time.Time) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(sessionRowColumns).AddRow(
		"sess-1", "stu-1", "teach-1", "admin-1", now.Add(time.Hour), 60, "ONLINE", "Algebra", string(status), consumed,
		nil, nil, teacherMarkedAt,
		nil, nil, nil,
		nil, nil, nil, nil, now, now,
	)
}

func TestApplyMarkTeacherFirstMovesToPendingConfirmation(t *testing.T) {
	ledger := &stubLedger{}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM lesson_sessions WHERE id = \$1 FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPlanned, false, nil))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3`).
		WithArgs("sess-1", models.SessionStatusPendingConfirmation, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rating := 4
	session, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID: "sess-1",
		Side:      MarkSideTeacher,
		At:        time.Now().UTC(),
		Rating:    &rating,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusPendingConfirmation, session.Status)
	assert.NotNil(t, session.TeacherMarkedAt)
	assert.False(t, session.Consumed)
	assert.Equal(t, 0, ledger.calls, "no credit touched before completion")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarkSecondMarkCompletesAndConsumes(t *testing.T) {
	ledger := &stubLedger{consumed: true}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	markedAt := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPendingConfirmation, false, &markedAt))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3`).
		WithArgs("sess-1", models.SessionStatusCompleted, true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID: "sess-1",
		Side:      MarkSideStudent,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.True(t, session.Consumed)
	assert.Equal(t, 1, ledger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarkCompletionWithoutCreditStillCompletes(t *testing.T) {
	ledger := &stubLedger{consumed: false}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	markedAt := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPendingConfirmation, false, &markedAt))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3`).
		WithArgs("sess-1", models.SessionStatusCompleted, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID: "sess-1",
		Side:      MarkSideStudent,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.False(t, session.Consumed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarkAlreadyConsumedSkipsLedger(t *testing.T) {
	ledger := &stubLedger{consumed: true}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	markedAt := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPendingConfirmation, true, &markedAt))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3`).
		WithArgs("sess-1", models.SessionStatusCompleted, true,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID: "sess-1",
		Side:      MarkSideStudent,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, ledger.calls, "consumed sessions never debit twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarkForceMissedDropsRatingAndCredit(t *testing.T) {
	ledger := &stubLedger{consumed: true}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	markedAt := time.Now().UTC().Add(-time.Hour)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPendingConfirmation, false, &markedAt))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3`).
		WithArgs("sess-1", models.SessionStatusMissed, false,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			nil, nil, sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rating := 5
	note := "never happened"
	session, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID:   "sess-1",
		Side:        MarkSideStudent,
		At:          time.Now().UTC(),
		Rating:      &rating,
		Note:        &note,
		ForceMissed: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusMissed, session.Status)
	assert.Nil(t, session.StudentRatingToTeacher)
	assert.Nil(t, session.StudentNote)
	assert.Equal(t, 0, ledger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyMarkTerminalSessionRejected(t *testing.T) {
	repo, mock, cleanup := newSessionRepoMock(t, &stubLedger{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusCancelled, false, nil))
	mock.ExpectRollback()

	_, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID: "sess-1",
		Side:      MarkSideTeacher,
		At:        time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrSessionTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCancelWithPenaltyDebitsCredit(t *testing.T) {
	ledger := &stubLedger{consumed: true}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPlanned, false, nil))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3, cancelled_by_role = \$4`).
		WithArgs("sess-1", models.SessionStatusCancelled, true, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.ApplyCancel(context.Background(), ApplyCancelParams{
		SessionID: "sess-1",
		ByUserID:  "user-stu",
		ByRole:    models.RoleStudent,
		At:        time.Now().UTC(),
		Penalty:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
	assert.True(t, session.Consumed)
	require.NotNil(t, session.CancelledByRole)
	assert.Equal(t, models.RoleStudent, *session.CancelledByRole)
	assert.Equal(t, 1, ledger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCancelPenaltyWithoutCreditFailsWhole(t *testing.T) {
	ledger := &stubLedger{consumed: false}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPlanned, false, nil))
	mock.ExpectRollback()

	_, err := repo.ApplyCancel(context.Background(), ApplyCancelParams{
		SessionID: "sess-1",
		ByUserID:  "user-stu",
		ByRole:    models.RoleStudent,
		At:        time.Now().UTC(),
		Penalty:   true,
	})
	assert.ErrorIs(t, err, ErrNoCredit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCancelWithoutPenaltyLeavesCreditAlone(t *testing.T) {
	ledger := &stubLedger{consumed: true}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPendingConfirmation, false, nil))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3, cancelled_by_role = \$4`).
		WithArgs("sess-1", models.SessionStatusCancelled, false, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.ApplyCancel(context.Background(), ApplyCancelParams{
		SessionID: "sess-1",
		ByUserID:  "user-teach",
		ByRole:    models.RoleTeacher,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.False(t, session.Consumed)
	assert.Equal(t, 0, ledger.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCancelTerminalRejected(t *testing.T) {
	repo, mock, cleanup := newSessionRepoMock(t, &stubLedger{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusCompleted, true, nil))
	mock.ExpectRollback()

	_, err := repo.ApplyCancel(context.Background(), ApplyCancelParams{
		SessionID: "sess-1",
		ByUserID:  "user-adm",
		ByRole:    models.RoleAdmin,
		At:        time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrSessionTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyManualStatusToMissed(t *testing.T) {
	repo, mock, cleanup := newSessionRepoMock(t, &stubLedger{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPlanned, false, nil))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, cancelled_by_role = \$3`).
		WithArgs("sess-1", models.SessionStatusMissed, nil, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session, err := repo.ApplyManualStatus(context.Background(), ApplyManualStatusParams{
		SessionID: "sess-1",
		Target:    models.SessionStatusMissed,
		ByUserID:  "user-adm",
		ByRole:    models.RoleAdmin,
		At:        time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusMissed, session.Status)
	assert.Nil(t, session.CancelledByRole)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyManualStatusInvalidTransition(t *testing.T) {
	repo, mock, cleanup := newSessionRepoMock(t, &stubLedger{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusCompleted, true, nil))
	mock.ExpectRollback()

	_, err := repo.ApplyManualStatus(context.Background(), ApplyManualStatusParams{
		SessionID: "sess-1",
		Target:    models.SessionStatusCancelled,
		ByUserID:  "user-adm",
		ByRole:    models.RoleAdmin,
		At:        time.Now().UTC(),
	})
	assert.ErrorIs(t, err, ErrSessionTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionCascadesReports(t *testing.T) {
	repo, mock, cleanup := newSessionRepoMock(t, &stubLedger{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM lesson_reports WHERE lesson_session_id = \$1`).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM lesson_sessions WHERE id = \$1`).
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "sess-1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionNotFound(t *testing.T) {
	repo, mock, cleanup := newSessionRepoMock(t, &stubLedger{})
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM lesson_reports WHERE lesson_session_id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE FROM lesson_sessions WHERE id = \$1`).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Mark notes are stored stripped of surrounding whitespace.
func TestApplyMarkTrimsNote(t *testing.T) {
	ledger := &stubLedger{}
	repo, mock, cleanup := newSessionRepoMock(t, ledger)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FOR UPDATE`).
		WithArgs("sess-1").
		WillReturnRows(sessionRow(models.SessionStatusPlanned, false, nil))
	mock.ExpectExec(`UPDATE lesson_sessions SET status = \$2, consumed = \$3`).
		WithArgs("sess-1", models.SessionStatusPendingConfirmation, false,
			sqlmock.AnyArg(), "came prepared", sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	note := "  came prepared \n"
	session, err := repo.ApplyMark(context.Background(), ApplyMarkParams{
		SessionID: "sess-1",
		Side:      MarkSideTeacher,
		At:        time.Now().UTC(),
		Note:      &note,
	})
	require.NoError(t, err)
	require.NotNil(t, session.TeacherMarkNote)
	assert.Equal(t, "came prepared", *session.TeacherMarkNote)
	assert.NoError(t, mock.ExpectationsWereMet())
}
