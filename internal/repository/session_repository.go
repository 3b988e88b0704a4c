package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutortrack/tutortrack-api/internal/models"
)

// Sentinel errors surfaced by the transactional session mutations. They signal
// state conflicts detected under the row lock, after the service-level checks
// already passed on a possibly stale read.
var (
	ErrSessionTerminal = errors.New("session is in a terminal status")
	ErrNoCredit        = errors.New("no lesson credit available")
)

type creditLedger interface {
	ConsumeCreditTx(ctx context.Context, tx *sqlx.Tx, studentID string, now time.Time) (bool, error)
}

// SessionRepository persists lesson sessions and runs the transactional
// status/credit mutations of the lifecycle engine.
type SessionRepository struct {
	db     *sqlx.DB
	ledger creditLedger
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB, ledger creditLedger) *SessionRepository {
	return &SessionRepository{db: db, ledger: ledger}
}

const sessionColumns = `id, student_id, teacher_user_id, created_by_user_id, scheduled_start, duration_min, mode, topic, status, consumed,
        teacher_rating_to_student, teacher_mark_note, teacher_marked_at,
        student_rating_to_teacher, student_note, student_marked_at,
        cancelled_by_role, cancelled_by_user_id, cancelled_at, admin_note, created_at, updated_at`

// List returns sessions matching the filter, newest scheduled first.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.LessonSession, int, error) {
	base := `FROM lesson_sessions WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherUserID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_user_id = $%d", len(args)+1))
		args = append(args, filter.TeacherUserID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.From != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_start >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_start < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY scheduled_start DESC LIMIT %d OFFSET %d", sessionColumns, base, size, offset)
	var sessions []models.LessonSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// FindByID returns a session by identifier.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.LessonSession, error) {
	query := fmt.Sprintf("SELECT %s FROM lesson_sessions WHERE id = $1 LIMIT 1", sessionColumns)
	var session models.LessonSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find session by id: %w", err)
	}
	return &session, nil
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.LessonSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	const query = `INSERT INTO lesson_sessions (id, student_id, teacher_user_id, created_by_user_id, scheduled_start, duration_min, mode, topic, status, consumed, created_at, updated_at)
        VALUES (:id, :student_id, :teacher_user_id, :created_by_user_id, :scheduled_start, :duration_min, :mode, :topic, :status, :consumed, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// UpdateDetails persists the editable scheduling fields (topic, start,
// duration, mode, admin note). Status and marks are never written here.
func (r *SessionRepository) UpdateDetails(ctx context.Context, session *models.LessonSession) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lesson_sessions SET topic = :topic, scheduled_start = :scheduled_start, duration_min = :duration_min, mode = :mode, admin_note = :admin_note, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("update session details: %w", err)
	}
	return nil
}

// MarkSide identifies which participant is confirming a session.
type MarkSide string

const (
	MarkSideTeacher MarkSide = "TEACHER"
	MarkSideStudent MarkSide = "STUDENT"
)

// ApplyMarkParams describes one confirmation mark.
type ApplyMarkParams struct {
	SessionID string
	Side      MarkSide
	At        time.Time
	Rating    *int
	Note      *string
	// ForceMissed is the student's "lesson did not happen" report: the session
	// goes straight to MISSED and no rating, note, or credit is recorded.
	ForceMissed bool
}

// ApplyMark records a confirmation mark and recomputes the session status in
// one transaction. When the recompute lands on COMPLETED and the session has
// not consumed a credit yet, one credit is debited through the ledger inside
// the same transaction; a missing credit is tolerated and the session still
// completes. Returns ErrSessionTerminal if the row was cancelled or missed by
// the time the lock was taken.
func (r *SessionRepository) ApplyMark(ctx context.Context, params ApplyMarkParams) (result *models.LessonSession, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin mark transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	session, err := r.lockSession(ctx, tx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusCancelled || session.Status == models.SessionStatusMissed {
		err = ErrSessionTerminal
		return nil, err
	}

	at := params.At.UTC()
	switch params.Side {
	case MarkSideTeacher:
		session.TeacherMarkedAt = &at
		if params.Rating != nil {
			session.TeacherRatingToStudent = params.Rating
		}
		if params.Note != nil {
			session.TeacherMarkNote = trimNote(params.Note)
		}
	case MarkSideStudent:
		session.StudentMarkedAt = &at
		if !params.ForceMissed {
			if params.Rating != nil {
				session.StudentRatingToTeacher = params.Rating
			}
			if params.Note != nil {
				session.StudentNote = trimNote(params.Note)
			}
		}
	default:
		err = fmt.Errorf("unknown mark side %q", params.Side)
		return nil, err
	}

	if params.ForceMissed {
		session.Status = models.SessionStatusMissed
	} else {
		session.Status = session.RecalcStatus()
		if session.Status == models.SessionStatusCompleted && !session.Consumed {
			var consumed bool
			consumed, err = r.ledger.ConsumeCreditTx(ctx, tx, session.StudentID, at)
			if err != nil {
				return nil, err
			}
			if consumed {
				session.Consumed = true
			}
		}
	}

	if err = r.saveMarkState(ctx, tx, session, at); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit mark transaction: %w", err)
	}
	return session, nil
}

// ApplyCancelParams describes an explicit cancellation.
type ApplyCancelParams struct {
	SessionID string
	ByUserID  string
	ByRole    models.UserRole
	At        time.Time
	// Penalty requires a successful credit debit: without one the whole
	// cancellation fails with ErrNoCredit and the session is left untouched.
	Penalty bool
}

// ApplyCancel transitions a session to CANCELLED in one transaction, debiting
// a penalty credit first when required. Returns ErrSessionTerminal when the
// session is no longer cancellable and ErrNoCredit when a required penalty
// debit found no available credit.
func (r *SessionRepository) ApplyCancel(ctx context.Context, params ApplyCancelParams) (result *models.LessonSession, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cancel transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	session, err := r.lockSession(ctx, tx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusPlanned && session.Status != models.SessionStatusPendingConfirmation {
		err = ErrSessionTerminal
		return nil, err
	}

	at := params.At.UTC()
	if params.Penalty && !session.Consumed {
		var consumed bool
		consumed, err = r.ledger.ConsumeCreditTx(ctx, tx, session.StudentID, at)
		if err != nil {
			return nil, err
		}
		if !consumed {
			err = ErrNoCredit
			return nil, err
		}
		session.Consumed = true
	}

	session.Status = models.SessionStatusCancelled
	role := params.ByRole
	session.CancelledByRole = &role
	byUser := params.ByUserID
	session.CancelledByUserID = &byUser
	session.CancelledAt = &at

	const query = `UPDATE lesson_sessions SET status = $2, consumed = $3, cancelled_by_role = $4, cancelled_by_user_id = $5, cancelled_at = $6, updated_at = $7 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, query, session.ID, session.Status, session.Consumed, session.CancelledByRole, session.CancelledByUserID, session.CancelledAt, at); err != nil {
		err = fmt.Errorf("cancel session: %w", err)
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cancel transaction: %w", err)
	}
	session.UpdatedAt = at
	return session, nil
}

// ApplyManualStatusParams describes an administrative status correction.
type ApplyManualStatusParams struct {
	SessionID string
	Target    models.SessionStatus
	ByUserID  string
	ByRole    models.UserRole
	At        time.Time
}

// ApplyManualStatus performs a manual CANCELLED/MISSED edit under the row
// lock, re-validating the transition table against the locked status. A
// manual move into CANCELLED records the cancellation audit fields; no credit
// is ever touched on this path.
func (r *SessionRepository) ApplyManualStatus(ctx context.Context, params ApplyManualStatusParams) (result *models.LessonSession, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin status transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	session, err := r.lockSession(ctx, tx, params.SessionID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionManually(session.Status, params.Target) {
		err = ErrSessionTerminal
		return nil, err
	}

	at := params.At.UTC()
	session.Status = params.Target
	if params.Target == models.SessionStatusCancelled {
		role := params.ByRole
		session.CancelledByRole = &role
		byUser := params.ByUserID
		session.CancelledByUserID = &byUser
		session.CancelledAt = &at
	}

	const query = `UPDATE lesson_sessions SET status = $2, cancelled_by_role = $3, cancelled_by_user_id = $4, cancelled_at = $5, updated_at = $6 WHERE id = $1`
	if _, err = tx.ExecContext(ctx, query, session.ID, session.Status, session.CancelledByRole, session.CancelledByUserID, session.CancelledAt, at); err != nil {
		err = fmt.Errorf("update session status: %w", err)
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit status transaction: %w", err)
	}
	session.UpdatedAt = at
	return session, nil
}

// Delete hard-deletes a session and its dependent lesson reports.
func (r *SessionRepository) Delete(ctx context.Context, id string) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM lesson_reports WHERE lesson_session_id = $1`, id); err != nil {
		return fmt.Errorf("delete session reports: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM lesson_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if affected == 0 {
		err = sql.ErrNoRows
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete transaction: %w", err)
	}
	return nil
}

func trimNote(note *string) *string {
	trimmed := strings.TrimSpace(*note)
	return &trimmed
}

func (r *SessionRepository) lockSession(ctx context.Context, tx *sqlx.Tx, id string) (*models.LessonSession, error) {
	query := fmt.Sprintf("SELECT %s FROM lesson_sessions WHERE id = $1 FOR UPDATE", sessionColumns)
	var session models.LessonSession
	if err := tx.GetContext(ctx, &session, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) saveMarkState(ctx context.Context, tx *sqlx.Tx, session *models.LessonSession, at time.Time) error {
	const query = `UPDATE lesson_sessions SET status = $2, consumed = $3,
        teacher_rating_to_student = $4, teacher_mark_note = $5, teacher_marked_at = $6,
        student_rating_to_teacher = $7, student_note = $8, student_marked_at = $9,
        updated_at = $10 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, query,
		session.ID, session.Status, session.Consumed,
		session.TeacherRatingToStudent, session.TeacherMarkNote, session.TeacherMarkedAt,
		session.StudentRatingToTeacher, session.StudentNote, session.StudentMarkedAt,
		at,
	); err != nil {
		return fmt.Errorf("save session marks: %w", err)
	}
	session.UpdatedAt = at
	return nil
}
