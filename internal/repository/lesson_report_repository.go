package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutortrack/tutortrack-api/internal/models"
)

// LessonReportRepository handles persistence of lesson reports.
type LessonReportRepository struct {
	db *sqlx.DB
}

// NewLessonReportRepository constructs the repository.
func NewLessonReportRepository(db *sqlx.DB) *LessonReportRepository {
	return &LessonReportRepository{db: db}
}

const lessonReportColumns = `id, lesson_session_id, student_id, teacher_user_id, topic, performance_rating, teacher_note, next_note, created_at, updated_at`

// List returns lesson reports matching the filter, newest first.
func (r *LessonReportRepository) List(ctx context.Context, filter models.LessonReportFilter) ([]models.LessonReport, int, error) {
	base := `FROM lesson_reports WHERE 1=1`
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
	if filter.LessonSessionID != "" {
		conditions = append(conditions, fmt.Sprintf("lesson_session_id = $%d", len(args)+1))
		args = append(args, filter.LessonSessionID)
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", lessonReportColumns, base, size, offset)
	var reports []models.LessonReport
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list lesson reports: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count lesson reports: %w", err)
	}
	return reports, total, nil
}

// FindByID returns a lesson report by identifier.
func (r *LessonReportRepository) FindByID(ctx context.Context, id string) (*models.LessonReport, error) {
	query := fmt.Sprintf("SELECT %s FROM lesson_reports WHERE id = $1 LIMIT 1", lessonReportColumns)
	var report models.LessonReport
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find lesson report by id: %w", err)
	}
	return &report, nil
}

// Create inserts a new lesson report.
func (r *LessonReportRepository) Create(ctx context.Context, report *models.LessonReport) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	report.CreatedAt = now
	report.UpdatedAt = now
	const query = `INSERT INTO lesson_reports (id, lesson_session_id, student_id, teacher_user_id, topic, performance_rating, teacher_note, next_note, created_at, updated_at)
        VALUES (:id, :lesson_session_id, :student_id, :teacher_user_id, :topic, :performance_rating, :teacher_note, :next_note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create lesson report: %w", err)
	}
	return nil
}
