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

// HomeworkRepository handles persistence of homework assignments.
type HomeworkRepository struct {
	db *sqlx.DB
}

// NewHomeworkRepository constructs the repository.
func NewHomeworkRepository(db *sqlx.DB) *HomeworkRepository {
	return &HomeworkRepository{db: db}
}

const homeworkColumns = `id, student_id, teacher_user_id, title, description, due_date, status, grade, teacher_note, student_note, created_at, updated_at`

// List returns homeworks matching the filter, newest first.
func (r *HomeworkRepository) List(ctx context.Context, filter models.HomeworkFilter) ([]models.Homework, int, error) {
	base := `FROM homeworks WHERE 1=1`
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", homeworkColumns, base, size, offset)
	var homeworks []models.Homework
	if err := r.db.SelectContext(ctx, &homeworks, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list homeworks: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count homeworks: %w", err)
	}
	return homeworks, total, nil
}

// FindByID returns a homework by identifier.
func (r *HomeworkRepository) FindByID(ctx context.Context, id string) (*models.Homework, error) {
	query := fmt.Sprintf("SELECT %s FROM homeworks WHERE id = $1 LIMIT 1", homeworkColumns)
	var homework models.Homework
	if err := r.db.GetContext(ctx, &homework, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find homework by id: %w", err)
	}
	return &homework, nil
}

// Create inserts a new homework.
func (r *HomeworkRepository) Create(ctx context.Context, homework *models.Homework) error {
	if homework.ID == "" {
		homework.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	homework.CreatedAt = now
	homework.UpdatedAt = now
	const query = `INSERT INTO homeworks (id, student_id, teacher_user_id, title, description, due_date, status, grade, teacher_note, student_note, created_at, updated_at)
        VALUES (:id, :student_id, :teacher_user_id, :title, :description, :due_date, :status, :grade, :teacher_note, :student_note, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, homework); err != nil {
		return fmt.Errorf("create homework: %w", err)
	}
	return nil
}

// Update persists mutable homework fields.
func (r *HomeworkRepository) Update(ctx context.Context, homework *models.Homework) error {
	homework.UpdatedAt = time.Now().UTC()
	const query = `UPDATE homeworks SET status = :status, grade = :grade, teacher_note = :teacher_note, student_note = :student_note, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, homework); err != nil {
		return fmt.Errorf("update homework: %w", err)
	}
	return nil
}
