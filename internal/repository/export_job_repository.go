package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tutortrack/tutortrack-api/internal/models"
)

// ExportJobRepository handles persistence of session-history export jobs.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository constructs the repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a new export job with its params serialized to JSON.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	raw, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("marshal export params: %w", err)
	}
	job.RawParams = raw
	const query = `INSERT INTO export_jobs (id, params, status, attempts, created_by, created_at, updated_at)
        VALUES (:id, :params, :status, :attempts, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// FindByID returns an export job by identifier.
func (r *ExportJobRepository) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	const query = `SELECT id, params, status, file_path, error, attempts, created_by, created_at, updated_at, finished_at FROM export_jobs WHERE id = $1 LIMIT 1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find export job by id: %w", err)
	}
	if err := json.Unmarshal(job.RawParams, &job.Params); err != nil {
		return nil, fmt.Errorf("unmarshal export params: %w", err)
	}
	return &job, nil
}

// UpdateExportJobParams carries mutable job fields for status updates.
type UpdateExportJobParams struct {
	Status     models.ExportStatus
	FilePath   *string
	Error      *string
	Attempts   int
	FinishedAt *time.Time
}

// Update persists a job state change.
func (r *ExportJobRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	const query = `UPDATE export_jobs SET status = $2, file_path = $3, error = $4, attempts = $5, finished_at = $6, updated_at = $7 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, params.Status, params.FilePath, params.Error, params.Attempts, params.FinishedAt, time.Now().UTC()); err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// ListQueued returns jobs still waiting for a worker, oldest first.
func (r *ExportJobRepository) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, params, status, file_path, error, attempts, created_by, created_at, updated_at, finished_at FROM export_jobs WHERE status = $1 ORDER BY created_at ASC LIMIT %d`, limit)
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, models.ExportStatusQueued); err != nil {
		return nil, fmt.Errorf("list queued export jobs: %w", err)
	}
	for i := range jobs {
		if err := json.Unmarshal(jobs[i].RawParams, &jobs[i].Params); err != nil {
			return nil, fmt.Errorf("unmarshal export params: %w", err)
		}
	}
	return jobs, nil
}
