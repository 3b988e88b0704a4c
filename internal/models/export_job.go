package models

import "time"

// ExportFormat selects the rendered output of a session-history export.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportStatus tracks an export job through the worker queue.
type ExportStatus string

const (
	ExportStatusQueued     ExportStatus = "QUEUED"
	ExportStatusProcessing ExportStatus = "PROCESSING"
	ExportStatusDone       ExportStatus = "DONE"
	ExportStatusFailed     ExportStatus = "FAILED"
)

// ExportJobParams scope the sessions included in an export.
type ExportJobParams struct {
	StudentID     string       `json:"student_id,omitempty"`
	TeacherUserID string       `json:"teacher_user_id,omitempty"`
	Format        ExportFormat `json:"format"`
}

// ExportJob is a queued session-history export request.
type ExportJob struct {
	ID         string          `db:"id" json:"id"`
	Params     ExportJobParams `db:"-" json:"params"`
	RawParams  []byte          `db:"params" json:"-"`
	Status     ExportStatus    `db:"status" json:"status"`
	FilePath   *string         `db:"file_path" json:"-"`
	Error      *string         `db:"error" json:"error,omitempty"`
	Attempts   int             `db:"attempts" json:"attempts"`
	CreatedBy  string          `db:"created_by" json:"created_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
	FinishedAt *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
