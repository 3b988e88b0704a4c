package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/internal/repository"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
	"github.com/tutortrack/tutortrack-api/pkg/export"
	"github.com/tutortrack/tutortrack-api/pkg/jobs"
	"github.com/tutortrack/tutortrack-api/pkg/storage"
)

type exportJobRepository interface {
	Create(ctx context.Context, job *models.ExportJob) error
	FindByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
}

type exportSessionReader interface {
	List(ctx context.Context, filter models.SessionFilter) ([]models.LessonSession, int, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// CreateExportRequest queues a session-history export.
type CreateExportRequest struct {
	StudentID     string `json:"student_id" validate:"omitempty,uuid4"`
	TeacherUserID string `json:"teacher_user_id" validate:"omitempty,uuid4"`
	Format        string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportDownload is a resolved signed-URL download.
type ExportDownload struct {
	File     *os.File
	Filename string
	Format   models.ExportFormat
}

// ExportService queues session-history exports, renders them on worker
// goroutines, and serves the results through signed URLs.
type ExportService struct {
	repo     exportJobRepository
	sessions exportSessionReader
	storage  fileStorage
	csv      csvRenderer
	pdf      pdfRenderer
	signer   *storage.SignedURLSigner
	queue    *jobs.Queue
	logger   *zap.Logger
	cfg      ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(repo exportJobRepository, sessions exportSessionReader, store fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		repo:     repo,
		sessions: sessions,
		storage:  store,
		csv:      csv,
		pdf:      pdf,
		signer:   signer,
		logger:   logger,
		cfg:      cfg,
	}
}

// AttachQueue wires the background queue that runs Process for each job.
func (s *ExportService) AttachQueue(q *jobs.Queue) {
	s.queue = q
}

// Enqueue persists a new export job and hands it to the worker pool.
func (s *ExportService) Enqueue(ctx context.Context, claims *models.JWTClaims, req CreateExportRequest) (*models.ExportJob, error) {
	if claims.Role != models.RoleAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only admins may export session history")
	}
	format := models.ExportFormat(strings.ToLower(req.Format))
	if format != models.ExportFormatCSV && format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	job := &models.ExportJob{
		Params: models.ExportJobParams{
			StudentID:     req.StudentID,
			TeacherUserID: req.TeacherUserID,
			Format:        format,
		},
		Status:    models.ExportStatusQueued,
		CreatedBy: claims.UserID,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue export")
	}

	if s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "session-export"}); err != nil {
			s.logger.Warn("failed to dispatch export job, it will be picked up on requeue",
				zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return job, nil
}

// Status returns the persisted state of an export job together with a fresh
// signed download URL once the job is done.
func (s *ExportService) Status(ctx context.Context, claims *models.JWTClaims, id string) (*models.ExportJob, string, error) {
	if claims.Role != models.RoleAdmin {
		return nil, "", appErrors.Clone(appErrors.ErrForbidden, "only admins may view export jobs")
	}
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrNotFound, "export job not found")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load export job")
	}

	var url string
	if job.Status == models.ExportStatusDone && job.FilePath != nil {
		token, _, err := s.signer.Generate(job.ID, *job.FilePath)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
		}
		prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
		if prefix == "" {
			prefix = "/api/v1"
		}
		url = fmt.Sprintf("%s/exports/download/%s", prefix, token)
	}
	return job, url, nil
}

// Download resolves a signed token to the stored file.
func (s *ExportService) Download(token string) (*ExportDownload, error) {
	jobID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "download link is invalid or expired")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available")
	}
	format := models.ExportFormatCSV
	if strings.HasSuffix(relPath, ".pdf") {
		format = models.ExportFormatPDF
	}
	return &ExportDownload{File: file, Filename: fmt.Sprintf("sessions_%s.%s", jobID, format), Format: format}, nil
}

// Process renders one queued job. It is the queue handler: returning an
// error triggers the queue's retry policy, and the final failure is recorded
// on the job row.
func (s *ExportService) Process(ctx context.Context, job jobs.Job) error {
	stored, err := s.repo.FindByID(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load export job %s: %w", job.ID, err)
	}
	if stored.Status == models.ExportStatusDone {
		return nil
	}

	if err := s.repo.Update(ctx, stored.ID, repository.UpdateExportJobParams{
		Status:   models.ExportStatusProcessing,
		Attempts: stored.Attempts + 1,
	}); err != nil {
		return err
	}

	relPath, renderErr := s.render(ctx, stored)
	now := time.Now().UTC()
	if renderErr != nil {
		message := renderErr.Error()
		if err := s.repo.Update(ctx, stored.ID, repository.UpdateExportJobParams{
			Status:     models.ExportStatusFailed,
			Error:      &message,
			Attempts:   stored.Attempts + 1,
			FinishedAt: &now,
		}); err != nil {
			s.logger.Error("failed to record export failure", zap.String("job_id", stored.ID), zap.Error(err))
		}
		return renderErr
	}

	return s.repo.Update(ctx, stored.ID, repository.UpdateExportJobParams{
		Status:     models.ExportStatusDone,
		FilePath:   &relPath,
		Attempts:   stored.Attempts + 1,
		FinishedAt: &now,
	})
}

// Requeue re-dispatches jobs left in QUEUED, typically after a restart.
func (s *ExportService) Requeue(ctx context.Context) error {
	if s.queue == nil {
		return nil
	}
	queued, err := s.repo.ListQueued(ctx, 100)
	if err != nil {
		return err
	}
	for _, job := range queued {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "session-export"}); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes stored files older than ttl (configured ResultTTL when
// ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) render(ctx context.Context, job *models.ExportJob) (string, error) {
	filter := models.SessionFilter{
		StudentID:     job.Params.StudentID,
		TeacherUserID: job.Params.TeacherUserID,
		Page:          1,
		PageSize:      100,
	}
	var sessions []models.LessonSession
	for {
		page, total, err := s.sessions.List(ctx, filter)
		if err != nil {
			return "", err
		}
		sessions = append(sessions, page...)
		if len(sessions) >= total || len(page) == 0 {
			break
		}
		filter.Page++
	}

	dataset := buildSessionDataset(sessions)
	title := "Lesson Session History"

	var payload []byte
	var err error
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("sessions_%s_%s.%s", job.ID, time.Now().UTC().Format("20060102_150405"), job.Params.Format)
	return s.storage.Save(filename, payload)
}

func buildSessionDataset(sessions []models.LessonSession) export.Dataset {
	headers := []string{"Session ID", "Student ID", "Teacher ID", "Scheduled Start", "Duration (min)", "Mode", "Status", "Consumed", "Topic"}
	rows := make([]map[string]string, 0, len(sessions))
	for _, s := range sessions {
		topic := ""
		if s.Topic != nil {
			topic = *s.Topic
		}
		rows = append(rows, map[string]string{
			"Session ID":      s.ID,
			"Student ID":      s.StudentID,
			"Teacher ID":      s.TeacherUserID,
			"Scheduled Start": s.ScheduledStart.UTC().Format(time.RFC3339),
			"Duration (min)":  fmt.Sprintf("%d", s.DurationMin),
			"Mode":            string(s.Mode),
			"Status":          string(s.Status),
			"Consumed":        fmt.Sprintf("%t", s.Consumed),
			"Topic":           topic,
		})
	}
	return export.Dataset{Headers: headers, Rows: rows}
}
