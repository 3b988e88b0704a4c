package service

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/internal/repository"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
	"github.com/tutortrack/tutortrack-api/pkg/export"
	"github.com/tutortrack/tutortrack-api/pkg/jobs"
	"github.com/tutortrack/tutortrack-api/pkg/storage"
)

type mockExportJobRepo struct {
	jobs map[string]*models.ExportJob
}

func (m *mockExportJobRepo) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = "job-new"
	}
	if m.jobs == nil {
		m.jobs = make(map[string]*models.ExportJob)
	}
	copy := *job
	m.jobs[job.ID] = &copy
	return nil
}

func (m *mockExportJobRepo) FindByID(ctx context.Context, id string) (*models.ExportJob, error) {
	if j, ok := m.jobs[id]; ok {
		copy := *j
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockExportJobRepo) Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error {
	job, ok := m.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	job.Status = params.Status
	job.FilePath = params.FilePath
	job.Error = params.Error
	job.Attempts = params.Attempts
	job.FinishedAt = params.FinishedAt
	return nil
}

func (m *mockExportJobRepo) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	var out []models.ExportJob
	for _, j := range m.jobs {
		if j.Status == models.ExportStatusQueued {
			out = append(out, *j)
		}
	}
	return out, nil
}

type sessionListStub struct {
	sessions []models.LessonSession
}

func (s sessionListStub) List(ctx context.Context, filter models.SessionFilter) ([]models.LessonSession, int, error) {
	if filter.Page > 1 {
		return nil, len(s.sessions), nil
	}
	return s.sessions, len(s.sessions), nil
}

func newExportFixture(t *testing.T) (*ExportService, *mockExportJobRepo, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", time.Hour)
	repo := &mockExportJobRepo{jobs: make(map[string]*models.ExportJob)}
	topic := "Fractions"
	sessions := sessionListStub{sessions: []models.LessonSession{{
		ID: "sess-1", StudentID: "stu-1", TeacherUserID: "teach-1",
		ScheduledStart: time.Now().UTC(), DurationMin: 60,
		Mode: models.SessionModeOnline, Status: models.SessionStatusCompleted,
		Consumed: true, Topic: &topic,
	}}}
	svc := NewExportService(repo, sessions, store, signer,
		ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour},
		zap.NewNop(), export.NewCSVExporter(), export.NewPDFExporter())
	return svc, repo, store
}

func TestExportEnqueueAndProcessCSV(t *testing.T) {
	svc, repo, store := newExportFixture(t)

	job, err := svc.Enqueue(context.Background(), adminClaims(), CreateExportRequest{Format: "csv"})
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusQueued, job.Status)

	err = svc.Process(context.Background(), jobs.Job{ID: job.ID})
	require.NoError(t, err)

	stored := repo.jobs[job.ID]
	assert.Equal(t, models.ExportStatusDone, stored.Status)
	require.NotNil(t, stored.FilePath)

	info, err := os.Stat(store.Path(*stored.FilePath))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportProcessPDF(t *testing.T) {
	svc, repo, store := newExportFixture(t)

	job, err := svc.Enqueue(context.Background(), adminClaims(), CreateExportRequest{Format: "pdf"})
	require.NoError(t, err)

	err = svc.Process(context.Background(), jobs.Job{ID: job.ID})
	require.NoError(t, err)

	stored := repo.jobs[job.ID]
	assert.Equal(t, models.ExportStatusDone, stored.Status)
	require.NotNil(t, stored.FilePath)

	info, err := os.Stat(store.Path(*stored.FilePath))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestExportStatusSignsDownloadURL(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	job, err := svc.Enqueue(context.Background(), adminClaims(), CreateExportRequest{Format: "csv"})
	require.NoError(t, err)
	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID}))

	stored, url, err := svc.Status(context.Background(), adminClaims(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExportStatusDone, stored.Status)
	assert.Contains(t, url, "/api/v1/exports/download/")
}

func TestExportDownloadResolvesToken(t *testing.T) {
	svc, _, _ := newExportFixture(t)

	job, err := svc.Enqueue(context.Background(), adminClaims(), CreateExportRequest{Format: "csv"})
	require.NoError(t, err)
	require.NoError(t, svc.Process(context.Background(), jobs.Job{ID: job.ID}))

	_, url, err := svc.Status(context.Background(), adminClaims(), job.ID)
	require.NoError(t, err)
	token := url[len("/api/v1/exports/download/"):]

	download, err := svc.Download(token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ExportFormatCSV, download.Format)
}

func TestExportEnqueueRequiresAdmin(t *testing.T) {
	svc, _, _ := newExportFixture(t)
	_, err := svc.Enqueue(context.Background(), teacherClaims(), CreateExportRequest{Format: "csv"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
