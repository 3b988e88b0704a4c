package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tutortrack/tutortrack-api/internal/middleware"
	"github.com/tutortrack/tutortrack-api/internal/models"
	"github.com/tutortrack/tutortrack-api/internal/service"
	appErrors "github.com/tutortrack/tutortrack-api/pkg/errors"
	"github.com/tutortrack/tutortrack-api/pkg/response"
)

type sessionServiceMock struct {
	listResp   []models.LessonSession
	listErr    error
	getResp    *models.LessonSession
	getErr     error
	markResp   *models.LessonSession
	markErr    error
	cancelResp *models.LessonSession
	cancelErr  error
	statusErr  error

	lastFilter  models.SessionFilter
	lastMarkReq service.StudentMarkRequest
	listCalled  bool
	markCalled  bool
}

func (m *sessionServiceMock) List(ctx context.Context, claims *models.JWTClaims, filter models.SessionFilter) ([]models.LessonSession, *models.Pagination, error) {
	m.listCalled = true
	m.lastFilter = filter
	return m.listResp, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.listResp)}, m.listErr
}

func (m *sessionServiceMock) Get(ctx context.Context, claims *models.JWTClaims, id string) (*models.LessonSession, error) {
	return m.getResp, m.getErr
}

func (m *sessionServiceMock) Create(ctx context.Context, claims *models.JWTClaims, req service.CreateSessionRequest) (*models.LessonSession, error) {
	return m.getResp, m.getErr
}

func (m *sessionServiceMock) Update(ctx context.Context, claims *models.JWTClaims, id string, req service.UpdateSessionRequest) (*models.LessonSession, error) {
	return m.getResp, m.getErr
}

func (m *sessionServiceMock) TeacherMark(ctx context.Context, claims *models.JWTClaims, id string, req service.TeacherMarkRequest) (*models.LessonSession, error) {
	m.markCalled = true
	return m.markResp, m.markErr
}

func (m *sessionServiceMock) StudentMark(ctx context.Context, claims *models.JWTClaims, id string, req service.StudentMarkRequest) (*models.LessonSession, error) {
	m.markCalled = true
	m.lastMarkReq = req
	return m.markResp, m.markErr
}

func (m *sessionServiceMock) Cancel(ctx context.Context, claims *models.JWTClaims, id string) (*models.LessonSession, error) {
	return m.cancelResp, m.cancelErr
}

func (m *sessionServiceMock) UpdateStatus(ctx context.Context, claims *models.JWTClaims, id string, req service.UpdateSessionStatusRequest) (*models.LessonSession, error) {
	return m.getResp, m.statusErr
}

func (m *sessionServiceMock) Delete(ctx context.Context, claims *models.JWTClaims, id string, meta models.LoginRequest) error {
	return nil
}

func testContext(t *testing.T, method, target string, body string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin})
	return c, w
}

func TestSessionHandlerListParsesFilter(t *testing.T) {
	mockSvc := &sessionServiceMock{
		listResp: []models.LessonSession{{ID: "sess-1", Status: models.SessionStatusPlanned}},
	}
	h := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodGet, "/sessions?status=planned&studentId=stu-1&from=2026-03-01T00:00:00Z", "")
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.listCalled)
	assert.Equal(t, models.SessionStatusPlanned, mockSvc.lastFilter.Status)
	assert.Equal(t, "stu-1", mockSvc.lastFilter.StudentID)
	require.NotNil(t, mockSvc.lastFilter.From)
}

func TestSessionHandlerStudentMarkPassesBody(t *testing.T) {
	mockSvc := &sessionServiceMock{
		markResp: &models.LessonSession{ID: "sess-1", Status: models.SessionStatusCompleted},
	}
	h := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/sessions/sess-1/student-mark", `{"done":false,"rating":4}`)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}
	h.StudentMark(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.markCalled)
	require.NotNil(t, mockSvc.lastMarkReq.Done)
	assert.False(t, *mockSvc.lastMarkReq.Done)
}

func TestSessionHandlerStudentMarkRejectsBadJSON(t *testing.T) {
	h := NewSessionHandler(&sessionServiceMock{})

	c, w := testContext(t, http.MethodPost, "/sessions/sess-1/student-mark", `{"done":`)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}
	h.StudentMark(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionHandlerCancelMapsDomainError(t *testing.T) {
	mockSvc := &sessionServiceMock{cancelErr: appErrors.ErrNoRemainingLessons}
	h := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodPost, "/sessions/sess-1/cancel", "")
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}
	h.Cancel(c)

	require.Equal(t, http.StatusConflict, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Equal(t, appErrors.ErrNoRemainingLessons.Code, envelope.Error.Code)
}

func TestSessionHandlerStatusConflictCarriesAllowedTargets(t *testing.T) {
	mockSvc := &sessionServiceMock{
		statusErr: appErrors.WithDetails(appErrors.ErrInvalidTransition, map[string]interface{}{
			"current_status":  "COMPLETED",
			"allowed_targets": []string{},
		}),
	}
	h := NewSessionHandler(mockSvc)

	c, w := testContext(t, http.MethodPut, "/sessions/sess-1/status", `{"status":"MISSED"}`)
	c.Params = gin.Params{{Key: "id", Value: "sess-1"}}
	h.UpdateStatus(c)

	require.Equal(t, http.StatusConflict, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	assert.Contains(t, envelope.Error.Details, "allowed_targets")
}

func TestSessionHandlerRequiresClaims(t *testing.T) {
	h := NewSessionHandler(&sessionServiceMock{})

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/sessions", nil)
	c.Request = req

	h.List(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
