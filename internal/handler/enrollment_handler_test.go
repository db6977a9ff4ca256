package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/service"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type enrollmentServiceMock struct {
	outcome     *models.EnrollmentOutcome
	enrollErr   error
	dropped     *models.Enrollment
	dropErr     error
	list        []models.Enrollment
	lastEnroll  service.EnrollRequest
	lastManual  service.ManualEnrollRequest
	lastDrop    service.DropRequest
	lastFilter  models.EnrollmentFilter
	enrollCalls int
	manualCalls int
	dropCalls   int
}

func (m *enrollmentServiceMock) Enroll(_ context.Context, req service.EnrollRequest) (*models.EnrollmentOutcome, error) {
	m.enrollCalls++
	m.lastEnroll = req
	return m.outcome, m.enrollErr
}

func (m *enrollmentServiceMock) ManualEnroll(_ context.Context, req service.ManualEnrollRequest) (*models.EnrollmentOutcome, error) {
	m.manualCalls++
	m.lastManual = req
	return m.outcome, m.enrollErr
}

func (m *enrollmentServiceMock) Drop(_ context.Context, req service.DropRequest) (*models.Enrollment, error) {
	m.dropCalls++
	m.lastDrop = req
	return m.dropped, m.dropErr
}

func (m *enrollmentServiceMock) ListEnrollments(_ context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	m.lastFilter = filter
	return m.list, &models.Pagination{Page: 1, PageSize: 20, TotalCount: len(m.list)}, nil
}

func newJSONContext(t *testing.T, method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, err := http.NewRequest(method, target, bytes.NewBufferString(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) *appErrors.Error {
	t.Helper()
	var body struct {
		Error *appErrors.Error `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

var studentClaims = &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent}

func TestEnrollmentHandlerCreateEnrolled(t *testing.T) {
	mockSvc := &enrollmentServiceMock{outcome: &models.EnrollmentOutcome{Result: models.ResultEnrolled, Enrollment: &models.Enrollment{ID: "enr-1"}}}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments", `{"student_id":"stu-1","section_id":"sec-1","term_id":"term-1"}`, studentClaims)
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "sec-1", mockSvc.lastEnroll.SectionID)
	assert.False(t, mockSvc.lastEnroll.BypassWindow)
}

func TestEnrollmentHandlerCreateWaitlisted(t *testing.T) {
	mockSvc := &enrollmentServiceMock{outcome: &models.EnrollmentOutcome{Result: models.ResultWaitlisted, Position: 2}}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments", `{"student_id":"stu-1","section_id":"sec-1","term_id":"term-1","bypass_window":true}`, studentClaims)
	h.Create(c)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.False(t, mockSvc.lastEnroll.BypassWindow)
	assert.Contains(t, w.Body.String(), `"position":2`)
}

func TestEnrollmentHandlerCreateForOtherStudentForbidden(t *testing.T) {
	mockSvc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments", `{"student_id":"stu-2","section_id":"sec-1","term_id":"term-1"}`, studentClaims)
	h.Create(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 0, mockSvc.enrollCalls)
}

func TestEnrollmentHandlerCreateRejection(t *testing.T) {
	mockSvc := &enrollmentServiceMock{enrollErr: appErrors.WithDetails(appErrors.ErrMissingPrerequisites, "missing prerequisites: MATH102",
		map[string]interface{}{"missing": []string{"MATH102"}})}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments", `{"student_id":"stu-1","section_id":"sec-1","term_id":"term-1"}`, studentClaims)
	h.Create(c)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	appErr := decodeError(t, w)
	assert.Equal(t, "MISSING_PREREQUISITES", appErr.Code)
	assert.Equal(t, "missing prerequisites: MATH102", appErr.Message)
}

func TestEnrollmentHandlerCreateInvalidBody(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})

	c, w := newJSONContext(t, http.MethodPost, "/enrollments", `{"student_id":`, studentClaims)
	h.Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerManualUsesTokenActor(t *testing.T) {
	mockSvc := &enrollmentServiceMock{outcome: &models.EnrollmentOutcome{Result: models.ResultEnrolled}}
	h := NewEnrollmentHandler(mockSvc)
	claims := &models.JWTClaims{UserID: "tch-1", Role: models.RoleTeacher}

	c, w := newJSONContext(t, http.MethodPost, "/enrollments/manual",
		`{"student_id":"stu-1","section_id":"sec-1","term_id":"term-1","force_capacity":true}`, claims)
	h.Manual(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tch-1", mockSvc.lastManual.ActorID)
	assert.True(t, mockSvc.lastManual.ForceCapacity)
	assert.False(t, mockSvc.lastManual.BypassWindow)
}

func TestEnrollmentHandlerManualDenied(t *testing.T) {
	mockSvc := &enrollmentServiceMock{enrollErr: appErrors.ErrAuthorizationDenied}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments/manual",
		`{"student_id":"stu-1","section_id":"sec-1","term_id":"term-1","force_capacity":true}`, &models.JWTClaims{UserID: "tch-9", Role: models.RoleTeacher})
	h.Manual(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTHORIZATION_DENIED", decodeError(t, w).Code)
}

func TestEnrollmentHandlerManualWithoutClaims(t *testing.T) {
	mockSvc := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments/manual", `{}`, nil)
	h.Manual(c)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, mockSvc.manualCalls)
}

func TestEnrollmentHandlerDrop(t *testing.T) {
	mockSvc := &enrollmentServiceMock{dropped: &models.Enrollment{ID: "enr-1", Status: models.EnrollmentStatusDropped}}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/enrollments/drop", `{"student_id":"stu-1","section_id":"sec-1"}`, studentClaims)
	h.Drop(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stu-1", mockSvc.lastDrop.StudentID)

	c, w = newJSONContext(t, http.MethodPost, "/enrollments/drop", `{"student_id":"stu-2","section_id":"sec-1"}`, studentClaims)
	h.Drop(c)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, mockSvc.dropCalls)

	mockSvc.dropErr = appErrors.ErrNoActiveEnrollment
	c, w = newJSONContext(t, http.MethodPost, "/enrollments/drop", `{"student_id":"stu-2","section_id":"sec-1"}`, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})
	h.Drop(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnrollmentHandlerList(t *testing.T) {
	mockSvc := &enrollmentServiceMock{list: []models.Enrollment{{ID: "enr-1"}}}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodGet, "/enrollments?sectionId=sec-1&status=enrolled&page=2&limit=5", "", &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sec-1", mockSvc.lastFilter.SectionID)
	assert.Equal(t, models.EnrollmentStatusEnrolled, mockSvc.lastFilter.Status)
	assert.Equal(t, 2, mockSvc.lastFilter.Page)
	assert.Equal(t, 5, mockSvc.lastFilter.PageSize)
}

func TestEnrollmentHandlerListRejectsUnknownStatus(t *testing.T) {
	h := NewEnrollmentHandler(&enrollmentServiceMock{})

	c, w := newJSONContext(t, http.MethodGet, "/enrollments?status=pending", "", &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})
	h.List(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnrollmentHandlerListCSV(t *testing.T) {
	enrolledAt := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	mockSvc := &enrollmentServiceMock{list: []models.Enrollment{
		{ID: "enr-1", StudentID: "stu-1", SectionID: "sec-1", TermID: "term-1", Status: models.EnrollmentStatusEnrolled, EnrolledAt: enrolledAt},
	}}
	h := NewEnrollmentHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodGet, "/enrollments?sectionId=sec-1&format=csv", "", adminClaims)
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "enrollment_id,student_id,section_id,term_id,status,forced,enrolled_at,dropped_at", lines[0])
	assert.Equal(t, "enr-1,stu-1,sec-1,term-1,ENROLLED,false,2026-08-10T09:00:00Z,", lines[1])
}

type auditSink struct {
	logs []*models.AuditLog
}

func (a *auditSink) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestEnrollmentHandlerAuditedRoutesNameTheEnrollment(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sink := &auditSink{}
	mockSvc := &enrollmentServiceMock{
		outcome: &models.EnrollmentOutcome{Result: models.ResultEnrolled, Enrollment: &models.Enrollment{ID: "enr-7", StudentID: "stu-1", SectionID: "sec-1", TermID: "term-1"}},
		dropped: &models.Enrollment{ID: "enr-1", StudentID: "stu-1", SectionID: "sec-1", TermID: "term-1", Status: models.EnrollmentStatusDropped},
	}
	h := NewEnrollmentHandler(mockSvc)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})
		c.Next()
	})
	router.POST("/enrollments/manual", middleware.Audit(sink, nil, models.AuditActionManualEnroll, "enrollment"), h.Manual)
	router.POST("/enrollments/drop", middleware.Audit(sink, nil, models.AuditActionDrop, "enrollment"), h.Drop)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/enrollments/manual",
		strings.NewReader(`{"student_id":"stu-1","section_id":"sec-1","term_id":"term-1"}`)))
	require.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/enrollments/drop",
		strings.NewReader(`{"student_id":"stu-1","section_id":"sec-1"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, sink.logs, 2)
	require.NotNil(t, sink.logs[0].ResourceID)
	assert.Equal(t, "enr-7", *sink.logs[0].ResourceID)
	assert.Contains(t, string(sink.logs[0].NewValues), `"term_id":"term-1"`)
	require.NotNil(t, sink.logs[1].ResourceID)
	assert.Equal(t, "enr-1", *sink.logs[1].ResourceID)
	assert.Contains(t, string(sink.logs[1].NewValues), `"student_id":"stu-1"`)
}
