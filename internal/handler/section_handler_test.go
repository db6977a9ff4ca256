package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type sectionServiceMock struct {
	positions     []models.WaitlistPosition
	leaveErr      error
	occupancy     *models.SectionOccupancy
	promotion     *models.PromotionResult
	err           error
	lastStudent   string
	lastSection   string
	lastTerm      string
	lastActor     string
	leaveCalls    int
	reconcileHits int
}

func (m *sectionServiceMock) GetWaitlist(_ context.Context, sectionID string) ([]models.WaitlistPosition, error) {
	m.lastSection = sectionID
	return m.positions, m.err
}

func (m *sectionServiceMock) LeaveWaitlist(_ context.Context, studentID, sectionID string) error {
	m.leaveCalls++
	m.lastStudent, m.lastSection = studentID, sectionID
	return m.leaveErr
}

func (m *sectionServiceMock) GetOccupancy(_ context.Context, sectionID string) (*models.SectionOccupancy, error) {
	m.lastSection = sectionID
	return m.occupancy, m.err
}

func (m *sectionServiceMock) ReconcileOccupancy(_ context.Context, sectionID, actorID string) (*models.SectionOccupancy, error) {
	m.reconcileHits++
	m.lastSection, m.lastActor = sectionID, actorID
	return m.occupancy, m.err
}

func (m *sectionServiceMock) Promote(_ context.Context, sectionID, termID string) (*models.PromotionResult, error) {
	m.lastSection, m.lastTerm = sectionID, termID
	return m.promotion, m.err
}

var adminClaims = &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin}

func TestSectionHandlerWaitlist(t *testing.T) {
	mockSvc := &sectionServiceMock{positions: []models.WaitlistPosition{{StudentID: "stu-3", Position: 1}, {StudentID: "stu-4", Position: 2}}}
	h := NewSectionHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodGet, "/sections/sec-1/waitlist", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	h.Waitlist(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sec-1", mockSvc.lastSection)
	assert.Contains(t, w.Body.String(), `"length":2`)
}

func TestSectionHandlerWaitlistNotFound(t *testing.T) {
	h := NewSectionHandler(&sectionServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "section not found")})

	c, w := newJSONContext(t, http.MethodGet, "/sections/nope/waitlist", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	h.Waitlist(c)

	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestSectionHandlerLeaveWaitlist(t *testing.T) {
	mockSvc := &sectionServiceMock{}
	h := NewSectionHandler(mockSvc)

	c, _ := newJSONContext(t, http.MethodDelete, "/sections/sec-1/waitlist/stu-1", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}, {Key: "studentId", Value: "stu-1"}}
	h.LeaveWaitlist(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, "stu-1", mockSvc.lastStudent)
	assert.Equal(t, "sec-1", mockSvc.lastSection)

	c, w := newJSONContext(t, http.MethodDelete, "/sections/sec-1/waitlist/stu-2", "", studentClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}, {Key: "studentId", Value: "stu-2"}}
	h.LeaveWaitlist(c)

	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, mockSvc.leaveCalls)
}

func TestSectionHandlerOccupancyAndReconcile(t *testing.T) {
	mockSvc := &sectionServiceMock{occupancy: &models.SectionOccupancy{SectionID: "sec-1", Capacity: 2, Counter: 2, LedgerCount: 1, Drift: true}}
	h := NewSectionHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodGet, "/sections/sec-1/occupancy", "", adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	h.Occupancy(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"drift":true`)

	c, w = newJSONContext(t, http.MethodPost, "/sections/sec-1/occupancy/reconcile", "", adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	h.Reconcile(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "adm-1", mockSvc.lastActor)
	assert.Equal(t, 1, mockSvc.reconcileHits)
}

func TestSectionHandlerPromote(t *testing.T) {
	mockSvc := &sectionServiceMock{promotion: &models.PromotionResult{SectionID: "sec-1", Promoted: true, StudentID: "stu-3"}}
	h := NewSectionHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodPost, "/sections/sec-1/promote?termId=term-1", "", adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	h.Promote(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "term-1", mockSvc.lastTerm)
	assert.Contains(t, w.Body.String(), `"promoted":true`)
}

func TestSectionHandlerInternalErrorHidesCause(t *testing.T) {
	cause := errors.New("pq: connection refused")
	mockSvc := &sectionServiceMock{err: appErrors.Wrap(cause, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy")}
	h := NewSectionHandler(mockSvc)

	c, w := newJSONContext(t, http.MethodGet, "/sections/sec-1/occupancy", "", adminClaims)
	c.Params = gin.Params{{Key: "id", Value: "sec-1"}}
	h.Occupancy(c)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection refused")
	require.Len(t, c.Errors, 1)
}
