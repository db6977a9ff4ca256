package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/service"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/export"
	"github.com/noah-isme/krs-api/pkg/response"
)

type enrollmentService interface {
	Enroll(ctx context.Context, req service.EnrollRequest) (*models.EnrollmentOutcome, error)
	ManualEnroll(ctx context.Context, req service.ManualEnrollRequest) (*models.EnrollmentOutcome, error)
	Drop(ctx context.Context, req service.DropRequest) (*models.Enrollment, error)
	ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error)
}

// EnrollmentHandler exposes enrollment endpoints.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param sectionId query string false "Filter by section"
// @Param termId query string false "Filter by term"
// @Param status query string false "Filter by status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Param format query string false "json (default) or csv roster export"
// @Produce text/csv
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var query dto.EnrollmentQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	filter := models.EnrollmentFilter{
		StudentID: query.StudentID,
		SectionID: query.SectionID,
		TermID:    query.TermID,
		Status:    models.EnrollmentStatus(strings.ToUpper(query.Status)),
		Page:      query.Page,
		PageSize:  query.Limit,
	}
	enrollments, pagination, err := h.enrollments.ListEnrollments(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	if query.Format == "csv" {
		writeRoster(c, enrollments)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, pagination)
}

var rosterHeaders = []string{"enrollment_id", "student_id", "section_id", "term_id", "status", "forced", "enrolled_at", "dropped_at"}

func writeRoster(c *gin.Context, enrollments []models.Enrollment) {
	table := export.Table{Headers: rosterHeaders, Rows: make([][]string, 0, len(enrollments))}
	for _, e := range enrollments {
		dropped := ""
		if e.DroppedAt != nil {
			dropped = e.DroppedAt.UTC().Format(time.RFC3339)
		}
		table.Rows = append(table.Rows, []string{
			e.ID, e.StudentID, e.SectionID, e.TermID, string(e.Status),
			strconv.FormatBool(e.Forced), e.EnrolledAt.UTC().Format(time.RFC3339), dropped,
		})
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="enrollments.csv"`)
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, table); err != nil {
		_ = c.Error(err)
	}
}

// Create godoc
// @Summary Enroll a student in a section
// @Description Returns 201 when a seat was taken and 202 when the student was waitlisted.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.EnrollRequest true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	var req service.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := authorizeStudent(claimsFromContext(c), req.StudentID); err != nil {
		response.Error(c, err)
		return
	}

	outcome, err := h.enrollments.Enroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	writeOutcome(c, outcome)
}

// Manual godoc
// @Summary Enroll a student on behalf of staff
// @Description Staff may bypass the registration window or the capacity limit when they own the section, share its department, or are administrators.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.ManualEnrollRequest true "Manual enrollment payload"
// @Success 201 {object} response.Envelope
// @Success 202 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /enrollments/manual [post]
func (h *EnrollmentHandler) Manual(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.ManualEnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	req.ActorID = claims.UserID

	outcome, err := h.enrollments.ManualEnroll(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	var enrollmentID string
	if outcome.Enrollment != nil {
		enrollmentID = outcome.Enrollment.ID
	}
	middleware.SetAuditResource(c, enrollmentID, map[string]string{
		"student_id": req.StudentID,
		"section_id": req.SectionID,
		"term_id":    req.TermID,
		"result":     string(outcome.Result),
	})
	writeOutcome(c, outcome)
}

// Drop godoc
// @Summary Drop an enrollment
// @Description Releases the seat and promotes the head of the section waitlist.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body service.DropRequest true "Drop payload"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/drop [post]
func (h *EnrollmentHandler) Drop(c *gin.Context) {
	var req service.DropRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := authorizeStudent(claimsFromContext(c), req.StudentID); err != nil {
		response.Error(c, err)
		return
	}
	enrollment, err := h.enrollments.Drop(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetAuditResource(c, enrollment.ID, map[string]string{
		"student_id": enrollment.StudentID,
		"section_id": enrollment.SectionID,
		"term_id":    enrollment.TermID,
	})
	response.JSON(c, http.StatusOK, enrollment, nil)
}

func writeOutcome(c *gin.Context, outcome *models.EnrollmentOutcome) {
	if outcome.Result == models.ResultWaitlisted {
		response.Accepted(c, outcome)
		return
	}
	response.Created(c, outcome)
}
