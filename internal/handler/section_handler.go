package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/dto"
	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
)

type sectionService interface {
	GetWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistPosition, error)
	LeaveWaitlist(ctx context.Context, studentID, sectionID string) error
	GetOccupancy(ctx context.Context, sectionID string) (*models.SectionOccupancy, error)
	ReconcileOccupancy(ctx context.Context, sectionID, actorID string) (*models.SectionOccupancy, error)
	Promote(ctx context.Context, sectionID, termID string) (*models.PromotionResult, error)
}

// SectionHandler exposes per-section waitlist and occupancy endpoints.
type SectionHandler struct {
	sections sectionService
}

// NewSectionHandler constructs SectionHandler.
func NewSectionHandler(sections sectionService) *SectionHandler {
	return &SectionHandler{sections: sections}
}

// Waitlist godoc
// @Summary List the section waitlist
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/waitlist [get]
func (h *SectionHandler) Waitlist(c *gin.Context) {
	sectionID := c.Param("id")
	entries, err := h.sections.GetWaitlist(c.Request.Context(), sectionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.WaitlistView{SectionID: sectionID, Length: len(entries), Entries: entries}, nil)
}

// LeaveWaitlist godoc
// @Summary Remove a student from the section waitlist
// @Tags Sections
// @Param id path string true "Section ID"
// @Param studentId path string true "Student ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /sections/{id}/waitlist/{studentId} [delete]
func (h *SectionHandler) LeaveWaitlist(c *gin.Context) {
	studentID := c.Param("studentId")
	if err := authorizeStudent(claimsFromContext(c), studentID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.sections.LeaveWaitlist(c.Request.Context(), studentID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Occupancy godoc
// @Summary Compare the section counter with the enrollment ledger
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/occupancy [get]
func (h *SectionHandler) Occupancy(c *gin.Context) {
	occ, err := h.sections.GetOccupancy(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occ, nil)
}

// Reconcile godoc
// @Summary Rewrite the section counter from the enrollment ledger
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/occupancy/reconcile [post]
func (h *SectionHandler) Reconcile(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	occ, err := h.sections.ReconcileOccupancy(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, occ, nil)
}

// Promote godoc
// @Summary Promote the head of the section waitlist
// @Tags Sections
// @Produce json
// @Param id path string true "Section ID"
// @Param termId query string false "Term the section must belong to"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/promote [post]
func (h *SectionHandler) Promote(c *gin.Context) {
	var query dto.PromoteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	result, err := h.sections.Promote(c.Request.Context(), c.Param("id"), query.TermID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
