package dto

import "github.com/noah-isme/krs-api/internal/models"

// EnrollmentQuery binds the list filters accepted by GET /enrollments.
type EnrollmentQuery struct {
	StudentID string `form:"studentId"`
	SectionID string `form:"sectionId"`
	TermID    string `form:"termId"`
	Status    string `form:"status" binding:"omitempty,oneof=ENROLLED DROPPED COMPLETED enrolled dropped completed"`
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	Format    string `form:"format" binding:"omitempty,oneof=json csv"`
}

// PromoteQuery carries the term a promotion is scoped to.
type PromoteQuery struct {
	TermID string `form:"termId"`
}

// WaitlistView is the response body of GET /sections/:id/waitlist.
type WaitlistView struct {
	SectionID string                    `json:"section_id"`
	Length    int                       `json:"length"`
	Entries   []models.WaitlistPosition `json:"entries"`
}
