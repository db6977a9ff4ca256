package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses. COMPLETED is written by the grading process.
const (
	EnrollmentStatusEnrolled  EnrollmentStatus = "ENROLLED"
	EnrollmentStatusDropped   EnrollmentStatus = "DROPPED"
	EnrollmentStatusCompleted EnrollmentStatus = "COMPLETED"
)

// HoldsClaim reports whether the status blocks a second enrollment for the same section and term.
func (s EnrollmentStatus) HoldsClaim() bool {
	return s == EnrollmentStatusEnrolled || s == EnrollmentStatusCompleted
}

// Enrollment captures a student's seat in a section for a term.
type Enrollment struct {
	ID          string           `db:"id" json:"id"`
	StudentID   string           `db:"student_id" json:"student_id"`
	SectionID   string           `db:"section_id" json:"section_id"`
	TermID      string           `db:"term_id" json:"term_id"`
	Status      EnrollmentStatus `db:"status" json:"status"`
	Forced      bool             `db:"forced" json:"forced"`
	EnrolledAt  time.Time        `db:"enrolled_at" json:"enrolled_at"`
	DroppedAt   *time.Time       `db:"dropped_at" json:"dropped_at,omitempty"`
	FinalGrade  *string          `db:"final_grade" json:"final_grade,omitempty"`
	GradePoints *float64         `db:"grade_points" json:"grade_points,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID string
	SectionID string
	TermID    string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
}

// EnrollmentResult distinguishes the two successful enrollment outcomes.
type EnrollmentResult string

const (
	ResultEnrolled   EnrollmentResult = "ENROLLED"
	ResultWaitlisted EnrollmentResult = "WAITLISTED"
)

// EnrollmentOutcome is returned by a successful enroll request. Rejections are errors.
type EnrollmentOutcome struct {
	Result     EnrollmentResult `json:"result"`
	Enrollment *Enrollment      `json:"enrollment,omitempty"`
	Waitlist   *WaitlistEntry   `json:"waitlist,omitempty"`
	Position   int              `json:"position,omitempty"`
}

// PromotionResult reports what a promotion attempt did.
type PromotionResult struct {
	SectionID  string      `json:"section_id"`
	Promoted   bool        `json:"promoted"`
	StudentID  string      `json:"student_id,omitempty"`
	Enrollment *Enrollment `json:"enrollment,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}
