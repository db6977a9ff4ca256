package models

import "strings"

// PrerequisiteSource names where a requirement came from.
type PrerequisiteSource string

const (
	PrerequisiteSourceCatalog PrerequisiteSource = "CATALOG"
	PrerequisiteSourceProgram PrerequisiteSource = "PROGRAM"
)

// PrerequisiteRequirement is one course a student must have completed.
// Catalog requirements are matched by code, program requirements by course id.
type PrerequisiteRequirement struct {
	Source   PrerequisiteSource `json:"source"`
	CourseID string             `json:"course_id,omitempty"`
	Code     string             `json:"code"`
}

// SatisfiedBy reports whether the completed courses cover the requirement.
func (r PrerequisiteRequirement) SatisfiedBy(done CompletedCourses) bool {
	if r.Source == PrerequisiteSourceProgram {
		_, ok := done.IDs[r.CourseID]
		return ok
	}
	_, ok := done.Codes[NormalizeCourseCode(r.Code)]
	return ok
}

// Label is the human-readable identifier used in rejection messages.
func (r PrerequisiteRequirement) Label() string {
	if r.Code != "" {
		return r.Code
	}
	return r.CourseID
}

// ProgramPrerequisite is one edge of a program's prerequisite graph.
type ProgramPrerequisite struct {
	ProgramID          string `db:"program_id" json:"program_id"`
	CourseID           string `db:"course_id" json:"course_id"`
	RequiredCourseID   string `db:"required_course_id" json:"required_course_id"`
	RequiredCourseCode string `db:"required_course_code" json:"required_course_code"`
}

// NormalizeCourseCode is the canonical form course codes are compared in,
// whatever casing the catalog row or free text used.
func NormalizeCourseCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// CompletedCourse is a row of the completion ledger.
type CompletedCourse struct {
	CourseID string `db:"course_id"`
	Code     string `db:"code"`
}

// CompletedCourses indexes a student's completed courses by code and id.
type CompletedCourses struct {
	Codes map[string]struct{}
	IDs   map[string]struct{}
}

// NewCompletedCourses builds the lookup sets from ledger rows.
func NewCompletedCourses(rows []CompletedCourse) CompletedCourses {
	done := CompletedCourses{Codes: make(map[string]struct{}, len(rows)), IDs: make(map[string]struct{}, len(rows))}
	for _, row := range rows {
		if code := NormalizeCourseCode(row.Code); code != "" {
			done.Codes[code] = struct{}{}
		}
		if row.CourseID != "" {
			done.IDs[row.CourseID] = struct{}{}
		}
	}
	return done
}
