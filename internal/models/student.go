package models

// Student represents a learner as consumed by the enrollment core. Read-only here.
type Student struct {
	ID           string `db:"id" json:"id"`
	NIS          string `db:"nis" json:"nis"`
	FullName     string `db:"full_name" json:"full_name"`
	Level        int    `db:"level" json:"level"`
	ProgramID    string `db:"program_id" json:"program_id"`
	DepartmentID string `db:"department_id" json:"department_id"`
	Active       bool   `db:"active" json:"active"`
}
