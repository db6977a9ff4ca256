package models

// Course is the catalog entry a section is offered from.
type Course struct {
	ID           string `db:"id" json:"id"`
	Code         string `db:"code" json:"code"`
	Name         string `db:"name" json:"name"`
	Level        int    `db:"level" json:"level"`
	Credits      int    `db:"credits" json:"credits"`
	DepartmentID string `db:"department_id" json:"department_id"`
	// PrerequisiteCodes is parsed from the catalog's free-text column at load time.
	PrerequisiteCodes []string `db:"-" json:"prerequisite_codes"`
}
