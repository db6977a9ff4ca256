package models

import "time"

// Term models an academic term and its registration window.
type Term struct {
	ID                   string     `db:"id" json:"id"`
	Name                 string     `db:"name" json:"name"`
	AcademicYear         string     `db:"academic_year" json:"academic_year"`
	StartDate            time.Time  `db:"start_date" json:"start_date"`
	RegistrationDeadline *time.Time `db:"registration_deadline" json:"registration_deadline,omitempty"`
	EndDate              time.Time  `db:"end_date" json:"end_date"`
}

// CloseDate resolves the last day registration is accepted: the explicit
// deadline, else start+defaultWindow when positive, else the term end date.
func (t Term) CloseDate(defaultWindow time.Duration) time.Time {
	if t.RegistrationDeadline != nil {
		return *t.RegistrationDeadline
	}
	if defaultWindow > 0 {
		return t.StartDate.Add(defaultWindow)
	}
	return t.EndDate
}
