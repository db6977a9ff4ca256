package models

// Section is a course offering within a term with a seat capacity.
type Section struct {
	ID           string  `db:"id" json:"id"`
	CourseID     string  `db:"course_id" json:"course_id"`
	TermID       string  `db:"term_id" json:"term_id"`
	Code         string  `db:"code" json:"code"`
	InstructorID *string `db:"instructor_id" json:"instructor_id,omitempty"`
	Capacity     int     `db:"capacity" json:"capacity"`
	Occupancy    int     `db:"occupancy" json:"occupancy"`
}

// HasSeat reports whether the occupancy counter is below capacity.
func (s Section) HasSeat() bool {
	return s.Occupancy < s.Capacity
}

// SectionOccupancy compares the occupancy counter with the ledger count.
type SectionOccupancy struct {
	SectionID      string `db:"section_id" json:"section_id"`
	Capacity       int    `db:"capacity" json:"capacity"`
	Counter        int    `db:"occupancy" json:"counter"`
	LedgerCount    int    `db:"ledger_count" json:"ledger_count"`
	WaitlistLength int    `db:"waitlist_length" json:"waitlist_length"`
	Drift          bool   `db:"-" json:"drift"`
}
