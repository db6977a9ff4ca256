package models

import "time"

// WaitlistEntry is a student's place in a full section's queue. Ordered by
// RequestedAt, with the insertion sequence ID breaking ties.
type WaitlistEntry struct {
	ID          int64     `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	SectionID   string    `db:"section_id" json:"section_id"`
	TermID      string    `db:"term_id" json:"term_id"`
	RequestedAt time.Time `db:"requested_at" json:"requested_at"`
}

// Before reports whether e is served ahead of other.
func (e WaitlistEntry) Before(other WaitlistEntry) bool {
	if !e.RequestedAt.Equal(other.RequestedAt) {
		return e.RequestedAt.Before(other.RequestedAt)
	}
	return e.ID < other.ID
}

// WaitlistPosition is the public view of a queued request.
type WaitlistPosition struct {
	StudentID   string    `json:"student_id"`
	RequestedAt time.Time `json:"requested_at"`
	Position    int       `json:"position"`
}
