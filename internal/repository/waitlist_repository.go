package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

const waitlistColumns = "id, student_id, section_id, term_id, requested_at"

// WaitlistRepository persists per-section FIFO queues.
type WaitlistRepository struct {
	db *sqlx.DB
}

// NewWaitlistRepository constructs the repository.
func NewWaitlistRepository(db *sqlx.DB) *WaitlistRepository {
	return &WaitlistRepository{db: db}
}

// Enqueue appends the student to the section queue. A student already queued
// keeps the original entry; created reports whether a new row was written.
// When the conflicting entry vanishes before it can be read back (promoted or
// withdrawn concurrently) the insert is attempted once more.
func (r *WaitlistRepository) Enqueue(ctx context.Context, studentID, sectionID, termID string, at time.Time) (*models.WaitlistEntry, bool, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	insertQuery := `INSERT INTO waitlist_entries (student_id, section_id, term_id, requested_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (student_id, section_id) DO NOTHING
        RETURNING ` + waitlistColumns

	for attempt := 0; attempt < enqueueAttempts; attempt++ {
		var entry models.WaitlistEntry
		err := r.db.GetContext(ctx, &entry, insertQuery, studentID, sectionID, termID, at)
		if err == nil {
			return &entry, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, fmt.Errorf("enqueue waitlist entry: %w", err)
		}

		existing, err := r.FindByStudent(ctx, studentID, sectionID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}
	}
	return nil, false, fmt.Errorf("enqueue waitlist entry for student %s in section %s: entry kept changing", studentID, sectionID)
}

const enqueueAttempts = 2

// FindByStudent returns the student's entry for the section.
func (r *WaitlistRepository) FindByStudent(ctx context.Context, studentID, sectionID string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE student_id = $1 AND section_id = $2`
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, studentID, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get waitlist entry: %w", err)
	}
	return &entry, nil
}

// PeekOldest returns the head of the section queue, or nil when it is empty.
func (r *WaitlistRepository) PeekOldest(ctx context.Context, sectionID string) (*models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE section_id = $1 ORDER BY requested_at, id LIMIT 1`
	var entry models.WaitlistEntry
	if err := r.db.GetContext(ctx, &entry, query, sectionID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("peek waitlist: %w", err)
	}
	return &entry, nil
}

// List returns the section queue in service order.
func (r *WaitlistRepository) List(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	query := `SELECT ` + waitlistColumns + ` FROM waitlist_entries WHERE section_id = $1 ORDER BY requested_at, id`
	var entries []models.WaitlistEntry
	if err := r.db.SelectContext(ctx, &entries, query, sectionID); err != nil {
		return nil, fmt.Errorf("list waitlist: %w", err)
	}
	return entries, nil
}

// Remove deletes an entry by id. Returns sql.ErrNoRows when it is already gone.
func (r *WaitlistRepository) Remove(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	return requireAffected(res)
}

// RemoveByStudent deletes the student's entry for the section.
func (r *WaitlistRepository) RemoveByStudent(ctx context.Context, studentID, sectionID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM waitlist_entries WHERE student_id = $1 AND section_id = $2`, studentID, sectionID)
	if err != nil {
		return fmt.Errorf("remove waitlist entry: %w", err)
	}
	return requireAffected(res)
}

// Position returns the 1-based place of the entry within its section queue.
func (r *WaitlistRepository) Position(ctx context.Context, entry models.WaitlistEntry) (int, error) {
	const query = `SELECT COUNT(*) FROM waitlist_entries
        WHERE section_id = $1 AND (requested_at < $2 OR (requested_at = $2 AND id <= $3))`
	var position int
	if err := r.db.GetContext(ctx, &position, query, entry.SectionID, entry.RequestedAt, entry.ID); err != nil {
		return 0, fmt.Errorf("waitlist position: %w", err)
	}
	return position, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
