package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/database"
)

const enrollmentColumns = "id, student_id, section_id, term_id, status, forced, enrolled_at, dropped_at, final_grade, grade_points"

// EnrollmentRepository is the enrollment ledger. It owns the enrollments table
// and is the only writer of sections.occupancy, which it changes in the same
// transaction as the ledger row.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// ClaimSeatParams describes a seat claim.
type ClaimSeatParams struct {
	StudentID     string
	SectionID     string
	TermID        string
	ForceCapacity bool
	At            time.Time
}

// ClaimSeatResult reports a successful claim.
type ClaimSeatResult struct {
	Enrollment       *models.Enrollment
	ReleasedWaitlist bool
}

// ClaimSeat atomically checks capacity and writes an ENROLLED row. The section
// row is locked for the whole read-compare-write. An existing live claim yields
// ErrDuplicateClaim, checked before capacity; a full section yields ErrSeatUnavailable.
func (r *EnrollmentRepository) ClaimSeat(ctx context.Context, params ClaimSeatParams) (*ClaimSeatResult, error) {
	if params.At.IsZero() {
		params.At = time.Now().UTC()
	}
	enrollment := &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  params.StudentID,
		SectionID:  params.SectionID,
		TermID:     params.TermID,
		Status:     models.EnrollmentStatusEnrolled,
		EnrolledAt: params.At,
	}
	result := &ClaimSeatResult{Enrollment: enrollment}

	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var seat struct {
			Capacity  int `db:"capacity"`
			Occupancy int `db:"occupancy"`
		}
		const lockQuery = `SELECT capacity, occupancy FROM sections WHERE id = $1 AND term_id = $2 FOR UPDATE`
		if err := tx.GetContext(ctx, &seat, lockQuery, params.SectionID, params.TermID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock section: %w", err)
		}
		// Claims on a section serialize on the lock above, so this read cannot
		// race another claim for the same student.
		var held int
		const claimQuery = `SELECT COUNT(*) FROM enrollments WHERE student_id = $1 AND section_id = $2 AND term_id = $3 AND status <> $4`
		if err := tx.GetContext(ctx, &held, claimQuery, params.StudentID, params.SectionID, params.TermID, models.EnrollmentStatusDropped); err != nil {
			return fmt.Errorf("check existing claim: %w", err)
		}
		if held > 0 {
			return ErrDuplicateClaim
		}

		full := seat.Occupancy >= seat.Capacity
		if full && !params.ForceCapacity {
			return ErrSeatUnavailable
		}
		enrollment.Forced = full

		const insertQuery = `INSERT INTO enrollments (id, student_id, section_id, term_id, status, forced, enrolled_at)
        VALUES (:id, :student_id, :section_id, :term_id, :status, :forced, :enrolled_at)`
		if _, err := tx.NamedExecContext(ctx, insertQuery, enrollment); err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateClaim
			}
			return fmt.Errorf("insert enrollment: %w", err)
		}

		const bumpQuery = `UPDATE sections SET occupancy = occupancy + 1 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, bumpQuery, params.SectionID); err != nil {
			return fmt.Errorf("increment occupancy: %w", err)
		}

		const releaseQuery = `DELETE FROM waitlist_entries WHERE student_id = $1 AND section_id = $2`
		res, err := tx.ExecContext(ctx, releaseQuery, params.StudentID, params.SectionID)
		if err != nil {
			return fmt.Errorf("release waitlist entry: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			result.ReleasedWaitlist = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Drop marks the student's ENROLLED row in the section as DROPPED and frees the
// seat. Returns sql.ErrNoRows when there is no such row.
func (r *EnrollmentRepository) Drop(ctx context.Context, studentID, sectionID string, at time.Time) (*models.Enrollment, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var dropped models.Enrollment
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id string
		const lockQuery = `SELECT id FROM sections WHERE id = $1 FOR UPDATE`
		if err := tx.GetContext(ctx, &id, lockQuery, sectionID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock section: %w", err)
		}

		updateQuery := `UPDATE enrollments SET status = $1, dropped_at = $2
        WHERE student_id = $3 AND section_id = $4 AND status = $5
        RETURNING ` + enrollmentColumns
		if err := tx.GetContext(ctx, &dropped, updateQuery, models.EnrollmentStatusDropped, at, studentID, sectionID, models.EnrollmentStatusEnrolled); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("drop enrollment: %w", err)
		}

		const releaseQuery = `UPDATE sections SET occupancy = GREATEST(occupancy - 1, 0) WHERE id = $1`
		if _, err := tx.ExecContext(ctx, releaseQuery, sectionID); err != nil {
			return fmt.Errorf("decrement occupancy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dropped, nil
}

// HasActiveClaim checks for an ENROLLED or COMPLETED row for the tuple.
func (r *EnrollmentRepository) HasActiveClaim(ctx context.Context, studentID, sectionID, termID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE student_id = $1 AND section_id = $2 AND term_id = $3 AND status IN ($4, $5) LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, sectionID, termID, models.EnrollmentStatusEnrolled, models.EnrollmentStatusCompleted); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check active claim: %w", err)
	}
	return true, nil
}

// List returns enrollments filtered by the provided criteria, newest first.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.SectionID != "" {
		args = append(args, filter.SectionID)
		conditions = append(conditions, fmt.Sprintf("section_id = $%d", len(args)))
	}
	if filter.TermID != "" {
		args = append(args, filter.TermID)
		conditions = append(conditions, fmt.Sprintf("term_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s FROM enrollments%s ORDER BY enrolled_at DESC, id LIMIT %d OFFSET %d", enrollmentColumns, clause, size, offset)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollments"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

const occupancyQuery = `SELECT s.id AS section_id, s.capacity, s.occupancy,
        (SELECT COUNT(*) FROM enrollments e WHERE e.section_id = s.id AND e.status = $2) AS ledger_count,
        (SELECT COUNT(*) FROM waitlist_entries w WHERE w.section_id = s.id) AS waitlist_length
        FROM sections s WHERE s.id = $1`

// Occupancy reports the counter next to the live ledger count.
func (r *EnrollmentRepository) Occupancy(ctx context.Context, sectionID string) (*models.SectionOccupancy, error) {
	var occ models.SectionOccupancy
	if err := r.db.GetContext(ctx, &occ, occupancyQuery, sectionID, models.EnrollmentStatusEnrolled); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("load occupancy: %w", err)
	}
	occ.Drift = occ.Counter != occ.LedgerCount
	return &occ, nil
}

// Reconcile rewrites the occupancy counter from the ledger under the section lock.
func (r *EnrollmentRepository) Reconcile(ctx context.Context, sectionID string) (*models.SectionOccupancy, error) {
	var occ models.SectionOccupancy
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var id string
		if err := tx.GetContext(ctx, &id, `SELECT id FROM sections WHERE id = $1 FOR UPDATE`, sectionID); err != nil {
			if err == sql.ErrNoRows {
				return err
			}
			return fmt.Errorf("lock section: %w", err)
		}
		const fixQuery = `UPDATE sections SET occupancy = (SELECT COUNT(*) FROM enrollments e WHERE e.section_id = $1 AND e.status = $2) WHERE id = $1`
		if _, err := tx.ExecContext(ctx, fixQuery, sectionID, models.EnrollmentStatusEnrolled); err != nil {
			return fmt.Errorf("reconcile occupancy: %w", err)
		}
		if err := tx.GetContext(ctx, &occ, occupancyQuery, sectionID, models.EnrollmentStatusEnrolled); err != nil {
			return fmt.Errorf("reload occupancy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	occ.Drift = occ.Counter != occ.LedgerCount
	return &occ, nil
}
