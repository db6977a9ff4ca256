package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// CompletionRepository reads the courses a student has completed, derived from
// ledger rows the grading process moved to COMPLETED.
type CompletionRepository struct {
	db *sqlx.DB
}

// NewCompletionRepository constructs the repository.
func NewCompletionRepository(db *sqlx.DB) *CompletionRepository {
	return &CompletionRepository{db: db}
}

// ListCompleted returns one row per completed course.
func (r *CompletionRepository) ListCompleted(ctx context.Context, studentID string) ([]models.CompletedCourse, error) {
	const query = `SELECT DISTINCT c.id AS course_id, c.code
        FROM enrollments e
        JOIN sections s ON s.id = e.section_id
        JOIN courses c ON c.id = s.course_id
        WHERE e.student_id = $1 AND e.status = $2`
	var rows []models.CompletedCourse
	if err := r.db.SelectContext(ctx, &rows, query, studentID, models.EnrollmentStatusCompleted); err != nil {
		return nil, fmt.Errorf("list completed courses: %w", err)
	}
	return rows, nil
}
