package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// ProgramPrerequisiteRepository reads the program-scoped prerequisite graph.
type ProgramPrerequisiteRepository struct {
	db *sqlx.DB
}

// NewProgramPrerequisiteRepository constructs the repository.
func NewProgramPrerequisiteRepository(db *sqlx.DB) *ProgramPrerequisiteRepository {
	return &ProgramPrerequisiteRepository{db: db}
}

// ListForCourse returns the edges course -> required course for a program.
func (r *ProgramPrerequisiteRepository) ListForCourse(ctx context.Context, programID, courseID string) ([]models.ProgramPrerequisite, error) {
	const query = `SELECT pp.program_id, pp.course_id, pp.required_course_id, c.code AS required_course_code
        FROM program_prerequisites pp
        JOIN courses c ON c.id = pp.required_course_id
        WHERE pp.program_id = $1 AND pp.course_id = $2
        ORDER BY c.code`
	var edges []models.ProgramPrerequisite
	if err := r.db.SelectContext(ctx, &edges, query, programID, courseID); err != nil {
		return nil, fmt.Errorf("list program prerequisites: %w", err)
	}
	return edges, nil
}
