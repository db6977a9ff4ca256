package repository

import (
	"context"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/krs-api/internal/models"
)

// CourseRepository reads the course catalog.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

type courseRow struct {
	models.Course
	RawPrerequisites string `db:"prerequisite_codes"`
}

// FindByID loads a course and parses its prerequisite list.
func (r *CourseRepository) FindByID(ctx context.Context, id string) (*models.Course, error) {
	const query = `SELECT id, code, name, level, credits, department_id, prerequisite_codes FROM courses WHERE id = $1`
	var row courseRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	course := row.Course
	course.PrerequisiteCodes = ParsePrerequisiteCodes(row.RawPrerequisites)
	return &course, nil
}

// ParsePrerequisiteCodes splits the catalog's free-text prerequisite column on
// commas, semicolons and whitespace. Codes are upper-cased and de-duplicated,
// first occurrence wins.
func ParsePrerequisiteCodes(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || unicode.IsSpace(r)
	})
	codes := make([]string, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, field := range fields {
		code := models.NormalizeCourseCode(field)
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	return codes
}
