package service

import (
	"context"
	"fmt"

	"github.com/noah-isme/krs-api/internal/models"
)

// PrerequisiteProvider yields the requirements one source attaches to a course.
type PrerequisiteProvider interface {
	Requirements(ctx context.Context, student *models.Student, course *models.Course) ([]models.PrerequisiteRequirement, error)
}

// CatalogPrerequisites reads the code list parsed from the course catalog.
type CatalogPrerequisites struct{}

// Requirements implements PrerequisiteProvider.
func (CatalogPrerequisites) Requirements(_ context.Context, _ *models.Student, course *models.Course) ([]models.PrerequisiteRequirement, error) {
	reqs := make([]models.PrerequisiteRequirement, 0, len(course.PrerequisiteCodes))
	for _, code := range course.PrerequisiteCodes {
		reqs = append(reqs, models.PrerequisiteRequirement{Source: models.PrerequisiteSourceCatalog, Code: models.NormalizeCourseCode(code)})
	}
	return reqs, nil
}

type programPrerequisiteReader interface {
	ListForCourse(ctx context.Context, programID, courseID string) ([]models.ProgramPrerequisite, error)
}

// ProgramPrerequisites reads the program-scoped prerequisite graph.
type ProgramPrerequisites struct {
	repo programPrerequisiteReader
}

// NewProgramPrerequisites constructs the provider.
func NewProgramPrerequisites(repo programPrerequisiteReader) *ProgramPrerequisites {
	return &ProgramPrerequisites{repo: repo}
}

// Requirements implements PrerequisiteProvider.
func (p *ProgramPrerequisites) Requirements(ctx context.Context, student *models.Student, course *models.Course) ([]models.PrerequisiteRequirement, error) {
	if student.ProgramID == "" {
		return nil, nil
	}
	edges, err := p.repo.ListForCourse(ctx, student.ProgramID, course.ID)
	if err != nil {
		return nil, err
	}
	reqs := make([]models.PrerequisiteRequirement, 0, len(edges))
	for _, edge := range edges {
		reqs = append(reqs, models.PrerequisiteRequirement{
			Source:   models.PrerequisiteSourceProgram,
			CourseID: edge.RequiredCourseID,
			Code:     models.NormalizeCourseCode(edge.RequiredCourseCode),
		})
	}
	return reqs, nil
}

// PrerequisiteSet merges requirements from every provider.
type PrerequisiteSet struct {
	providers []PrerequisiteProvider
}

// NewPrerequisiteSet composes providers; their order decides message order.
func NewPrerequisiteSet(providers ...PrerequisiteProvider) *PrerequisiteSet {
	return &PrerequisiteSet{providers: providers}
}

// Requirements returns every requirement from every provider.
func (s *PrerequisiteSet) Requirements(ctx context.Context, student *models.Student, course *models.Course) ([]models.PrerequisiteRequirement, error) {
	if s == nil {
		return nil, nil
	}
	var all []models.PrerequisiteRequirement
	for _, provider := range s.providers {
		reqs, err := provider.Requirements(ctx, student, course)
		if err != nil {
			return nil, fmt.Errorf("load prerequisites: %w", err)
		}
		all = append(all, reqs...)
	}
	return all, nil
}

// MissingPrerequisites lists the labels of unmet requirements, de-duplicated
// with first occurrence order kept.
func MissingPrerequisites(reqs []models.PrerequisiteRequirement, done models.CompletedCourses) []string {
	var missing []string
	seen := make(map[string]struct{})
	for _, req := range reqs {
		if req.SatisfiedBy(done) {
			continue
		}
		label := req.Label()
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		missing = append(missing, label)
	}
	return missing
}
