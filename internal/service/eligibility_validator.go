package service

import (
	"context"
	"strings"
	"time"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type claimChecker interface {
	HasActiveClaim(ctx context.Context, studentID, sectionID, termID string) (bool, error)
}

type completionReader interface {
	ListCompleted(ctx context.Context, studentID string) ([]models.CompletedCourse, error)
}

// EligibilityConfig tunes the term window check.
type EligibilityConfig struct {
	DefaultWindow time.Duration
	Location      *time.Location
	Clock         func() time.Time
}

// EligibilityRequest bundles the records a validation runs against.
type EligibilityRequest struct {
	Student      *models.Student
	Section      *models.Section
	Course       *models.Course
	Term         *models.Term
	BypassWindow bool
}

// EligibilityValidator runs the enrollment rule chain: duplicate claim, term
// window, level match, prerequisites. The first failing rule decides.
type EligibilityValidator struct {
	claims        claimChecker
	completions   completionReader
	prerequisites *PrerequisiteSet
	defaultWindow time.Duration
	location      *time.Location
	now           func() time.Time
}

// NewEligibilityValidator constructs the validator.
func NewEligibilityValidator(claims claimChecker, completions completionReader, prerequisites *PrerequisiteSet, cfg EligibilityConfig) *EligibilityValidator {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &EligibilityValidator{
		claims:        claims,
		completions:   completions,
		prerequisites: prerequisites,
		defaultWindow: cfg.DefaultWindow,
		location:      cfg.Location,
		now:           cfg.Clock,
	}
}

// Validate returns nil when the student may take a seat, a rejection error
// otherwise. Capacity is not checked here.
func (v *EligibilityValidator) Validate(ctx context.Context, req EligibilityRequest) error {
	student, section, course := req.Student, req.Section, req.Course

	exists, err := v.claims.HasActiveClaim(ctx, student.ID, section.ID, section.TermID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing enrollment")
	}
	if exists {
		return appErrors.ErrAlreadyEnrolled
	}

	if !req.BypassWindow {
		if err := v.checkWindow(req.Term); err != nil {
			return err
		}
	}

	if student.Level != course.Level {
		return appErrors.WithDetails(appErrors.ErrLevelMismatch, "", map[string]interface{}{
			"student_level": student.Level,
			"course_level":  course.Level,
		})
	}

	return v.checkPrerequisites(ctx, student, course)
}

func (v *EligibilityValidator) checkWindow(term *models.Term) error {
	today := calendarDay(v.now().In(v.location))
	open := calendarDay(term.StartDate)
	closeDay := calendarDay(term.CloseDate(v.defaultWindow))

	if today.Before(open) {
		return appErrors.WithDetails(appErrors.ErrRegistrationNotOpen, "", map[string]interface{}{
			"opens_on": open.Format(dateLayout),
		})
	}
	if today.After(closeDay) {
		return appErrors.WithDetails(appErrors.ErrRegistrationClosed, "", map[string]interface{}{
			"closed_on": closeDay.Format(dateLayout),
		})
	}
	return nil
}

func (v *EligibilityValidator) checkPrerequisites(ctx context.Context, student *models.Student, course *models.Course) error {
	reqs, err := v.prerequisites.Requirements(ctx, student, course)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load prerequisites")
	}
	if len(reqs) == 0 {
		return nil
	}

	rows, err := v.completions.ListCompleted(ctx, student.ID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load completed courses")
	}
	missing := MissingPrerequisites(reqs, models.NewCompletedCourses(rows))
	if len(missing) == 0 {
		return nil
	}
	return appErrors.WithDetails(appErrors.ErrMissingPrerequisites,
		"missing prerequisites: "+strings.Join(missing, ", "),
		map[string]interface{}{"missing": missing})
}

const dateLayout = "2006-01-02"

// calendarDay drops the clock part, keeping the date as written in t's location.
func calendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
