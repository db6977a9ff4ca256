package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/cache"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type enrollmentLedger interface {
	seatLedger
	claimChecker
	Drop(ctx context.Context, studentID, sectionID string, at time.Time) (*models.Enrollment, error)
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error)
	Occupancy(ctx context.Context, sectionID string) (*models.SectionOccupancy, error)
	Reconcile(ctx context.Context, sectionID string) (*models.SectionOccupancy, error)
}

type studentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type sectionReader interface {
	FindByID(ctx context.Context, id string) (*models.Section, error)
}

type courseReader interface {
	FindByID(ctx context.Context, id string) (*models.Course, error)
}

type termReader interface {
	FindByID(ctx context.Context, id string) (*models.Term, error)
}

// EnrollRequest describes a self-service or administrative enrollment.
type EnrollRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
	TermID    string `json:"term_id" validate:"required"`
	// BypassWindow is set by promotion only; HTTP callers cannot request it here.
	BypassWindow bool `json:"-"`
}

// ManualEnrollRequest is a staff-initiated enrollment that may bypass the
// registration window or force capacity when the actor is authorised.
type ManualEnrollRequest struct {
	ActorID       string `json:"-" validate:"required"`
	StudentID     string `json:"student_id" validate:"required"`
	SectionID     string `json:"section_id" validate:"required"`
	TermID        string `json:"term_id" validate:"required"`
	BypassWindow  bool   `json:"bypass_window"`
	ForceCapacity bool   `json:"force_capacity"`
}

// DropRequest identifies the enrollment to drop.
type DropRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	SectionID string `json:"section_id" validate:"required"`
}

// EnrollmentServiceConfig wires optional collaborators.
type EnrollmentServiceConfig struct {
	CourseCacheTTL time.Duration
}

// EnrollmentService orchestrates enrollment workflows.
type EnrollmentService struct {
	ledger        enrollmentLedger
	students      studentReader
	sections      sectionReader
	courses       courseReader
	terms         termReader
	eligibility   *EligibilityValidator
	allocator     *SeatAllocator
	waitlist      *WaitlistQueue
	authority     *OverrideAuthority
	notifications *NotificationService
	cache         *CacheService
	metrics       *MetricsService
	validator     *validator.Validate
	logger        *zap.Logger
	courseTTL     time.Duration
	now           func() time.Time
}

// EnrollmentDeps groups the collaborators of EnrollmentService.
type EnrollmentDeps struct {
	Ledger        enrollmentLedger
	Students      studentReader
	Sections      sectionReader
	Courses       courseReader
	Terms         termReader
	Eligibility   *EligibilityValidator
	Allocator     *SeatAllocator
	Waitlist      *WaitlistQueue
	Authority     *OverrideAuthority
	Notifications *NotificationService
	Cache         *CacheService
	Metrics       *MetricsService
}

// NewEnrollmentService constructs EnrollmentService.
func NewEnrollmentService(deps EnrollmentDeps, validate *validator.Validate, logger *zap.Logger, cfg EnrollmentServiceConfig) *EnrollmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrollmentService{
		ledger:        deps.Ledger,
		students:      deps.Students,
		sections:      deps.Sections,
		courses:       deps.Courses,
		terms:         deps.Terms,
		eligibility:   deps.Eligibility,
		allocator:     deps.Allocator,
		waitlist:      deps.Waitlist,
		authority:     deps.Authority,
		notifications: deps.Notifications,
		cache:         deps.Cache,
		metrics:       deps.Metrics,
		validator:     validate,
		logger:        logger,
		courseTTL:     cfg.CourseCacheTTL,
		now:           time.Now,
	}
}

// enrollmentContext holds the records one request is decided on.
type enrollmentContext struct {
	student *models.Student
	section *models.Section
	course  *models.Course
	term    *models.Term
}

// Enroll validates and allocates a seat. WAITLISTED is a successful outcome.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*models.EnrollmentOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment payload")
	}
	ec, err := s.load(ctx, req.StudentID, req.SectionID, req.TermID)
	if err != nil {
		return nil, err
	}
	return s.enroll(ctx, ec, req.BypassWindow, false)
}

// ManualEnroll is the staff entry point. Without bypass flags it behaves like
// Enroll. A requested bypass is honoured only when the actor holds an override
// capability for the section; otherwise nothing is written and
// AUTHORIZATION_DENIED is returned.
func (s *EnrollmentService) ManualEnroll(ctx context.Context, req ManualEnrollRequest) (*models.EnrollmentOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual enrollment payload")
	}
	ec, err := s.load(ctx, req.StudentID, req.SectionID, req.TermID)
	if err != nil {
		return nil, err
	}

	if req.BypassWindow || req.ForceCapacity {
		authority, err := s.authority.Resolve(ctx, req.ActorID, ec.section, ec.course)
		if err != nil {
			return nil, err
		}
		fields := []zap.Field{
			zap.String("actor_id", req.ActorID),
			zap.String("student_id", req.StudentID),
			zap.String("section_id", req.SectionID),
			zap.Bool("bypass_window", req.BypassWindow),
			zap.Bool("force_capacity", req.ForceCapacity),
			zap.Stringer("authority", authority),
		}
		if !authority.CanOverride() {
			s.metrics.RecordOverride(false)
			s.logger.Warn("override denied", fields...)
			return nil, appErrors.WithDetails(appErrors.ErrAuthorizationDenied, "", map[string]interface{}{
				"actor_id":   req.ActorID,
				"section_id": req.SectionID,
			})
		}
		s.metrics.RecordOverride(true)
		s.logger.Info("override granted", fields...)
	}

	outcome, err := s.enroll(ctx, ec, req.BypassWindow, req.ForceCapacity)
	if err != nil {
		return nil, err
	}
	if outcome.Result == models.ResultEnrolled {
		s.notifications.ManualEnrolled(outcome.Enrollment, req.ActorID)
	}
	return outcome, nil
}

func (s *EnrollmentService) enroll(ctx context.Context, ec *enrollmentContext, bypassWindow, forceCapacity bool) (*models.EnrollmentOutcome, error) {
	fields := []zap.Field{
		zap.String("student_id", ec.student.ID),
		zap.String("section_id", ec.section.ID),
		zap.String("term_id", ec.term.ID),
	}

	err := s.eligibility.Validate(ctx, EligibilityRequest{
		Student:      ec.student,
		Section:      ec.section,
		Course:       ec.course,
		Term:         ec.term,
		BypassWindow: bypassWindow,
	})
	if err != nil {
		if appErrors.IsRejection(err) {
			code := appErrors.FromError(err).Code
			s.metrics.RecordEnrollmentOutcome(code)
			s.logger.Info("enrollment rejected", append(fields, zap.String("outcome", code), zap.Error(err))...)
		}
		return nil, err
	}

	outcome, err := s.allocator.Allocate(ctx, AllocationRequest{
		StudentID:     ec.student.ID,
		SectionID:     ec.section.ID,
		TermID:        ec.term.ID,
		ForceCapacity: forceCapacity,
	})
	if err != nil {
		if appErrors.IsRejection(err) {
			s.metrics.RecordEnrollmentOutcome(appErrors.FromError(err).Code)
		}
		return nil, err
	}
	s.metrics.RecordEnrollmentOutcome(string(outcome.Result))
	s.logger.Info("enrollment decided", append(fields, zap.String("outcome", string(outcome.Result)), zap.Int("position", outcome.Position))...)
	return outcome, nil
}

// Drop releases the student's seat and then tries to promote the head of the
// waitlist. Promotion problems are logged, never returned.
func (s *EnrollmentService) Drop(ctx context.Context, req DropRequest) (*models.Enrollment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid drop payload")
	}
	dropped, err := s.ledger.Drop(ctx, req.StudentID, req.SectionID, s.now().UTC())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNoActiveEnrollment
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to drop enrollment")
	}
	s.logger.Info("enrollment dropped",
		zap.String("student_id", dropped.StudentID),
		zap.String("section_id", dropped.SectionID),
		zap.String("term_id", dropped.TermID),
	)
	s.notifications.DropConfirmed(dropped)

	if _, err := s.Promote(ctx, dropped.SectionID, dropped.TermID); err != nil {
		s.logger.Warn("promotion after drop failed",
			zap.String("section_id", dropped.SectionID),
			zap.Error(err),
		)
	}
	return dropped, nil
}

// Promote moves the oldest waitlisted student into a free seat. When the head
// is no longer eligible or the seat was taken first, the entry stays where it
// is and the result explains why.
func (s *EnrollmentService) Promote(ctx context.Context, sectionID, termID string) (*models.PromotionResult, error) {
	section, err := s.findSection(ctx, sectionID, termID)
	if err != nil {
		return nil, err
	}
	result := &models.PromotionResult{SectionID: sectionID}

	head, err := s.waitlist.PeekOldest(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	if head == nil {
		s.metrics.RecordPromotion("empty")
		result.Reason = "waitlist empty"
		return result, nil
	}
	result.StudentID = head.StudentID

	ec, err := s.loadFor(ctx, head.StudentID, section)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return s.skipPromotion(result, err), nil
		}
		return nil, err
	}

	outcome, err := s.enroll(ctx, ec, true, false)
	if err != nil {
		if errors.Is(err, appErrors.ErrAlreadyEnrolled) {
			// The student holds the seat already; the entry can never be served.
			if rmErr := s.waitlist.Remove(ctx, *head); rmErr != nil && !errors.Is(rmErr, appErrors.ErrNotFound) {
				return nil, rmErr
			}
			return s.skipPromotion(result, errors.New("already enrolled, stale waitlist entry removed")), nil
		}
		if appErrors.IsRejection(err) {
			return s.skipPromotion(result, err), nil
		}
		return nil, err
	}
	if outcome.Result != models.ResultEnrolled {
		return s.skipPromotion(result, errors.New("no seat available")), nil
	}

	result.Promoted = true
	result.Enrollment = outcome.Enrollment
	s.metrics.RecordPromotion("promoted")
	s.logger.Info("waitlist promoted",
		zap.String("student_id", head.StudentID),
		zap.String("section_id", sectionID),
		zap.Int64("waitlist_id", head.ID),
	)
	s.notifications.SeatGranted(outcome.Enrollment)
	return result, nil
}

func (s *EnrollmentService) skipPromotion(result *models.PromotionResult, reason error) *models.PromotionResult {
	s.metrics.RecordPromotion("skipped")
	s.logger.Warn("waitlist head not promoted",
		zap.String("student_id", result.StudentID),
		zap.String("section_id", result.SectionID),
		zap.Error(reason),
	)
	result.Reason = reason.Error()
	return result
}

// GetWaitlist returns the queue for a section in service order.
func (s *EnrollmentService) GetWaitlist(ctx context.Context, sectionID string) ([]models.WaitlistPosition, error) {
	if _, err := s.findSection(ctx, sectionID, ""); err != nil {
		return nil, err
	}
	return s.waitlist.Positions(ctx, sectionID)
}

// LeaveWaitlist removes the student from the section queue.
func (s *EnrollmentService) LeaveWaitlist(ctx context.Context, studentID, sectionID string) error {
	if err := s.waitlist.RemoveStudent(ctx, studentID, sectionID); err != nil {
		return err
	}
	s.logger.Info("waitlist left", zap.String("student_id", studentID), zap.String("section_id", sectionID))
	return nil
}

// GetOccupancy compares the section counter with the ledger.
func (s *EnrollmentService) GetOccupancy(ctx context.Context, sectionID string) (*models.SectionOccupancy, error) {
	occ, err := s.ledger.Occupancy(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load occupancy")
	}
	if occ.Drift {
		s.logger.Warn("occupancy drift detected",
			zap.String("section_id", sectionID),
			zap.Int("counter", occ.Counter),
			zap.Int("ledger_count", occ.LedgerCount),
		)
	}
	return occ, nil
}

// ReconcileOccupancy rewrites the section counter from the ledger.
func (s *EnrollmentService) ReconcileOccupancy(ctx context.Context, sectionID, actorID string) (*models.SectionOccupancy, error) {
	occ, err := s.ledger.Reconcile(ctx, sectionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reconcile occupancy")
	}
	s.logger.Info("occupancy reconciled",
		zap.String("section_id", sectionID),
		zap.String("actor_id", actorID),
		zap.Int("occupancy", occ.Counter),
	)
	return occ, nil
}

// ListEnrollments returns enrollments with pagination metadata.
func (s *EnrollmentService) ListEnrollments(ctx context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, *models.Pagination, error) {
	enrollments, total, err := s.ledger.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	if enrollments == nil {
		enrollments = []models.Enrollment{}
	}
	return enrollments, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func (s *EnrollmentService) load(ctx context.Context, studentID, sectionID, termID string) (*enrollmentContext, error) {
	section, err := s.findSection(ctx, sectionID, termID)
	if err != nil {
		return nil, err
	}
	return s.loadFor(ctx, studentID, section)
}

func (s *EnrollmentService) loadFor(ctx context.Context, studentID string, section *models.Section) (*enrollmentContext, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		return nil, notFoundOrInternal(err, "student not found", "failed to load student")
	}
	course, err := s.findCourse(ctx, section.CourseID)
	if err != nil {
		return nil, err
	}
	term, err := s.terms.FindByID(ctx, section.TermID)
	if err != nil {
		return nil, notFoundOrInternal(err, "term not found", "failed to load term")
	}
	return &enrollmentContext{student: student, section: section, course: course, term: term}, nil
}

// findSection loads a section, treating a section from another term as unknown.
func (s *EnrollmentService) findSection(ctx context.Context, sectionID, termID string) (*models.Section, error) {
	section, err := s.sections.FindByID(ctx, sectionID)
	if err != nil {
		return nil, notFoundOrInternal(err, "section not found", "failed to load section")
	}
	if termID != "" && section.TermID != termID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found in term")
	}
	return section, nil
}

func (s *EnrollmentService) findCourse(ctx context.Context, courseID string) (*models.Course, error) {
	course, err := readThrough(ctx, s.cache, cache.Key("course", courseID), s.courseTTL, func(ctx context.Context) (*models.Course, error) {
		return s.courses.FindByID(ctx, courseID)
	})
	if err != nil {
		return nil, notFoundOrInternal(err, "course not found", "failed to load course")
	}
	return course, nil
}

func notFoundOrInternal(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
