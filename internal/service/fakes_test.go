package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	"github.com/noah-isme/krs-api/pkg/jobs"
)

// memoryDB is an in-memory stand-in for the enrollment schema. Every method
// holds the mutex for its whole body, giving the same atomicity the row lock
// gives the SQL ledger.
type memoryDB struct {
	mu          sync.Mutex
	students    map[string]*models.Student
	sections    map[string]*models.Section
	courses     map[string]*models.Course
	terms       map[string]*models.Term
	actors      map[string]*models.Actor
	edges       []models.ProgramPrerequisite
	completed   map[string][]models.CompletedCourse
	enrollments []*models.Enrollment
	waitlist    []models.WaitlistEntry
	nextWaitID  int64
	reads       int
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		students:  map[string]*models.Student{},
		sections:  map[string]*models.Section{},
		courses:   map[string]*models.Course{},
		terms:     map[string]*models.Term{},
		actors:    map[string]*models.Actor{},
		completed: map[string][]models.CompletedCourse{},
	}
}

func (db *memoryDB) activeRows(sectionID string) int {
	count := 0
	for _, e := range db.enrollments {
		if e.SectionID == sectionID && e.Status == models.EnrollmentStatusEnrolled {
			count++
		}
	}
	return count
}

func (db *memoryDB) queue(sectionID string) []models.WaitlistEntry {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.WaitlistEntry
	for _, e := range db.waitlist {
		if e.SectionID == sectionID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (db *memoryDB) queuedStudents(sectionID string) []string {
	var ids []string
	for _, e := range db.queue(sectionID) {
		ids = append(ids, e.StudentID)
	}
	return ids
}

func (db *memoryDB) section(id string) models.Section {
	db.mu.Lock()
	defer db.mu.Unlock()
	return *db.sections[id]
}

func (db *memoryDB) rowsFor(studentID, sectionID string) []models.Enrollment {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.Enrollment
	for _, e := range db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID {
			out = append(out, *e)
		}
	}
	return out
}

// collaborator readers

type memoryStudents struct{ db *memoryDB }

func (r memoryStudents) FindByID(_ context.Context, id string) (*models.Student, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.students[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

type memorySections struct{ db *memoryDB }

func (r memorySections) FindByID(_ context.Context, id string) (*models.Section, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.sections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *s
	return &clone, nil
}

type memoryCourses struct{ db *memoryDB }

func (r memoryCourses) FindByID(_ context.Context, id string) (*models.Course, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.reads++
	c, ok := r.db.courses[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *c
	return &clone, nil
}

type memoryTerms struct{ db *memoryDB }

func (r memoryTerms) FindByID(_ context.Context, id string) (*models.Term, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.terms[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *t
	return &clone, nil
}

func (db *memoryDB) ListCompleted(_ context.Context, studentID string) ([]models.CompletedCourse, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.CompletedCourse(nil), db.completed[studentID]...), nil
}

func (db *memoryDB) ListForCourse(_ context.Context, programID, courseID string) ([]models.ProgramPrerequisite, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	var out []models.ProgramPrerequisite
	for _, e := range db.edges {
		if e.ProgramID == programID && e.CourseID == courseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (db *memoryDB) FindActor(_ context.Context, id string) (*models.Actor, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	a, ok := db.actors[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *a
	return &clone, nil
}

// ledger

type memoryLedger struct{ db *memoryDB }

func (l memoryLedger) ClaimSeat(_ context.Context, params repository.ClaimSeatParams) (*repository.ClaimSeatResult, error) {
	db := l.db
	db.mu.Lock()
	defer db.mu.Unlock()

	section, ok := db.sections[params.SectionID]
	if !ok || section.TermID != params.TermID {
		return nil, sql.ErrNoRows
	}
	for _, e := range db.enrollments {
		if e.StudentID == params.StudentID && e.SectionID == params.SectionID && e.TermID == params.TermID && e.Status != models.EnrollmentStatusDropped {
			return nil, repository.ErrDuplicateClaim
		}
	}
	full := section.Occupancy >= section.Capacity
	if full && !params.ForceCapacity {
		return nil, repository.ErrSeatUnavailable
	}
	enrollment := &models.Enrollment{
		ID:         uuid.NewString(),
		StudentID:  params.StudentID,
		SectionID:  params.SectionID,
		TermID:     params.TermID,
		Status:     models.EnrollmentStatusEnrolled,
		Forced:     full,
		EnrolledAt: params.At,
	}
	db.enrollments = append(db.enrollments, enrollment)
	section.Occupancy++

	released := false
	kept := db.waitlist[:0]
	for _, w := range db.waitlist {
		if w.StudentID == params.StudentID && w.SectionID == params.SectionID {
			released = true
			continue
		}
		kept = append(kept, w)
	}
	db.waitlist = kept

	clone := *enrollment
	return &repository.ClaimSeatResult{Enrollment: &clone, ReleasedWaitlist: released}, nil
}

func (l memoryLedger) HasActiveClaim(_ context.Context, studentID, sectionID, termID string) (bool, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	for _, e := range l.db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.TermID == termID && e.Status.HoldsClaim() {
			return true, nil
		}
	}
	return false, nil
}

func (l memoryLedger) Drop(_ context.Context, studentID, sectionID string, at time.Time) (*models.Enrollment, error) {
	db := l.db
	db.mu.Lock()
	defer db.mu.Unlock()
	section, ok := db.sections[sectionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	for _, e := range db.enrollments {
		if e.StudentID == studentID && e.SectionID == sectionID && e.Status == models.EnrollmentStatusEnrolled {
			e.Status = models.EnrollmentStatusDropped
			dropped := at
			e.DroppedAt = &dropped
			if section.Occupancy > 0 {
				section.Occupancy--
			}
			clone := *e
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (l memoryLedger) List(_ context.Context, filter models.EnrollmentFilter) ([]models.Enrollment, int, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	var out []models.Enrollment
	for _, e := range l.db.enrollments {
		if filter.SectionID != "" && e.SectionID != filter.SectionID {
			continue
		}
		if filter.StudentID != "" && e.StudentID != filter.StudentID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		out = append(out, *e)
	}
	return out, len(out), nil
}

func (l memoryLedger) Occupancy(_ context.Context, sectionID string) (*models.SectionOccupancy, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	return l.occupancyLocked(sectionID)
}

func (l memoryLedger) occupancyLocked(sectionID string) (*models.SectionOccupancy, error) {
	section, ok := l.db.sections[sectionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	waiting := 0
	for _, w := range l.db.waitlist {
		if w.SectionID == sectionID {
			waiting++
		}
	}
	ledger := l.db.activeRows(sectionID)
	return &models.SectionOccupancy{
		SectionID:      sectionID,
		Capacity:       section.Capacity,
		Counter:        section.Occupancy,
		LedgerCount:    ledger,
		WaitlistLength: waiting,
		Drift:          section.Occupancy != ledger,
	}, nil
}

func (l memoryLedger) Reconcile(_ context.Context, sectionID string) (*models.SectionOccupancy, error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()
	section, ok := l.db.sections[sectionID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	section.Occupancy = l.db.activeRows(sectionID)
	return l.occupancyLocked(sectionID)
}

// waitlist store

type memoryWaitlist struct{ db *memoryDB }

func (w memoryWaitlist) Enqueue(_ context.Context, studentID, sectionID, termID string, at time.Time) (*models.WaitlistEntry, bool, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for _, e := range w.db.waitlist {
		if e.StudentID == studentID && e.SectionID == sectionID {
			clone := e
			return &clone, false, nil
		}
	}
	w.db.nextWaitID++
	entry := models.WaitlistEntry{ID: w.db.nextWaitID, StudentID: studentID, SectionID: sectionID, TermID: termID, RequestedAt: at}
	w.db.waitlist = append(w.db.waitlist, entry)
	return &entry, true, nil
}

func (w memoryWaitlist) FindByStudent(_ context.Context, studentID, sectionID string) (*models.WaitlistEntry, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for _, e := range w.db.waitlist {
		if e.StudentID == studentID && e.SectionID == sectionID {
			clone := e
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (w memoryWaitlist) PeekOldest(_ context.Context, sectionID string) (*models.WaitlistEntry, error) {
	entries := w.db.queue(sectionID)
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

func (w memoryWaitlist) List(_ context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	return w.db.queue(sectionID), nil
}

func (w memoryWaitlist) Remove(_ context.Context, id int64) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for i, e := range w.db.waitlist {
		if e.ID == id {
			w.db.waitlist = append(w.db.waitlist[:i], w.db.waitlist[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (w memoryWaitlist) RemoveByStudent(_ context.Context, studentID, sectionID string) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for i, e := range w.db.waitlist {
		if e.StudentID == studentID && e.SectionID == sectionID {
			w.db.waitlist = append(w.db.waitlist[:i], w.db.waitlist[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (w memoryWaitlist) Position(_ context.Context, entry models.WaitlistEntry) (int, error) {
	for i, e := range w.db.queue(entry.SectionID) {
		if e.ID == entry.ID {
			return i + 1, nil
		}
	}
	return 0, nil
}

// job dispatcher

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (d *recordingDispatcher) TryEnqueue(job jobs.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

func (d *recordingDispatcher) types(userID string) []models.NotificationType {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.NotificationType
	for _, job := range d.jobs {
		n := job.Payload.(models.Notification)
		if n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}

// fixture

var (
	fixtureToday = time.Date(2026, 8, 10, 9, 30, 0, 0, time.UTC)
	termStart    = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	termDeadline = time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	termEnd      = time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	db         *memoryDB
	svc        *EnrollmentService
	dispatcher *recordingDispatcher
	clock      *time.Time
}

func strPtr(s string) *string { return &s }

// newFixture seeds one term, a level-2 course in dept-math taught in section
// sec-1 (capacity 2, instructor tch-owner) and students stu-1..stu-6 at level 2.
func newFixture() *fixture {
	db := newMemoryDB()
	deadline := termDeadline
	db.terms["term-1"] = &models.Term{ID: "term-1", Name: "Ganjil", AcademicYear: "2026/2027", StartDate: termStart, RegistrationDeadline: &deadline, EndDate: termEnd}
	db.terms["term-2"] = &models.Term{ID: "term-2", Name: "Genap", AcademicYear: "2026/2027", StartDate: termEnd, EndDate: termEnd.AddDate(0, 5, 0)}
	db.courses["crs-calc"] = &models.Course{ID: "crs-calc", Code: "MATH201", Name: "Calculus", Level: 2, Credits: 3, DepartmentID: "dept-math"}
	db.sections["sec-1"] = &models.Section{ID: "sec-1", CourseID: "crs-calc", TermID: "term-1", Code: "A", InstructorID: strPtr("tch-owner"), Capacity: 2}
	for _, id := range []string{"stu-1", "stu-2", "stu-3", "stu-4", "stu-5", "stu-6"} {
		db.students[id] = &models.Student{ID: id, FullName: id, Level: 2, ProgramID: "prog-sci", DepartmentID: "dept-math", Active: true}
	}
	db.actors["adm-1"] = &models.Actor{ID: "adm-1", Role: models.RoleAdmin, Active: true}
	db.actors["tch-owner"] = &models.Actor{ID: "tch-owner", Role: models.RoleTeacher, DepartmentID: strPtr("dept-bio"), Active: true}
	db.actors["tch-peer"] = &models.Actor{ID: "tch-peer", Role: models.RoleTeacher, DepartmentID: strPtr("dept-math"), Active: true}
	db.actors["tch-other"] = &models.Actor{ID: "tch-other", Role: models.RoleTeacher, DepartmentID: strPtr("dept-art"), Active: true}

	clock := fixtureToday
	f := &fixture{db: db, dispatcher: &recordingDispatcher{}, clock: &clock}
	now := func() time.Time { return *f.clock }

	metrics := NewMetricsService()
	logger := zap.NewNop()
	ledger := memoryLedger{db: db}
	waitlist := NewWaitlistQueue(memoryWaitlist{db: db}, nil, 0, logger)
	// Distinct request times keep FIFO order independent of insertion ids.
	var tick int64
	waitlist.now = func() time.Time {
		return now().Add(time.Duration(atomic.AddInt64(&tick, 1)) * time.Second)
	}
	allocator := NewSeatAllocator(ledger, waitlist, logger)
	allocator.now = now
	validator := NewEligibilityValidator(ledger, db,
		NewPrerequisiteSet(CatalogPrerequisites{}, NewProgramPrerequisites(db)),
		EligibilityConfig{Clock: now})

	f.svc = NewEnrollmentService(EnrollmentDeps{
		Ledger:        ledger,
		Students:      memoryStudents{db: db},
		Sections:      memorySections{db: db},
		Courses:       memoryCourses{db: db},
		Terms:         memoryTerms{db: db},
		Eligibility:   validator,
		Allocator:     allocator,
		Waitlist:      waitlist,
		Authority:     NewOverrideAuthority(db),
		Notifications: NewNotificationService(f.dispatcher, metrics, logger, true),
		Metrics:       metrics,
	}, nil, logger, EnrollmentServiceConfig{})
	f.svc.now = now
	return f
}

func (f *fixture) enroll(studentID string) (*models.EnrollmentOutcome, error) {
	return f.svc.Enroll(context.Background(), EnrollRequest{StudentID: studentID, SectionID: "sec-1", TermID: "term-1"})
}
