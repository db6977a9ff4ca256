package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/pkg/cache"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type waitlistStore interface {
	Enqueue(ctx context.Context, studentID, sectionID, termID string, at time.Time) (*models.WaitlistEntry, bool, error)
	FindByStudent(ctx context.Context, studentID, sectionID string) (*models.WaitlistEntry, error)
	PeekOldest(ctx context.Context, sectionID string) (*models.WaitlistEntry, error)
	List(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error)
	Remove(ctx context.Context, id int64) error
	RemoveByStudent(ctx context.Context, studentID, sectionID string) error
	Position(ctx context.Context, entry models.WaitlistEntry) (int, error)
}

// WaitlistQueue is the per-section FIFO of students waiting for a seat.
// Listing is served through the cache; every mutation drops the section key.
type WaitlistQueue struct {
	store  waitlistStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewWaitlistQueue constructs the queue.
func NewWaitlistQueue(store waitlistStore, cacheSvc *CacheService, ttl time.Duration, logger *zap.Logger) *WaitlistQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WaitlistQueue{store: store, cache: cacheSvc, ttl: ttl, logger: logger, now: time.Now}
}

func waitlistCacheKey(sectionID string) string {
	return cache.Key("waitlist", sectionID)
}

// Enqueue appends the student to the section queue and returns the entry with
// its 1-based position. Enqueueing an already queued student returns the
// existing entry unchanged.
func (q *WaitlistQueue) Enqueue(ctx context.Context, studentID, sectionID, termID string) (*models.WaitlistEntry, int, error) {
	entry, created, err := q.store.Enqueue(ctx, studentID, sectionID, termID, q.now().UTC())
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue waitlist entry")
	}
	if created {
		q.Invalidate(ctx, sectionID)
	}
	position, err := q.store.Position(ctx, *entry)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve waitlist position")
	}
	q.logger.Debug("waitlist enqueue",
		zap.String("student_id", studentID),
		zap.String("section_id", sectionID),
		zap.Bool("created", created),
		zap.Int("position", position),
	)
	return entry, position, nil
}

// PeekOldest returns the head of the queue, or nil when it is empty.
func (q *WaitlistQueue) PeekOldest(ctx context.Context, sectionID string) (*models.WaitlistEntry, error) {
	entry, err := q.store.PeekOldest(ctx, sectionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read waitlist head")
	}
	return entry, nil
}

// List returns the queue in service order.
func (q *WaitlistQueue) List(ctx context.Context, sectionID string) ([]models.WaitlistEntry, error) {
	entries, err := readThrough(ctx, q.cache, waitlistCacheKey(sectionID), q.ttl, func(ctx context.Context) ([]models.WaitlistEntry, error) {
		entries, err := q.store.List(ctx, sectionID)
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []models.WaitlistEntry{}
		}
		return entries, nil
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list waitlist")
	}
	return entries, nil
}

// Positions returns the public view of the queue.
func (q *WaitlistQueue) Positions(ctx context.Context, sectionID string) ([]models.WaitlistPosition, error) {
	entries, err := q.List(ctx, sectionID)
	if err != nil {
		return nil, err
	}
	positions := make([]models.WaitlistPosition, len(entries))
	for i, entry := range entries {
		positions[i] = models.WaitlistPosition{StudentID: entry.StudentID, RequestedAt: entry.RequestedAt, Position: i + 1}
	}
	return positions, nil
}

// Remove deletes an entry. A missing entry is reported as not found.
func (q *WaitlistQueue) Remove(ctx context.Context, entry models.WaitlistEntry) error {
	if err := q.store.Remove(ctx, entry.ID); err != nil {
		return q.removeError(err)
	}
	q.Invalidate(ctx, entry.SectionID)
	return nil
}

// RemoveStudent deletes the student's entry for the section.
func (q *WaitlistQueue) RemoveStudent(ctx context.Context, studentID, sectionID string) error {
	if err := q.store.RemoveByStudent(ctx, studentID, sectionID); err != nil {
		return q.removeError(err)
	}
	q.Invalidate(ctx, sectionID)
	return nil
}

func (q *WaitlistQueue) removeError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "waitlist entry not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove waitlist entry")
}

// Invalidate drops the cached listing for a section. Failures are logged by the cache service.
func (q *WaitlistQueue) Invalidate(ctx context.Context, sectionID string) {
	_ = q.cache.Invalidate(ctx, waitlistCacheKey(sectionID))
}
