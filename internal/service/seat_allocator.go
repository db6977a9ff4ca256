package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
	"github.com/noah-isme/krs-api/internal/repository"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

type seatLedger interface {
	ClaimSeat(ctx context.Context, params repository.ClaimSeatParams) (*repository.ClaimSeatResult, error)
}

// AllocationRequest asks for a seat for a student who already passed validation.
type AllocationRequest struct {
	StudentID     string
	SectionID     string
	TermID        string
	ForceCapacity bool
}

// SeatAllocator turns a validated request into a seat or a waitlist entry.
type SeatAllocator struct {
	ledger   seatLedger
	waitlist *WaitlistQueue
	logger   *zap.Logger
	now      func() time.Time
}

// NewSeatAllocator constructs the allocator.
func NewSeatAllocator(ledger seatLedger, waitlist *WaitlistQueue, logger *zap.Logger) *SeatAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeatAllocator{ledger: ledger, waitlist: waitlist, logger: logger, now: time.Now}
}

// Allocate claims a seat atomically. A full section is a WAITLISTED outcome,
// not an error; losing a race on the same student and section is reported as
// already enrolled.
func (a *SeatAllocator) Allocate(ctx context.Context, req AllocationRequest) (*models.EnrollmentOutcome, error) {
	claim, err := a.ledger.ClaimSeat(ctx, repository.ClaimSeatParams{
		StudentID:     req.StudentID,
		SectionID:     req.SectionID,
		TermID:        req.TermID,
		ForceCapacity: req.ForceCapacity,
		At:            a.now().UTC(),
	})
	switch {
	case err == nil:
		if claim.ReleasedWaitlist {
			a.waitlist.Invalidate(ctx, req.SectionID)
		}
		if claim.Enrollment.Forced {
			a.logger.Info("seat granted over capacity",
				zap.String("student_id", req.StudentID),
				zap.String("section_id", req.SectionID),
			)
		}
		return &models.EnrollmentOutcome{Result: models.ResultEnrolled, Enrollment: claim.Enrollment}, nil
	case errors.Is(err, repository.ErrSeatUnavailable):
		entry, position, err := a.waitlist.Enqueue(ctx, req.StudentID, req.SectionID, req.TermID)
		if err != nil {
			return nil, err
		}
		return &models.EnrollmentOutcome{Result: models.ResultWaitlisted, Waitlist: entry, Position: position}, nil
	case errors.Is(err, repository.ErrDuplicateClaim):
		return nil, appErrors.ErrAlreadyEnrolled
	case errors.Is(err, sql.ErrNoRows):
		return nil, appErrors.Clone(appErrors.ErrNotFound, "section not found in term")
	default:
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim seat")
	}
}
