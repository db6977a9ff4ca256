package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrSeatUnavailable is returned by a seat claim against a full section.
	ErrSeatUnavailable = errors.New("no seat available")
	// ErrDuplicateClaim is returned when the partial unique index rejects a second live claim.
	ErrDuplicateClaim = errors.New("duplicate enrollment claim")
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
