package numbering

import (
	"errors"

	"github.com/smallbiznis/kantoor/pkg/db"
)

var (
	ErrInvalidPrefix   = errors.New("invalid_number_prefix")
	ErrInvalidSequence = errors.New("invalid_number_sequence")
	ErrInvalidBudget   = errors.New("invalid_retry_budget")

	// ErrNumberAllocationExhausted means every candidate in the retry budget
	// collided. Callers report it as a conflict.
	ErrNumberAllocationExhausted = errors.New("number_allocation_exhausted")
)

// IsUniqueViolation reports whether a create failed on the number or slug
// uniqueness constraint.
func IsUniqueViolation(err error) bool {
	return db.IsDuplicateKeyErr(err)
}
