package repository

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

// ErrDuplicateKey reports a unique constraint violation.
var ErrDuplicateKey = errors.New("duplicate key")

// translateError maps driver specific failures onto repository sentinels.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pqErr.Constraint)
	}
	return err
}
