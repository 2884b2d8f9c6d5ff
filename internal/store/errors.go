package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a unique constraint.
var ErrDuplicate = errors.New("duplicate record")

// ErrOutOfRange is returned when a value overflows its integer column.
var ErrOutOfRange = errors.New("value out of range")

const (
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
	numericOutOfRange   = pq.ErrorCode("22003")
)

// translateError maps driver errors onto the package sentinels. A foreign key
// violation means the referenced owner does not exist.
func translateError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case uniqueViolation:
		return ErrDuplicate
	case foreignKeyViolation:
		return ErrNotFound
	case numericOutOfRange:
		return ErrOutOfRange
	}
	return err
}
