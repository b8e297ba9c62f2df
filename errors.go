package gravel

import (
	"errors"
	"fmt"

	"github.com/gravel-db/gravel/secondary"
	"github.com/gravel-db/gravel/storage"
	"github.com/gravel-db/gravel/traversal"
	"github.com/gravel-db/gravel/vector"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("gravel: not found")

	// ErrAmbiguous is returned when exactly one record was required but
	// several matched.
	ErrAmbiguous = errors.New("gravel: ambiguous match")

	// ErrConstraint is returned when a write violates a declared
	// constraint: a unique index, a composite uniqueness check, or an
	// edge endpoint that does not exist.
	ErrConstraint = errors.New("gravel: constraint violation")

	// ErrTypeMismatch is returned when a property value or embedding
	// does not match its declared type or dimension.
	ErrTypeMismatch = errors.New("gravel: type mismatch")

	// ErrTransaction is returned for transaction lifecycle failures: the
	// store is closed, the transaction already finished, a mutation ran
	// on a read-only pipeline, or the commit exceeded the size budget.
	ErrTransaction = errors.New("gravel: transaction failed")

	// ErrSerialization is returned when persisted state cannot be
	// decoded: a corrupt snapshot file or log frame.
	ErrSerialization = errors.New("gravel: serialization failed")
)

// translateError normalizes engine-internal errors onto the exported
// sentinels. The original error stays reachable through errors.Is and
// errors.Unwrap.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, storage.ErrNotFound),
		errors.Is(err, vector.ErrUnknownCollection):
		return fmt.Errorf("%w: %w", ErrNotFound, err)

	case errors.Is(err, traversal.ErrAmbiguous):
		return fmt.Errorf("%w: %w", ErrAmbiguous, err)

	case errors.Is(err, secondary.ErrUniqueViolation),
		errors.Is(err, traversal.ErrUniqueness),
		errors.Is(err, storage.ErrEndpoint):
		return fmt.Errorf("%w: %w", ErrConstraint, err)

	case errors.Is(err, storage.ErrTypeMismatch),
		errors.Is(err, vector.ErrDimension):
		return fmt.Errorf("%w: %w", ErrTypeMismatch, err)

	case errors.Is(err, storage.ErrClosed),
		errors.Is(err, storage.ErrTxnDone),
		errors.Is(err, storage.ErrBudget),
		errors.Is(err, traversal.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrTransaction, err)
	}

	return err
}
