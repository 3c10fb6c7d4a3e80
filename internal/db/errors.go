package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when attempting to insert a duplicate record.
	ErrDuplicateKey = errors.New("duplicate key violation")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated.
	ErrForeignKeyViolation = errors.New("foreign key violation")
)

// Constraint names referenced by callers that react to specific collisions.
const (
	ConstraintVideoSlug       = "videos_slug_key"
	ConstraintVideoExternalID = "videos_platform_external_video_id_key"
	ConstraintSingleRunning   = "scrape_jobs_single_running_idx"
)

// ConstraintError carries the name of the violated constraint alongside the
// mapped sentinel so callers can tell a slug race from an external ID race.
type ConstraintError struct {
	Op         string
	Constraint string
	Err        error
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("%s: %v (constraint: %s)", e.Op, e.Err, e.Constraint)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// WrapError wraps database errors with additional context and maps them to custom error types.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &ConstraintError{Op: operation, Constraint: pgErr.ConstraintName, Err: ErrDuplicateKey}
		case "23503": // foreign_key_violation
			return &ConstraintError{Op: operation, Constraint: pgErr.ConstraintName, Err: ErrForeignKeyViolation}
		default:
			return fmt.Errorf("%s: database error [%s]: %w", operation, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// IsNotFound returns true if the error is an ErrNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicateKey returns true if the error is an ErrDuplicateKey error.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, ErrDuplicateKey)
}

// IsConstraint reports whether err is a constraint violation on the named constraint.
func IsConstraint(err error, constraint string) bool {
	var ce *ConstraintError
	return errors.As(err, &ce) && ce.Constraint == constraint
}

// IsForeignKeyViolation returns true if the error is an ErrForeignKeyViolation error.
func IsForeignKeyViolation(err error) bool {
	return errors.Is(err, ErrForeignKeyViolation)
}
