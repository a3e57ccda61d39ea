package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by every planning component. Callers classify
// failures with errors.Is against these sentinels.
var (
	// ErrInvalidConfiguration marks a malformed Frequency, Schedule or
	// harvest definition. The caller must fix its input.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrUnknownEntity marks a referenced harvest definition, schedule or
	// domain configuration that does not exist.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrConcurrentModification is returned when a commit was made against
	// a stale edition. Reload and retry.
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrRepositoryFailure wraps any failure of the persistence collaborator.
	ErrRepositoryFailure = errors.New("repository failure")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// UnknownEntityError builds an ErrUnknownEntity naming the missing entity.
func UnknownEntityError(kind string, key any) error {
	return fmt.Errorf("%w: %s %v", ErrUnknownEntity, kind, key)
}

// RepositoryError wraps err as an ErrRepositoryFailure unless it already
// carries one of the taxonomy sentinels.
func RepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownEntity) || errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrRepositoryFailure) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRepositoryFailure, err)
}
