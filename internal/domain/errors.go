package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores and
// the mutation engine to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvariantViolation = errors.New("invariant violation")
	ErrTransientStore     = errors.New("transient store error")
	ErrConflict           = errors.New("conflict")
	ErrInvalidInput       = errors.New("invalid input")
)

// Resource names used in error values and log attributes.
const (
	ResourceLearner = "learner"
	ResourceCourse  = "course"
	ResourceProject = "project"
	ResourceFolder  = "folder"
	ResourceUnit    = "unit"
)

// NotFoundError identifies the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFound returns a *NotFoundError for resource.
func NewNotFound(resource string, id fmt.Stringer) error {
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// UnitNotFound is returned when a unit id does not exist in its course or project.
func UnitNotFound(unitID string) error {
	return &NotFoundError{Resource: ResourceUnit, ID: unitID}
}

// InvariantError reports a broken structural invariant.
type InvariantError struct {
	Invariant string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

func (e *InvariantError) Is(target error) bool {
	return target == ErrInvariantViolation
}

// Invariant names reported by consistency checks.
const (
	InvariantXPNormalized     = "xp_normalized"
	InvariantFolderMembership = "folder_membership"
	InvariantFolderUnique     = "folder_unique"
	InvariantCascade          = "delete_cascade"
)

// NotOwned builds the error returned when learnerID does not own a resource.
func NotOwned(resource string, id fmt.Stringer) error {
	return fmt.Errorf("%w: %s %s belongs to another learner", ErrUnauthorized, resource, id)
}

// Transient wraps a store failure so callers know the mutation can be retried.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

// IsRetryable reports whether the whole mutation may be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore) || errors.Is(err, ErrConflict)
}
