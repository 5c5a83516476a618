package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectNotFound signals a primary-key lookup that matched no record.
	ErrObjectNotFound = errors.New("object not found")
	// ErrFieldDoesNotExist signals a field absent from the entity schema.
	ErrFieldDoesNotExist = errors.New("field does not exist")
	// ErrLookupNotAllowed signals a filter lookup suffix outside the allowed set.
	ErrLookupNotAllowed = errors.New("lookup not allowed")
	// ErrInvalidSortKey signals a sort on a field absent from the entity schema.
	ErrInvalidSortKey = errors.New("invalid sort key")

	// ErrInvalidCoordinates signals missing or unparseable lat/lng (or radius).
	ErrInvalidCoordinates = errors.New("invalid coordinates")
	// ErrInvalidLimit signals a missing, unparseable or non-positive result count.
	ErrInvalidLimit = errors.New("invalid limit")
)

// FieldError reports which field of which entity kind a query failed on.
// Err is one of ErrFieldDoesNotExist, ErrLookupNotAllowed or ErrInvalidSortKey.
type FieldError struct {
	Kind  string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s.%s", e.Err.Error(), e.Kind, e.Field)
}

// Unwrap exposes the sentinel. Lookup and sort-key failures are refinements of
// a missing field, so they match ErrFieldDoesNotExist as well.
func (e *FieldError) Unwrap() []error {
	if errors.Is(e.Err, ErrFieldDoesNotExist) {
		return []error{e.Err}
	}
	return []error{e.Err, ErrFieldDoesNotExist}
}

// NewFieldError creates a FieldError.
func NewFieldError(kind, field string, err error) error {
	return &FieldError{Kind: kind, Field: field, Err: err}
}

// NotFoundError carries the kind and id of a failed primary-key lookup.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s[%q]", ErrObjectNotFound.Error(), e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrObjectNotFound }

// NewNotFound creates an ErrObjectNotFound carrying the lookup key.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}
