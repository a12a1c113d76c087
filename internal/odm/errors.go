package odm

import (
	"errors"
	"fmt"

	"github.com/mschirtzinger/docsync/internal/docstore"
	"github.com/mschirtzinger/docsync/internal/odm/update"
)

// Sentinel errors for document operations.
// Use errors.Is() to check for these; the typed errors below unwrap to them.
var (
	// ErrTypeMismatch indicates a value is not of a field's declared type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrFieldNotFound indicates an unknown field name, list index or map key.
	ErrFieldNotFound = errors.New("field not found")

	// ErrFieldExpected indicates a schema was declared with something that is
	// not a field.
	ErrFieldExpected = errors.New("field definition expected")

	// ErrConflictingOperator indicates two pending operators on one field
	// that cannot be sent as one update. Save the document in between.
	ErrConflictingOperator = update.ErrConflictingOperator

	// ErrUnsupportedOperator indicates an operator a field kind cannot apply,
	// e.g. Inc on a list.
	ErrUnsupportedOperator = errors.New("operator not supported by field")

	// ErrRetryLimitReached indicates Save gave up after the configured number
	// of optimistic attempts.
	ErrRetryLimitReached = errors.New("retry limit reached")

	// ErrRequired indicates a required field has no value.
	ErrRequired = errors.New("required field has no value")

	// ErrUnresolvableReference indicates a reference to a document that has
	// not been saved.
	ErrUnresolvableReference = errors.New("referenced document has no id")

	// ErrIndexOutOfRange indicates a list index outside the list.
	ErrIndexOutOfRange = errors.New("index out of range")

	// ErrInvalidKey indicates a map key that cannot be stored.
	ErrInvalidKey = errors.New("invalid map key")

	// ErrNotBound indicates a document that cannot be saved on its own,
	// either because it has no collection or because it is embedded.
	ErrNotBound = errors.New("document is not bound to a collection")

	// ErrAmbiguous indicates more than one document matched FindOne.
	ErrAmbiguous = errors.New("more than one document matches")

	// ErrNotFound indicates no stored document matched.
	ErrNotFound = docstore.ErrNotFound
)

// TypeMismatchError reports a value rejected by a field.
type TypeMismatchError struct {
	Path string
	Want string
	Got  any
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: expected instance of %s, got %T", e.Path, e.Want, e.Got)
}

func (e *TypeMismatchError) Unwrap() error { return ErrTypeMismatch }

// FieldNotFoundError reports an unknown name inside a schema or container.
type FieldNotFoundError struct {
	Owner string
	Name  string
}

func (e *FieldNotFoundError) Error() string {
	return fmt.Sprintf("%s has no field %q", e.Owner, e.Name)
}

func (e *FieldNotFoundError) Unwrap() error { return ErrFieldNotFound }

// RetryLimitError reports a save abandoned after Limit attempts. The
// document keeps its pending changes with refreshed snapshots, so a later
// Save may still succeed.
type RetryLimitError struct {
	Limit      int
	Collection string
	ID         string
	Paths      []string
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("reached the retry limit (%d) while trying to save %s/%s", e.Limit, e.Collection, e.ID)
}

func (e *RetryLimitError) Unwrap() error { return ErrRetryLimitReached }

// IsRetryLimit reports whether err is a retry limit error.
func IsRetryLimit(err error) bool {
	return errors.Is(err, ErrRetryLimitReached)
}

// IsValidation reports whether err was raised synchronously by a field
// rejecting a mutation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrTypeMismatch) ||
		errors.Is(err, ErrFieldNotFound) ||
		errors.Is(err, ErrConflictingOperator) ||
		errors.Is(err, ErrUnsupportedOperator) ||
		errors.Is(err, ErrRequired) ||
		errors.Is(err, ErrIndexOutOfRange) ||
		errors.Is(err, ErrInvalidKey) ||
		errors.Is(err, ErrUnresolvableReference)
}
