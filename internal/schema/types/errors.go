package types

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the registry, the compatibility engine, and the
// REST layer. Callers match them with errors.Is.
var (
	// ErrSubjectNotFound is returned when a subject has no versions at all.
	ErrSubjectNotFound = errors.New("subject not found")
	// ErrSchemaNotFound is returned when no schema exists for a given ID.
	ErrSchemaNotFound = errors.New("schema not found")
	// ErrVersionNotFound is returned when a subject exists but the requested
	// version does not.
	ErrVersionNotFound = errors.New("version not found")
	// ErrVersionNotIncreasing is returned when a registration supplies a
	// version that does not exceed every version the subject has ever used.
	ErrVersionNotIncreasing = errors.New("version not greater than existing versions")
	// ErrIllegalTransition is returned for lifecycle moves the state machine
	// forbids.
	ErrIllegalTransition = errors.New("illegal state transition")
	// ErrUnsupportedType is returned for schema types the registry does not
	// implement.
	ErrUnsupportedType = errors.New("unsupported schema type")
	// ErrIncompatibleSchema is returned when a candidate is rejected by the
	// configured compatibility mode. The accompanying Result carries the
	// violations.
	ErrIncompatibleSchema = errors.New("incompatible schema")
	// ErrHistoryNotOrdered is returned when a comparison history is not in
	// strictly increasing version order.
	ErrHistoryNotOrdered = errors.New("history not in version order")
)

// ParseError marks a schema that could not be parsed in its declared format.
// Parse failures abort an evaluation; they are never folded into the verdict
// as violations.
type ParseError struct {
	Format SchemaType
	Err    error
}

// NewParseError wraps err as a parse failure for the given format.
func NewParseError(format SchemaType, err error) *ParseError {
	return &ParseError{Format: format, Err: err}
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s schema: %v", e.Format, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
