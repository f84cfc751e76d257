package domain

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrMissingColumn     = errors.New("missing column")
	ErrCoercion          = errors.New("coercion failed")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrWriteConflict     = errors.New("write conflict")
)

// ErrorKind classifies per-record and cycle failures.
type ErrorKind string

const (
	KindMissingColumn     ErrorKind = "missing_column"
	KindCoercion          ErrorKind = "coercion"
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindWriteConflict     ErrorKind = "write_conflict"
	KindWrite             ErrorKind = "write"
)

// MissingColumnError reports a required source column that was absent or NULL.
type MissingColumnError struct {
	Entity EntityType
	Column string
	Field  string
}

func (e *MissingColumnError) Error() string {
	return fmt.Sprintf("%s: column %q for field %q is missing", e.Entity, e.Column, e.Field)
}

func (e *MissingColumnError) Is(target error) bool { return target == ErrMissingColumn }

// CoercionError reports a source value that does not fit its declared target type.
type CoercionError struct {
	Entity EntityType
	Column string
	Field  string
	Type   FieldType
	Raw    string
	Err    error
}

func (e *CoercionError) Error() string {
	msg := fmt.Sprintf("%s: column %q value %q cannot be coerced to %s for field %q", e.Entity, e.Column, e.Raw, e.Type, e.Field)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CoercionError) Is(target error) bool { return target == ErrCoercion }

func (e *CoercionError) Unwrap() error { return e.Err }

// SourceUnavailableError reports that the legacy database could not be queried.
// It aborts the whole cycle before any writes.
type SourceUnavailableError struct {
	Entity EntityType
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s: source unavailable: %v", e.Entity, e.Err)
}

func (e *SourceUnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// WriteConflictError reports that the recent-marker update for a natural key
// could not be applied. The record itself stays written with recent=false.
type WriteConflictError struct {
	Entity     EntityType
	NaturalKey string
	RecordID   int64
	Err        error
}

func (e *WriteConflictError) Error() string {
	return fmt.Sprintf("%s: recent marker for key %q (record %d) not applied: %v", e.Entity, e.NaturalKey, e.RecordID, e.Err)
}

func (e *WriteConflictError) Is(target error) bool { return target == ErrWriteConflict }

func (e *WriteConflictError) Unwrap() error { return e.Err }

// KindOf maps an error to its ErrorKind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrMissingColumn):
		return KindMissingColumn
	case errors.Is(err, ErrCoercion):
		return KindCoercion
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrWriteConflict):
		return KindWriteConflict
	}
	return KindWrite
}
