// Package errors defines structured error types for the translation engine and
// its storage.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ErrorCode defines specific error kinds.
type ErrorCode string

const (
	// ErrTranslation is returned when a document cannot be decomposed into rows.
	// It is fatal for that document only.
	ErrTranslation ErrorCode = "TRANSLATION_ERROR"
	// ErrSchemaConflict is returned at commit when two snapshots assigned the
	// same identifier to different logical paths. The transaction must be
	// retried against a fresh snapshot.
	ErrSchemaConflict ErrorCode = "SCHEMA_CONFLICT"
	// ErrRowLinkage is returned when a stored row references a missing parent
	// row.
	ErrRowLinkage ErrorCode = "ROW_LINKAGE"

	// ErrStorageError is returned when a storage operation fails
	ErrStorageError ErrorCode = "STORAGE_ERROR"
	// ErrNotFound is returned when a database or collection is not found
	ErrNotFound ErrorCode = "NOT_FOUND"
	// ErrValidationFailed is returned when input data fails validation
	ErrValidationFailed ErrorCode = "VALIDATION_FAILED"
	// ErrInternal is returned when an unexpected error occurs
	ErrInternal ErrorCode = "INTERNAL_ERROR"
)

// Error is a concrete error type with a code and optional details.
type Error struct {
	code       ErrorCode
	message    string
	details    map[string]any
	wrappedErr error
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string) *Error {
	return &Error{
		code:    code,
		message: message,
		details: make(map[string]any),
	}
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	maps.Copy(e.details, details)
	return e
}

// WithDetail adds a single detail to the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	e.details[key] = value
	return e
}

// Wrap wraps an underlying error.
func (e *Error) Wrap(err error) *Error {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
//
// Details are rendered sorted by key so the message is stable.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.message)
	if len(e.details) != 0 {
		b.WriteString(" (")
		for i, k := range slices.Sorted(maps.Keys(e.details)) {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.details[k])
		}
		b.WriteByte(')')
	}
	if e.wrappedErr != nil {
		b.WriteString(": ")
		b.WriteString(e.wrappedErr.Error())
	}
	return b.String()
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Details returns additional error details.
func (e *Error) Details() map[string]any {
	return e.details
}

// Unwrap returns the wrapped error if any.
func (e *Error) Unwrap() error {
	return e.wrappedErr
}

// Is reports whether err or any error it wraps is an *Error with code.
func Is(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.code == code {
			return true
		}
		err = e.wrappedErr
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return ""
}

// Translation creates a TRANSLATION_ERROR for the document element at path.
func Translation(path, format string, args ...any) *Error {
	e := New(ErrTranslation, fmt.Sprintf(format, args...))
	if path != "" {
		e.WithDetail("path", path)
	}
	return e
}

// SchemaConflict creates a SCHEMA_CONFLICT for identifier.
func SchemaConflict(identifier, existing, requested string) *Error {
	return New(ErrSchemaConflict, fmt.Sprintf("identifier %q already assigned", identifier)).
		WithDetail("existing", existing).
		WithDetail("requested", requested)
}

// RowLinkage creates a ROW_LINKAGE error for a row of table whose parent row
// is missing.
func RowLinkage(table string, rid, pid int64) *Error {
	return New(ErrRowLinkage, "parent row not found").
		WithDetails(map[string]any{"table": table, "rid": rid, "pid": pid})
}

// NotFound creates a NOT_FOUND error.
func NotFound(resource string) *Error {
	return New(ErrNotFound, fmt.Sprintf("%s not found", resource))
}

// Validation creates a VALIDATION_FAILED error.
func Validation(message string) *Error {
	return New(ErrValidationFailed, message)
}

// Storage creates a STORAGE_ERROR wrapping err.
func Storage(message string, err error) *Error {
	return New(ErrStorageError, message).Wrap(err)
}

// Internal creates an INTERNAL_ERROR.
func Internal(message string) *Error {
	return New(ErrInternal, message)
}
