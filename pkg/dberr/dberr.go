// Package dberr defines the caller-visible error kinds raised while defining and
// evaluating aggregates. Every error carries a SQLSTATE-style code so front ends can
// report it the way a PostgreSQL client expects.
package dberr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind int

const (
	KindDefinition Kind = iota + 1
	KindTypeResolution
	KindPermission
	KindRuntimeTypeMismatch
	KindInternal
	KindUniqueViolation
	KindSyntax
)

func (k Kind) String() string {
	switch k {
	case KindDefinition:
		return "DefinitionError"
	case KindTypeResolution:
		return "TypeResolutionError"
	case KindPermission:
		return "PermissionError"
	case KindRuntimeTypeMismatch:
		return "RuntimeTypeMismatch"
	case KindInternal:
		return "InternalInconsistency"
	case KindUniqueViolation:
		return "UniqueViolation"
	case KindSyntax:
		return "SyntaxError"
	default:
		return "UnknownError"
	}
}

// SQLSTATE codes used by this module.
const (
	CodeInvalidFunctionDefinition = "42P13"
	CodeUndefinedFunction         = "42883"
	CodeUndefinedObject           = "42704"
	CodeDatatypeMismatch          = "42804"
	CodeInsufficientPrivilege     = "42501"
	CodeUniqueViolation           = "23505"
	CodeSyntaxError               = "42601"
	CodeInvalidTextRepresentation = "22P02"
	CodeInternalError             = "XX000"
)

var (
	// ErrDefinition matches any KindDefinition error via errors.Is.
	ErrDefinition = errors.New("invalid aggregate definition")
	// ErrTypeResolution matches any KindTypeResolution error.
	ErrTypeResolution = errors.New("type resolution failed")
	// ErrPermission matches any KindPermission error.
	ErrPermission = errors.New("permission denied")
	// ErrRuntimeTypeMismatch matches any KindRuntimeTypeMismatch error.
	ErrRuntimeTypeMismatch = errors.New("runtime type mismatch")
	// ErrInternal matches any KindInternal error.
	ErrInternal = errors.New("internal inconsistency")
	// ErrUniqueViolation matches any KindUniqueViolation error.
	ErrUniqueViolation = errors.New("unique violation")
	// ErrSyntax matches any KindSyntax error.
	ErrSyntax = errors.New("syntax error")
)

var sentinels = map[Kind]error{
	KindDefinition:          ErrDefinition,
	KindTypeResolution:      ErrTypeResolution,
	KindPermission:          ErrPermission,
	KindRuntimeTypeMismatch: ErrRuntimeTypeMismatch,
	KindInternal:            ErrInternal,
	KindUniqueViolation:     ErrUniqueViolation,
	KindSyntax:              ErrSyntax,
}

// Error is a classified error with optional detail and hint lines.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Detail  string
	Hint    string
	Err     error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// WithDetail returns e with Detail set.
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// WithHint returns e with Hint set.
func (e *Error) WithHint(format string, args ...interface{}) *Error {
	e.Hint = fmt.Sprintf(format, args...)
	return e
}

// Wrap attaches a cause.
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Definition returns a DefinitionError (invalid_function_definition).
func Definition(format string, args ...interface{}) *Error {
	return newError(KindDefinition, CodeInvalidFunctionDefinition, format, args...)
}

// UndefinedFunction returns a TypeResolutionError for a missing function.
func UndefinedFunction(format string, args ...interface{}) *Error {
	return newError(KindTypeResolution, CodeUndefinedFunction, format, args...)
}

// UndefinedObject returns a TypeResolutionError for a missing type or operator.
func UndefinedObject(format string, args ...interface{}) *Error {
	return newError(KindTypeResolution, CodeUndefinedObject, format, args...)
}

// DatatypeMismatch returns a TypeResolutionError (datatype_mismatch).
func DatatypeMismatch(format string, args ...interface{}) *Error {
	return newError(KindTypeResolution, CodeDatatypeMismatch, format, args...)
}

// InvalidInput returns a DefinitionError raised by a type input routine.
func InvalidInput(format string, args ...interface{}) *Error {
	return newError(KindDefinition, CodeInvalidTextRepresentation, format, args...)
}

// Permission returns a PermissionError (insufficient_privilege).
func Permission(format string, args ...interface{}) *Error {
	return newError(KindPermission, CodeInsufficientPrivilege, format, args...)
}

// RuntimeTypeMismatch returns a RuntimeTypeMismatch error.
func RuntimeTypeMismatch(format string, args ...interface{}) *Error {
	return newError(KindRuntimeTypeMismatch, CodeDatatypeMismatch, format, args...)
}

// Internal returns an InternalInconsistency error.
func Internal(format string, args ...interface{}) *Error {
	return newError(KindInternal, CodeInternalError, format, args...)
}

// UniqueViolation returns a UniqueViolation error.
func UniqueViolation(format string, args ...interface{}) *Error {
	return newError(KindUniqueViolation, CodeUniqueViolation, format, args...)
}

// Syntax returns a SyntaxError.
func Syntax(format string, args ...interface{}) *Error {
	return newError(KindSyntax, CodeSyntaxError, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
