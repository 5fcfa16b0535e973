package hparams

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by errors returned when a document path does not exist.
	ErrNotFound = errors.New("configuration document not found")
	// ErrParse is matched by errors returned for content that is not flat key-value data.
	ErrParse = errors.New("malformed configuration document")
	// ErrMissingKey is matched by errors returned when a requested or required key is absent.
	ErrMissingKey = errors.New("missing key")
	// ErrTypeMismatch is matched by errors returned when a value cannot be coerced to the requested kind.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrInvalidValue is matched by errors returned when a well-typed value violates a schema constraint.
	ErrInvalidValue = errors.New("invalid value")
)

// NotFoundError reports a document path that does not exist.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("configuration document %s not found", e.Path)
}

func (e *NotFoundError) Unwrap() []error {
	return joinCauses(ErrNotFound, e.Err)
}

// ParseError reports malformed content. Line is 1-based and zero when unknown.
type ParseError struct {
	Path string
	Line int
	Key  string
	Msg  string
	Err  error
}

func (e *ParseError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	if e.Key != "" {
		return fmt.Sprintf("parse %s: key %q: %s", loc, e.Key, e.Msg)
	}
	return fmt.Sprintf("parse %s: %s", loc, e.Msg)
}

func (e *ParseError) Unwrap() []error {
	return joinCauses(ErrParse, e.Err)
}

// MissingKeyError reports an absent key.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("key %q: missing", e.Key)
}

func (e *MissingKeyError) Unwrap() error {
	return ErrMissingKey
}

// TypeMismatchError reports a value that cannot be coerced to the wanted kind.
type TypeMismatchError struct {
	Key   string
	Want  Kind
	Got   Kind
	Value string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("key %q: expected %s, got %s %s", e.Key, e.Want, e.Got, e.Value)
}

func (e *TypeMismatchError) Unwrap() error {
	return ErrTypeMismatch
}

// ValidationError reports a present, well-typed value that breaks a constraint.
type ValidationError struct {
	Key    string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("key %q: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("key %q: %s (got %s)", e.Key, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidValue
}

func joinCauses(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
