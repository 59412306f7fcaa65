// Package apperr defines the error taxonomy surfaced by docgate.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrSchemaBuild       = errors.New("schema build failed")
	ErrValidationBlocked = errors.New("validation blocked")
	ErrPathSecurity      = errors.New("path security violation")
	ErrWriteIO           = errors.New("write failed")
	ErrRemoteFetch       = errors.New("remote fetch failed")
)

// Kind is a machine-readable failure class.
type Kind string

const (
	KindNone              Kind = ""
	KindTemplateNotFound  Kind = "template_not_found"
	KindSchemaBuild       Kind = "schema_build_failure"
	KindValidationBlocked Kind = "validation_blocked"
	KindPathSecurity      Kind = "path_security_violation"
	KindWriteIO           Kind = "write_io_failure"
	KindRemoteFetch       Kind = "remote_fetch_failure"
	KindInternal          Kind = "internal"
)

var kindSentinels = map[Kind]error{
	KindTemplateNotFound:  ErrTemplateNotFound,
	KindSchemaBuild:       ErrSchemaBuild,
	KindValidationBlocked: ErrValidationBlocked,
	KindPathSecurity:      ErrPathSecurity,
	KindWriteIO:           ErrWriteIO,
	KindRemoteFetch:       ErrRemoteFetch,
}

// Terminal reports whether retrying the same input can never succeed.
func (k Kind) Terminal() bool {
	switch k {
	case KindWriteIO, KindRemoteFetch:
		return false
	}
	return true
}

// Error carries a Kind, a human-readable reason and a fix suggestion.
type Error struct {
	Kind       Kind
	Reason     string
	Suggestion string
	Err        error
}

// New builds an *Error.
func New(kind Kind, reason, suggestion string) *Error {
	return &Error{Kind: kind, Reason: reason, Suggestion: suggestion}
}

// Wrap builds an *Error around cause.
func Wrap(kind Kind, cause error, reason, suggestion string) *Error {
	return &Error{Kind: kind, Reason: reason, Suggestion: suggestion, Err: cause}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel that belongs to e.Kind, so callers can use
// errors.Is(err, apperr.ErrPathSecurity).
func (e *Error) Is(target error) bool {
	if s, ok := kindSentinels[e.Kind]; ok && s == target {
		return true
	}
	return false
}

// Is reports whether err matches target anywhere in its chain.
func Is(err, target error) bool { return errors.Is(err, target) }

// KindOf extracts the Kind from err, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range kindSentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindInternal
}

// SuggestionOf returns the suggestion carried by err, if any.
func SuggestionOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Suggestion
	}
	return ""
}
