package engine

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Kind classifies engine errors
type Kind string

const (
	// KindValidation means the request itself is malformed
	KindValidation Kind = "validation"
	// KindSeriesUnavailable means the series provider could not load the series
	KindSeriesUnavailable Kind = "series_unavailable"
	// KindPersistence means a feature record could not be handed to the feature store.
	// It is only ever logged.
	KindPersistence Kind = "persistence"
)

// Error is the error type returned by the engine
type Error struct {
	Kind  Kind
	Op    string
	Field string // offending request field, validation only
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of an engine error in err's chain, or "" if there is none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsValidation reports whether err is a request validation error
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// invalid wraps a validator failure, naming the first offending field
func invalid(op string, err error) error {
	e := &Error{Kind: KindValidation, Op: op, Err: err}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		e.Field = fe.Field()
		if fe.Param() != "" {
			e.Err = fmt.Errorf("failed %s=%s (got %v)", fe.Tag(), fe.Param(), fe.Value())
		} else {
			e.Err = fmt.Errorf("failed %s (got %v)", fe.Tag(), fe.Value())
		}
	}
	return e
}
