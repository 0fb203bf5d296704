package content

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCategory     = errors.New("unknown category")
	ErrAllSourcesExhausted = errors.New("all sources exhausted")
	ErrStoreUnavailable    = errors.New("local store unavailable")
	ErrNotFound            = errors.New("no content found")
	ErrInvalidTimeFormat   = errors.New("invalid time format, expected HH:MM")
	ErrDuplicateArguments  = errors.New("duplicate arguments")
	ErrInvalidArguments    = errors.New("invalid arguments")
	ErrDeliveryFailure     = errors.New("delivery failed")
)

// UnknownCategory wraps ErrUnknownCategory with the offending name.
func UnknownCategory(category string) error {
	return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
}

// ExhaustedError is returned when every source for a category failed.
// It matches ErrAllSourcesExhausted via errors.Is.
type ExhaustedError struct {
	Category string
	Attempts int
	// Last is the last source-level failure, if any.
	Last error
}

func (e *ExhaustedError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("%s: %s after %d attempts (last: %v)", ErrAllSourcesExhausted, e.Category, e.Attempts, e.Last)
	}
	return fmt.Sprintf("%s: %s after %d attempts", ErrAllSourcesExhausted, e.Category, e.Attempts)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllSourcesExhausted }

func (e *ExhaustedError) Unwrap() error { return e.Last }

// DeliveryError marks a result that was produced but could not be sent.
type DeliveryError struct {
	Kind Kind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrDeliveryFailure, e.Kind, e.Err)
}

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailure }

func (e *DeliveryError) Unwrap() error { return e.Err }
