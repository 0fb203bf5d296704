package provider

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a fetch produced no payload.
type FailureKind int

const (
	KindTimeout FailureKind = iota + 1
	KindHTTPStatus
	KindNetwork
	KindDecode
)

func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindHTTPStatus:
		return "http_status"
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Failure is the only error type returned by Client.
type Failure struct {
	Kind FailureKind
	// Code is the HTTP status for KindHTTPStatus.
	Code int
	URL  string
	Err  error
}

func (f *Failure) Error() string {
	switch {
	case f.Kind == KindHTTPStatus:
		return fmt.Sprintf("provider %s: http status %d", f.URL, f.Code)
	case f.Err != nil:
		return fmt.Sprintf("provider %s: %s: %v", f.URL, f.Kind, f.Err)
	default:
		return fmt.Sprintf("provider %s: %s", f.URL, f.Kind)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
