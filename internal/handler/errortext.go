package handler

import (
	"context"
	"errors"
	"fmt"

	"funbot/internal/content"
	"funbot/internal/content/provider"
)

// ErrorText renders err as the line shown to the chat. label names the
// command ("Weibo hot search"); empty means a generic request.
func ErrorText(label string, err error) string {
	base := "Request failed"
	if label != "" {
		base = "Failed to get " + label
	}
	var f *provider.Failure
	switch {
	case err == nil:
		return base
	case errors.Is(err, content.ErrInvalidTimeFormat):
		return base + ": time must be HH:MM"
	case errors.Is(err, content.ErrDuplicateArguments):
		return base + ": the two names must be different"
	case errors.Is(err, content.ErrInvalidArguments):
		return base + ": please give exactly two names"
	case errors.Is(err, content.ErrUnknownCategory):
		return base + ": unknown command"
	case errors.Is(err, content.ErrAllSourcesExhausted):
		return base + ": every source is unavailable right now, please try again later"
	case errors.As(err, &f) && f.Kind == provider.KindTimeout,
		errors.Is(err, context.DeadlineExceeded):
		return base + ": request timed out"
	case errors.As(err, &f) && f.Kind == provider.KindHTTPStatus:
		return fmt.Sprintf("%s: server responded with an error (%d)", base, f.Code)
	case errors.Is(err, content.ErrStoreUnavailable), errors.Is(err, content.ErrNotFound):
		return base + ": database access error"
	default:
		return base + ": unknown error"
	}
}
