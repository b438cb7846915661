package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnection indicates the model backend could not be reached at all.
// Callers surface this as a fixed user-safe message; it is never retried
// automatically.
var ErrConnection = errors.New("model backend unreachable")

// ErrEmptyResponse indicates a terminal model reply carried neither text
// content nor a tool invocation.
var ErrEmptyResponse = errors.New("model returned an empty response")

// ModelNotFoundError indicates the requested model is not provisioned on
// the backend.
type ModelNotFoundError struct {
	Model string
}

func (e *ModelNotFoundError) Error() string {
	return fmt.Sprintf("model %q not found on backend", e.Model)
}

// TimeoutError indicates a chat call exceeded its deadline. The in-flight
// request has already been cancelled when this error is returned.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("model call timed out after %s", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	_, ok := target.(*TimeoutError)
	return ok
}
