package inventory

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrAlreadyProcessed  = errors.New("request already processed")
	ErrInsufficientStock = errors.New("not enough available assets")
	ErrTeamLimit         = errors.New("team limit reached")
	ErrInvalidInput      = errors.New("invalid input")
	// ErrUnavailable marks transient store failures (timeouts, lost connections).
	ErrUnavailable = errors.New("store unavailable")
)

// Error pairs a sentinel kind with a caller-facing message. errors.Is matches
// the kind.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
