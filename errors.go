package refract

import (
	"errors"
	"fmt"
)

// Sentinel errors for library and player state. These enable callers to
// programmatically distinguish failure modes using errors.Is.
var (
	// ErrNotInitialized is returned when sources or players are created
	// before Init.
	ErrNotInitialized = errors.New("refract: library not initialized")

	// ErrAlreadyInitialized is returned by a second Init without an
	// intervening Quit.
	ErrAlreadyInitialized = errors.New("refract: library already initialized")

	// ErrClosed is returned by operations on a closed player or source.
	ErrClosed = errors.New("refract: closed")

	// ErrNoStream is returned when an operation needs a stream kind the
	// player was not created with.
	ErrNoStream = errors.New("refract: no such stream selected")

	// ErrInvalidStream is returned for out-of-range or wrong-kind stream
	// indexes.
	ErrInvalidStream = errors.New("refract: invalid stream index")

	// ErrSubtitleWithoutVideo rejects player configurations that select
	// subtitles with no video stream to place them over.
	ErrSubtitleWithoutVideo = errors.New("refract: subtitle stream selected without video stream")

	// ErrSourceBusy is returned when a source already borrowed by one
	// player is offered to another.
	ErrSourceBusy = errors.New("refract: source already in use by a player")

	// ErrTimeout is returned by WaitBufferFillRate when the deadline
	// passes before the requested fill rate is reached.
	ErrTimeout = errors.New("refract: timeout")
)

// SetupError wraps a failure during player or source construction and
// records which component was being built when it occurred.
type SetupError struct {
	Component string
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("refract: setup %s: %v", e.Component, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func setupErr(component string, err error) error {
	return &SetupError{Component: component, Err: err}
}
