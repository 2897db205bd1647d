package bus

import "errors"

// Domain errors for the bus package.
var (
	// ErrInvalidArgument is returned when a required field is missing or malformed.
	ErrInvalidArgument = errors.New("bus: invalid argument")

	// ErrTimeout is returned when a synchronous send's deadline elapses before a reply.
	ErrTimeout = errors.New("bus: timed out waiting for reply")

	// ErrHandlerFailed is returned when a driver reports failure or answers with an Error message.
	ErrHandlerFailed = errors.New("bus: handler failed")

	// ErrBusy is returned by ProcessMessages when another drain pass owns the queue.
	ErrBusy = errors.New("bus: drain pass already running")

	// ErrClosed is returned after the engine has been closed.
	ErrClosed = errors.New("bus: closed")
)
