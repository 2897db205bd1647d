package message

import "errors"

// Domain errors for the message package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, message.ErrQueueFull) {
//	    // back off
//	}
var (
	// ErrInvalidTarget is returned when a message has no target name.
	ErrInvalidTarget = errors.New("message: target is required")

	// ErrContentTooLong is returned when content exceeds MaxContentLength.
	ErrContentTooLong = errors.New("message: content too long")

	// ErrInvalidKind is returned for an unknown message kind.
	ErrInvalidKind = errors.New("message: invalid kind")

	// ErrInvalidPriority is returned for an unknown priority.
	ErrInvalidPriority = errors.New("message: invalid priority")

	// ErrQueueFull is returned when a queue has reached its length limit.
	ErrQueueFull = errors.New("message: queue full")

	// ErrNoMemory is returned when inserting would exceed the queue's payload budget.
	ErrNoMemory = errors.New("message: queue payload budget exhausted")

	// ErrQueueClosed is returned when inserting into a closed queue.
	ErrQueueClosed = errors.New("message: queue closed")
)
