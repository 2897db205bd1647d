package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/softbus/internal/device"
	"github.com/nerrad567/softbus/internal/message"
)

// Status is the closed set of outcomes reported by bus operations.
// The numeric values are stable and double as CLI exit semantics.
type Status int

// Status codes.
const (
	StatusOK               Status = 0
	StatusError            Status = -1
	StatusInvalidArgument  Status = -2
	StatusNotFound         Status = -3
	StatusBusy             Status = -4
	StatusTimeout          Status = -5
	StatusOutOfMemory      Status = -6
	StatusAlreadyExists    Status = -7
	StatusCapacityExceeded Status = -8
)

var statusNames = map[Status]string{
	StatusOK:               "ok",
	StatusError:            "error",
	StatusInvalidArgument:  "invalid_argument",
	StatusNotFound:         "not_found",
	StatusBusy:             "busy",
	StatusTimeout:          "timeout",
	StatusOutOfMemory:      "out_of_memory",
	StatusAlreadyExists:    "already_exists",
	StatusCapacityExceeded: "capacity_exceeded",
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// OK reports whether s is StatusOK.
func (s Status) OK() bool { return s == StatusOK }

// StatusOf classifies an error returned by any softbus package.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, message.ErrInvalidTarget),
		errors.Is(err, message.ErrContentTooLong),
		errors.Is(err, message.ErrInvalidKind),
		errors.Is(err, message.ErrInvalidPriority),
		errors.Is(err, device.ErrInvalidName),
		errors.Is(err, device.ErrInvalidType),
		errors.Is(err, device.ErrInvalidDriver):
		return StatusInvalidArgument
	case errors.Is(err, device.ErrDeviceNotFound),
		errors.Is(err, device.ErrGroupNotFound),
		errors.Is(err, device.ErrNotMember),
		errors.Is(err, message.ErrQueueClosed):
		return StatusNotFound
	case errors.Is(err, device.ErrDeviceExists),
		errors.Is(err, device.ErrGroupExists):
		return StatusAlreadyExists
	case errors.Is(err, device.ErrCapacityExceeded),
		errors.Is(err, device.ErrGroupCapacity),
		errors.Is(err, device.ErrGroupFull),
		errors.Is(err, message.ErrQueueFull):
		return StatusCapacityExceeded
	case errors.Is(err, message.ErrNoMemory):
		return StatusOutOfMemory
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return StatusTimeout
	case errors.Is(err, ErrBusy):
		return StatusBusy
	default:
		return StatusError
	}
}

// ParseStatus converts a status name (as produced by String) to a Status.
func ParseStatus(s string) (Status, error) {
	for st, name := range statusNames {
		if name == s {
			return st, nil
		}
	}
	return StatusError, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
}
