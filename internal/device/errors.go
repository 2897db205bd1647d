package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no device is registered under a name.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when registering a name that is already taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidName is returned when a device or group name fails validation.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidType is returned when a device type is not recognised.
	ErrInvalidType = errors.New("device: invalid type")

	// ErrInvalidDriver is returned when a device is registered without a driver.
	ErrInvalidDriver = errors.New("device: driver is required")

	// ErrCapacityExceeded is returned when the registry is at its device limit.
	ErrCapacityExceeded = errors.New("device: capacity exceeded")

	// ErrInitFailed is returned when a driver's Init fails during registration.
	ErrInitFailed = errors.New("device: init failed")

	// ErrStartFailed is returned when a driver's Start fails during registration.
	ErrStartFailed = errors.New("device: start failed")
)

// Group errors.
var (
	// ErrGroupNotFound is returned when a group name does not exist.
	ErrGroupNotFound = errors.New("device: group not found")

	// ErrGroupExists is returned when creating a group with a name that already exists.
	ErrGroupExists = errors.New("device: group already exists")

	// ErrGroupCapacity is returned when the registry is at its group limit.
	ErrGroupCapacity = errors.New("device: group capacity exceeded")

	// ErrGroupFull is returned when a group is at its member limit.
	ErrGroupFull = errors.New("device: group is full")

	// ErrNotMember is returned when removing a device that is not in the group.
	ErrNotMember = errors.New("device: not a group member")
)
