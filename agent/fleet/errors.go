package fleet

import "errors"

var (
	// ErrUnknownDevice is returned when a device id is not in the registry
	ErrUnknownDevice = errors.New("unknown device")

	// ErrNotAssigned is returned when unassigning a user without a binding
	ErrNotAssigned = errors.New("user not assigned to any device")

	// ErrNoActiveDevices is returned when allocation finds no active device
	ErrNoActiveDevices = errors.New("no active devices available")

	// ErrPersistence is returned when a durable write fails. The in-memory
	// state is left as it was before the call.
	ErrPersistence = errors.New("persistence failed")

	// ErrUnknownStrategy is returned for an allocation strategy name that is
	// not round_robin, least_loaded or random
	ErrUnknownStrategy = errors.New("unknown allocation strategy")

	// ErrDeviceInactive is returned when rotating a device that is not active
	ErrDeviceInactive = errors.New("device is not active")

	// ErrInvalidArgument is returned for empty usernames and malformed addresses
	ErrInvalidArgument = errors.New("invalid argument")
)
