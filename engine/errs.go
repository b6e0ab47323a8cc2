// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrInvalidServiceConfig is returned when a service is added with a
// malformed specification, for instance an unknown scheduling algorithm or a
// negative message payload.
const ErrInvalidServiceConfig = constError("invalid service configuration")

// ErrUnknownHost is returned when a service names a host absent from the
// platform.
const ErrUnknownHost = constError("unknown host")

// ErrOutOfOrder is returned when a lifecycle method is called before the
// steps it depends on, or after Launch.
const ErrOutOfOrder = constError("simulation lifecycle step out of order")

const (
	ErrUnknownFile   = constError("file is not part of the workflow")
	ErrAlreadyStaged = constError("file is already staged")
	ErrStorageFull   = constError("storage service capacity exceeded")
)

// Run-time errors returned by Launch.
const (
	ErrMissingInput  = constError("task input file is not available on the storage service")
	ErrTaskFailed    = constError("task failed on every allowed attempt")
	ErrUnschedulable = constError("task requires more cores than any node of its compute service")
	ErrDeadlock      = constError("simulation stalled with tasks still pending")
)
