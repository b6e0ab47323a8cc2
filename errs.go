// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package wfsim

type constError string

func (e constError) Error() string {
	return string(e)
}

// ErrEmptyHistory is returned by Reduce for a record that carries no
// execution attempts. Every record in a trace describes a completed task and
// so must have at least one attempt.
const ErrEmptyHistory = constError("task execution record has no attempts")

// ErrNonMonotonic is returned when an attempt's phase timestamps decrease.
const ErrNonMonotonic = constError("execution attempt timestamps are not monotonically non-decreasing")

// ErrZeroIOTime is returned by Reduce under ZeroIOAbort when a task's input
// and output I/O times sum to zero.
const ErrZeroIOTime = constError("task has zero total I/O time")
