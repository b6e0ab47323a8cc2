// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package wfsim

import (
	"fmt"
)

// ExecutionAttempt is one try at running a task. Timestamps are in simulated
// seconds and are monotonically non-decreasing within an attempt, in the
// order they are declared.
type ExecutionAttempt struct {
	ReadInputStart   float64 `json:"read_input_start"`
	ReadInputEnd     float64 `json:"read_input_end"`
	ComputationStart float64 `json:"computation_start"`
	ComputationEnd   float64 `json:"computation_end"`
	WriteOutputStart float64 `json:"write_output_start"`
	WriteOutputEnd   float64 `json:"write_output_end"`

	// Host is the name of the host the attempt ran on, if known.
	Host string `json:"host,omitempty"`
	// Failed is set on attempts that did not complete.
	Failed bool `json:"failed,omitempty"`
}

// InputIOTime returns the time spent reading input files.
func (a *ExecutionAttempt) InputIOTime() float64 {
	return a.ReadInputEnd - a.ReadInputStart
}

// OutputIOTime returns the time spent writing output files.
func (a *ExecutionAttempt) OutputIOTime() float64 {
	return a.WriteOutputEnd - a.WriteOutputStart
}

// ComputeTime returns the time spent computing.
func (a *ExecutionAttempt) ComputeTime() float64 {
	return a.ComputationEnd - a.ComputationStart
}

// Validate returns ErrNonMonotonic if any timestamp precedes the one before
// it.
func (a *ExecutionAttempt) Validate() error {
	ts := [...]float64{
		a.ReadInputStart, a.ReadInputEnd,
		a.ComputationStart, a.ComputationEnd,
		a.WriteOutputStart, a.WriteOutputEnd,
	}
	for i := 1; i < len(ts); i++ {
		if ts[i] < ts[i-1] {
			return fmt.Errorf("%w: timestamp %d (%v) precedes timestamp %d (%v)",
				ErrNonMonotonic, i, ts[i], i-1, ts[i-1])
		}
	}
	return nil
}

// TaskExecutionRecord is the completion event of one task. History is a
// stack of attempts: the most recent attempt is the last element.
type TaskExecutionRecord struct {
	TaskID         string             `json:"task_id"`
	History        []ExecutionAttempt `json:"history"`
	BytesRead      uint64             `json:"bytes_read"`
	BytesWritten   uint64             `json:"bytes_written"`
	CoresAllocated int                `json:"cores_allocated"`
}

// AttemptCount returns the number of recorded attempts.
func (r *TaskExecutionRecord) AttemptCount() int {
	return len(r.History)
}

// Latest returns the most recent attempt. The second result is false if the
// history is empty.
func (r *TaskExecutionRecord) Latest() (*ExecutionAttempt, bool) {
	if len(r.History) == 0 {
		return nil, false
	}
	return &r.History[len(r.History)-1], true
}

// FailedBefore reports whether the task failed at least once before its final
// attempt.
func (r *TaskExecutionRecord) FailedBefore() bool {
	return len(r.History) > 1
}

// PushAttempt records a new most-recent attempt.
func (r *TaskExecutionRecord) PushAttempt(a ExecutionAttempt) {
	r.History = append(r.History, a)
}
