// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package wfsim

import (
	"fmt"
)

// ZeroIOPolicy selects how Reduce treats a task whose input and output I/O
// times sum to zero, which would make its compute/IO ratio a division by
// zero.
type ZeroIOPolicy int

const (
	// ZeroIOAsZero counts the task's ratio term as zero. The task still counts
	// toward the number of samples the sum is divided by.
	ZeroIOAsZero ZeroIOPolicy = iota
	// ZeroIOExclude omits the task from the average entirely, both from the
	// sum and from the sample count.
	ZeroIOExclude
	// ZeroIOAbort makes Reduce fail with ErrZeroIOTime.
	ZeroIOAbort
)

// ParseZeroIOPolicy maps the configuration names "zero", "exclude" and
// "abort" to a policy.
func ParseZeroIOPolicy(s string) (ZeroIOPolicy, error) {
	switch s {
	case "", "zero":
		return ZeroIOAsZero, nil
	case "exclude":
		return ZeroIOExclude, nil
	case "abort":
		return ZeroIOAbort, nil
	default:
		return 0, fmt.Errorf("unknown zero I/O policy %q", s)
	}
}

func (p ZeroIOPolicy) String() string {
	switch p {
	case ZeroIOAsZero:
		return "zero"
	case ZeroIOExclude:
		return "exclude"
	case ZeroIOAbort:
		return "abort"
	default:
		return fmt.Sprintf("ZeroIOPolicy(%d)", int(p))
	}
}

// ReduceOptions configures Reduce. The zero value is ready to use.
type ReduceOptions struct {
	ZeroIO ZeroIOPolicy
}

// TaskTiming is the phase timing of one task's final attempt.
type TaskTiming struct {
	TaskID   string
	Host     string
	Attempts int
	Compute  float64
	IOInput  float64
	IOOutput float64
}

// RunAggregate summarizes the trace of one simulation run.
type RunAggregate struct {
	TraceLength     int
	FailedTaskCount int
	// ZeroIOTaskCount is the number of tasks whose I/O times summed to zero.
	ZeroIOTaskCount int

	// AvgComputeIORatio is the mean over tasks of compute time divided by
	// total I/O time. It is Undefined for an empty trace, or when every task
	// was excluded under ZeroIOExclude.
	AvgComputeIORatio Metric

	TotalBytesRead    uint64
	TotalBytesWritten uint64

	// LastTask holds the timing of the final record in the trace. Reports
	// carry these values in their compute and I/O time columns.
	LastTask TaskTiming

	// PerTaskCoreAllocations holds each record's core allocation in trace
	// order.
	PerTaskCoreAllocations []int

	// PerTask holds the timing of every record in trace order.
	PerTask []TaskTiming

	byTaskID map[string]int
}

// Timing returns the timing recorded for the given task. If a task appears
// more than once in the trace, the last occurrence wins.
func (a *RunAggregate) Timing(taskID string) (TaskTiming, bool) {
	i, ok := a.byTaskID[taskID]
	if !ok {
		return TaskTiming{}, false
	}
	return a.PerTask[i], true
}

// Reduce folds a trace into a RunAggregate. It is a pure function of its
// input. Records are processed in order; only each record's most recent
// attempt contributes timing, while the attempt count classifies failures.
func Reduce(trace []TaskExecutionRecord, opts ReduceOptions) (*RunAggregate, error) {
	agg := &RunAggregate{
		TraceLength:            len(trace),
		PerTaskCoreAllocations: make([]int, 0, len(trace)),
		PerTask:                make([]TaskTiming, 0, len(trace)),
		byTaskID:               make(map[string]int, len(trace)),
	}

	var ratioSum float64
	var ratioCount int
	for i := range trace {
		rec := &trace[i]
		latest, ok := rec.Latest()
		if !ok {
			return nil, fmt.Errorf("record %d (task %q): %w", i, rec.TaskID, ErrEmptyHistory)
		}
		if err := latest.Validate(); err != nil {
			return nil, fmt.Errorf("record %d (task %q): %w", i, rec.TaskID, err)
		}
		if rec.FailedBefore() {
			agg.FailedTaskCount++
		}

		timing := TaskTiming{
			TaskID:   rec.TaskID,
			Host:     latest.Host,
			Attempts: rec.AttemptCount(),
			Compute:  latest.ComputeTime(),
			IOInput:  latest.InputIOTime(),
			IOOutput: latest.OutputIOTime(),
		}

		io := timing.IOInput + timing.IOOutput
		if io == 0 {
			agg.ZeroIOTaskCount++
			switch opts.ZeroIO {
			case ZeroIOAsZero:
				ratioCount++
			case ZeroIOExclude:
			case ZeroIOAbort:
				return nil, fmt.Errorf("record %d (task %q): %w", i, rec.TaskID, ErrZeroIOTime)
			default:
				panic(fmt.Sprintf("invalid zero I/O policy %v", opts.ZeroIO))
			}
		} else {
			ratioSum += timing.Compute / io
			ratioCount++
		}

		agg.TotalBytesRead += rec.BytesRead
		agg.TotalBytesWritten += rec.BytesWritten
		agg.PerTaskCoreAllocations = append(agg.PerTaskCoreAllocations, rec.CoresAllocated)
		agg.byTaskID[rec.TaskID] = len(agg.PerTask)
		agg.PerTask = append(agg.PerTask, timing)
		agg.LastTask = timing
	}

	agg.AvgComputeIORatio = Ratio(ratioSum, float64(ratioCount))
	return agg, nil
}
