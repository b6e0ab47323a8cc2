// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package experiment

import (
	"errors"
	"fmt"

	"github.com/petenewcomb/wfsim"
)

// Outcome distinguishes runs that completed from runs that were aborted.
type Outcome int

const (
	Completed Outcome = iota
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Exit codes returned by Result.ExitCode.
const (
	ExitCompleted     = 0
	ExitConfiguration = 1
	ExitAborted       = 2
)

// Result is the outcome of Orchestrator.Run.
type Result struct {
	Outcome Outcome
	// Stage names the stage that aborted the run.
	Stage string
	// Err is set when Outcome is Aborted and wraps one of ErrConfiguration,
	// ErrStaging or ErrRuntime.
	Err error

	// InvocationID identifies this invocation, unlike the run id which is
	// shared by every run of an equally sized workflow.
	InvocationID string
	RunID        string
	Aggregate    *wfsim.RunAggregate
	Rows         []wfsim.HostMetricRow

	// ReportErrs collects failures to write the report outputs. They do not
	// change the outcome.
	ReportErrs []error
}

// ExitCode maps the result to a process exit status: 0 for a completed run,
// 1 for a configuration error and 2 for any other abort. Report errors do
// not affect it.
func (r *Result) ExitCode() int {
	switch {
	case r.Outcome == Completed:
		return ExitCompleted
	case errors.Is(r.Err, ErrConfiguration):
		return ExitConfiguration
	default:
		return ExitAborted
	}
}
