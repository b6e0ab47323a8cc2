// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package wfsim

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// DefaultRunIDPrefix is prepended to the task count to form a run id.
const DefaultRunIDPrefix = "extk"

// CoreAllocationSeparator joins per-task core allocations in a report cell.
const CoreAllocationSeparator = ";"

// HostFacts are the per-host values a simulation engine reports after a run.
type HostFacts struct {
	Name           string
	CoreCount      int
	EnergyConsumed float64 // joules
}

// RunFacts are the run-wide values a simulation engine reports after a run.
type RunFacts struct {
	// TotalTaskCount is the number of tasks in the workflow.
	TotalTaskCount int
	// CompletionTime is the simulated date, in seconds, at which the
	// workflow completed.
	CompletionTime float64
	// Hosts lists every host of the platform in platform order.
	Hosts []HostFacts
	// RunIDPrefix overrides DefaultRunIDPrefix when non-empty.
	RunIDPrefix string
}

// RunID returns the identifier shared by every row of the run. It is derived
// from the task count only, so distinct runs of equally sized workflows share
// an id.
func (f *RunFacts) RunID() string {
	prefix := f.RunIDPrefix
	if prefix == "" {
		prefix = DefaultRunIDPrefix
	}
	return prefix + "-" + strconv.Itoa(f.TotalTaskCount)
}

// HostMetricRow is one report row for a (run, host) pair. Apart from the
// host columns and Power, every field is run-global and repeats across the
// rows of a run.
type HostMetricRow struct {
	RunID           string
	HostName        string
	HostCoreCount   int
	CoreAllocations []int
	TaskCount       int
	TraceSize       int
	AvgTaskDuration Metric
	FailedTaskCount int
	ComputeTime     float64
	IOTimeInput     float64
	IOTimeOutput    float64
	CommCompRatio   Metric
	TotalBytesRead  uint64
	TotalBytesWrite uint64
	CompletionTime  float64
	Power           Metric
	EnergyConsumed  float64
}

// CoreAllocationsJoined returns the per-task core allocations joined with
// CoreAllocationSeparator, in trace order.
func (r *HostMetricRow) CoreAllocationsJoined() string {
	parts := make([]string, len(r.CoreAllocations))
	for i, n := range r.CoreAllocations {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, CoreAllocationSeparator)
}

// Project produces one HostMetricRow per host in facts.Hosts, in order. It
// must only be called with facts gathered after the run completed.
//
// Power is energy divided by completion time and is Undefined when the run
// completed at time zero. AvgTaskDuration is the last task's compute time
// divided by the number of tasks that never failed, and is Undefined when
// that number is not positive.
func Project(agg *RunAggregate, facts *RunFacts) ([]HostMetricRow, error) {
	if agg == nil {
		return nil, fmt.Errorf("nil run aggregate")
	}
	if facts == nil {
		return nil, fmt.Errorf("nil run facts")
	}

	runID := facts.RunID()
	var avgTaskDuration Metric
	if succeeded := facts.TotalTaskCount - agg.FailedTaskCount; succeeded > 0 {
		avgTaskDuration = Ratio(agg.LastTask.Compute, float64(succeeded))
	}

	rows := make([]HostMetricRow, 0, len(facts.Hosts))
	for _, host := range facts.Hosts {
		rows = append(rows, HostMetricRow{
			RunID:           runID,
			HostName:        host.Name,
			HostCoreCount:   host.CoreCount,
			CoreAllocations: slices.Clone(agg.PerTaskCoreAllocations),
			TaskCount:       facts.TotalTaskCount,
			TraceSize:       agg.TraceLength,
			AvgTaskDuration: avgTaskDuration,
			FailedTaskCount: agg.FailedTaskCount,
			ComputeTime:     agg.LastTask.Compute,
			IOTimeInput:     agg.LastTask.IOInput,
			IOTimeOutput:    agg.LastTask.IOOutput,
			CommCompRatio:   agg.AvgComputeIORatio,
			TotalBytesRead:  agg.TotalBytesRead,
			TotalBytesWrite: agg.TotalBytesWritten,
			CompletionTime:  facts.CompletionTime,
			Power:           Ratio(host.EnergyConsumed, facts.CompletionTime),
			EnergyConsumed:  host.EnergyConsumed,
		})
	}
	return rows, nil
}
