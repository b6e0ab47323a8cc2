// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package wfsim reduces the task execution trace of a simulated workflow run
// into per-host performance and energy statistics.
//
// A simulation engine produces one TaskExecutionRecord per completed task,
// each carrying the full stack of execution attempts made for that task.
// Reduce folds such a trace into a single RunAggregate: the number of tasks
// that needed more than one attempt, the average ratio of compute time to I/O
// time, byte totals, and the core allocation of every task in trace order.
// Project then fans that one aggregate out across every simulated host,
// combining it with per-host facts (core count, energy consumed) to produce
// one HostMetricRow per host. The report package appends those rows to a
// shared CSV file.
//
// Several of the derived statistics are ratios whose denominators can be zero
// for legitimate inputs: an empty trace, a task with no I/O, a run that
// completed at time zero, or a run in which every task failed. Such values are
// carried as Metric, which is either a finite number or explicitly Undefined,
// so that no NaN or Inf ever reaches a report.
package wfsim
