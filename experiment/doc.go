// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Package experiment runs one simulation experiment end to end.
//
// An Orchestrator drives a Simulation through its lifecycle (load the
// workflow and platform, add the storage, batch, cloud, controller and file
// registry services, stage the workflow's input files, enable timestamps and
// launch), then reduces the task completion trace with wfsim.Reduce,
// projects it onto every host with wfsim.Project and appends the rows to the
// CSV report. Each step runs as an instrumented stage: it is logged through
// zap, counted through the OpenTelemetry meter provider and traced as a span
// under a single run span.
//
// Run returns a Result tagged Completed or Aborted. A run that aborts writes
// no report; a run whose report cannot be written still completes.
package experiment
