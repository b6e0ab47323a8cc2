// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package experiment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/petenewcomb/wfsim"
	"github.com/petenewcomb/wfsim/engine"
	"github.com/petenewcomb/wfsim/report"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Simulation is the simulation engine lifecycle the orchestrator drives.
// *engine.Simulation implements it.
type Simulation interface {
	LoadWorkflow(path string, referenceFlops float64) error
	InstantiatePlatform(path string) error
	Hostnames() []string
	AddStorageService(spec engine.StorageServiceSpec) error
	AddBatchComputeService(spec engine.ComputeServiceSpec) error
	AddCloudComputeService(spec engine.ComputeServiceSpec) error
	AddExecutionController(spec engine.ControllerSpec) error
	AddFileRegistryService(host string) error
	WorkflowInputFiles() []string
	StageFile(id string) error
	EnableTaskTimestamps()
	EnableEnergyTimestamps()
	Launch(ctx context.Context) error

	DumpWorkflowGraph(path string) error
	TaskCompletionTrace() []wfsim.TaskExecutionRecord
	HostNumCores(host string) (int, error)
	EnergyConsumed(host string) (float64, error)
	WorkflowTaskCount() int
	WorkflowCompletionDate() float64
}

var _ Simulation = (*engine.Simulation)(nil)

// Orchestrator runs one experiment: it sets up a simulation, runs it,
// reduces the trace to per-host rows and reports them.
type Orchestrator struct {
	Config *Config
	// NewSimulation creates the engine. It defaults to engine.NewSimulation.
	NewSimulation func(opts engine.Options) (Simulation, error)
	// NewInvocationID defaults to random UUIDs.
	NewInvocationID func() string
}

// New returns an orchestrator using the built-in engine.
func New(config *Config) *Orchestrator {
	return &Orchestrator{
		Config: config,
		NewSimulation: func(opts engine.Options) (Simulation, error) {
			return engine.NewSimulation(opts), nil
		},
		NewInvocationID: uuid.NewString,
	}
}

type stage struct {
	name string
	// class is the sentinel the stage's errors are wrapped with.
	class error
	fn    StageFunc
}

// Run executes every stage in order and returns the tagged outcome.
// Configuration, staging and run-time failures abort the run before any
// report is written. Report failures are collected in Result.ReportErrs and
// do not abort.
func (o *Orchestrator) Run(ctx context.Context, platformPath, workflowPath string) *Result {
	res := &Result{InvocationID: o.NewInvocationID()}
	logger := zap.L().Named("experiment").With(zap.String("invocation", res.InvocationID))

	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "run")
	defer span.End()
	span.SetAttributes(
		attribute.String("invocation", res.InvocationID),
		attribute.String("platform", platformPath),
		attribute.String("workflow", workflowPath),
	)

	abort := func(name string, err error) *Result {
		res.Outcome = Aborted
		res.Stage = name
		res.Err = err
		span.SetAttributes(attribute.String("aborted_at", name))
		logger.Error("Run aborted, no report written", zap.String("stage", name), zap.Error(err))
		return res
	}

	cfg := o.Config
	if err := cfg.Validate(); err != nil {
		return abort("validate-config", err)
	}

	var sim Simulation
	stages := []stage{
		{"initialize", ErrConfiguration, func(context.Context) error {
			var err error
			sim, err = o.NewSimulation(engine.Options{
				Seed:                   cfg.Engine.Seed,
				TaskFailureProbability: cfg.Engine.TaskFailureProbability,
				MaxAttempts:            cfg.Engine.MaxAttempts,
			})
			return err
		}},
		{"load-workflow", ErrConfiguration, func(context.Context) error {
			return sim.LoadWorkflow(workflowPath, cfg.referenceFlops())
		}},
		{"instantiate-platform", ErrConfiguration, func(context.Context) error {
			return sim.InstantiatePlatform(platformPath)
		}},
		{"add-storage-service", ErrConfiguration, func(context.Context) error {
			return sim.AddStorageService(engine.StorageServiceSpec{Host: cfg.Storage.Host, Mount: cfg.Storage.Mount})
		}},
	}
	if cfg.Batch.enabled() {
		stages = append(stages, stage{"add-batch-compute-service", ErrConfiguration, func(context.Context) error {
			return sim.AddBatchComputeService(cfg.Batch.spec())
		}})
	}
	if cfg.Cloud.enabled() {
		stages = append(stages, stage{"add-cloud-compute-service", ErrConfiguration, func(context.Context) error {
			return sim.AddCloudComputeService(cfg.Cloud.spec())
		}})
	}

	var agg *wfsim.RunAggregate
	stages = append(stages,
		stage{"add-execution-controller", ErrConfiguration, func(context.Context) error {
			return sim.AddExecutionController(engine.ControllerSpec{Host: cfg.Controller.Host, Policy: cfg.Controller.Policy})
		}},
		stage{"add-file-registry-service", ErrConfiguration, func(context.Context) error {
			return sim.AddFileRegistryService(cfg.fileRegistryHost(sim.Hostnames()))
		}},
		stage{"stage-input-files", ErrStaging, func(ctx context.Context) error {
			files := sim.WorkflowInputFiles()
			for _, id := range files {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := sim.StageFile(id); err != nil {
					return err
				}
			}
			logger.Debug("Staged input files", zap.Int("count", len(files)))
			return nil
		}},
		stage{"enable-timestamps", ErrRuntime, func(context.Context) error {
			sim.EnableTaskTimestamps()
			sim.EnableEnergyTimestamps()
			return nil
		}},
		stage{"launch", ErrRuntime, func(ctx context.Context) error {
			return sim.Launch(ctx)
		}},
		stage{"reduce-trace", ErrRuntime, func(context.Context) error {
			policy, _ := wfsim.ParseZeroIOPolicy(cfg.Report.ZeroIO)
			var err error
			agg, err = wfsim.Reduce(sim.TaskCompletionTrace(), wfsim.ReduceOptions{ZeroIO: policy})
			return err
		}},
		stage{"project-host-metrics", ErrRuntime, func(context.Context) error {
			facts, err := collectRunFacts(sim, cfg.Report.RunIDPrefix)
			if err != nil {
				return err
			}
			res.RunID = facts.RunID()
			res.Rows, err = wfsim.Project(agg, facts)
			return err
		}},
	)

	for _, s := range stages {
		if err := InstrumentedStage(s.name, s.fn)(ctx); err != nil {
			return abort(s.name, fmt.Errorf("%w: %s: %w", s.class, s.name, err))
		}
	}
	res.Outcome = Completed
	res.Aggregate = agg
	span.SetAttributes(attribute.String("run_id", res.RunID))

	o.writeOutputs(ctx, sim, res)

	logger.Info("Run completed",
		zap.String("runID", res.RunID),
		zap.Int("hosts", len(res.Rows)),
		zap.Int("traceSize", agg.TraceLength),
		zap.Int("failedTasks", agg.FailedTaskCount),
		zap.Float64("completionDate", sim.WorkflowCompletionDate()),
		zap.Int("reportErrors", len(res.ReportErrs)))
	return res
}

func collectRunFacts(sim Simulation, runIDPrefix string) (*wfsim.RunFacts, error) {
	facts := &wfsim.RunFacts{
		TotalTaskCount: sim.WorkflowTaskCount(),
		CompletionTime: sim.WorkflowCompletionDate(),
		RunIDPrefix:    runIDPrefix,
	}
	for _, name := range sim.Hostnames() {
		cores, err := sim.HostNumCores(name)
		if err != nil {
			return nil, err
		}
		energy, err := sim.EnergyConsumed(name)
		if err != nil {
			return nil, err
		}
		facts.Hosts = append(facts.Hosts, wfsim.HostFacts{Name: name, CoreCount: cores, EnergyConsumed: energy})
	}
	return facts, nil
}

// writeOutputs writes every configured output of a completed run. Each
// failure is recorded on the result and logged; none stops the others.
func (o *Orchestrator) writeOutputs(ctx context.Context, sim Simulation, res *Result) {
	cfg := o.Config
	outputs := []stage{
		{"write-csv-report", nil, func(context.Context) error {
			columns, err := wfsim.ColumnSet(cfg.Report.Columns)
			if err != nil {
				return err
			}
			return report.NewCSVWriter(cfg.Report.CSVPath, columns, cfg.cellFormat()).Append(res.Rows)
		}},
	}
	if cfg.GraphDumpPath != "" {
		outputs = append(outputs, stage{"dump-workflow-graph", nil, func(context.Context) error {
			return sim.DumpWorkflowGraph(cfg.GraphDumpPath)
		}})
	}
	if cfg.Report.SQLitePath != "" {
		outputs = append(outputs, stage{"write-sqlite-report", nil, func(context.Context) (err error) {
			store, err := report.OpenStore(cfg.Report.SQLitePath)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := store.Close(); err == nil {
					err = closeErr
				}
			}()
			return store.Save(res.InvocationID, res.Rows)
		}})
	}
	if cfg.Report.PowerChartPath != "" {
		outputs = append(outputs, stage{"write-power-chart", nil, func(context.Context) error {
			return report.WritePowerChart(cfg.Report.PowerChartPath, res.Rows)
		}})
	}
	for _, s := range outputs {
		if err := InstrumentedStage(s.name, s.fn)(ctx); err != nil {
			res.ReportErrs = append(res.ReportErrs, fmt.Errorf("%s: %w", s.name, err))
		}
	}
}
