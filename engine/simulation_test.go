// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine_test

import (
	"context"
	"testing"

	"github.com/petenewcomb/wfsim"
	"github.com/petenewcomb/wfsim/engine"
	"github.com/stretchr/testify/require"
)

type setup struct {
	platform   string
	workflow   string
	algorithm  string
	bootDelay  string
	policy     string
	skipStage  map[string]bool
	timestamps bool
}

func defaultSetup() setup {
	return setup{
		platform:   "testdata/platform.yaml",
		workflow:   "testdata/diamond.json",
		algorithm:  engine.BatchFCFSCoreLevel,
		policy:     engine.PolicyBatch,
		timestamps: true,
	}
}

// prepare runs every lifecycle step up to, but not including, Launch.
func prepare(t *testing.T, s setup, opts engine.Options) *engine.Simulation {
	t.Helper()
	chk := require.New(t)
	sim := engine.NewSimulation(opts)
	chk.NoError(sim.LoadWorkflow(s.workflow, engine.DefaultReferenceFlops))
	chk.NoError(sim.InstantiatePlatform(s.platform))
	chk.NoError(sim.AddStorageService(engine.StorageServiceSpec{Host: "WMSHost", Mount: "/"}))
	chk.NoError(sim.AddBatchComputeService(engine.ComputeServiceSpec{
		HeadHost:        "BatchHeadNode",
		Nodes:           []string{"BatchNode1"},
		Properties:      map[string]string{engine.PropBatchSchedulingAlgorithm: s.algorithm},
		MessagePayloads: map[string]float64{engine.PayloadStopDaemon: 2048},
	}))
	cloud := engine.ComputeServiceSpec{
		HeadHost:        "CloudHeadNode",
		Nodes:           []string{"CloudNode1"},
		MessagePayloads: map[string]float64{engine.PayloadStopDaemon: 1024},
	}
	if s.bootDelay != "" {
		cloud.Properties = map[string]string{engine.PropVMBootOverhead: s.bootDelay}
	}
	chk.NoError(sim.AddCloudComputeService(cloud))
	chk.NoError(sim.AddExecutionController(engine.ControllerSpec{Host: "WMSHost", Policy: s.policy}))
	chk.NoError(sim.AddFileRegistryService("BatchHeadNode"))
	for _, id := range sim.WorkflowInputFiles() {
		if !s.skipStage[id] {
			chk.NoError(sim.StageFile(id))
		}
	}
	if s.timestamps {
		sim.EnableTaskTimestamps()
	}
	sim.EnableEnergyTimestamps()
	return sim
}

func TestLaunchCoreLevel(t *testing.T) {
	chk := require.New(t)
	sim := prepare(t, defaultSetup(), engine.Options{})
	chk.Equal([]string{"WMSHost", "BatchHeadNode", "BatchNode1", "CloudHeadNode", "CloudNode1"}, sim.Hostnames())
	chk.Equal([]string{"in1", "in2", "in3"}, sim.WorkflowInputFiles())
	chk.NoError(sim.Launch(context.Background()))

	// Each task reads 100 bytes at 100 B/s, computes for 2 s and writes 50
	// bytes at 50 B/s. t2 and t3 share the 4-core node after t1.
	chk.Equal(8.0, sim.WorkflowCompletionDate())
	chk.Equal(3, sim.WorkflowTaskCount())

	trace := sim.TaskCompletionTrace()
	chk.Len(trace, 3)
	chk.Equal("t1", trace[0].TaskID)
	chk.Equal([]wfsim.ExecutionAttempt{{
		ReadInputStart: 0, ReadInputEnd: 1,
		ComputationStart: 1, ComputationEnd: 3,
		WriteOutputStart: 3, WriteOutputEnd: 4,
		Host: "BatchNode1",
	}}, trace[0].History)
	chk.Equal(uint64(100), trace[0].BytesRead)
	chk.Equal(uint64(50), trace[0].BytesWritten)
	chk.Equal(1, trace[0].CoresAllocated)
	for _, rec := range trace[1:] {
		a, ok := rec.Latest()
		chk.True(ok)
		chk.Equal(4.0, a.ReadInputStart)
		chk.Equal(8.0, a.WriteOutputEnd)
	}

	agg, err := wfsim.Reduce(trace, wfsim.ReduceOptions{})
	chk.NoError(err)
	chk.Equal(0, agg.FailedTaskCount)
	ratio, ok := agg.AvgComputeIORatio.Value()
	chk.True(ok)
	chk.InDelta(1.0, ratio, 1e-12)

	// BatchNode1 draws 20 W with one busy core and 30 W with two.
	e, err := sim.EnergyConsumed("BatchNode1")
	chk.NoError(err)
	chk.InDelta(4*20+4*30, e, 1e-9)
	e, err = sim.EnergyConsumed("WMSHost")
	chk.NoError(err)
	chk.InDelta(5*8, e, 1e-9)
	e, err = sim.EnergyConsumed("CloudNode1")
	chk.NoError(err)
	chk.Zero(e)
	_, err = sim.EnergyConsumed("nope")
	chk.ErrorIs(err, engine.ErrUnknownHost)

	n, err := sim.HostNumCores("BatchNode1")
	chk.NoError(err)
	chk.Equal(4, n)

	samples := sim.EnergyTrace()
	chk.NotEmpty(samples)
	last := samples[len(samples)-1]
	chk.Equal(8.0, last.Time)

	chk.ErrorIs(sim.Launch(context.Background()), engine.ErrOutOfOrder)
	chk.ErrorIs(sim.StageFile("in1"), engine.ErrOutOfOrder)
}

func TestLaunchExclusiveNodes(t *testing.T) {
	chk := require.New(t)
	s := defaultSetup()
	s.algorithm = engine.BatchFCFS
	sim := prepare(t, s, engine.Options{})
	chk.NoError(sim.Launch(context.Background()))
	chk.Equal(12.0, sim.WorkflowCompletionDate())
	trace := sim.TaskCompletionTrace()
	chk.Equal([]string{"t1", "t2", "t3"}, []string{trace[0].TaskID, trace[1].TaskID, trace[2].TaskID})
}

func TestLaunchCloudBootDelay(t *testing.T) {
	chk := require.New(t)
	s := defaultSetup()
	s.policy = engine.PolicyCloud
	s.bootDelay = "0.5"
	sim := prepare(t, s, engine.Options{})
	chk.NoError(sim.Launch(context.Background()))
	chk.Equal(9.0, sim.WorkflowCompletionDate())
	a, ok := sim.TaskCompletionTrace()[0].Latest()
	chk.True(ok)
	chk.Equal("CloudNode1", a.Host)
	chk.Equal(0.5, a.ReadInputStart)
}

func TestLaunchRoundRobin(t *testing.T) {
	chk := require.New(t)
	s := defaultSetup()
	s.policy = engine.PolicyRoundRobin
	sim := prepare(t, s, engine.Options{})
	chk.NoError(sim.Launch(context.Background()))
	hosts := map[string]bool{}
	for _, rec := range sim.TaskCompletionTrace() {
		a, _ := rec.Latest()
		hosts[a.Host] = true
	}
	chk.Equal(map[string]bool{"BatchNode1": true, "CloudNode1": true}, hosts)
}

func TestLaunchWithoutTimestamps(t *testing.T) {
	chk := require.New(t)
	s := defaultSetup()
	s.timestamps = false
	sim := prepare(t, s, engine.Options{})
	chk.NoError(sim.Launch(context.Background()))
	chk.Empty(sim.TaskCompletionTrace())
	chk.Equal(8.0, sim.WorkflowCompletionDate())
}

func TestLaunchRetries(t *testing.T) {
	chk := require.New(t)
	for seed := range uint64(20) {
		sim := prepare(t, defaultSetup(), engine.Options{
			Seed:                   seed,
			TaskFailureProbability: 0.5,
			MaxAttempts:            64,
		})
		chk.NoError(sim.Launch(context.Background()))
		trace := sim.TaskCompletionTrace()
		chk.Len(trace, 3)
		for _, rec := range trace {
			for i, a := range rec.History {
				chk.Equal(i < len(rec.History)-1, a.Failed)
				chk.NoError(a.Validate())
			}
		}
		chk.GreaterOrEqual(sim.WorkflowCompletionDate(), 8.0)
	}
}

func TestLaunchDeterministic(t *testing.T) {
	chk := require.New(t)
	opts := engine.Options{Seed: 7, TaskFailureProbability: 0.3, MaxAttempts: 64}
	a := prepare(t, defaultSetup(), opts)
	b := prepare(t, defaultSetup(), opts)
	chk.NoError(a.Launch(context.Background()))
	chk.NoError(b.Launch(context.Background()))
	chk.Equal(a.TaskCompletionTrace(), b.TaskCompletionTrace())
	chk.Equal(a.WorkflowCompletionDate(), b.WorkflowCompletionDate())
}

func TestLaunchErrors(t *testing.T) {
	t.Run("attempts exhausted", func(t *testing.T) {
		sim := prepare(t, defaultSetup(), engine.Options{TaskFailureProbability: 1, MaxAttempts: 2})
		err := sim.Launch(context.Background())
		require.ErrorIs(t, err, engine.ErrTaskFailed)
		_, err = sim.EnergyConsumed("WMSHost")
		require.ErrorIs(t, err, engine.ErrOutOfOrder)
	})
	t.Run("missing input", func(t *testing.T) {
		s := defaultSetup()
		s.skipStage = map[string]bool{"in2": true}
		sim := prepare(t, s, engine.Options{})
		require.ErrorIs(t, sim.Launch(context.Background()), engine.ErrMissingInput)
	})
	t.Run("unschedulable", func(t *testing.T) {
		s := defaultSetup()
		s.workflow = writeFile(t, "wide.json", `{"workflow": {"tasks": [{"name": "w", "runtime": 1, "cores": 8, "files": []}]}}`)
		sim := prepare(t, s, engine.Options{})
		require.ErrorIs(t, sim.Launch(context.Background()), engine.ErrUnschedulable)
	})
	t.Run("canceled", func(t *testing.T) {
		sim := prepare(t, defaultSetup(), engine.Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.ErrorIs(t, sim.Launch(ctx), context.Canceled)
	})
	t.Run("output exceeds capacity", func(t *testing.T) {
		s := defaultSetup()
		s.platform = writeFile(t, "small.yaml", `
hosts:
  - {name: WMSHost, speed: 100Gf, disk: {capacity: 320B}}
  - {name: BatchHeadNode, speed: 100Gf}
  - {name: BatchNode1, cores: 4, speed: 100Gf}
  - {name: CloudHeadNode, speed: 100Gf}
  - {name: CloudNode1, cores: 2, speed: 100Gf}
`)
		sim := prepare(t, s, engine.Options{})
		require.ErrorIs(t, sim.Launch(context.Background()), engine.ErrStorageFull)
	})
}

func TestServiceConfiguration(t *testing.T) {
	newSim := func(t *testing.T) *engine.Simulation {
		sim := engine.NewSimulation(engine.Options{})
		require.NoError(t, sim.LoadWorkflow("testdata/diamond.json", engine.DefaultReferenceFlops))
		require.NoError(t, sim.InstantiatePlatform("testdata/platform.yaml"))
		return sim
	}

	t.Run("backfilling rejected", func(t *testing.T) {
		err := newSim(t).AddBatchComputeService(engine.ComputeServiceSpec{
			HeadHost:   "BatchHeadNode",
			Nodes:      []string{"BatchNode1"},
			Properties: map[string]string{engine.PropBatchSchedulingAlgorithm: "conservative_bf_core_level"},
		})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("negative payload", func(t *testing.T) {
		err := newSim(t).AddCloudComputeService(engine.ComputeServiceSpec{
			HeadHost:        "CloudHeadNode",
			Nodes:           []string{"CloudNode1"},
			MessagePayloads: map[string]float64{engine.PayloadStopDaemon: -1},
		})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("unknown property", func(t *testing.T) {
		err := newSim(t).AddCloudComputeService(engine.ComputeServiceSpec{
			HeadHost:   "CloudHeadNode",
			Nodes:      []string{"CloudNode1"},
			Properties: map[string]string{engine.PropBatchSchedulingAlgorithm: engine.BatchFCFS},
		})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("bad boot delay", func(t *testing.T) {
		err := newSim(t).AddCloudComputeService(engine.ComputeServiceSpec{
			HeadHost:   "CloudHeadNode",
			Nodes:      []string{"CloudNode1"},
			Properties: map[string]string{engine.PropVMBootOverhead: "soon"},
		})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("unknown host", func(t *testing.T) {
		sim := newSim(t)
		require.ErrorIs(t, sim.AddStorageService(engine.StorageServiceSpec{Host: "Nowhere"}), engine.ErrUnknownHost)
		require.ErrorIs(t, sim.AddBatchComputeService(engine.ComputeServiceSpec{
			HeadHost: "BatchHeadNode",
			Nodes:    []string{"BatchNode9"},
		}), engine.ErrUnknownHost)
		require.ErrorIs(t, sim.AddFileRegistryService("Nowhere"), engine.ErrUnknownHost)
	})
	t.Run("no nodes", func(t *testing.T) {
		err := newSim(t).AddBatchComputeService(engine.ComputeServiceSpec{HeadHost: "BatchHeadNode"})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("wrong mount", func(t *testing.T) {
		err := newSim(t).AddStorageService(engine.StorageServiceSpec{Host: "WMSHost", Mount: "/scratch"})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("controller without services", func(t *testing.T) {
		err := newSim(t).AddExecutionController(engine.ControllerSpec{Host: "WMSHost", Policy: engine.PolicyBatch})
		require.ErrorIs(t, err, engine.ErrOutOfOrder)
	})
	t.Run("unknown policy", func(t *testing.T) {
		err := newSim(t).AddExecutionController(engine.ControllerSpec{Host: "WMSHost", Policy: "random"})
		require.ErrorIs(t, err, engine.ErrInvalidServiceConfig)
	})
	t.Run("services before platform", func(t *testing.T) {
		sim := engine.NewSimulation(engine.Options{})
		require.ErrorIs(t, sim.AddStorageService(engine.StorageServiceSpec{Host: "WMSHost"}), engine.ErrOutOfOrder)
		require.ErrorIs(t, sim.Launch(context.Background()), engine.ErrOutOfOrder)
	})
}

func TestStaging(t *testing.T) {
	chk := require.New(t)
	sim := engine.NewSimulation(engine.Options{})
	chk.NoError(sim.LoadWorkflow("testdata/diamond.json", engine.DefaultReferenceFlops))
	chk.NoError(sim.InstantiatePlatform(writeFile(t, "small.yaml", `
hosts:
  - {name: WMSHost, speed: 100Gf, disk: {capacity: 250B}}
`)))
	chk.ErrorIs(sim.StageFile("in1"), engine.ErrOutOfOrder)
	chk.NoError(sim.AddStorageService(engine.StorageServiceSpec{Host: "WMSHost"}))
	chk.NoError(sim.AddFileRegistryService("WMSHost"))

	chk.NoError(sim.StageFile("in1"))
	chk.ErrorIs(sim.StageFile("in1"), engine.ErrAlreadyStaged)
	chk.ErrorIs(sim.StageFile("nope"), engine.ErrUnknownFile)
	chk.NoError(sim.StageFile("in2"))
	chk.ErrorIs(sim.StageFile("in3"), engine.ErrStorageFull)
}

func TestInit(t *testing.T) {
	chk := require.New(t)
	rest, flags := engine.Init([]string{"p.xml", "--log=root.threshold=debug", "w.json", "--help-engine", "--log=engine.threshold=warn"})
	chk.Equal([]string{"p.xml", "w.json"}, rest)
	chk.Equal([]string{"root.threshold=debug", "engine.threshold=warn"}, flags.LogSpecs)
	chk.True(flags.Help)

	rest, flags = engine.Init(nil)
	chk.Empty(rest)
	chk.False(flags.Help)
}
