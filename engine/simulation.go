// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package engine

import (
	"fmt"
	"io"
	"strings"

	"github.com/petenewcomb/wfsim"
	"go.uber.org/zap"
)

// DefaultReferenceFlops is the speed WfCommons runtimes are assumed to have
// been recorded at.
const DefaultReferenceFlops = 100e9

// Flags holds the engine options found on a command line.
type Flags struct {
	// LogSpecs are the values of --log= options, such as
	// "engine.threshold=debug".
	LogSpecs []string
	// Help is set by --help-engine.
	Help bool
}

// Init removes the engine's own options from args and returns the remaining
// arguments together with the options found. args should not include the
// program name.
func Init(args []string) ([]string, Flags) {
	var flags Flags
	rest := make([]string, 0, len(args))
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--log="):
			flags.LogSpecs = append(flags.LogSpecs, strings.TrimPrefix(arg, "--log="))
		case arg == "--help-engine":
			flags.Help = true
		default:
			rest = append(rest, arg)
		}
	}
	return rest, flags
}

// Usage describes the engine options.
func Usage(w io.Writer) {
	fmt.Fprint(w, `Engine options:
  --log=<category>.threshold=<level>
        set the log level of a category (root, engine, experiment, report)
        to debug, info, warn, error or critical; may be repeated
  --help-engine
        show this help
`)
}

// Options configure a Simulation.
type Options struct {
	// Seed drives every random choice the engine makes.
	Seed uint64
	// TaskFailureProbability is the chance that an attempt fails at the end
	// of its computation phase.
	TaskFailureProbability float64
	// MaxAttempts bounds the attempts per task; zero means one attempt.
	MaxAttempts int
}

// EnergySample is the cumulative energy of a host at a simulated date.
type EnergySample struct {
	Time   float64
	Host   string
	Joules float64
}

// Simulation is a single-use simulation. Its methods must be called in
// lifecycle order: load the workflow and platform, add services, stage
// input files, enable timestamps, Launch, then read the results.
type Simulation struct {
	opts   Options
	logger *zap.Logger

	workflow   *Workflow
	platform   *Platform
	storage    *storageService
	batch      *computeService
	cloud      *computeService
	controller *controller
	registry   *fileRegistry

	taskTimestamps   bool
	energyTimestamps bool
	launched         bool
	completed        bool

	trace       []wfsim.TaskExecutionRecord
	energy      map[string]float64
	energyTrace []EnergySample
	completion  float64
}

// NewSimulation returns an empty simulation.
func NewSimulation(opts Options) *Simulation {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Simulation{
		opts:   opts,
		logger: zap.L().Named("engine"),
	}
}

func (s *Simulation) checkNotLaunched(step string) error {
	if s.launched {
		return fmt.Errorf("%w: %s after launch", ErrOutOfOrder, step)
	}
	return nil
}

func (s *Simulation) checkPlatform(step string) error {
	if err := s.checkNotLaunched(step); err != nil {
		return err
	}
	if s.platform == nil {
		return fmt.Errorf("%w: %s before the platform is instantiated", ErrOutOfOrder, step)
	}
	return nil
}

// LoadWorkflow loads a WfCommons workflow; see the package function of the
// same name.
func (s *Simulation) LoadWorkflow(path string, referenceFlops float64) error {
	if err := s.checkNotLaunched("loading a workflow"); err != nil {
		return err
	}
	w, err := LoadWorkflow(path, referenceFlops)
	if err != nil {
		return err
	}
	s.workflow = w
	s.logger.Debug("workflow loaded",
		zap.String("path", path),
		zap.String("name", w.Name),
		zap.Int("tasks", len(w.Tasks)),
		zap.Int("files", len(w.Files)))
	return nil
}

// InstantiatePlatform loads the platform description at path.
func (s *Simulation) InstantiatePlatform(path string) error {
	if err := s.checkNotLaunched("instantiating the platform"); err != nil {
		return err
	}
	if s.platform != nil {
		return fmt.Errorf("%w: platform already instantiated", ErrOutOfOrder)
	}
	p, err := LoadPlatform(path)
	if err != nil {
		return err
	}
	s.platform = p
	s.logger.Debug("platform instantiated", zap.String("path", path), zap.Strings("hosts", s.Hostnames()))
	return nil
}

// Hostnames returns the platform's hosts in declaration order.
func (s *Simulation) Hostnames() []string {
	if s.platform == nil {
		return nil
	}
	names := make([]string, len(s.platform.Hosts))
	for i, h := range s.platform.Hosts {
		names[i] = h.Name
	}
	return names
}

// AddStorageService adds the storage service that holds every workflow
// file.
func (s *Simulation) AddStorageService(spec StorageServiceSpec) error {
	if err := s.checkPlatform("adding a storage service"); err != nil {
		return err
	}
	if s.storage != nil {
		return fmt.Errorf("%w: only one storage service is supported", ErrInvalidServiceConfig)
	}
	ss, err := newStorageService(s.platform, spec)
	if err != nil {
		return err
	}
	s.storage = ss
	s.logger.Debug("storage service added", zap.String("host", ss.host.Name), zap.String("mount", ss.mount))
	return nil
}

// AddBatchComputeService adds the batch-scheduled cluster.
func (s *Simulation) AddBatchComputeService(spec ComputeServiceSpec) error {
	if err := s.checkPlatform("adding a batch compute service"); err != nil {
		return err
	}
	if s.batch != nil {
		return fmt.Errorf("%w: only one batch compute service is supported", ErrInvalidServiceConfig)
	}
	cs, err := newBatchService(s.platform, spec)
	if err != nil {
		return err
	}
	s.batch = cs
	s.logger.Debug("batch compute service added",
		zap.String("head", cs.head.Name),
		zap.Strings("nodes", spec.Nodes),
		zap.Bool("exclusive", cs.exclusive))
	return nil
}

// AddCloudComputeService adds the elastic compute pool.
func (s *Simulation) AddCloudComputeService(spec ComputeServiceSpec) error {
	if err := s.checkPlatform("adding a cloud compute service"); err != nil {
		return err
	}
	if s.cloud != nil {
		return fmt.Errorf("%w: only one cloud compute service is supported", ErrInvalidServiceConfig)
	}
	cs, err := newCloudService(s.platform, spec)
	if err != nil {
		return err
	}
	s.cloud = cs
	s.logger.Debug("cloud compute service added",
		zap.String("head", cs.head.Name),
		zap.Strings("nodes", spec.Nodes),
		zap.Float64("bootDelay", cs.bootDelay))
	return nil
}

// AddExecutionController adds the controller that submits ready tasks to
// the compute services. It must follow the compute services it uses.
func (s *Simulation) AddExecutionController(spec ControllerSpec) error {
	if err := s.checkPlatform("adding an execution controller"); err != nil {
		return err
	}
	if s.workflow == nil {
		return fmt.Errorf("%w: adding an execution controller before loading the workflow", ErrOutOfOrder)
	}
	if s.controller != nil {
		return fmt.Errorf("%w: only one execution controller is supported", ErrInvalidServiceConfig)
	}
	c, err := newController(s.platform, spec, s.batch, s.cloud)
	if err != nil {
		return err
	}
	s.controller = c
	s.logger.Debug("execution controller added", zap.String("host", c.host.Name), zap.String("policy", spec.Policy))
	return nil
}

// AddFileRegistryService adds the service that tracks file locations.
func (s *Simulation) AddFileRegistryService(host string) error {
	if err := s.checkPlatform("adding a file registry service"); err != nil {
		return err
	}
	if s.registry != nil {
		return fmt.Errorf("%w: only one file registry service is supported", ErrInvalidServiceConfig)
	}
	r, err := newFileRegistry(s.platform, host)
	if err != nil {
		return err
	}
	s.registry = r
	s.logger.Debug("file registry service added", zap.String("host", host))
	return nil
}

// WorkflowInputFiles returns the ids of the files no task produces, sorted.
func (s *Simulation) WorkflowInputFiles() []string {
	if s.workflow == nil {
		return nil
	}
	files := s.workflow.InputFiles()
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}

// StageFile places a workflow file on the storage service before launch and
// registers its location.
func (s *Simulation) StageFile(id string) error {
	if err := s.checkNotLaunched("staging a file"); err != nil {
		return err
	}
	if s.workflow == nil || s.storage == nil || s.registry == nil {
		return fmt.Errorf("%w: staging requires a workflow, a storage service and a file registry", ErrOutOfOrder)
	}
	f, ok := s.workflow.Files[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFile, id)
	}
	if err := s.storage.store(f); err != nil {
		return err
	}
	s.registry.add(f, s.storage)
	return nil
}

// EnableTaskTimestamps turns on collection of the task completion trace.
// Without it the trace is empty.
func (s *Simulation) EnableTaskTimestamps() {
	s.taskTimestamps = true
}

// EnableEnergyTimestamps turns on collection of per-host energy samples.
// Total energy per host is always available.
func (s *Simulation) EnableEnergyTimestamps() {
	s.energyTimestamps = true
}

// DumpWorkflowGraph writes the loaded workflow's graph as JSON to path.
func (s *Simulation) DumpWorkflowGraph(path string) error {
	if s.workflow == nil {
		return fmt.Errorf("%w: no workflow loaded", ErrOutOfOrder)
	}
	return s.workflow.WriteGraph(path)
}

// TaskCompletionTrace returns one record per completed task in completion
// order.
func (s *Simulation) TaskCompletionTrace() []wfsim.TaskExecutionRecord {
	return s.trace
}

// EnergyTrace returns the energy samples collected since
// EnableEnergyTimestamps.
func (s *Simulation) EnergyTrace() []EnergySample {
	return s.energyTrace
}

// HostNumCores returns the core count of a host.
func (s *Simulation) HostNumCores(host string) (int, error) {
	if s.platform == nil {
		return 0, fmt.Errorf("%w: no platform", ErrOutOfOrder)
	}
	h, ok := s.platform.Host(host)
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownHost, host)
	}
	return h.Cores, nil
}

// EnergyConsumed returns the joules a host consumed from the start of the
// simulation until the workflow completed.
func (s *Simulation) EnergyConsumed(host string) (float64, error) {
	if !s.completed {
		return 0, fmt.Errorf("%w: energy is only known after a completed launch", ErrOutOfOrder)
	}
	e, ok := s.energy[host]
	if !ok {
		return 0, fmt.Errorf("%w %q", ErrUnknownHost, host)
	}
	return e, nil
}

// WorkflowTaskCount returns the number of tasks in the workflow.
func (s *Simulation) WorkflowTaskCount() int {
	if s.workflow == nil {
		return 0
	}
	return len(s.workflow.Tasks)
}

// WorkflowCompletionDate returns the simulated date at which the last task
// completed.
func (s *Simulation) WorkflowCompletionDate() float64 {
	return s.completion
}
