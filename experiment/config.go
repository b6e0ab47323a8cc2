// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package experiment

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/petenewcomb/wfsim"
	"github.com/petenewcomb/wfsim/engine"
	"gopkg.in/yaml.v2"
)

// StorageConfig places the storage service.
type StorageConfig struct {
	Host  string `yaml:"host"`
	Mount string `yaml:"mount"`
}

// ComputeServiceConfig describes a batch or cloud compute service. A
// service with an empty head host is not created.
type ComputeServiceConfig struct {
	HeadHost        string             `yaml:"head_host"`
	Nodes           []string           `yaml:"nodes"`
	Properties      map[string]string  `yaml:"properties"`
	MessagePayloads map[string]float64 `yaml:"message_payloads"`
}

func (c *ComputeServiceConfig) enabled() bool {
	return c.HeadHost != ""
}

func (c *ComputeServiceConfig) spec() engine.ComputeServiceSpec {
	return engine.ComputeServiceSpec{
		HeadHost:        c.HeadHost,
		Nodes:           c.Nodes,
		Properties:      c.Properties,
		MessagePayloads: c.MessagePayloads,
	}
}

// ControllerConfig places the workflow execution controller.
type ControllerConfig struct {
	Host   string `yaml:"host"`
	Policy string `yaml:"policy"`
}

// FileRegistryConfig places the file registry. An empty host selects the
// second platform host when there are more than two, else the first.
type FileRegistryConfig struct {
	Host string `yaml:"host"`
}

// EngineConfig holds engine options.
type EngineConfig struct {
	Seed                   uint64  `yaml:"seed"`
	TaskFailureProbability float64 `yaml:"task_failure_probability"`
	MaxAttempts            int     `yaml:"max_attempts"`
}

// ReportConfig controls what is written once a run completes.
type ReportConfig struct {
	CSVPath string `yaml:"csv_path"`
	// Columns is "extended" or "basic".
	Columns         string `yaml:"columns"`
	Precision       int    `yaml:"precision"`
	UndefinedMarker string `yaml:"undefined_marker"`
	RunIDPrefix     string `yaml:"run_id_prefix"`
	// ZeroIO is "zero", "exclude" or "abort".
	ZeroIO string `yaml:"zero_io"`
	// SQLitePath and PowerChartPath enable the optional outputs.
	SQLitePath     string `yaml:"sqlite_path"`
	PowerChartPath string `yaml:"power_chart_path"`
}

// TelemetryConfig controls span and metric export.
type TelemetryConfig struct {
	// TracePath receives the run's spans as JSON when set.
	TracePath string `yaml:"trace_path"`
	// MetricsPath receives the stage counters and durations as JSON when
	// set.
	MetricsPath string `yaml:"metrics_path"`
}

// Config is the experiment configuration.
type Config struct {
	ReferenceFlops string               `yaml:"reference_flops"`
	Storage        StorageConfig        `yaml:"storage"`
	Batch          ComputeServiceConfig `yaml:"batch"`
	Cloud          ComputeServiceConfig `yaml:"cloud"`
	Controller     ControllerConfig     `yaml:"controller"`
	FileRegistry   FileRegistryConfig   `yaml:"file_registry"`
	Engine         EngineConfig         `yaml:"engine"`
	GraphDumpPath  string               `yaml:"graph_dump_path"`
	Report         ReportConfig         `yaml:"report"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
}

// DefaultConfig returns the configuration used when no file is given: a
// storage service on WMSHost, a three-node batch cluster and a three-node
// cloud, as in the reference experiment.
func DefaultConfig() *Config {
	return &Config{
		ReferenceFlops: "100Gf",
		Storage:        StorageConfig{Host: "WMSHost", Mount: "/"},
		Batch: ComputeServiceConfig{
			HeadHost:        "BatchHeadNode",
			Nodes:           []string{"BatchNode1", "BatchNode2", "BatchNode3"},
			Properties:      map[string]string{engine.PropBatchSchedulingAlgorithm: engine.BatchFCFSCoreLevel},
			MessagePayloads: map[string]float64{engine.PayloadStopDaemon: 2048},
		},
		Cloud: ComputeServiceConfig{
			HeadHost:        "CloudHeadNode",
			Nodes:           []string{"CloudNode1", "CloudNode2", "CloudNode3"},
			MessagePayloads: map[string]float64{engine.PayloadStopDaemon: 1024},
		},
		Controller:    ControllerConfig{Host: "WMSHost", Policy: engine.PolicyRoundRobin},
		Engine:        EngineConfig{MaxAttempts: 1},
		GraphDumpPath: "/tmp/workflow.json",
		Report: ReportConfig{
			CSVPath:         "execution_output.csv",
			Columns:         "extended",
			Precision:       wfsim.DefaultCellFormat.Precision,
			UndefinedMarker: wfsim.DefaultCellFormat.UndefinedMarker,
			RunIDPrefix:     wfsim.DefaultRunIDPrefix,
			ZeroIO:          "zero",
		},
	}
}

// LoadConfig reads a YAML configuration file over the defaults. Unknown
// keys are rejected.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.SetStrict(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfiguration, path, err)
	}
	return config, nil
}

// Validate checks the values the engine does not check itself. Service
// parameters are validated when the services are added.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
	}
	if f, err := engine.ParseFlops(c.ReferenceFlops); err != nil || f <= 0 {
		return fail("reference_flops %q is not a positive flop rate", c.ReferenceFlops)
	}
	if c.Storage.Host == "" {
		return fail("storage.host is required")
	}
	if c.Controller.Host == "" {
		return fail("controller.host is required")
	}
	if !c.Batch.enabled() && !c.Cloud.enabled() {
		return fail("at least one of batch and cloud must have a head_host")
	}
	p := c.Engine.TaskFailureProbability
	if p < 0 || p > 1 || math.IsNaN(p) {
		return fail("engine.task_failure_probability %v is outside [0, 1]", p)
	}
	if c.Engine.MaxAttempts < 1 {
		return fail("engine.max_attempts must be at least 1")
	}
	if c.Report.CSVPath == "" {
		return fail("report.csv_path is required")
	}
	if _, err := wfsim.ColumnSet(c.Report.Columns); err != nil {
		return fail("report.columns: %v", err)
	}
	if c.Report.Precision < -1 {
		return fail("report.precision must be -1 (shortest) or non-negative")
	}
	if _, err := wfsim.ParseZeroIOPolicy(c.Report.ZeroIO); err != nil {
		return fail("report.zero_io: %v", err)
	}
	return nil
}

func (c *Config) referenceFlops() float64 {
	f, _ := engine.ParseFlops(c.ReferenceFlops)
	return f
}

func (c *Config) cellFormat() wfsim.CellFormat {
	return wfsim.CellFormat{Precision: c.Report.Precision, UndefinedMarker: c.Report.UndefinedMarker}
}

// fileRegistryHost applies the default placement rule.
func (c *Config) fileRegistryHost(hostnames []string) string {
	if c.FileRegistry.Host != "" {
		return c.FileRegistry.Host
	}
	if len(hostnames) > 2 {
		return hostnames[1]
	}
	if len(hostnames) > 0 {
		return hostnames[0]
	}
	return ""
}
