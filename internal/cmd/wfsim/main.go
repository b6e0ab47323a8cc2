// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

// Command wfsim simulates a workflow on a platform and appends per-host
// metrics for the run to a CSV report.
//
// Usage:
//
//	wfsim [-config file] <platform_file> <workflow_file> [--log=<category>.threshold=<level> ...]
//	wfsim [-config file] -init-report
//
// Options may follow the positional arguments. Once both files are named,
// any further unrecognized --option is taken to be meant for a simulation
// engine this one does not emulate; it is logged and ignored.
//
// The exit status is 0 when the run completed, 1 for usage and
// configuration errors and 2 when staging or the simulation itself failed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/petenewcomb/wfsim"
	"github.com/petenewcomb/wfsim/engine"
	"github.com/petenewcomb/wfsim/experiment"
	"github.com/petenewcomb/wfsim/internal/logutil"
	"github.com/petenewcomb/wfsim/report"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	rest, engineFlags := engine.Init(args)
	if err := logutil.InitLogger(engineFlags.LogSpecs); err != nil {
		fmt.Fprintf(stderr, "wfsim: %v\n", err)
		return experiment.ExitConfiguration
	}
	logger := logutil.GetLogger()
	defer func() { _ = logger.Sync() }()

	fs := flag.NewFlagSet("wfsim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "experiment configuration `file` (YAML); built-in defaults when empty")
	initReport := fs.Bool("init-report", false, "write the report header if the report is empty, then exit")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: wfsim [-config file] <platform_file> <workflow_file> [--log=...]\n")
		fmt.Fprintf(stderr, "       wfsim [-config file] -init-report\n\n")
		fmt.Fprintf(stderr, "Options may also follow the files. Unrecognized --options after both files\n")
		fmt.Fprintf(stderr, "are ignored with a warning.\n\n")
		fs.PrintDefaults()
		fmt.Fprintln(stderr)
		engine.Usage(stderr)
	}
	if engineFlags.Help {
		engine.Usage(stderr)
		return experiment.ExitCompleted
	}
	positionals, ignored, err := parseArgs(fs, rest)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return experiment.ExitCompleted
		}
		return experiment.ExitConfiguration
	}
	for _, arg := range ignored {
		logger.Warn("Ignoring unsupported engine option", zap.String("option", arg))
	}

	cfg := experiment.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = experiment.LoadConfig(*configPath); err != nil {
			logger.Error("Cannot load configuration", zap.Error(err))
			return experiment.ExitConfiguration
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return experiment.ExitConfiguration
	}

	if *initReport {
		if len(positionals) != 0 {
			fs.Usage()
			return experiment.ExitConfiguration
		}
		columns, _ := wfsim.ColumnSet(cfg.Report.Columns)
		w := report.NewCSVWriter(cfg.Report.CSVPath, columns, wfsim.CellFormat{})
		if err := w.EnsureHeader(); err != nil {
			logger.Error("Cannot initialize report", zap.String("path", cfg.Report.CSVPath), zap.Error(err))
			return experiment.ExitAborted
		}
		return experiment.ExitCompleted
	}

	if len(positionals) != 2 {
		fs.Usage()
		return experiment.ExitConfiguration
	}

	shutdownTelemetry, err := experiment.SetupTelemetry(cfg.Telemetry)
	if err != nil {
		logger.Error("Cannot set up telemetry", zap.Error(err))
		return experiment.ExitConfiguration
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := experiment.New(cfg).Run(ctx, positionals[0], positionals[1])
	if res.Outcome == experiment.Aborted {
		fmt.Fprintf(stderr, "wfsim: run aborted at %s: %v\n", res.Stage, res.Err)
	}
	return res.ExitCode()
}

// parseArgs parses flags wherever they appear among the positional
// arguments. Once two positionals have been seen, double-dash options the
// flag set does not define are returned as ignored instead of failing.
func parseArgs(fs *flag.FlagSet, args []string) (positionals, ignored []string, err error) {
	for {
		for len(args) > 0 && len(positionals) >= 2 && isForeignOption(fs, args[0]) {
			ignored = append(ignored, args[0])
			args = args[1:]
		}
		if err := fs.Parse(args); err != nil {
			return nil, nil, err
		}
		args = fs.Args()
		if len(args) == 0 {
			return positionals, ignored, nil
		}
		positionals = append(positionals, args[0])
		args = args[1:]
	}
}

func isForeignOption(fs *flag.FlagSet, arg string) bool {
	if !strings.HasPrefix(arg, "--") || arg == "--" {
		return false
	}
	name, _, _ := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
	return fs.Lookup(name) == nil
}
