// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/petenewcomb/wfsim/experiment"
	"github.com/stretchr/testify/require"
)

const (
	platformPath = "../../../engine/testdata/platform.yaml"
	workflowPath = "../../../engine/testdata/diamond.json"
)

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	content := `
batch:
  nodes: [BatchNode1]
cloud:
  nodes: [CloudNode1]
controller:
  policy: batch
graph_dump_path: ` + filepath.Join(dir, "workflow.json") + `
report:
  csv_path: ` + filepath.Join(dir, "report.csv") + `
` + extra
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readRecords(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunCompletes(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()
	config := writeConfig(t, dir, "")

	var stderr bytes.Buffer
	chk.Equal(experiment.ExitCompleted, run([]string{"-config", config, platformPath, workflowPath, "--log=root.threshold=warning"}, &stderr))

	records := readRecords(t, filepath.Join(dir, "report.csv"))
	chk.Len(records, 6)
	chk.Equal("run_id", records[0][0])
	for _, record := range records[1:] {
		chk.Equal("extk-3", record[0])
	}
	chk.FileExists(filepath.Join(dir, "workflow.json"))

	// A second run appends below the same header.
	chk.Equal(experiment.ExitCompleted, run([]string{"-config", config, platformPath, workflowPath}, &stderr))
	chk.Len(readRecords(t, filepath.Join(dir, "report.csv")), 11)
}

func TestRunUsage(t *testing.T) {
	chk := require.New(t)

	var stderr bytes.Buffer
	chk.Equal(experiment.ExitConfiguration, run([]string{platformPath}, &stderr))
	chk.Contains(stderr.String(), "usage: wfsim")

	stderr.Reset()
	chk.Equal(experiment.ExitConfiguration, run([]string{"-bogus", platformPath, workflowPath}, &stderr))

	stderr.Reset()
	chk.Equal(experiment.ExitCompleted, run([]string{"--help-engine"}, &stderr))
	chk.Contains(stderr.String(), "--log=")
}

func TestRunOptionsAfterFiles(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()
	config := writeConfig(t, dir, "")

	var stderr bytes.Buffer
	chk.Equal(experiment.ExitCompleted, run([]string{platformPath, workflowPath, "-config", config}, &stderr))
	chk.Len(readRecords(t, filepath.Join(dir, "report.csv")), 6)

	stderr.Reset()
	chk.Equal(experiment.ExitCompleted, run([]string{platformPath, "-config", config, workflowPath, "--cfg=network/model:CM02", "--log=root.threshold=warning"}, &stderr))
	chk.Len(readRecords(t, filepath.Join(dir, "report.csv")), 11)

	// Unknown options before both files are named are still usage errors.
	chk.Equal(experiment.ExitConfiguration, run([]string{"-config", config, platformPath, "--cfg=network/model:CM02", workflowPath}, &stderr))
	chk.Equal(experiment.ExitConfiguration, run([]string{"-config", config, platformPath, workflowPath, "extra.json"}, &stderr))
	chk.Len(readRecords(t, filepath.Join(dir, "report.csv")), 11)
}

func TestRunConfigurationErrors(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()

	var stderr bytes.Buffer
	chk.Equal(experiment.ExitConfiguration, run([]string{"-config", filepath.Join(dir, "absent.yaml"), platformPath, workflowPath}, &stderr))
	chk.Equal(experiment.ExitConfiguration, run([]string{"-config", writeConfig(t, dir, "  zero_io: skip\n"), platformPath, workflowPath}, &stderr))
	chk.Equal(experiment.ExitConfiguration, run([]string{"--log=root.threshold=loud", platformPath, workflowPath}, &stderr))
	chk.Equal(experiment.ExitConfiguration, run([]string{"-config", writeConfig(t, dir, ""), filepath.Join(dir, "absent.xml"), workflowPath}, &stderr))
	chk.NoFileExists(filepath.Join(dir, "report.csv"))
}

func TestRunAborted(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()
	config := writeConfig(t, dir, "engine:\n  task_failure_probability: 1\n")

	var stderr bytes.Buffer
	chk.Equal(experiment.ExitAborted, run([]string{"-config", config, platformPath, workflowPath}, &stderr))
	chk.Contains(stderr.String(), "run aborted at launch")
	chk.NoFileExists(filepath.Join(dir, "report.csv"))
}

func TestRunInitReport(t *testing.T) {
	chk := require.New(t)
	dir := t.TempDir()
	config := writeConfig(t, dir, "  columns: basic\n")

	var stderr bytes.Buffer
	chk.Equal(experiment.ExitCompleted, run([]string{"-config", config, "-init-report"}, &stderr))
	content, err := os.ReadFile(filepath.Join(dir, "report.csv"))
	chk.NoError(err)
	chk.Equal(1, strings.Count(string(content), "\n"))
	chk.True(strings.HasPrefix(string(content), "runid,host_name,"))

	// Already initialized reports are left alone.
	chk.Equal(experiment.ExitCompleted, run([]string{"-config", config, "-init-report"}, &stderr))
	again, err := os.ReadFile(filepath.Join(dir, "report.csv"))
	chk.NoError(err)
	chk.Equal(content, again)

	chk.Equal(experiment.ExitConfiguration, run([]string{"-config", config, "-init-report", platformPath}, &stderr))
}
