// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package report_test

import (
	"encoding/csv"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/petenewcomb/wfsim"
	"github.com/petenewcomb/wfsim/report"
	"github.com/stretchr/testify/require"
)

func sampleRows(runID string, hosts ...string) []wfsim.HostMetricRow {
	rows := make([]wfsim.HostMetricRow, len(hosts))
	for i, h := range hosts {
		rows[i] = wfsim.HostMetricRow{
			RunID:           runID,
			HostName:        h,
			HostCoreCount:   4,
			CoreAllocations: []int{1, 2},
			TaskCount:       2,
			TraceSize:       2,
			AvgTaskDuration: wfsim.Defined(1.5),
			CommCompRatio:   wfsim.Defined(1),
			ComputeTime:     3,
			CompletionTime:  10,
			Power:           wfsim.Ratio(float64(10*(i+1)), 10),
		}
	}
	return rows
}

func readRecords(t *testing.T, path string) [][]string {
	chk := require.New(t)
	f, err := os.Open(path)
	chk.NoError(err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	chk.NoError(err)
	return records
}

func TestAppendWritesHeaderOnce(t *testing.T) {
	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	w := report.NewCSVWriter(path, nil, wfsim.DefaultCellFormat)

	chk.NoError(w.Append(sampleRows("extk-2", "A", "B")))
	chk.NoError(w.Append(sampleRows("extk-2", "A", "B")))

	records := readRecords(t, path)
	chk.Len(records, 5)
	chk.Equal(wfsim.Headers(wfsim.ExtendedColumns), records[0])
	for _, rec := range records[1:] {
		chk.NotEqual("run_id", rec[0])
		chk.Equal("extk-2", rec[0])
		chk.Equal("1;2", rec[3])
	}
	chk.Equal("1.00", records[1][14])
	chk.Equal("2.00", records[2][14])
}

func TestAppendToPreexistingSink(t *testing.T) {
	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	header := strings.Join(wfsim.Headers(wfsim.BasicColumns), ",") + "\n"
	existing := header + "extk-1,H,1,1,1,0,1.00,1.00,1.00,0.50,2.00,3.00\n"
	chk.NoError(os.WriteFile(path, []byte(existing), 0o644))

	w := report.NewCSVWriter(path, wfsim.BasicColumns, wfsim.DefaultCellFormat)
	chk.NoError(w.Append(sampleRows("extk-2", "A")))
	chk.NoError(w.Append(sampleRows("extk-2", "B")))

	records := readRecords(t, path)
	chk.Len(records, 4)
	headerCount := 0
	for _, rec := range records {
		if rec[0] == "runid" {
			headerCount++
		}
	}
	chk.Equal(1, headerCount)
	chk.Equal("A", records[2][1])
	chk.Equal("B", records[3][1])
}

func TestAppendRejectsForeignHeader(t *testing.T) {
	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	chk.NoError(os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))

	w := report.NewCSVWriter(path, nil, wfsim.DefaultCellFormat)
	err := w.Append(sampleRows("extk-2", "A"))
	chk.ErrorIs(err, report.ErrHeaderMismatch)

	data, err := os.ReadFile(path)
	chk.NoError(err)
	chk.Equal("a,b,c\n1,2,3\n", string(data))
}

func TestAppendToMissingDirectory(t *testing.T) {
	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "missing", "out.csv")
	w := report.NewCSVWriter(path, nil, wfsim.DefaultCellFormat)
	chk.Error(w.Append(sampleRows("extk-2", "A")))
}

func TestEnsureHeader(t *testing.T) {
	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	w := report.NewCSVWriter(path, nil, wfsim.DefaultCellFormat)
	chk.NoError(w.EnsureHeader())
	chk.NoError(w.EnsureHeader())
	records := readRecords(t, path)
	chk.Len(records, 1)
	chk.Equal(wfsim.Headers(wfsim.ExtendedColumns), records[0])
}

func TestConcurrentAppendersShareOneHeader(t *testing.T) {
	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := report.NewCSVWriter(path, nil, wfsim.DefaultCellFormat)
			errs[i] = w.Append(sampleRows("extk-2", "A", "B"))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		chk.NoError(err)
	}

	records := readRecords(t, path)
	chk.Len(records, 1+2*writers)
	headerCount := 0
	for _, rec := range records {
		if rec[0] == "run_id" {
			headerCount++
		}
	}
	chk.Equal(1, headerCount)
	chk.Equal("run_id", records[0][0])
}

const appendPathEnv = "WFSIM_TEST_CSV_APPEND_PATH"

// TestAppendFromSeparateProcesses runs itself in several child processes
// that all append to the same initially absent report.
func TestAppendFromSeparateProcesses(t *testing.T) {
	if path := os.Getenv(appendPathEnv); path != "" {
		w := report.NewCSVWriter(path, nil, wfsim.DefaultCellFormat)
		require.NoError(t, w.Append(sampleRows("extk-2", "A", "B")))
		return
	}

	chk := require.New(t)
	path := filepath.Join(t.TempDir(), "out.csv")

	const children = 8
	cmds := make([]*exec.Cmd, children)
	for i := range cmds {
		cmd := exec.Command(os.Args[0], "-test.run=^TestAppendFromSeparateProcesses$", "-test.count=1")
		cmd.Env = append(os.Environ(), appendPathEnv+"="+path)
		cmds[i] = cmd
	}
	for _, cmd := range cmds {
		chk.NoError(cmd.Start())
	}
	for _, cmd := range cmds {
		chk.NoError(cmd.Wait())
	}

	records := readRecords(t, path)
	chk.Len(records, 1+2*children)
	headerCount := 0
	for _, rec := range records {
		if rec[0] == "run_id" {
			headerCount++
		}
	}
	chk.Equal(1, headerCount)
	chk.Equal("run_id", records[0][0])
}
