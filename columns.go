// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package wfsim

import (
	"fmt"
	"strconv"
)

// CellFormat controls how a Column renders floating-point and undefined
// values.
type CellFormat struct {
	// Precision is the number of digits after the decimal point.
	Precision int
	// UndefinedMarker replaces an undefined Metric.
	UndefinedMarker string
}

// DefaultCellFormat matches the two-decimal fixed-point output of earlier
// reports.
var DefaultCellFormat = CellFormat{Precision: 2, UndefinedMarker: "NA"}

func (f CellFormat) float(v float64) string {
	return strconv.FormatFloat(v, 'f', f.Precision, 64)
}

func (f CellFormat) metric(m Metric) string {
	return m.Format(f.Precision, f.UndefinedMarker)
}

// Column is one report column: a header and a way to render a row's cell.
type Column struct {
	Header string
	Cell   func(r *HostMetricRow, f CellFormat) string
}

func intColumn(header string, get func(*HostMetricRow) int) Column {
	return Column{Header: header, Cell: func(r *HostMetricRow, _ CellFormat) string {
		return strconv.Itoa(get(r))
	}}
}

func uintColumn(header string, get func(*HostMetricRow) uint64) Column {
	return Column{Header: header, Cell: func(r *HostMetricRow, _ CellFormat) string {
		return strconv.FormatUint(get(r), 10)
	}}
}

func stringColumn(header string, get func(*HostMetricRow) string) Column {
	return Column{Header: header, Cell: func(r *HostMetricRow, _ CellFormat) string {
		return get(r)
	}}
}

func floatColumn(header string, get func(*HostMetricRow) float64) Column {
	return Column{Header: header, Cell: func(r *HostMetricRow, f CellFormat) string {
		return f.float(get(r))
	}}
}

func metricColumn(header string, get func(*HostMetricRow) Metric) Column {
	return Column{Header: header, Cell: func(r *HostMetricRow, f CellFormat) string {
		return f.metric(get(r))
	}}
}

// ExtendedColumns is the default column set, in the order downstream
// consumers expect.
var ExtendedColumns = []Column{
	stringColumn("run_id", func(r *HostMetricRow) string { return r.RunID }),
	stringColumn("host_name", func(r *HostMetricRow) string { return r.HostName }),
	intColumn("host_core_count", func(r *HostMetricRow) int { return r.HostCoreCount }),
	stringColumn("core_allocations_joined", (*HostMetricRow).CoreAllocationsJoined),
	intColumn("task_count", func(r *HostMetricRow) int { return r.TaskCount }),
	metricColumn("avg_task_duration", func(r *HostMetricRow) Metric { return r.AvgTaskDuration }),
	intColumn("failed_task_count", func(r *HostMetricRow) int { return r.FailedTaskCount }),
	floatColumn("compute_time", func(r *HostMetricRow) float64 { return r.ComputeTime }),
	floatColumn("io_time_input", func(r *HostMetricRow) float64 { return r.IOTimeInput }),
	floatColumn("io_time_output", func(r *HostMetricRow) float64 { return r.IOTimeOutput }),
	metricColumn("comm_comp_ratio", func(r *HostMetricRow) Metric { return r.CommCompRatio }),
	uintColumn("total_bytes_read", func(r *HostMetricRow) uint64 { return r.TotalBytesRead }),
	uintColumn("total_bytes_write", func(r *HostMetricRow) uint64 { return r.TotalBytesWrite }),
	floatColumn("completion_time", func(r *HostMetricRow) float64 { return r.CompletionTime }),
	metricColumn("power", func(r *HostMetricRow) Metric { return r.Power }),
}

// BasicColumns is the legacy twelve-column layout without core allocations
// or byte totals.
var BasicColumns = []Column{
	stringColumn("runid", func(r *HostMetricRow) string { return r.RunID }),
	stringColumn("host_name", func(r *HostMetricRow) string { return r.HostName }),
	intColumn("num_cores", func(r *HostMetricRow) int { return r.HostCoreCount }),
	intColumn("num_tasks", func(r *HostMetricRow) int { return r.TaskCount }),
	intColumn("trace_size", func(r *HostMetricRow) int { return r.TraceSize }),
	intColumn("failed_tasks", func(r *HostMetricRow) int { return r.FailedTaskCount }),
	floatColumn("compute_time", func(r *HostMetricRow) float64 { return r.ComputeTime }),
	floatColumn("IO_time_input", func(r *HostMetricRow) float64 { return r.IOTimeInput }),
	floatColumn("IO_time_output", func(r *HostMetricRow) float64 { return r.IOTimeOutput }),
	metricColumn("Comm/Comp_Ratio", func(r *HostMetricRow) Metric { return r.CommCompRatio }),
	metricColumn("power", func(r *HostMetricRow) Metric { return r.Power }),
	floatColumn("completion_date", func(r *HostMetricRow) float64 { return r.CompletionTime }),
}

// ColumnSet returns the named column set: "extended" (the default) or
// "basic".
func ColumnSet(name string) ([]Column, error) {
	switch name {
	case "", "extended":
		return ExtendedColumns, nil
	case "basic":
		return BasicColumns, nil
	default:
		return nil, fmt.Errorf("unknown column set %q", name)
	}
}

// Headers returns the headers of columns in order.
func Headers(columns []Column) []string {
	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.Header
	}
	return headers
}

// Cells renders a row under columns.
func Cells(columns []Column, r *HostMetricRow, f CellFormat) []string {
	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = c.Cell(r, f)
	}
	return cells
}
