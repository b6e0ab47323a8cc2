// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package report

import (
	"fmt"

	"github.com/petenewcomb/wfsim"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WritePowerChart renders average power per host as a bar chart. The image
// format follows the extension of path (.png, .svg, .pdf, ...). An existing
// file is overwritten. Hosts with undefined power are drawn with zero height.
func WritePowerChart(path string, rows []wfsim.HostMetricRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("no rows to chart")
	}

	values := make(plotter.Values, len(rows))
	names := make([]string, len(rows))
	for i := range rows {
		values[i] = rows[i].Power.Or(0)
		names[i] = rows[i].HostName
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Average power by host (%s)", rows[0].RunID)
	p.Y.Label.Text = "Power (W)"
	p.Y.Min = 0

	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return fmt.Errorf("building power chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)

	width := vg.Length(len(rows))*vg.Points(36) + 2*vg.Inch
	if err := p.Save(width, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("saving power chart %s: %w", path, err)
	}
	return nil
}
