package report

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/edp1096/toy-powerflow/pkg/analysis"
)

const (
	plotWidth  = 8 * vg.Inch
	plotHeight = 5 * vg.Inch
)

// VoltageProfile draws the last stored |V| of every bus as a bar chart.
func VoltageProfile(title string, results map[string][]float64) (*plot.Plot, error) {
	names := analysis.ResultNames(results, "V(")
	if len(names) == 0 {
		return nil, fmt.Errorf("no bus voltages in results")
	}

	values := make(plotter.Values, len(names))
	labels := make([]string, len(names))
	for i, name := range names {
		series := results[name]
		values[i] = series[len(series)-1]
		labels[i] = "Bus " + busID(name)
	}

	p := plot.New()
	p.Title.Text = "Bus Voltage Profile"
	if title != "" {
		p.Title.Text += ": " + title
	}
	p.Y.Label.Text = "Voltage Magnitude (p.u.)"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	bars, err := plotter.NewBarChart(values, vg.Points(30))
	if err != nil {
		return nil, fmt.Errorf("bar chart: %w", err)
	}
	bars.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(labels...)

	return p, nil
}

// SavePlot writes p in the format given by the file extension (png, svg,
// pdf, ...).
func SavePlot(p *plot.Plot, path string) error {
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("saving plot: %w", err)
	}
	return nil
}
