package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"github.com/edp1096/toy-powerflow/pkg/analysis"
)

// ConvergenceChart renders the per-iteration max mismatch as an HTML line
// chart. The y axis is logarithmic when every entry is positive.
func ConvergenceChart(w io.Writer, title string, trace []float64) error {
	if len(trace) == 0 {
		return fmt.Errorf("empty mismatch trace")
	}

	axisType := "log"
	iters := make([]string, len(trace))
	items := make([]opts.LineData, len(trace))
	for i, m := range trace {
		iters[i] = strconv.Itoa(i + 1)
		items[i] = opts.LineData{Value: m}
		if m <= 0 {
			axisType = "value"
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Newton-Raphson convergence",
			Theme:     types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Max power mismatch",
			Subtitle: title,
		}),
		charts.WithXAxisOpts(opts.XAxis{
			Name: "iteration",
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Name: "p.u.",
			Type: axisType,
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(iters).AddSeries("max mismatch", items,
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}),
	)

	return line.Render(w)
}

// SweepChart renders |V| per bus against the load scaling factor.
func SweepChart(w io.Writer, title string, results map[string][]float64) error {
	scales := results["SCALE"]
	if len(scales) == 0 {
		return fmt.Errorf("no sweep points in results")
	}

	xs := make([]string, len(scales))
	for i, k := range scales {
		xs[i] = strconv.FormatFloat(k, 'g', 4, 64)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Load sweep",
			Theme:     types.ThemeWesteros,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Bus voltage against load scale",
			Subtitle: title,
		}),
		charts.WithLegendOpts(opts.Legend{
			Type:   "scroll",
			Orient: "vertical",
			Right:  "10",
			Top:    "20",
			Bottom: "20",
		}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scale"}),
		charts.WithYAxisOpts(opts.YAxis{
			Name:  "|V| (p.u.)",
			Scale: opts.Bool(true),
		}),
	)
	line.SetXAxis(xs)
	for _, name := range analysis.ResultNames(results, "V(") {
		items := make([]opts.LineData, len(results[name]))
		for i, v := range results[name] {
			items[i] = opts.LineData{Value: v}
		}
		line.AddSeries("Bus "+busID(name), items)
	}

	return line.Render(w)
}
