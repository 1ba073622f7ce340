package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/edp1096/toy-powerflow/pkg/analysis"
)

func busID(name string) string {
	open, closing := strings.IndexByte(name, '('), strings.LastIndexByte(name, ')')
	if open < 0 || closing < open {
		return name
	}
	return name[open+1 : closing]
}

// WriteSolution prints one operating point from a power flow result map:
// |V| in p.u., angle in degrees and the bus injections on baseMVA.
func WriteSolution(w io.Writer, title string, baseMVA float64, results map[string][]float64) error {
	if title != "" {
		fmt.Fprintf(w, "%s\n", title)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Bus\t|V| (p.u.)\tAngle (deg)\tP\tQ\t")

	for _, name := range analysis.ResultNames(results, "V(") {
		id := busID(name)
		last := len(results[name]) - 1
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n", id,
			FormatMagnitude(results[name][last]),
			FormatPhase(results["VA("+id+")"][last]),
			FormatPower(results["P("+id+")"][last], baseMVA, "W"),
			FormatPower(results["Q("+id+")"][last], baseMVA, "VAr"),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if minV, maxV, mean, std, ok := VoltageSummary(results); ok {
		_, err := fmt.Fprintf(w, "|V| min %s  max %s  mean %s  std %.5f\n",
			strings.TrimSpace(FormatMagnitude(minV)),
			strings.TrimSpace(FormatMagnitude(maxV)),
			strings.TrimSpace(FormatMagnitude(mean)), std)
		return err
	}
	return nil
}

// VoltageSummary reduces the last stored |V| of every bus. std is the
// sample standard deviation.
func VoltageSummary(results map[string][]float64) (minV, maxV, mean, std float64, ok bool) {
	names := analysis.ResultNames(results, "V(")
	if len(names) == 0 {
		return 0, 0, 0, 0, false
	}
	v := make([]float64, len(names))
	for i, name := range names {
		v[i] = results[name][len(results[name])-1]
	}
	mean, std = stat.MeanStdDev(v, nil)
	if len(v) == 1 {
		std = 0
	}
	return floats.Min(v), floats.Max(v), mean, std, true
}

// WriteTrace prints the max mismatch of every Newton iteration.
func WriteTrace(w io.Writer, trace []float64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Iter\tMax mismatch\t")
	for i, m := range trace {
		fmt.Fprintf(tw, "%d\t%s\t\n", i+1, FormatMismatch(m))
	}
	return tw.Flush()
}

// WriteSweep prints |V| per bus against the load scaling factor.
func WriteSweep(w io.Writer, results map[string][]float64) error {
	scales := results["SCALE"]
	names := analysis.ResultNames(results, "V(")

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "Scale\t%s\t\n", strings.Join(names, "\t"))
	for i, k := range scales {
		row := make([]string, len(names))
		for j, name := range names {
			row[j] = FormatMagnitude(results[name][i])
		}
		fmt.Fprintf(tw, "%.3f\t%s\t\n", k, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// WriteDispatch prints the generator schedule and total cost.
func WriteDispatch(w io.Writer, baseMVA float64, results map[string][]float64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Gen\tBus\tPg (p.u.)\tPg\t")
	for _, name := range analysis.ResultNames(results, "PG(") {
		k := busID(name)
		pg := results[name][0]
		fmt.Fprintf(tw, "%s\t%.0f\t%.4f\t%s\t\n", k, results["GBUS("+k+")"][0], pg, FormatPower(pg, baseMVA, "W"))
	}
	if cost, ok := results["COST"]; ok {
		fmt.Fprintf(tw, "Total cost\t\t%.4f\t\t\n", cost[0])
	}
	return tw.Flush()
}
