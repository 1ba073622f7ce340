package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/edp1096/toy-powerflow/internal/config"
	"github.com/edp1096/toy-powerflow/pkg/analysis"
	"github.com/edp1096/toy-powerflow/pkg/grid"
	"github.com/edp1096/toy-powerflow/pkg/netlist"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
	"github.com/edp1096/toy-powerflow/pkg/report"
)

const (
	exitError        = 1
	exitNotConverged = 2
)

var (
	version = "--- set from makefile ---"

	configPath  = flag.String("config", "", "solver configuration (TOML)")
	plotPath    = flag.String("plot", "", "write the voltage profile (png, svg, pdf)")
	tracePath   = flag.String("trace", "", "write the convergence chart (html)")
	sweepPath   = flag.String("sweepchart", "", "write the load sweep chart (html)")
	runDispatch = flag.Bool("dispatch", false, "run economic dispatch on the case generators")
	verbose     = flag.Bool("v", false, "log every Newton iteration")
	showVersion = flag.Bool("version", false, "show command version")
)

var errNotConverged = errors.New("power flow did not converge")

// job is what one invocation has to do, filled from the deck or the flags.
type job struct {
	c        *network.Case
	analyses []netlist.AnalysisType
	sweep    [3]float64 // start, stop, step
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: powerflow [flags] <case.json|case.yaml|case.pf>\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(exitError)
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitError)
	}

	level, _ := cfg.LogLevel()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if err := run(os.Stdout, logger, cfg, flag.Arg(0)); err != nil {
		if errors.Is(err, errNotConverged) {
			logger.Warn("finished without convergence", "case", flag.Arg(0))
			os.Exit(exitNotConverged)
		}
		logger.Error("application error", "error", err)
		os.Exit(exitError)
	}
}

func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return cfg, err
		}
	}

	// flags win over the file
	if *plotPath != "" {
		cfg.Report.Plot = *plotPath
	}
	if *tracePath != "" {
		cfg.Report.Trace = *tracePath
	}
	if *sweepPath != "" {
		cfg.Report.Sweep = *sweepPath
	}
	return cfg, nil
}

func loadJob(path string, cfg *config.Config) (*job, error) {
	if strings.EqualFold(filepath.Ext(path), ".pf") {
		deck, err := netlist.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("parsing deck: %w", err)
		}

		// deck .pf settings override the config file
		if deck.PFParam.Tolerance > 0 {
			cfg.Solver.Tolerance = deck.PFParam.Tolerance
		}
		if deck.PFParam.MaxIterations >= 0 {
			cfg.Solver.MaxIterations = deck.PFParam.MaxIterations
		}
		if deck.PFParam.VoltageFloor > 0 {
			cfg.Solver.VoltageFloor = deck.PFParam.VoltageFloor
		}

		j := &job{c: deck.Case, analyses: deck.Analyses}
		j.sweep = [3]float64{deck.SweepParam.Start, deck.SweepParam.Stop, deck.SweepParam.Step}
		return j, nil
	}

	c, err := network.Load(path)
	if err != nil {
		return nil, err
	}
	return &job{c: c, analyses: []netlist.AnalysisType{netlist.AnalysisPF}}, nil
}

func run(w io.Writer, logger *slog.Logger, cfg config.Config, path string) error {
	j, err := loadJob(path, &cfg)
	if err != nil {
		return err
	}
	if *runDispatch && !hasAnalysis(j.analyses, netlist.AnalysisDispatch) {
		j.analyses = append(j.analyses, netlist.AnalysisDispatch)
	}

	solver, err := cfg.LinearSolver()
	if err != nil {
		return err
	}
	opts := powerflow.Options{
		Tolerance:     cfg.Solver.Tolerance,
		MaxIterations: cfg.Solver.MaxIterations,
		VoltageFloor:  cfg.Solver.VoltageFloor,
		ExactJacobian: cfg.Solver.ExactJacobian,
		Solver:        solver,
		Logger:        logger,
	}

	g, err := grid.New(j.c)
	if err != nil {
		return err
	}
	title := g.Name()
	if title == "" {
		title = filepath.Base(path)
	}
	logger.Info("case loaded", "case", title, "buses", g.NumBuses(), "branches", len(j.c.Branches), "solver", solver.Name())

	converged := true
	for _, kind := range j.analyses {
		var analyzer analysis.Analysis
		switch kind {
		case netlist.AnalysisPF:
			analyzer = analysis.NewPowerFlow(opts)
		case netlist.AnalysisSweep:
			analyzer = analysis.NewLoadSweep(j.sweep[0], j.sweep[1], j.sweep[2], opts)
		case netlist.AnalysisDispatch:
			analyzer = analysis.NewDispatch(opts)
		default:
			return fmt.Errorf("unsupported analysis type: %v", kind)
		}

		if err := analyzer.Setup(g); err != nil {
			return fmt.Errorf("%v setup: %w", kind, err)
		}
		if err := analyzer.Execute(); err != nil {
			return fmt.Errorf("%v: %w", kind, err)
		}

		ok, err := printResults(w, title, g.Case.Base(), cfg.Report, analyzer)
		if err != nil {
			return err
		}
		converged = converged && ok
	}

	if !converged {
		return errNotConverged
	}
	return nil
}

func hasAnalysis(list []netlist.AnalysisType, kind netlist.AnalysisType) bool {
	for _, a := range list {
		if a == kind {
			return true
		}
	}
	return false
}

// printResults writes the text report and any requested files. It returns
// false when a power flow ended without convergence.
func printResults(w io.Writer, title string, baseMVA float64, out config.Report, analyzer analysis.Analysis) (bool, error) {
	results := analyzer.GetResults()

	switch a := analyzer.(type) {
	case *analysis.PowerFlow:
		res := a.Result()
		status := "converged"
		if !res.Converged {
			status = "NOT converged"
		}
		fmt.Fprintf(w, "\nPower flow %s after %d iterations (max mismatch %s)\n\n",
			status, res.Iterations, strings.TrimSpace(report.FormatMismatch(res.MaxMismatch)))
		if err := report.WriteSolution(w, title, baseMVA, results); err != nil {
			return false, err
		}
		fmt.Fprintln(w)
		if err := report.WriteTrace(w, res.Trace); err != nil {
			return false, err
		}

		if out.Plot != "" {
			p, err := report.VoltageProfile(title, results)
			if err != nil {
				return false, err
			}
			if err := report.SavePlot(p, out.Plot); err != nil {
				return false, err
			}
		}
		if out.Trace != "" {
			if err := writeFile(out.Trace, func(f io.Writer) error {
				return report.ConvergenceChart(f, title, res.Trace)
			}); err != nil {
				return false, err
			}
		}
		return res.Converged, nil

	case *analysis.LoadSweep:
		fmt.Fprintf(w, "\nLoad sweep, %d of %d points solved\n\n", len(results["SCALE"]), len(a.SweepValues()))
		if err := report.WriteSweep(w, results); err != nil {
			return false, err
		}
		if limit, limited := a.Limit(); limited {
			fmt.Fprintf(w, "\nNo solution at load scale %g\n", limit)
		}
		if out.Sweep != "" && len(results["SCALE"]) > 0 {
			if err := writeFile(out.Sweep, func(f io.Writer) error {
				return report.SweepChart(f, title, results)
			}); err != nil {
				return false, err
			}
		}

	case *analysis.Dispatch:
		fmt.Fprintf(w, "\nEconomic dispatch, load %.4f p.u.\n\n", a.Result().Load)
		if err := report.WriteDispatch(w, baseMVA, results); err != nil {
			return false, err
		}
	}

	return true, nil
}

func writeFile(path string, render func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
