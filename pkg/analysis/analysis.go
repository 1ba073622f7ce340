package analysis

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/edp1096/toy-powerflow/pkg/grid"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
)

type Analysis interface {
	Setup(g *grid.Grid) error
	Execute() error
	GetResults() map[string][]float64
}

type BaseAnalysis struct {
	Grid    *grid.Grid
	results map[string][]float64 // key: variable name, value: result per run
	options powerflow.Options
	logger  *slog.Logger
}

func NewBaseAnalysis(opts powerflow.Options) *BaseAnalysis {
	ba := &BaseAnalysis{
		results: make(map[string][]float64),
		options: opts,
		logger:  opts.Logger,
	}
	if ba.logger == nil {
		ba.logger = slog.Default()
	}
	ba.options.Logger = ba.logger
	return ba
}

func (a *BaseAnalysis) Setup(g *grid.Grid) error {
	if g == nil {
		return fmt.Errorf("grid not set")
	}
	a.Grid = g
	a.Grid.ResetSolution()
	clear(a.results)
	return nil
}

// solve runs one power flow on the grid's current specs, starting from the
// stored solution when there is one.
func (a *BaseAnalysis) solve() (*powerflow.Result, error) {
	if a.Grid == nil {
		return nil, fmt.Errorf("grid not set")
	}
	p, q := a.Grid.Specs()
	v0, theta0 := a.Grid.InitialState()
	return powerflow.Solve(a.Grid.Ybus(), p, q, v0, theta0, a.Grid.Types(), a.options)
}

// StoreResult appends one row. key names the swept quantity, empty for a
// single operating point.
func (a *BaseAnalysis) StoreResult(key string, keyVal float64, solution map[string]float64) {
	if key != "" {
		a.results[key] = append(a.results[key], keyVal)
	}
	for name, value := range solution {
		a.results[name] = append(a.results[name], value)
	}
}

func (a *BaseAnalysis) GetResults() map[string][]float64 {
	return a.results
}

// ResultNames lists the stored series with the given prefix. Shorter names
// sort first so V(2) comes before V(10).
func ResultNames(results map[string][]float64, prefix string) []string {
	var names []string
	for name := range results {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	slices.SortFunc(names, func(a, b string) int {
		return cmp.Or(cmp.Compare(len(a), len(b)), strings.Compare(a, b))
	})
	return names
}
