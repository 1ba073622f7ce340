package analysis

import (
	"errors"
	"fmt"

	"github.com/edp1096/toy-powerflow/pkg/grid"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
)

// LoadSweep scales every demand through start..stop and solves each point
// warm-started from the previous one. The sweep stops at the first factor
// without a solution, which bounds the loadability of the case.
type LoadSweep struct {
	BaseAnalysis
	start     float64
	stop      float64
	increment float64
	sweepVals []float64
	origScale float64
	limit     float64 // first failing factor
	limited   bool
}

func NewLoadSweep(start, stop, increment float64, opts powerflow.Options) *LoadSweep {
	if increment <= 0 || stop < start {
		panic("invalid sweep range")
	}

	ls := &LoadSweep{
		BaseAnalysis: *NewBaseAnalysis(opts),
		start:        start,
		stop:         stop,
		increment:    increment,
	}

	// index-based so rounding does not drop the last point
	for i := 0; ; i++ {
		v := start + float64(i)*increment
		if v > stop+increment*1e-9 {
			break
		}
		ls.sweepVals = append(ls.sweepVals, v)
	}

	return ls
}

func (ls *LoadSweep) Setup(g *grid.Grid) error {
	if err := ls.BaseAnalysis.Setup(g); err != nil {
		return err
	}
	ls.origScale = g.LoadScale()
	ls.limit, ls.limited = 0, false
	return nil
}

func (ls *LoadSweep) Execute() error {
	if ls.Grid == nil {
		return fmt.Errorf("grid not set")
	}
	defer ls.Grid.ScaleLoad(ls.origScale)

	for _, k := range ls.sweepVals {
		ls.Grid.ScaleLoad(k)

		res, err := ls.solve()
		if errors.Is(err, matrix.ErrSingular) || (err == nil && !res.Converged) {
			ls.limit, ls.limited = k, true
			ls.logger.Warn("load sweep stopped", "scale", k, "error", err)
			return nil
		}
		if err != nil {
			return fmt.Errorf("load sweep at scale=%g: %w", k, err)
		}

		ls.Grid.SetSolution(res.State)
		ls.StoreResult("SCALE", k, ls.Grid.GetSolution())
		ls.results["ITER"] = append(ls.results["ITER"], float64(res.Iterations))
	}

	return nil
}

// SweepValues returns the scaling factors the sweep visits.
func (ls *LoadSweep) SweepValues() []float64 {
	return ls.sweepVals
}

// Limit reports the first scaling factor that did not solve.
func (ls *LoadSweep) Limit() (float64, bool) {
	return ls.limit, ls.limited
}
