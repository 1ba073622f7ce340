package analysis

import (
	"fmt"

	"github.com/edp1096/toy-powerflow/pkg/dispatch"
	"github.com/edp1096/toy-powerflow/pkg/grid"
	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
)

// Dispatch schedules the case generators against the total real demand.
// Results hold PG(k) per generator in case order, GBUS(k) its bus id and
// the total COST.
type Dispatch struct {
	BaseAnalysis
	result *dispatch.Result
}

func NewDispatch(opts powerflow.Options) *Dispatch {
	return &Dispatch{
		BaseAnalysis: *NewBaseAnalysis(opts),
	}
}

func (d *Dispatch) Setup(g *grid.Grid) error {
	if err := d.BaseAnalysis.Setup(g); err != nil {
		return err
	}
	if len(g.Case.Generators) == 0 {
		return dispatch.ErrNoGenerators
	}
	return nil
}

func (d *Dispatch) Execute() error {
	if d.Grid == nil {
		return fmt.Errorf("grid not set")
	}

	c := d.Grid.Case
	load := c.TotalLoad() * d.Grid.LoadScale()
	res, err := dispatch.Solve(c.Generators, load, d.logger)
	if err != nil {
		return fmt.Errorf("economic dispatch: %w", err)
	}
	d.result = res

	solution := make(map[string]float64, 2*len(res.Pg)+1)
	for k, pg := range res.Pg {
		bus := c.Generators[k].Bus
		solution[fmt.Sprintf("PG(%d)", k+1)] = pg
		solution[fmt.Sprintf("GBUS(%d)", k+1)] = float64(d.Grid.BusID(network.Index(bus)))
	}
	solution["COST"] = res.Cost
	d.StoreResult("", 0, solution)
	return nil
}

func (d *Dispatch) Result() *dispatch.Result {
	return d.result
}
