package grid

import (
	"fmt"
	"math"

	"github.com/edp1096/toy-powerflow/pkg/network"
	"github.com/edp1096/toy-powerflow/pkg/powerflow"
)

// Grid is a validated case prepared for solving: slack first, Ybus built
// and specified injections cached. Solver indices are positions in the
// reordered case, results are reported under the original bus ids.
type Grid struct {
	name     string
	Case     *network.Case
	origIDs  []int // solver index -> bus id in the source case
	ybus     *powerflow.Admittance
	types    []network.BusType
	pSpec    []float64
	qSpec    []float64
	scale    float64
	solution *powerflow.State
}

func New(c *network.Case) (*Grid, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validating case: %w", err)
	}

	ordered, perm, err := c.SlackFirst()
	if err != nil {
		return nil, fmt.Errorf("reordering buses: %w", err)
	}

	y, err := powerflow.BuildYbus(ordered.Buses, ordered.Branches)
	if err != nil {
		return nil, fmt.Errorf("building admittance matrix: %w", err)
	}

	g := &Grid{
		name:    c.Name,
		Case:    ordered,
		origIDs: make([]int, len(perm)),
		ybus:    y,
		types:   ordered.Types(),
	}
	for newIdx, oldIdx := range perm {
		g.origIDs[newIdx] = c.Buses[oldIdx].ID
	}
	g.ScaleLoad(1)
	return g, nil
}

func (g *Grid) Name() string {
	return g.name
}

func (g *Grid) NumBuses() int {
	return len(g.types)
}

func (g *Grid) Ybus() *powerflow.Admittance {
	return g.ybus
}

func (g *Grid) Types() []network.BusType {
	return g.types
}

// BusID maps a solver index back to the bus id of the source case.
func (g *Grid) BusID(idx int) int {
	return g.origIDs[idx]
}

// Specs returns the specified injections at the current load scale.
func (g *Grid) Specs() (p, q []float64) {
	return g.pSpec, g.qSpec
}

func (g *Grid) LoadScale() float64 {
	return g.scale
}

// ScaleLoad multiplies every demand by k. Scheduled generation is kept.
func (g *Grid) ScaleLoad(k float64) {
	n := len(g.Case.Buses)
	g.scale = k
	g.pSpec = make([]float64, n)
	g.qSpec = make([]float64, n)
	for i, bus := range g.Case.Buses {
		g.pSpec[i] = bus.Pg - k*bus.Pd
		g.qSpec[i] = bus.Qg - k*bus.Qd
	}
}

// InitialState returns the last stored solution when there is one, the case
// start values otherwise.
func (g *Grid) InitialState() (v, theta []float64) {
	if g.solution != nil {
		s := g.solution.Clone()
		return s.V, s.Theta
	}
	return g.Case.InitialState()
}

func (g *Grid) SetSolution(s powerflow.State) {
	c := s.Clone()
	g.solution = &c
}

func (g *Grid) ResetSolution() {
	g.solution = nil
}

// GetSolution returns V(id) in p.u., VA(id) in degrees and the computed
// injections P(id), Q(id) for the stored state.
func (g *Grid) GetSolution() map[string]float64 {
	result := make(map[string]float64)
	if g.solution == nil {
		return result
	}

	p, q := powerflow.Injections(g.ybus, g.solution.V, g.solution.Theta)
	for i := range g.types {
		id := g.origIDs[i]
		result[fmt.Sprintf("V(%d)", id)] = g.solution.V[i]
		result[fmt.Sprintf("VA(%d)", id)] = g.solution.Theta[i] * 180 / math.Pi
		result[fmt.Sprintf("P(%d)", id)] = p[i]
		result[fmt.Sprintf("Q(%d)", id)] = q[i]
	}
	return result
}
