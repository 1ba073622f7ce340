package dispatch

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

var (
	ErrNoGenerators = errors.New("no generators to dispatch")
	ErrInfeasible   = errors.New("load outside generation limits")
)

const simplexTol = 1e-10

// Result is the least-cost schedule. Pg follows the order of the input
// generators.
type Result struct {
	Pg   []float64
	Cost float64
	Load float64
}

// Solve dispatches gens against load at minimum linear cost:
//
//	min Σ cost_i·Pg_i  s.t.  Σ Pg_i = load, pmin_i ≤ Pg_i ≤ pmax_i
//
// The problem is shifted to y_i = Pg_i − pmin_i and given one slack per
// upper bound to reach the standard form lp.Simplex expects.
func Solve(gens []network.Generator, load float64, logger *slog.Logger) (*Result, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := len(gens)
	if n == 0 {
		return nil, ErrNoGenerators
	}

	var minSum, maxSum float64
	for i, g := range gens {
		if g.Pmin > g.Pmax {
			return nil, fmt.Errorf("generator %d: %w (%g > %g)", i+1, network.ErrInvalidGenLimit, g.Pmin, g.Pmax)
		}
		minSum += g.Pmin
		maxSum += g.Pmax
	}
	if load < minSum-simplexTol || load > maxSum+simplexTol {
		return nil, fmt.Errorf("%w: load %g, limits [%g, %g]", ErrInfeasible, load, minSum, maxSum)
	}

	res := &Result{Pg: make([]float64, n), Load: load}
	for i, g := range gens {
		res.Pg[i] = g.Pmin
		res.Cost += g.Cost * g.Pmin
	}
	switch {
	case maxSum-minSum <= simplexTol:
		// every unit is pinned
		return res, nil
	case n == 1:
		res.Pg[0] = load
		res.Cost = gens[0].Cost * load
		return res, nil
	}

	// columns: y_1..y_n, s_1..s_n
	// rows:    Σ y = load − Σ pmin
	//          y_i + s_i = pmax_i − pmin_i
	c := make([]float64, 2*n)
	a := mat.NewDense(n+1, 2*n, nil)
	b := make([]float64, n+1)
	b[0] = load - minSum
	for i, g := range gens {
		c[i] = g.Cost
		a.Set(0, i, 1)
		a.Set(i+1, i, 1)
		a.Set(i+1, n+i, 1)
		b[i+1] = g.Pmax - g.Pmin
	}

	opt, x, err := lp.Simplex(c, a, b, simplexTol, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return nil, fmt.Errorf("%w: %v", ErrInfeasible, err)
		}
		return nil, fmt.Errorf("simplex: %w", err)
	}

	for i := range gens {
		res.Pg[i] += x[i]
	}
	res.Cost += opt

	logger.Info("economic dispatch solved", "generators", n, "load", load, "cost", res.Cost)
	return res, nil
}

// SolveCase dispatches the generators of c against its total real demand.
func SolveCase(c *network.Case, logger *slog.Logger) (*Result, error) {
	return Solve(c.Generators, c.TotalLoad(), logger)
}
