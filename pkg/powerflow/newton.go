package powerflow

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

var ErrInvalidInput = errors.New("invalid solver input")

// Options controls the Newton iteration. Start from DefaultOptions, the
// numeric fields are used as given. A nil Solver or Logger selects the
// default one.
type Options struct {
	Tolerance     float64 // max |mismatch| for convergence (p.u.), must be positive
	MaxIterations int     // number of corrections before giving up, 0 only evaluates
	VoltageFloor  float64 // lower clamp for PQ voltage magnitudes (p.u.)
	ExactJacobian bool    // use the true dQ/dθ off-diagonal, see ExactJacobian
	Solver        matrix.Solver
	Logger        *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		Tolerance:     consts.DefaultTolerance,
		MaxIterations: consts.DefaultMaxIterations,
		VoltageFloor:  consts.DefaultVoltageFloor,
		Solver:        matrix.SparseLU{},
		Logger:        slog.Default(),
	}
}

func (o Options) validate() (Options, error) {
	switch {
	case !(o.Tolerance > 0):
		return o, fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalidInput, o.Tolerance)
	case o.MaxIterations < 0:
		return o, fmt.Errorf("%w: negative iteration limit %d", ErrInvalidInput, o.MaxIterations)
	case !(o.VoltageFloor > 0):
		return o, fmt.Errorf("%w: voltage floor must be positive, got %g", ErrInvalidInput, o.VoltageFloor)
	}
	if o.Solver == nil {
		o.Solver = matrix.SparseLU{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// State is the voltage iterate: magnitudes in p.u. and angles in radians.
type State struct {
	V     []float64
	Theta []float64
}

func (s State) Clone() State {
	return State{
		V:     append([]float64(nil), s.V...),
		Theta: append([]float64(nil), s.Theta...),
	}
}

// Result is returned for both converged and exhausted runs. Trace holds the
// max mismatch seen at each evaluation, the last entry equals MaxMismatch.
type Result struct {
	State
	Converged   bool
	Iterations  int
	MaxMismatch float64
	Trace       []float64
	Clamped     int
}

// Solve runs Newton-Raphson from (v0, theta0). Only PQ buses are corrected.
// Slack (index 0) and PV entries keep their initial values. Running out of
// iterations is not an error: Converged is false and the last iterate is
// returned. A singular Jacobian is returned as an error wrapping
// matrix.ErrSingular.
func Solve(y *Admittance, pSpec, qSpec, v0, theta0 []float64, types []network.BusType, opts Options) (*Result, error) {
	opts, err := opts.validate()
	if err != nil {
		return nil, err
	}
	if err := checkInputs(y, pSpec, qSpec, v0, theta0, types); err != nil {
		return nil, err
	}

	logger := opts.Logger
	pq := PQIndices(types)
	state := State{V: v0, Theta: theta0}.Clone()
	res := &Result{}

	for iter := 0; ; iter++ {
		mis := mismatch(y, state.V, state.Theta, pSpec, qSpec, pq)
		m := maxAbs(mis)
		res.Trace = append(res.Trace, m)
		res.MaxMismatch = m
		logger.Debug("newton iteration", "iter", iter+1, "max_mismatch", m)

		if m < opts.Tolerance {
			res.Converged = true
			break
		}
		if iter == opts.MaxIterations {
			break
		}

		jac := jacobian(y, state.V, state.Theta, pq, opts.ExactJacobian)
		delta, err := opts.Solver.Solve(jac, mis)
		if err != nil {
			return nil, fmt.Errorf("iteration %d: solving correction: %w", iter+1, err)
		}

		clamped := applyCorrection(&state, pq, delta, opts.VoltageFloor)
		if clamped > 0 {
			logger.Warn("voltage clamped to floor", "iter", iter+1, "buses", clamped, "floor", opts.VoltageFloor)
		}
		res.Clamped += clamped
		res.Iterations = iter + 1
	}

	res.State = state
	if res.Converged {
		logger.Info("power flow converged", "iterations", res.Iterations, "max_mismatch", res.MaxMismatch)
	} else {
		logger.Warn("power flow did not converge", "iterations", res.Iterations, "max_mismatch", res.MaxMismatch)
	}
	return res, nil
}

// applyCorrection adds delta = [Δθ over PQ, ΔV over PQ] and clamps each PQ
// magnitude at floor. It returns the number of clamped buses.
func applyCorrection(s *State, pq []int, delta []float64, floor float64) int {
	npq := len(pq)
	clamped := 0
	for k, i := range pq {
		s.Theta[i] += delta[k]
		s.V[i] += delta[npq+k]
		if s.V[i] < floor || math.IsNaN(s.V[i]) {
			s.V[i] = floor
			clamped++
		}
	}
	return clamped
}

func checkInputs(y *Admittance, pSpec, qSpec, v0, theta0 []float64, types []network.BusType) error {
	if y == nil {
		return fmt.Errorf("%w: nil admittance matrix", ErrInvalidInput)
	}
	n := y.Size()
	lengths := []struct {
		name string
		l    int
	}{
		{"P_spec", len(pSpec)},
		{"Q_spec", len(qSpec)},
		{"V0", len(v0)},
		{"theta0", len(theta0)},
		{"types", len(types)},
	}
	for _, in := range lengths {
		if in.l != n {
			return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidInput, in.name, in.l, n)
		}
	}
	if err := network.RequireSlackFirst(types); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return nil
}
