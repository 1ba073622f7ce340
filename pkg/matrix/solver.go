package matrix

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSingular      = errors.New("singular system")
	ErrDimension     = errors.New("dimension mismatch")
	ErrUnknownSolver = errors.New("unknown linear solver")
)

// Solver solves the dense square system a·x = b. Implementations return an
// error wrapping ErrSingular when a has no unique solution.
type Solver interface {
	Solve(a mat.Matrix, b []float64) ([]float64, error)
	Name() string
}

func checkSystem(a mat.Matrix, b []float64) error {
	r, c := a.Dims()
	if r != c || r != len(b) {
		return fmt.Errorf("%w: %dx%d system with %d rhs entries", ErrDimension, r, c, len(b))
	}
	return nil
}

func checkFinite(x []float64) error {
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite solution at %d", ErrSingular, i)
		}
	}
	return nil
}

// SparseLU factors with Markowitz-ordered sparse LU.
type SparseLU struct{}

func (SparseLU) Name() string { return "sparse" }

func (SparseLU) Solve(a mat.Matrix, b []float64) ([]float64, error) {
	if err := checkSystem(a, b); err != nil {
		return nil, err
	}
	n := len(b)
	if n == 0 {
		return []float64{}, nil
	}

	sys, err := NewSystemMatrix(n)
	if err != nil {
		return nil, err
	}
	defer sys.Destroy()

	sys.SetupElements()
	sys.Clear()
	StampDense(sys, a, b)

	if err := sys.Solve(); err != nil {
		return nil, err
	}

	x := make([]float64, n)
	copy(x, sys.Solution()[1:n+1])
	if err := checkFinite(x); err != nil {
		return nil, err
	}
	return x, nil
}

// DenseLU factors with partial-pivoting LU.
type DenseLU struct{}

func (DenseLU) Name() string { return "dense" }

func (DenseLU) Solve(a mat.Matrix, b []float64) ([]float64, error) {
	if err := checkSystem(a, b); err != nil {
		return nil, err
	}
	n := len(b)
	if n == 0 {
		return []float64{}, nil
	}

	var lu mat.LU
	lu.Factorize(a)

	var x mat.VecDense
	rhs := mat.NewVecDense(n, append([]float64(nil), b...))
	if err := lu.SolveVecTo(&x, false, rhs); err != nil {
		var cond mat.Condition
		if errors.As(err, &cond) {
			return nil, fmt.Errorf("%w: condition number %g", ErrSingular, float64(cond))
		}
		return nil, err
	}

	out := make([]float64, n)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	if err := checkFinite(out); err != nil {
		return nil, err
	}
	return out, nil
}

// PseudoInverse returns the minimum-norm least-squares solution through an
// SVD. Singular values below Rcond times the largest are discarded.
type PseudoInverse struct {
	Rcond float64
}

func (PseudoInverse) Name() string { return "pinv" }

func (p PseudoInverse) Solve(a mat.Matrix, b []float64) ([]float64, error) {
	if err := checkSystem(a, b); err != nil {
		return nil, err
	}
	n := len(b)
	if n == 0 {
		return []float64{}, nil
	}

	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: svd did not converge", ErrSingular)
	}

	rcond := p.Rcond
	if rcond <= 0 {
		rcond = 1e-12
	}
	rank := svd.Rank(rcond)
	if rank == 0 {
		return nil, fmt.Errorf("%w: zero rank", ErrSingular)
	}

	var x mat.VecDense
	svd.SolveVecTo(&x, mat.NewVecDense(n, append([]float64(nil), b...)), rank)

	out := make([]float64, n)
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

type fallback struct {
	solvers []Solver
}

// Fallback tries each solver in order, moving on only when the previous one
// reports ErrSingular.
func Fallback(primary Solver, rest ...Solver) Solver {
	return &fallback{solvers: append([]Solver{primary}, rest...)}
}

func (f *fallback) Name() string {
	names := make([]string, len(f.solvers))
	for i, s := range f.solvers {
		names[i] = s.Name()
	}
	return strings.Join(names, "+")
}

func (f *fallback) Solve(a mat.Matrix, b []float64) ([]float64, error) {
	var err error
	for _, s := range f.solvers {
		var x []float64
		x, err = s.Solve(a, b)
		if err == nil {
			return x, nil
		}
		if !errors.Is(err, ErrSingular) {
			return nil, err
		}
	}
	return nil, err
}

// ByName maps "sparse", "dense" and "pinv" to a solver. A non-empty
// fallback name wraps the result with Fallback.
func ByName(name, fallbackName string) (Solver, error) {
	primary, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if fallbackName == "" || strings.EqualFold(fallbackName, "none") {
		return primary, nil
	}
	secondary, err := lookup(fallbackName)
	if err != nil {
		return nil, err
	}
	return Fallback(primary, secondary), nil
}

func lookup(name string) (Solver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sparse":
		return SparseLU{}, nil
	case "dense", "lu":
		return DenseLU{}, nil
	case "pinv", "svd":
		return PseudoInverse{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownSolver, name)
}
