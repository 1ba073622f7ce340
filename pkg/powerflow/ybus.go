package powerflow

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

// Admittance is the dense bus admittance matrix. It is built once per case
// and only read afterwards.
type Admittance struct {
	m *mat.CDense
}

func newAdmittance(n int) *Admittance {
	return &Admittance{m: mat.NewCDense(n, n, nil)}
}

func (y *Admittance) Size() int {
	r, _ := y.m.Dims()
	return r
}

func (y *Admittance) At(i, j int) complex128 {
	return y.m.At(i, j)
}

// GB returns the conductance and susceptance of Y[i,j].
func (y *Admittance) GB(i, j int) (g, b float64) {
	v := y.m.At(i, j)
	return real(v), imag(v)
}

func (y *Admittance) add(i, j int, v complex128) {
	y.m.Set(i, j, y.m.At(i, j)+v)
}

// Matrix exposes a read-only view for reporting.
func (y *Admittance) Matrix() mat.CMatrix {
	return y.m
}

func (y *Admittance) IsSymmetric(tol float64) bool {
	n := y.Size()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cmplx.Abs(y.m.At(i, j)-y.m.At(j, i)) > tol {
				return false
			}
		}
	}
	return true
}

// BuildYbus stamps the series admittance of every branch. Branch endpoints
// are 1-based bus ids. Shunts, taps and line charging are not modelled.
func BuildYbus(buses []network.Bus, branches []network.Branch) (*Admittance, error) {
	n := len(buses)
	if n == 0 {
		return nil, network.ErrEmptyNetwork
	}

	y := newAdmittance(n)
	for k, br := range branches {
		i, j := network.Index(br.From), network.Index(br.To)
		if i < 0 || i >= n || j < 0 || j >= n {
			return nil, fmt.Errorf("branch %d: %w: %d-%d (buses 1..%d)", k+1, network.ErrBusOutOfRange, br.From, br.To, n)
		}

		z := br.Impedance()
		if z == 0 {
			return nil, fmt.Errorf("branch %d: %w: %d-%d", k+1, network.ErrZeroImpedance, br.From, br.To)
		}
		yij := 1 / z

		y.add(i, i, yij)
		y.add(j, j, yij)
		y.add(i, j, -yij)
		y.add(j, i, -yij)
	}

	return y, nil
}
