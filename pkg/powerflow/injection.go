package powerflow

import (
	"math"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

// Injection returns the real and reactive power injected at bus i for the
// voltage state (v, theta).
func Injection(y *Admittance, v, theta []float64, i int) (p, q float64) {
	for j := range v {
		g, b := y.GB(i, j)
		if g == 0 && b == 0 {
			continue
		}
		sin, cos := math.Sincos(theta[i] - theta[j])
		vv := v[i] * v[j]
		p += vv * (g*cos + b*sin)
		q += vv * (g*sin - b*cos)
	}
	return p, q
}

func Injections(y *Admittance, v, theta []float64) (p, q []float64) {
	p = make([]float64, len(v))
	q = make([]float64, len(v))
	for i := range v {
		p[i], q[i] = Injection(y, v, theta, i)
	}
	return p, q
}

// PQIndices lists the load buses in ascending index order. It fixes the row
// and column order of both the mismatch vector and the Jacobian.
func PQIndices(types []network.BusType) []int {
	pq := make([]int, 0, len(types))
	for i, t := range types {
		if t == network.PQ {
			pq = append(pq, i)
		}
	}
	return pq
}

// Mismatch returns [P_spec - P over PQ] followed by [Q_spec - Q over PQ].
// Slack and PV buses take no part.
func Mismatch(y *Admittance, v, theta, pSpec, qSpec []float64, types []network.BusType) []float64 {
	return mismatch(y, v, theta, pSpec, qSpec, PQIndices(types))
}

func mismatch(y *Admittance, v, theta, pSpec, qSpec []float64, pq []int) []float64 {
	npq := len(pq)
	out := make([]float64, 2*npq)
	for a, i := range pq {
		p, q := Injection(y, v, theta, i)
		out[a] = pSpec[i] - p
		out[npq+a] = qSpec[i] - q
	}
	return out
}

func maxAbs(x []float64) float64 {
	m := 0.0
	for _, v := range x {
		if math.IsNaN(v) {
			return math.NaN()
		}
		m = math.Max(m, math.Abs(v))
	}
	return m
}
