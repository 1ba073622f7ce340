package powerflow

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/edp1096/toy-powerflow/pkg/network"
)

// Jacobian builds [[dP/dθ, dP/dV], [dQ/dθ, dQ/dV]] over the PQ buses, in
// the same order as Mismatch. Diagonal terms sum over every other bus, PV
// and slack included. The off-diagonal dQ block is the classical
// +Vi·Vj·(Gij·cos θij + Bij·sin θij).
func Jacobian(y *Admittance, v, theta []float64, types []network.BusType) *mat.Dense {
	return jacobian(y, v, theta, PQIndices(types), false)
}

// ExactJacobian is Jacobian with the off-diagonal dQ/dθ taken as the true
// partial derivative of Q, -Vi·Vj·(Gij·cos θij + Bij·sin θij).
func ExactJacobian(y *Admittance, v, theta []float64, types []network.BusType) *mat.Dense {
	return jacobian(y, v, theta, PQIndices(types), true)
}

func jacobian(y *Admittance, v, theta []float64, pq []int, exact bool) *mat.Dense {
	npq := len(pq)
	if npq == 0 {
		return &mat.Dense{}
	}
	jac := mat.NewDense(2*npq, 2*npq, nil)

	qThetaSign := 1.0
	if exact {
		qThetaSign = -1
	}

	for a, i := range pq {
		for b, j := range pq {
			var dPdTheta, dPdV, dQdTheta, dQdV float64

			if i == j {
				for k := range v {
					if k == i {
						continue
					}
					gik, bik := y.GB(i, k)
					sin, cos := math.Sincos(theta[i] - theta[k])
					dPdTheta -= v[i] * v[k] * (gik*sin - bik*cos)
					dPdV += v[k] * (gik*cos + bik*sin)
					dQdTheta += v[i] * v[k] * (gik*cos + bik*sin)
					dQdV += v[k] * (gik*sin - bik*cos)
				}
				gii, bii := y.GB(i, i)
				dPdV += 2 * v[i] * gii
				dQdV -= 2 * v[i] * bii
			} else {
				gij, bij := y.GB(i, j)
				sin, cos := math.Sincos(theta[i] - theta[j])
				dPdTheta = v[i] * v[j] * (gij*sin - bij*cos)
				dPdV = v[i] * (gij*cos + bij*sin)
				dQdTheta = qThetaSign * v[i] * v[j] * (gij*cos + bij*sin)
				dQdV = v[i] * (gij*sin - bij*cos)
			}

			jac.Set(a, b, dPdTheta)
			jac.Set(a, npq+b, dPdV)
			jac.Set(npq+a, b, dQdTheta)
			jac.Set(npq+a, npq+b, dQdV)
		}
	}

	return jac
}
