package matrix

import "gonum.org/v1/gonum/mat"

// Stamper receives 1-based matrix and right-hand side contributions.
type Stamper interface {
	AddElement(i, j int, value float64)
	AddRHS(i int, value float64)
}

// StampDense copies the nonzero entries of a and all of b into s.
func StampDense(s Stamper, a mat.Matrix, b []float64) {
	r, c := a.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := a.At(i, j); v != 0 {
				s.AddElement(i+1, j+1, v)
			}
		}
	}
	for i, v := range b {
		if v != 0 {
			s.AddRHS(i+1, v)
		}
	}
}
