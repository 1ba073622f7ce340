package matrix

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/edp1096/sparse"
)

// SystemMatrix is a real linear system A·x = b on top of a sparse matrix.
// Rows and columns are 1-based, index 0 of rhs/solution is unused.
type SystemMatrix struct {
	Size     int
	matrix   *sparse.Matrix
	rhs      []float64
	solution []float64
	config   *sparse.Configuration
}

func NewSystemMatrix(size int) (*SystemMatrix, error) {
	config := &sparse.Configuration{
		Real:                    true,
		Complex:                 false,
		SeparatedComplexVectors: false,
		Expandable:              true,
		Translate:               false,
		ModifiedNodal:           false,
		TiesMultiplier:          5,
		PrinterWidth:            140,
		Annotate:                0,
	}

	mat, err := sparse.Create(int64(size), config)
	if err != nil {
		return nil, fmt.Errorf("creating sparse matrix: %v", err)
	}

	return &SystemMatrix{
		Size:     size,
		matrix:   mat,
		rhs:      make([]float64, size+1), // 1-based indexing
		solution: make([]float64, size+1),
		config:   config,
	}, nil
}

// SetupElements allocates every position so a dense Jacobian keeps a fixed
// structure between Clear calls.
func (m *SystemMatrix) SetupElements() {
	for i := 1; i <= m.Size; i++ {
		for j := 1; j <= m.Size; j++ {
			m.matrix.GetElement(int64(i), int64(j))
		}
	}
}

func (m *SystemMatrix) AddElement(i, j int, value float64) {
	if i <= 0 || j <= 0 || i > m.Size || j > m.Size {
		slog.Warn("matrix index out of bounds", "i", i, "j", j, "size", m.Size)
		return
	}
	m.matrix.GetElement(int64(i), int64(j)).Real += value
}

func (m *SystemMatrix) AddRHS(i int, value float64) {
	if i <= 0 || i > m.Size {
		slog.Warn("rhs index out of bounds", "i", i, "size", m.Size)
		return
	}
	m.rhs[i] += value
}

func (m *SystemMatrix) Clear() {
	m.matrix.Clear()
	for i := range m.rhs {
		m.rhs[i] = 0
	}
}

func (m *SystemMatrix) Solve() error {
	var err error

	err = m.matrix.Factor()
	if err != nil {
		return fmt.Errorf("%w: factorization failed: %v", ErrSingular, err)
	}

	m.solution, err = m.matrix.Solve(m.rhs)
	if err != nil {
		return fmt.Errorf("matrix solve failed: %v", err)
	}

	return nil
}

func (m *SystemMatrix) RHS() []float64 {
	return m.rhs
}

func (m *SystemMatrix) Solution() []float64 {
	return m.solution
}

func (m *SystemMatrix) PrintSystem(w io.Writer) {
	fmt.Fprintf(w, "\nLinear system (%dx%d):\n", m.Size, m.Size)

	for i := 1; i <= m.Size; i++ {
		fmt.Fprintf(w, "Equation %d:", i)
		for j := 1; j <= m.Size; j++ {
			element := m.matrix.GetElement(int64(i), int64(j))
			if element.Real != 0 {
				fmt.Fprintf(w, "  %+g*x%d", element.Real, j)
			}
		}
		fmt.Fprintf(w, " = %g\n", m.rhs[i])
	}
}

func (m *SystemMatrix) Destroy() {
	if m.matrix != nil {
		m.matrix.Destroy()
		m.matrix = nil
	}
}
