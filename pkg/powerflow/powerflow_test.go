package powerflow

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"math/cmplx"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/edp1096/toy-powerflow/pkg/matrix"
	"github.com/edp1096/toy-powerflow/pkg/network"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testOptions() Options {
	opts := DefaultOptions()
	opts.Logger = quiet
	return opts
}

func threeBus() *network.Case {
	return &network.Case{
		Buses: []network.Bus{
			{ID: 1, Type: network.Slack, Vm: 1.0},
			{ID: 2, Type: network.PQ, Pd: 0.3, Qd: 0.1, Vm: 0.95},
			{ID: 3, Type: network.PQ, Pd: 0.3, Qd: 0.1, Vm: 0.95},
		},
		Branches: []network.Branch{
			{From: 1, To: 2, R: 0.02, X: 0.06},
			{From: 1, To: 3, R: 0.08, X: 0.24},
			{From: 2, To: 3, R: 0.06, X: 0.18},
		},
	}
}

func mustYbus(t *testing.T, c *network.Case) *Admittance {
	t.Helper()
	y, err := BuildYbus(c.Buses, c.Branches)
	if err != nil {
		t.Fatalf("BuildYbus() error = %v", err)
	}
	return y
}

func TestBuildYbus(t *testing.T) {
	t.Parallel()
	y := mustYbus(t, threeBus())

	want := [][]complex128{
		{6.25 - 18.75i, -5 + 15i, -1.25 + 3.75i},
		{-5 + 15i, 6.666666666666667 - 20i, -1.666666666666667 + 5i},
		{-1.25 + 3.75i, -1.666666666666667 + 5i, 2.916666666666667 - 8.75i},
	}
	for i := range want {
		for j := range want[i] {
			if got := y.At(i, j); cmplx.Abs(got-want[i][j]) > 1e-12 {
				t.Fatalf("Y[%d,%d] = %v, want %v", i, j, got, want[i][j])
			}
		}
	}
	if !y.IsSymmetric(0) {
		t.Fatal("Ybus is not symmetric")
	}
}

func TestBuildYbusParallelBranches(t *testing.T) {
	t.Parallel()
	buses := []network.Bus{{ID: 1, Type: network.Slack}, {ID: 2}}
	single := mustYbus(t, &network.Case{Buses: buses, Branches: []network.Branch{{From: 1, To: 2, R: 0.01, X: 0.1}}})
	double := mustYbus(t, &network.Case{Buses: buses, Branches: []network.Branch{
		{From: 1, To: 2, R: 0.01, X: 0.1},
		{From: 2, To: 1, R: 0.01, X: 0.1},
	}})

	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if cmplx.Abs(double.At(i, j)-2*single.At(i, j)) > 1e-12 {
				t.Fatalf("Y[%d,%d] = %v, want %v", i, j, double.At(i, j), 2*single.At(i, j))
			}
		}
	}
	if !double.IsSymmetric(0) {
		t.Fatal("Ybus is not symmetric")
	}
}

func TestBuildYbusErrors(t *testing.T) {
	t.Parallel()
	buses := threeBus().Buses
	tests := []struct {
		name     string
		buses    []network.Bus
		branches []network.Branch
		wantErr  error
	}{
		{
			name:     "zero impedance",
			buses:    buses,
			branches: []network.Branch{{From: 1, To: 2, R: 0, X: 0}},
			wantErr:  network.ErrZeroImpedance,
		},
		{
			name:     "bus out of range",
			buses:    buses,
			branches: []network.Branch{{From: 0, To: 2, R: 0.1, X: 0.1}},
			wantErr:  network.ErrBusOutOfRange,
		},
		{
			name:    "no buses",
			wantErr: network.ErrEmptyNetwork,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			y, err := BuildYbus(tt.buses, tt.branches)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BuildYbus() error = %v, want %v", err, tt.wantErr)
			}
			if y != nil {
				t.Fatal("BuildYbus() returned a matrix with an error")
			}
		})
	}
}

func TestMismatchFlatStart(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()

	v := []float64{1, 1, 1}
	theta := []float64{0, 0, 0}

	// Ybus rows sum to zero without shunts, so nothing flows at flat start
	// and the mismatch is the specified injection itself.
	got := Mismatch(y, v, theta, pSpec, qSpec, c.Types())
	want := []float64{-0.3, -0.3, -0.1, -0.1}
	if len(got) != len(want) {
		t.Fatalf("Mismatch() = %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("Mismatch() = %v, want %v", got, want)
		}
	}
}

func TestMismatchSkipsPV(t *testing.T) {
	t.Parallel()
	c := threeBus()
	c.Buses[1].Type = network.PV
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()

	got := Mismatch(y, []float64{1, 1, 1}, []float64{0, 0, 0}, pSpec, qSpec, c.Types())
	if len(got) != 2 || math.Abs(got[0]+0.3) > 1e-12 || math.Abs(got[1]+0.1) > 1e-12 {
		t.Fatalf("Mismatch() = %v, want [-0.3 -0.1]", got)
	}
}

// meshed case with a PV bus in the middle so the diagonal sums run over
// non-PQ buses too
func fourBus() *network.Case {
	return &network.Case{
		Buses: []network.Bus{
			{ID: 1, Type: network.Slack},
			{ID: 2, Type: network.PQ},
			{ID: 3, Type: network.PV},
			{ID: 4, Type: network.PQ},
		},
		Branches: []network.Branch{
			{From: 1, To: 2, R: 0.02, X: 0.06},
			{From: 2, To: 3, R: 0.05, X: 0.2},
			{From: 3, To: 4, R: 0.01, X: 0.1},
			{From: 1, To: 4, R: 0.03, X: 0.12},
			{From: 2, To: 4, R: 0.04, X: 0.15},
		},
	}
}

func TestJacobianBlocks(t *testing.T) {
	t.Parallel()
	c := fourBus()
	y := mustYbus(t, c)
	types := c.Types()
	pq := PQIndices(types)
	npq := len(pq)

	v := []float64{1.02, 0.97, 1.01, 0.94}
	theta := []float64{0, -0.05, 0.03, -0.11}

	jac := Jacobian(y, v, theta, types)
	if r, cols := jac.Dims(); r != 2*npq || cols != 2*npq {
		t.Fatalf("Jacobian() dims = %dx%d, want %dx%d", r, cols, 2*npq, 2*npq)
	}

	for a, i := range pq {
		for b, j := range pq {
			var jPTheta, jPV, jQTheta, jQV float64
			if i == j {
				for k := range v {
					if k == i {
						continue
					}
					g, bb := y.GB(i, k)
					sin, cos := math.Sincos(theta[i] - theta[k])
					jPTheta += -v[i] * v[k] * (g*sin - bb*cos)
					jPV += v[k] * (g*cos + bb*sin)
					jQTheta += v[i] * v[k] * (g*cos + bb*sin)
					jQV += v[k] * (g*sin - bb*cos)
				}
				g, bb := y.GB(i, i)
				jPV += 2 * v[i] * g
				jQV += -2 * v[i] * bb
			} else {
				g, bb := y.GB(i, j)
				sin, cos := math.Sincos(theta[i] - theta[j])
				jPTheta = v[i] * v[j] * (g*sin - bb*cos)
				jPV = v[i] * (g*cos + bb*sin)
				jQTheta = v[i] * v[j] * (g*cos + bb*sin)
				jQV = v[i] * (g*sin - bb*cos)
			}

			want := map[[2]int]float64{
				{a, b}:             jPTheta,
				{a, npq + b}:       jPV,
				{npq + a, b}:       jQTheta,
				{npq + a, npq + b}: jQV,
			}
			for rc, w := range want {
				if got := jac.At(rc[0], rc[1]); math.Abs(got-w) > 1e-12 {
					t.Errorf("J[%d,%d] = %.12g, want %.12g", rc[0], rc[1], got, w)
				}
			}
		}
	}
}

func TestJacobianReferenceEntries(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	v := []float64{1, 0.95, 0.95}
	theta := []float64{0, -0.01, -0.02}

	jac := Jacobian(y, v, theta, c.Types())
	exact := ExactJacobian(y, v, theta, c.Types())

	// only the off-diagonal dQ/dθ entries differ, and only in sign
	want := [][]float64{
		{18.729104090453866, -4.527315792853678, 5.981164205581746, -1.535754958989095},
		{-4.497232960906726, 8.035272067958076, -1.6307533756636783, 2.5861682825697674},
		{-6.351227338030675, -1.4589672110396403, 18.285153588995932, -4.765595571424924},
		{-1.5492157068804944, -2.807723464892055, -4.733929432533396, 8.166818875833604},
	}
	for r := range want {
		for col := range want[r] {
			if got := jac.At(r, col); math.Abs(got-want[r][col]) > 1e-9 {
				t.Errorf("Jacobian()[%d,%d] = %.12g, want %.12g", r, col, got, want[r][col])
			}
			wantExact := want[r][col]
			if (r == 2 && col == 1) || (r == 3 && col == 0) {
				wantExact = -wantExact
			}
			if got := exact.At(r, col); math.Abs(got-wantExact) > 1e-9 {
				t.Errorf("ExactJacobian()[%d,%d] = %.12g, want %.12g", r, col, got, wantExact)
			}
		}
	}
}

func TestJacobianFiniteDifference(t *testing.T) {
	t.Parallel()
	c := fourBus()
	y := mustYbus(t, c)
	types := c.Types()
	pq := PQIndices(types)
	npq := len(pq)

	v := []float64{1.02, 0.97, 1.01, 0.94}
	theta := []float64{0, -0.05, 0.03, -0.11}

	injections := func(v, theta []float64) []float64 {
		out := make([]float64, 2*npq)
		for a, i := range pq {
			out[a], out[npq+a] = Injection(y, v, theta, i)
		}
		return out
	}

	tests := []struct {
		name string
		jac  func(*Admittance, []float64, []float64, []network.BusType) *mat.Dense
		skip func(row, col int) bool
	}{
		{
			name: "classical",
			jac:  Jacobian,
			// off-diagonal dQ/dθ is the classical form, not the derivative
			skip: func(row, col int) bool { return row >= npq && col < npq && row-npq != col },
		},
		{
			name: "exact",
			jac:  ExactJacobian,
			skip: func(int, int) bool { return false },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			jac := tt.jac(y, v, theta, types)

			const h = 1e-6
			for b, j := range pq {
				for _, wrtV := range []bool{false, true} {
					vp, vm := append([]float64(nil), v...), append([]float64(nil), v...)
					tp, tm := append([]float64(nil), theta...), append([]float64(nil), theta...)
					col := b
					if wrtV {
						vp[j] += h
						vm[j] -= h
						col = npq + b
					} else {
						tp[j] += h
						tm[j] -= h
					}
					fp, fm := injections(vp, tp), injections(vm, tm)
					for row := range fp {
						if tt.skip(row, col) {
							continue
						}
						fd := (fp[row] - fm[row]) / (2 * h)
						if got := jac.At(row, col); math.Abs(got-fd) > 1e-6*math.Max(1, math.Abs(fd)) {
							t.Errorf("J[%d,%d] = %.9g, finite difference %.9g", row, col, got, fd)
						}
					}
				}
			}
		})
	}
}

func TestSolveThreeBus(t *testing.T) {
	t.Parallel()

	solvers := []matrix.Solver{
		matrix.SparseLU{},
		matrix.DenseLU{},
		matrix.Fallback(matrix.SparseLU{}, matrix.PseudoInverse{}),
	}
	for _, s := range solvers {
		t.Run(s.Name(), func(t *testing.T) {
			t.Parallel()
			c := threeBus()
			y := mustYbus(t, c)
			pSpec, qSpec := c.Specs()
			v0, theta0 := c.InitialState()

			opts := testOptions()
			opts.Solver = s
			res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
			if err != nil {
				t.Fatalf("Solve() error = %v", err)
			}
			if !res.Converged {
				t.Fatalf("Solve() did not converge: trace %v", res.Trace)
			}
			if res.MaxMismatch >= 1e-6 || res.Iterations > 20 {
				t.Fatalf("Solve() max mismatch %g after %d iterations", res.MaxMismatch, res.Iterations)
			}
			if res.Iterations != 6 || len(res.Trace) != 7 {
				t.Fatalf("iterations = %d, trace = %v, want 6 corrections", res.Iterations, res.Trace)
			}
			for k := 1; k < 4; k++ {
				if res.Trace[k] >= res.Trace[k-1] {
					t.Fatalf("mismatch did not decrease at iteration %d: %v", k+1, res.Trace)
				}
			}

			if res.V[0] != 1.0 || res.Theta[0] != 0 {
				t.Fatalf("slack moved: V=%g theta=%g", res.V[0], res.Theta[0])
			}
			for i, vm := range res.V {
				if vm < 0.9 || vm > 1.05 {
					t.Fatalf("V[%d] = %g outside [0.9, 1.05]", i, vm)
				}
			}

			wantV := []float64{1.0, 0.98271372, 0.96841354}
			wantThetaDeg := []float64{0, -1.2828731, -2.3669020}
			for i := range wantV {
				if math.Abs(res.V[i]-wantV[i]) > 1e-6 {
					t.Errorf("V[%d] = %.8f, want %.8f", i, res.V[i], wantV[i])
				}
				if deg := res.Theta[i] * 180 / math.Pi; math.Abs(deg-wantThetaDeg[i]) > 1e-4 {
					t.Errorf("theta[%d] = %.7f deg, want %.7f", i, deg, wantThetaDeg[i])
				}
			}
			if res.Clamped != 0 {
				t.Errorf("Clamped = %d, want 0", res.Clamped)
			}
		})
	}
}

func TestSolveExactJacobian(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	opts := testOptions()
	opts.ExactJacobian = true
	res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}

	// quadratic convergence: 0.6125, 2.7e-2, 4.8e-5, 1.6e-10
	if !res.Converged || res.Iterations != 3 || res.MaxMismatch > 1e-9 {
		t.Fatalf("Solve() = converged %v after %d iterations, trace %v", res.Converged, res.Iterations, res.Trace)
	}
	wantV := []float64{1.0, 0.9827137705, 0.9684136170}
	for i := range wantV {
		if math.Abs(res.V[i]-wantV[i]) > 1e-9 {
			t.Errorf("V[%d] = %.10f, want %.10f", i, res.V[i], wantV[i])
		}
	}
}

func TestSolveRoundTrip(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), testOptions())
	if err != nil || !res.Converged {
		t.Fatalf("Solve() = %+v, %v", res, err)
	}

	// rebuild from the case and evaluate at the solved state
	y2 := mustYbus(t, c)
	p, q := Injections(y2, res.V, res.Theta)
	for _, i := range PQIndices(c.Types()) {
		if math.Abs(p[i]-pSpec[i]) > 1e-6 || math.Abs(q[i]-qSpec[i]) > 1e-6 {
			t.Fatalf("bus %d: P=%g Q=%g, want P=%g Q=%g", i+1, p[i], q[i], pSpec[i], qSpec[i])
		}
	}

	// the slack picks up the losses
	if p[0] <= 0.6 {
		t.Fatalf("slack P = %g, want more than the 0.6 load", p[0])
	}

	// inputs are copied, not updated in place
	if v0[1] != 0.95 || theta0[1] != 0 {
		t.Fatalf("Solve() modified its inputs: V0=%v theta0=%v", v0, theta0)
	}
}

func TestApplyCorrectionVoltageFloor(t *testing.T) {
	t.Parallel()
	s := State{V: []float64{1, 0.5, 0.9}, Theta: []float64{0, 0, 0}}
	pq := []int{1, 2}

	// Δθ for buses 2,3 then ΔV for buses 2,3
	clamped := applyCorrection(&s, pq, []float64{-0.1, 0.2, -0.45, -0.1}, 0.1)

	if clamped != 1 {
		t.Fatalf("clamped = %d, want 1", clamped)
	}
	if s.V[1] != 0.1 {
		t.Fatalf("V[1] = %v, want exactly the floor", s.V[1])
	}
	if math.Abs(s.V[2]-0.8) > 1e-15 || s.Theta[1] != -0.1 || s.Theta[2] != 0.2 {
		t.Fatalf("state = %+v", s)
	}
	if s.V[0] != 1 || s.Theta[0] != 0 {
		t.Fatal("slack entry changed")
	}
}

func TestSolveMaxIterations(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	opts := testOptions()
	opts.MaxIterations = 1
	res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
	if err != nil {
		t.Fatalf("Solve() error = %v, want nil on exhaustion", err)
	}
	if res.Converged {
		t.Fatal("Solve() converged after a single correction")
	}
	if res.Iterations != 1 || len(res.Trace) != 2 {
		t.Fatalf("iterations = %d, trace = %v", res.Iterations, res.Trace)
	}
	if res.MaxMismatch != res.Trace[1] || res.MaxMismatch >= res.Trace[0] {
		t.Fatalf("max mismatch = %g, trace = %v", res.MaxMismatch, res.Trace)
	}
}

func TestSolveZeroIterations(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	opts := testOptions()
	opts.MaxIterations = 0
	res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if res.Converged || res.Iterations != 0 || len(res.Trace) != 1 {
		t.Fatalf("converged = %v, iterations = %d, trace = %v, want one evaluation", res.Converged, res.Iterations, res.Trace)
	}
	for i := range v0 {
		if res.V[i] != v0[i] || res.Theta[i] != theta0[i] {
			t.Fatalf("state moved without a correction: V=%v theta=%v", res.V, res.Theta)
		}
	}
}

func TestSolveSingularJacobian(t *testing.T) {
	t.Parallel()
	c := threeBus()
	c.Branches = c.Branches[:1] // bus 3 is left without branches
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	for _, s := range []matrix.Solver{matrix.SparseLU{}, matrix.DenseLU{}} {
		opts := testOptions()
		opts.Solver = s
		res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
		if !errors.Is(err, matrix.ErrSingular) {
			t.Fatalf("%s: Solve() error = %v, want %v", s.Name(), err, matrix.ErrSingular)
		}
		if res != nil {
			t.Fatalf("%s: Solve() returned a result with an error", s.Name())
		}
	}
}

func TestSolveInvalidInput(t *testing.T) {
	t.Parallel()
	c := threeBus()
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	tests := []struct {
		name    string
		call    func() (*Result, error)
		wantErr error
	}{
		{
			name: "slack not first",
			call: func() (*Result, error) {
				types := []network.BusType{network.PQ, network.Slack, network.PQ}
				return Solve(y, pSpec, qSpec, v0, theta0, types, testOptions())
			},
			wantErr: network.ErrSlackNotFirst,
		},
		{
			name: "short voltage vector",
			call: func() (*Result, error) {
				return Solve(y, pSpec, qSpec, v0[:2], theta0, c.Types(), testOptions())
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "negative tolerance",
			call: func() (*Result, error) {
				opts := testOptions()
				opts.Tolerance = -1
				return Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "zero value options",
			call: func() (*Result, error) {
				return Solve(y, pSpec, qSpec, v0, theta0, c.Types(), Options{Logger: quiet})
			},
			wantErr: ErrInvalidInput,
		},
		{
			name: "negative iteration limit",
			call: func() (*Result, error) {
				opts := testOptions()
				opts.MaxIterations = -1
				return Solve(y, pSpec, qSpec, v0, theta0, c.Types(), opts)
			},
			wantErr: ErrInvalidInput,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.call(); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Solve() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSolveNoLoadBuses(t *testing.T) {
	t.Parallel()
	c := threeBus()
	c.Buses[1].Type = network.PV
	c.Buses[2].Type = network.PV
	y := mustYbus(t, c)
	pSpec, qSpec := c.Specs()
	v0, theta0 := c.InitialState()

	res, err := Solve(y, pSpec, qSpec, v0, theta0, c.Types(), testOptions())
	if err != nil {
		t.Fatalf("Solve() error = %v", err)
	}
	if !res.Converged || res.Iterations != 0 || res.MaxMismatch != 0 {
		t.Fatalf("Solve() = %+v", res)
	}
}
