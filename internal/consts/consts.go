package consts

const (
	BaseMVA = 100.0 // System base power (MVA)

	DefaultTolerance     = 1e-6 // Max power mismatch for convergence (p.u.)
	DefaultMaxIterations = 20
	DefaultVoltageFloor  = 0.1 // Lowest PQ voltage magnitude allowed after an update (p.u.)

	FlatVoltage = 1.0 // Flat start magnitude (p.u.)
)
