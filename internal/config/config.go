package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/edp1096/toy-powerflow/internal/consts"
	"github.com/edp1096/toy-powerflow/pkg/matrix"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Solver Solver `toml:"solver"`
	Log    Log    `toml:"log"`
	Report Report `toml:"report"`
}

type Solver struct {
	Tolerance     float64 `toml:"tolerance"`
	MaxIterations int     `toml:"max_iterations"` // 0 evaluates the start point only
	VoltageFloor  float64 `toml:"voltage_floor"`
	ExactJacobian bool    `toml:"exact_jacobian"`
	LinearSolver  string  `toml:"linear_solver"` // sparse, dense or pinv
	Fallback      string  `toml:"fallback"`      // none or any linear solver
}

type Log struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Report holds output paths, empty means the output is skipped.
type Report struct {
	Plot  string `toml:"plot"`  // voltage profile image
	Trace string `toml:"trace"` // convergence chart html
	Sweep string `toml:"sweep"` // load sweep chart html
}

func Default() Config {
	return Config{
		Solver: Solver{
			Tolerance:     consts.DefaultTolerance,
			MaxIterations: consts.DefaultMaxIterations,
			VoltageFloor:  consts.DefaultVoltageFloor,
			LinearSolver:  "sparse",
			Fallback:      "none",
		},
		Log: Log{Level: "info"},
	}
}

// Load decodes a TOML file over the defaults. Keys the file omits keep
// their default values, unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("%w: unknown key %s", ErrInvalidConfig, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Solver.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be positive, got %g", ErrInvalidConfig, c.Solver.Tolerance)
	}
	if c.Solver.MaxIterations < 0 {
		return fmt.Errorf("%w: max_iterations must not be negative, got %d", ErrInvalidConfig, c.Solver.MaxIterations)
	}
	if c.Solver.VoltageFloor <= 0 {
		return fmt.Errorf("%w: voltage_floor must be positive, got %g", ErrInvalidConfig, c.Solver.VoltageFloor)
	}
	if _, err := c.LinearSolver(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// LinearSolver builds the configured correction solver.
func (c Config) LinearSolver() (matrix.Solver, error) {
	return matrix.ByName(c.Solver.LinearSolver, c.Solver.Fallback)
}

func (c Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.Log.Level)
	}
	return level, nil
}
