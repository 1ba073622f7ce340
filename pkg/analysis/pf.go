package analysis

import (
	"fmt"

	"github.com/edp1096/toy-powerflow/pkg/powerflow"
)

// PowerFlow solves a single operating point.
type PowerFlow struct {
	BaseAnalysis
	result *powerflow.Result
}

func NewPowerFlow(opts powerflow.Options) *PowerFlow {
	return &PowerFlow{
		BaseAnalysis: *NewBaseAnalysis(opts),
	}
}

// Execute leaves a non-converged run in Result without an error, only
// construction and linear-solve failures are returned.
func (pf *PowerFlow) Execute() error {
	res, err := pf.solve()
	if err != nil {
		return fmt.Errorf("power flow: %w", err)
	}
	pf.result = res

	pf.Grid.SetSolution(res.State)
	pf.StoreResult("", 0, pf.Grid.GetSolution())
	pf.results["MISMATCH"] = append([]float64(nil), res.Trace...)
	return nil
}

func (pf *PowerFlow) Result() *powerflow.Result {
	return pf.result
}
