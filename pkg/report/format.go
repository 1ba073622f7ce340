package report

import (
	"fmt"
	"math"
)

// FormatPower prints a per-unit power as MW/MVAr on the given base.
func FormatPower(pu, baseMVA float64, unit string) string {
	value := pu * baseMVA
	switch absValue := math.Abs(value); {
	case absValue >= 1e3:
		return fmt.Sprintf("%.3f G%s", value/1e3, unit)
	case absValue >= 1 || absValue == 0:
		return fmt.Sprintf("%.3f M%s", value, unit)
	default:
		return fmt.Sprintf("%.3f k%s", value*1e3, unit)
	}
}

func FormatMagnitude(value float64) string {
	return fmt.Sprintf("%8.5f", value) // " 0.98271"
}

func FormatPhase(value float64) string {
	return fmt.Sprintf("%9.4f", value) // "  -2.3669"
}

func FormatMismatch(value float64) string {
	return fmt.Sprintf("%10.3e", value) // " 2.726e-02"
}
