package analytics

import "math"

// Evaluate reports whether the calculated value meets the target. A zero
// target means no threshold is defined.
func Evaluate(r NormalizedResult) bool {
	return r.CalculatedValue >= r.Target
}

// Ratio is the percentage of target achieved, rounded to two decimals.
// It is 0 when the target is 0.
func Ratio(r NormalizedResult) float64 {
	if r.Target == 0 {
		return 0
	}
	return RoundTo2(r.CalculatedValue / r.Target * 100)
}

func (r *NormalizedResult) applyCompliance() {
	r.Compliant = Evaluate(*r)
	r.ComplianceRatio = Ratio(*r)
}

// Gap is calculatedValue - target; negative means below target.
func Gap(r NormalizedResult) float64 {
	return r.CalculatedValue - r.Target
}

func RoundTo2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Round(v*100) / 100
}
