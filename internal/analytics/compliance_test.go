package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateAndRatio(t *testing.T) {
	tests := []struct {
		name      string
		value     float64
		target    float64
		compliant bool
		ratio     float64
	}{
		{name: "above target", value: 95, target: 90, compliant: true, ratio: 105.56},
		{name: "at target", value: 90, target: 90, compliant: true, ratio: 100},
		{name: "below target", value: 45, target: 90, compliant: false, ratio: 50},
		{name: "zero target non-negative", value: 3, target: 0, compliant: true, ratio: 0},
		{name: "zero target zero value", value: 0, target: 0, compliant: true, ratio: 0},
		{name: "zero target negative value", value: -1, target: 0, compliant: false, ratio: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NormalizedResult{CalculatedValue: tt.value, Target: tt.target}
			assert.Equal(t, tt.compliant, Evaluate(r))
			assert.Equal(t, tt.compliant, r.CalculatedValue >= r.Target)
			assert.Equal(t, tt.ratio, Ratio(r))
		})
	}
}

func TestGap(t *testing.T) {
	assert.Equal(t, -5.0, Gap(NormalizedResult{CalculatedValue: 85, Target: 90}))
	assert.Equal(t, 2.0, Gap(NormalizedResult{CalculatedValue: 2, Target: 0}))
}
