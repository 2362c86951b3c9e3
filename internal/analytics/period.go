package analytics

import (
	"fmt"
	"strings"
)

// Period is the derived label and sort key of one measurement period.
type Period struct {
	Label string `json:"periodLabel"`
	Key   string `json:"periodKey"`
}

// ParseFrequency maps an upstream frequency tag to a Frequency. Unknown or
// empty tags map to annual.
func ParseFrequency(raw string) Frequency {
	if freq, ok := LookupFrequency(raw); ok {
		return freq
	}
	return FrequencyAnnual
}

// LookupFrequency is the strict form of ParseFrequency: ok is false for tags
// it does not recognise.
func LookupFrequency(raw string) (Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "monthly", "mensual", "month":
		return FrequencyMonthly, true
	case "quarterly", "trimestral", "quarter":
		return FrequencyQuarterly, true
	case "semiannual", "semi-annual", "biannual", "semestral", "semester":
		return FrequencySemiannual, true
	case "annual", "anual", "yearly", "year":
		return FrequencyAnnual, true
	}
	return "", false
}

// NormalizePeriod selects the label format by frequency. A missing or
// out-of-range sub-field for the declared frequency degrades to the annual
// label.
//
// Keys are "YYYY-MM-tag" where MM is the first month the period covers, so
// lexicographic order is chronological even across granularities.
func NormalizePeriod(year, month, quarter, semester int, freq Frequency) Period {
	if year < 0 {
		year = 0
	}
	switch freq {
	case FrequencyMonthly:
		if month >= 1 && month <= 12 {
			return Period{
				Label: fmt.Sprintf("%d-%02d", year, month),
				Key:   fmt.Sprintf("%04d-%02d-M", year, month),
			}
		}
	case FrequencyQuarterly:
		if quarter >= 1 && quarter <= 4 {
			return Period{
				Label: fmt.Sprintf("Q%d %d", quarter, year),
				Key:   fmt.Sprintf("%04d-%02d-Q%d", year, (quarter-1)*3+1, quarter),
			}
		}
	case FrequencySemiannual:
		if semester >= 1 && semester <= 2 {
			return Period{
				Label: fmt.Sprintf("S%d %d", semester, year),
				Key:   fmt.Sprintf("%04d-%02d-S%d", year, (semester-1)*6+1, semester),
			}
		}
	}
	return Period{
		Label: fmt.Sprintf("%d", year),
		Key:   fmt.Sprintf("%04d-01-A", year),
	}
}

func (r *NormalizedResult) applyPeriod() {
	p := NormalizePeriod(r.Year, r.Month, r.Quarter, r.Semester, r.MeasurementFrequency)
	r.PeriodLabel = p.Label
	r.PeriodKey = p.Key
}
