package analytics

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Every function here is a pure function of its input slice. Views are always
// recomputed from the current result set, never patched.

const DefaultWorstLimit = 5

// Filter returns the results matching all set criteria. An empty criteria
// value returns the input unchanged.
func Filter(results []NormalizedResult, c Criteria) []NormalizedResult {
	if c.IsEmpty() {
		return results
	}
	folder := cases.Fold()
	unit := folder.String(strings.TrimSpace(c.MeasurementUnit))
	var freq Frequency
	if strings.TrimSpace(string(c.Frequency)) != "" {
		freq = ParseFrequency(string(c.Frequency))
	}

	out := make([]NormalizedResult, 0, len(results))
	for _, r := range results {
		if c.SiteID != 0 && r.SiteID != c.SiteID {
			continue
		}
		if c.IndicatorID != 0 && r.IndicatorID != c.IndicatorID {
			continue
		}
		if unit != "" && folder.String(strings.TrimSpace(r.MeasurementUnit)) != unit {
			continue
		}
		if freq != "" && r.MeasurementFrequency != freq {
			continue
		}
		if c.Year != 0 && r.Year != c.Year {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Summarize counts compliant results. AvgCompliance is the share of
// compliant results as a percentage, 0 for an empty set.
func Summarize(results []NormalizedResult) SummaryCounters {
	var s SummaryCounters
	s.Total = len(results)
	for _, r := range results {
		if r.Compliant {
			s.Compliant++
		}
	}
	s.NonCompliant = s.Total - s.Compliant
	if s.Total > 0 {
		s.AvgCompliance = RoundTo2(float64(s.Compliant) / float64(s.Total) * 100)
	}
	return s
}

// BreakdownBySite groups by resolved site name, in first-appearance order.
// Sites sharing a name collapse into one group.
func BreakdownBySite(results []NormalizedResult) []ComplianceBreakdown {
	return breakdown(results, func(r NormalizedResult) (string, int64) {
		return r.SiteName, r.SiteID
	})
}

// BreakdownByIndicator groups by resolved indicator name.
func BreakdownByIndicator(results []NormalizedResult) []ComplianceBreakdown {
	return breakdown(results, func(r NormalizedResult) (string, int64) {
		return r.IndicatorName, r.IndicatorID
	})
}

func breakdown(results []NormalizedResult, keyOf func(NormalizedResult) (string, int64)) []ComplianceBreakdown {
	index := make(map[string]int)
	groups := make([]ComplianceBreakdown, 0)
	for _, r := range results {
		label, id := keyOf(r)
		key := norm.NFC.String(label)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, ComplianceBreakdown{Key: label, ID: id})
		}
		g := &groups[i]
		g.Total++
		if r.Compliant {
			g.Compliant++
		} else {
			g.NonCompliant++
		}
	}
	for i := range groups {
		groups[i].Ratio = RoundTo2(float64(groups[i].Compliant) / float64(groups[i].Total) * 100)
	}
	return groups
}

// WorstPerformers ranks by calculatedValue - target ascending and returns the
// first n (DefaultWorstLimit when n <= 0). Ties keep input order.
func WorstPerformers(results []NormalizedResult, n int) []RankedResult {
	if n <= 0 {
		n = DefaultWorstLimit
	}
	ranked := make([]RankedResult, 0, len(results))
	for _, r := range results {
		ranked = append(ranked, RankedResult{Result: r, Diff: Gap(r)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Diff < ranked[j].Diff })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// BuildTimeSeries maps results to points ordered by period key. Equal keys
// keep input order, so the same input always yields the same sequence.
func BuildTimeSeries(results []NormalizedResult) []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, 0, len(results))
	for _, r := range results {
		points = append(points, TimeSeriesPoint{
			PeriodLabel:     r.PeriodLabel,
			PeriodKey:       r.PeriodKey,
			IndicatorName:   r.IndicatorName,
			SiteName:        r.SiteName,
			CalculatedValue: r.CalculatedValue,
			Target:          r.Target,
		})
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].PeriodKey < points[j].PeriodKey })
	return points
}

// Options lists the distinct values present in a result set, for criteria
// pickers.
func Options(results []NormalizedResult) FilterOptions {
	opts := FilterOptions{
		Sites:       []Site{},
		Indicators:  []Indicator{},
		Units:       []string{},
		Frequencies: []Frequency{},
		Years:       []int{},
	}
	seenSite := map[int64]bool{}
	seenInd := map[int64]bool{}
	seenUnit := map[string]bool{}
	seenFreq := map[Frequency]bool{}
	seenYear := map[int]bool{}
	for _, r := range results {
		if r.SiteID != 0 && !seenSite[r.SiteID] {
			seenSite[r.SiteID] = true
			opts.Sites = append(opts.Sites, Site{ID: r.SiteID, Name: r.SiteName})
		}
		if r.IndicatorID != 0 && !seenInd[r.IndicatorID] {
			seenInd[r.IndicatorID] = true
			opts.Indicators = append(opts.Indicators, Indicator{
				ID:                   r.IndicatorID,
				Name:                 r.IndicatorName,
				Code:                 r.IndicatorCode,
				MeasurementUnit:      r.MeasurementUnit,
				MeasurementFrequency: r.MeasurementFrequency,
				Target:               r.Target,
				CalculationMethod:    r.CalculationMethod,
			})
		}
		if r.MeasurementUnit != "" && !seenUnit[r.MeasurementUnit] {
			seenUnit[r.MeasurementUnit] = true
			opts.Units = append(opts.Units, r.MeasurementUnit)
		}
		if !seenFreq[r.MeasurementFrequency] {
			seenFreq[r.MeasurementFrequency] = true
			opts.Frequencies = append(opts.Frequencies, r.MeasurementFrequency)
		}
		if r.Year != 0 && !seenYear[r.Year] {
			seenYear[r.Year] = true
			opts.Years = append(opts.Years, r.Year)
		}
	}
	sort.Slice(opts.Sites, func(i, j int) bool { return opts.Sites[i].Name < opts.Sites[j].Name })
	sort.Slice(opts.Indicators, func(i, j int) bool { return opts.Indicators[i].Name < opts.Indicators[j].Name })
	sort.Strings(opts.Units)
	sort.Slice(opts.Frequencies, func(i, j int) bool { return opts.Frequencies[i] < opts.Frequencies[j] })
	sort.Ints(opts.Years)
	return opts
}

// BuildDashboard filters once and derives every view from the same slice so
// the table, charts and counters never disagree.
func BuildDashboard(set *ResultSet, c Criteria, worstN int) Dashboard {
	var all []NormalizedResult
	d := Dashboard{Criteria: c}
	if set != nil {
		all = set.Results
		d.FetchedAt = set.FetchedAt
	}
	filtered := Filter(all, c)
	if filtered == nil {
		filtered = []NormalizedResult{}
	}
	d.Results = filtered
	d.Summary = Summarize(filtered)
	d.BySite = BreakdownBySite(filtered)
	d.ByIndicator = BreakdownByIndicator(filtered)
	d.Worst = WorstPerformers(filtered, worstN)
	d.TimeSeries = BuildTimeSeries(filtered)
	d.Charts = Charts(filtered)
	return d
}
