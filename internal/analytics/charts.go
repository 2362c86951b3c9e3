package analytics

const (
	colorCompliant    = "#10B981"
	colorNonCompliant = "#EF4444"
)

var seriesColors = []string{
	"#4F46E5", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6",
	"#06B6D4", "#EC4899", "#84CC16", "#F97316", "#6366F1",
}

// Charts returns the standard chart set for a filtered slice.
func Charts(results []NormalizedResult) []ChartConfig {
	return []ChartConfig{
		CompliancePie(results),
		SiteBars(results),
		IndicatorBars(results),
		SeriesChart(results),
	}
}

func CompliancePie(results []NormalizedResult) ChartConfig {
	s := Summarize(results)
	return ChartConfig{
		ChartType: "pie",
		Title:     "Compliance",
		Series: []ChartSeries{{
			Name: "Results",
			Data: []ChartPoint{
				{Label: "Compliant", Value: float64(s.Compliant)},
				{Label: "Non-compliant", Value: float64(s.NonCompliant)},
			},
		}},
		Colors:     []string{colorCompliant, colorNonCompliant},
		ShowLegend: true,
	}
}

func SiteBars(results []NormalizedResult) ChartConfig {
	return breakdownBars("Compliance by site", "Site", BreakdownBySite(results))
}

func IndicatorBars(results []NormalizedResult) ChartConfig {
	return breakdownBars("Compliance by indicator", "Indicator", BreakdownByIndicator(results))
}

func breakdownBars(title, axis string, groups []ComplianceBreakdown) ChartConfig {
	compliant := make([]ChartPoint, 0, len(groups))
	nonCompliant := make([]ChartPoint, 0, len(groups))
	for _, g := range groups {
		compliant = append(compliant, ChartPoint{Label: g.Key, Value: float64(g.Compliant)})
		nonCompliant = append(nonCompliant, ChartPoint{Label: g.Key, Value: float64(g.NonCompliant)})
	}
	return ChartConfig{
		ChartType: "stacked_bar",
		Title:     title,
		XAxis:     axis,
		YAxis:     "Results",
		Series: []ChartSeries{
			{Name: "Compliant", Data: compliant, Color: colorCompliant},
			{Name: "Non-compliant", Data: nonCompliant, Color: colorNonCompliant},
		},
		ShowLegend: true,
	}
}

// SeriesChart draws one line per indicator over the ordered time series.
func SeriesChart(results []NormalizedResult) ChartConfig {
	points := BuildTimeSeries(results)
	index := map[string]int{}
	series := make([]ChartSeries, 0)
	for _, p := range points {
		i, ok := index[p.IndicatorName]
		if !ok {
			i = len(series)
			index[p.IndicatorName] = i
			series = append(series, ChartSeries{
				Name:  p.IndicatorName,
				Data:  []ChartPoint{},
				Color: seriesColors[i%len(seriesColors)],
			})
		}
		series[i].Data = append(series[i].Data, ChartPoint{
			Label: p.PeriodLabel,
			Value: RoundTo2(p.CalculatedValue),
		})
	}
	return ChartConfig{
		ChartType:  "line",
		Title:      "Calculated value over time",
		XAxis:      "Period",
		YAxis:      "Value",
		Series:     series,
		ShowLegend: len(series) > 1,
	}
}
