package analytics

import "time"

// RawRecord is a measurement record exactly as the results collaborator
// returned it. Site and indicator may be bare ids or embedded objects.
type RawRecord map[string]any

type Frequency string

const (
	FrequencyMonthly    Frequency = "monthly"
	FrequencyQuarterly  Frequency = "quarterly"
	FrequencySemiannual Frequency = "semiannual"
	FrequencyAnnual     Frequency = "annual"
)

const (
	DefaultSiteName      = "Sin sede"
	DefaultIndicatorName = "Sin nombre"
)

type Site struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Indicator struct {
	ID                   int64     `json:"id"`
	Name                 string    `json:"name"`
	Code                 string    `json:"code"`
	MeasurementUnit      string    `json:"measurementUnit"`
	MeasurementFrequency Frequency `json:"measurementFrequency"`
	Target               float64   `json:"target"`
	CalculationMethod    string    `json:"calculationMethod"`
}

// NormalizedResult is the flat, defaulted, period-labelled view of one
// measurement record. It is rebuilt on every fetch and never persisted
// upstream.
type NormalizedResult struct {
	ID                   int64     `json:"id"`
	SiteID               int64     `json:"siteId"`
	SiteName             string    `json:"siteName"`
	IndicatorID          int64     `json:"indicatorId"`
	IndicatorName        string    `json:"indicatorName"`
	IndicatorCode        string    `json:"indicatorCode"`
	MeasurementUnit      string    `json:"measurementUnit"`
	MeasurementFrequency Frequency `json:"measurementFrequency"`
	CalculationMethod    string    `json:"calculationMethod"`
	Numerator            float64   `json:"numerator"`
	Denominator          float64   `json:"denominator"`
	CalculatedValue      float64   `json:"calculatedValue"`
	Target               float64   `json:"target"`
	Year                 int       `json:"year"`
	Month                int       `json:"month,omitempty"`
	Quarter              int       `json:"quarter,omitempty"`
	Semester             int       `json:"semester,omitempty"`
	PeriodLabel          string    `json:"periodLabel"`
	PeriodKey            string    `json:"periodKey"`
	Compliant            bool      `json:"compliant"`
	ComplianceRatio      float64   `json:"complianceRatio"`
}

// ResultSet is the last fetched, fully normalized set. It is treated as an
// immutable value and replaced wholesale on refresh.
type ResultSet struct {
	Results   []NormalizedResult `json:"results"`
	FetchedAt time.Time          `json:"fetchedAt"`
	Source    string             `json:"source"`
}

func (s *ResultSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Results)
}

// Criteria narrows a result set. Zero-valued fields do not filter; set
// fields are AND-combined.
type Criteria struct {
	SiteID          int64     `json:"siteId,omitempty" yaml:"siteId,omitempty"`
	IndicatorID     int64     `json:"indicatorId,omitempty" yaml:"indicatorId,omitempty"`
	MeasurementUnit string    `json:"measurementUnit,omitempty" yaml:"measurementUnit,omitempty"`
	Frequency       Frequency `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Year            int       `json:"year,omitempty" yaml:"year,omitempty"`
}

func (c Criteria) IsEmpty() bool {
	return c == Criteria{}
}

type SummaryCounters struct {
	Total         int     `json:"total"`
	Compliant     int     `json:"compliant"`
	NonCompliant  int     `json:"nonCompliant"`
	AvgCompliance float64 `json:"avgCompliance"`
}

// ComplianceBreakdown counts compliant and non-compliant results for one
// group (a site or an indicator).
type ComplianceBreakdown struct {
	Key          string  `json:"key"`
	ID           int64   `json:"id"`
	Compliant    int     `json:"compliant"`
	NonCompliant int     `json:"nonCompliant"`
	Total        int     `json:"total"`
	Ratio        float64 `json:"ratio"`
}

type RankedResult struct {
	Result NormalizedResult `json:"result"`
	Diff   float64          `json:"diff"`
}

type TimeSeriesPoint struct {
	PeriodLabel     string  `json:"periodLabel"`
	PeriodKey       string  `json:"periodKey"`
	IndicatorName   string  `json:"indicatorName"`
	SiteName        string  `json:"siteName"`
	CalculatedValue float64 `json:"calculatedValue"`
	Target          float64 `json:"target"`
}

type FilterOptions struct {
	Sites       []Site      `json:"sites"`
	Indicators  []Indicator `json:"indicators"`
	Units       []string    `json:"units"`
	Frequencies []Frequency `json:"frequencies"`
	Years       []int       `json:"years"`
}

// ChartConfig mirrors the shape the console's chart widgets consume.
type ChartConfig struct {
	ChartType  string        `json:"chartType"`
	Title      string        `json:"title"`
	XAxis      string        `json:"xAxis,omitempty"`
	YAxis      string        `json:"yAxis,omitempty"`
	Series     []ChartSeries `json:"series"`
	Colors     []string      `json:"colors,omitempty"`
	ShowLegend bool          `json:"showLegend"`
}

type ChartSeries struct {
	Name  string       `json:"name"`
	Data  []ChartPoint `json:"data"`
	Color string       `json:"color,omitempty"`
}

type ChartPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Dashboard bundles every derived view computed from one filtered slice.
type Dashboard struct {
	Criteria    Criteria              `json:"criteria"`
	FetchedAt   time.Time             `json:"fetchedAt"`
	Results     []NormalizedResult    `json:"results"`
	Summary     SummaryCounters       `json:"summary"`
	BySite      []ComplianceBreakdown `json:"bySite"`
	ByIndicator []ComplianceBreakdown `json:"byIndicator"`
	Worst       []RankedResult        `json:"worst"`
	TimeSeries  []TimeSeriesPoint     `json:"timeSeries"`
	Charts      []ChartConfig         `json:"charts"`
}
