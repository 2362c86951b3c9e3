package analytics

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Upstream payloads arrive either flat (ids as bare numbers, names copied onto
// the record) or detailed (site and indicator embedded as objects). Each
// output field is resolved by one function that checks, in order, the flat
// keys, the embedded object, the reference lookup and finally a default.
var (
	siteObjectKeys      = []string{"headquarters", "site"}
	indicatorObjectKeys = []string{"indicator"}
)

// Reconciler turns raw records into NormalizedResults. The lookup maps are
// optional and only consulted when neither the flat nor the embedded shape
// carries a field.
type Reconciler struct {
	Sites      map[int64]Site
	Indicators map[int64]Indicator
}

func NewReconciler(sites []Site, indicators []Indicator) *Reconciler {
	r := &Reconciler{
		Sites:      make(map[int64]Site, len(sites)),
		Indicators: make(map[int64]Indicator, len(indicators)),
	}
	for _, s := range sites {
		r.Sites[s.ID] = s
	}
	for _, ind := range indicators {
		r.Indicators[ind.ID] = ind
	}
	return r
}

// Reconcile converts one raw record without reference lookups.
func Reconcile(raw RawRecord) NormalizedResult {
	var r Reconciler
	return r.Reconcile(raw)
}

// ReconcileAll converts a batch, preserving input order.
func (rc *Reconciler) ReconcileAll(raws []RawRecord) []NormalizedResult {
	out := make([]NormalizedResult, 0, len(raws))
	for _, raw := range raws {
		out = append(out, rc.Reconcile(raw))
	}
	return out
}

// Reconcile never fails: shape anomalies resolve to defaults so that a
// partially populated record still shows up as a row.
func (rc *Reconciler) Reconcile(raw RawRecord) NormalizedResult {
	site := embeddedObject(raw, siteObjectKeys...)
	ind := embeddedObject(raw, indicatorObjectKeys...)

	res := NormalizedResult{
		ID:          int64(firstFloat(raw, "id")),
		SiteID:      resolveID(raw, site, "headquarters", "site", "headquartersId", "siteId"),
		IndicatorID: resolveID(raw, ind, "indicator", "indicatorId"),
		Numerator:   firstFloat(raw, "numerator"),
		Denominator: firstFloat(raw, "denominator"),
		Year:        firstInt(raw, "year"),
		Month:       boundedInt(firstInt(raw, "month"), 1, 12),
		Quarter:     boundedInt(firstInt(raw, "quarter"), 1, 4),
		Semester:    boundedInt(firstInt(raw, "semester"), 1, 2),
	}

	lookupSite, hasSite := rc.site(res.SiteID)
	lookupInd, hasInd := rc.indicator(res.IndicatorID)

	res.SiteName = resolveString(raw, site, []string{"headquarterName", "headquartersName", "siteName"}, "name",
		pick(hasSite, lookupSite.Name), DefaultSiteName)
	res.IndicatorName = resolveString(raw, ind, []string{"indicatorName"}, "name",
		pick(hasInd, lookupInd.Name), DefaultIndicatorName)
	res.IndicatorCode = resolveString(raw, ind, []string{"indicatorCode"}, "code",
		pick(hasInd, lookupInd.Code), "")
	res.MeasurementUnit = resolveString(raw, ind, []string{"measurementUnit"}, "measurementUnit",
		pick(hasInd, lookupInd.MeasurementUnit), "")
	res.CalculationMethod = resolveString(raw, ind, []string{"calculationMethod"}, "calculationMethod",
		pick(hasInd, lookupInd.CalculationMethod), "")
	res.MeasurementFrequency = ParseFrequency(resolveString(raw, ind, []string{"measurementFrequency", "frequency"}, "measurementFrequency",
		pick(hasInd, string(lookupInd.MeasurementFrequency)), ""))
	res.Target = resolveTarget(raw, ind, lookupInd, hasInd)
	res.CalculatedValue = resolveCalculatedValue(raw, res.Numerator, res.Denominator)

	res.applyPeriod()
	res.applyCompliance()
	return res
}

func (rc *Reconciler) site(id int64) (Site, bool) {
	if rc == nil || rc.Sites == nil || id == 0 {
		return Site{}, false
	}
	s, ok := rc.Sites[id]
	return s, ok
}

func (rc *Reconciler) indicator(id int64) (Indicator, bool) {
	if rc == nil || rc.Indicators == nil || id == 0 {
		return Indicator{}, false
	}
	ind, ok := rc.Indicators[id]
	return ind, ok
}

// ParseSite reads a headquarters reference entry.
func ParseSite(raw RawRecord) Site {
	return Site{
		ID:   int64(firstFloat(raw, "id")),
		Name: firstString(raw, "name", "headquarterName"),
	}
}

// ParseIndicator reads an indicator reference entry.
func ParseIndicator(raw RawRecord) Indicator {
	return Indicator{
		ID:                   int64(firstFloat(raw, "id")),
		Name:                 firstString(raw, "name"),
		Code:                 firstString(raw, "code"),
		MeasurementUnit:      firstString(raw, "measurementUnit"),
		MeasurementFrequency: ParseFrequency(firstString(raw, "measurementFrequency")),
		Target:               firstFloat(raw, "target"),
		CalculationMethod:    firstString(raw, "calculationMethod"),
	}
}

func resolveID(raw RawRecord, obj map[string]any, flatKeys ...string) int64 {
	if v, ok := scalarFloat(raw, flatKeys...); ok {
		return int64(v)
	}
	if obj != nil {
		if v, ok := scalarFloat(obj, "id"); ok {
			return int64(v)
		}
	}
	return 0
}

func resolveString(raw RawRecord, obj map[string]any, flatKeys []string, objKey, lookup, fallback string) string {
	if v := firstString(raw, flatKeys...); v != "" {
		return v
	}
	if obj != nil {
		if v := firstString(obj, objKey); v != "" {
			return v
		}
	}
	if lookup != "" {
		return lookup
	}
	return fallback
}

func resolveTarget(raw RawRecord, obj map[string]any, lookup Indicator, hasLookup bool) float64 {
	if v, ok := scalarFloat(raw, "target"); ok {
		return v
	}
	if obj != nil {
		if v, ok := scalarFloat(obj, "target"); ok {
			return v
		}
	}
	if hasLookup {
		return lookup.Target
	}
	return 0
}

// resolveCalculatedValue prefers the upstream value. When it is missing or
// unparsable it is repaired from numerator/denominator, and falls back to 0
// when the denominator is zero.
func resolveCalculatedValue(raw RawRecord, numerator, denominator float64) float64 {
	if v, ok := scalarFloat(raw, "calculatedValue"); ok {
		return v
	}
	if denominator == 0 {
		return 0
	}
	v := numerator / denominator
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func pick(ok bool, v string) string {
	if !ok {
		return ""
	}
	return v
}

func embeddedObject(raw map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if obj, ok := raw[key].(map[string]any); ok {
			return obj
		}
		if obj, ok := raw[key].(RawRecord); ok {
			return obj
		}
	}
	return nil
}

func firstString(raw map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := toString(raw[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstFloat(raw map[string]any, keys ...string) float64 {
	v, _ := scalarFloat(raw, keys...)
	return v
}

func firstInt(raw map[string]any, keys ...string) int {
	v, _ := scalarFloat(raw, keys...)
	return int(v)
}

func scalarFloat(raw map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := toFloat(raw[key]); ok {
			return v, true
		}
	}
	return 0, false
}

func boundedInt(v, min, max int) int {
	if v < min || v > max {
		return 0
	}
	return v
}

// toFloat parses numbers defensively: anything that is not a finite number
// or a numeric string reports false.
func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return ""
	}
}
