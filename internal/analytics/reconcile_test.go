package analytics

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRaw(t *testing.T, payload string) RawRecord {
	t.Helper()
	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	dec.UseNumber()
	var raw RawRecord
	require.NoError(t, dec.Decode(&raw))
	return raw
}

func TestReconcileRepairsMissingCalculatedValue(t *testing.T) {
	raw := decodeRaw(t, `{"numerator":85,"denominator":100,"target":"90","year":2024,"month":3,"measurementFrequency":"monthly"}`)

	res := Reconcile(raw)

	assert.InDelta(t, 0.85, res.CalculatedValue, 1e-9)
	assert.Equal(t, 90.0, res.Target)
	assert.Equal(t, "2024-03", res.PeriodLabel)
	assert.Equal(t, "2024-03-M", res.PeriodKey)
	assert.False(t, res.Compliant)
	assert.Equal(t, DefaultSiteName, res.SiteName)
	assert.Equal(t, DefaultIndicatorName, res.IndicatorName)
}

func TestReconcileKeepsExplicitCalculatedValue(t *testing.T) {
	raw := decodeRaw(t, `{"numerator":85,"denominator":100,"calculatedValue":85,"target":"90","year":2024,"month":3,"measurementFrequency":"monthly"}`)

	res := Reconcile(raw)

	assert.Equal(t, 85.0, res.CalculatedValue)
	assert.Equal(t, 90.0, res.Target)
	assert.Equal(t, "2024-03", res.PeriodLabel)
	assert.False(t, res.Compliant)
	assert.Equal(t, 94.44, res.ComplianceRatio)
}

func TestReconcileIsShapeInvariant(t *testing.T) {
	flat := decodeRaw(t, `{
		"id": 7,
		"headquarters": 3,
		"headquarterName": "Sede Norte",
		"indicator": 11,
		"indicatorName": "Rotación de personal",
		"indicatorCode": "IND-011",
		"measurementUnit": "Porcentaje",
		"measurementFrequency": "quarterly",
		"target": 80,
		"calculationMethod": "retiros / planta * 100",
		"numerator": 40,
		"denominator": 50,
		"calculatedValue": 80,
		"year": 2024,
		"quarter": 2
	}`)
	detailed := decodeRaw(t, `{
		"id": 7,
		"headquarters": {"id": 3, "name": "Sede Norte", "address": "Calle 1"},
		"indicator": {
			"id": 11,
			"name": "Rotación de personal",
			"code": "IND-011",
			"measurementUnit": "Porcentaje",
			"measurementFrequency": "quarterly",
			"target": "80",
			"calculationMethod": "retiros / planta * 100"
		},
		"numerator": "40",
		"denominator": 50,
		"calculatedValue": 80.0,
		"year": 2024,
		"quarter": 2
	}`)

	a := Reconcile(flat)
	b := Reconcile(detailed)

	assert.Equal(t, a, b)
	assert.Equal(t, int64(3), a.SiteID)
	assert.Equal(t, "Sede Norte", a.SiteName)
	assert.Equal(t, int64(11), a.IndicatorID)
	assert.Equal(t, FrequencyQuarterly, a.MeasurementFrequency)
	assert.Equal(t, "Q2 2024", a.PeriodLabel)
	assert.True(t, a.Compliant)
	assert.Equal(t, 100.0, a.ComplianceRatio)
}

func TestReconcileSiteDefaultsWhenMissing(t *testing.T) {
	res := Reconcile(RawRecord{"indicator": map[string]any{"id": 2, "name": "Ausentismo"}, "year": 2023})

	assert.Equal(t, DefaultSiteName, res.SiteName)
	assert.Equal(t, int64(0), res.SiteID)
	assert.Equal(t, "Ausentismo", res.IndicatorName)
}

func TestReconcileNeverFailsOnGarbage(t *testing.T) {
	raw := RawRecord{
		"id":              "abc",
		"headquarters":    []any{1, 2},
		"indicator":       true,
		"numerator":       "n/a",
		"denominator":     0,
		"calculatedValue": "not a number",
		"target":          nil,
		"year":            "2024",
		"month":           13,
	}

	res := Reconcile(raw)

	assert.Equal(t, int64(0), res.ID)
	assert.Equal(t, 0.0, res.CalculatedValue)
	assert.Equal(t, 0.0, res.Numerator)
	assert.Equal(t, 0.0, res.Target)
	assert.Equal(t, 2024, res.Year)
	assert.Equal(t, 0, res.Month)
	assert.Equal(t, "2024", res.PeriodLabel)
	assert.True(t, res.Compliant)
	assert.Equal(t, 0.0, res.ComplianceRatio)
}

func TestReconcileEmptyRecord(t *testing.T) {
	res := Reconcile(RawRecord{})

	assert.Equal(t, DefaultSiteName, res.SiteName)
	assert.Equal(t, DefaultIndicatorName, res.IndicatorName)
	assert.Equal(t, "", res.IndicatorCode)
	assert.Equal(t, FrequencyAnnual, res.MeasurementFrequency)
	assert.Equal(t, "0", res.PeriodLabel)
}

func TestReconcilerResolvesFromLookups(t *testing.T) {
	rc := NewReconciler(
		[]Site{{ID: 4, Name: "Sede Sur"}},
		[]Indicator{{
			ID:                   9,
			Name:                 "Satisfacción",
			Code:                 "SAT",
			MeasurementUnit:      "Porcentaje",
			MeasurementFrequency: FrequencySemiannual,
			Target:               75,
			CalculationMethod:    "encuestas positivas / total",
		}},
	)
	raw := decodeRaw(t, `{"id":1,"headquarters":4,"indicator":9,"numerator":70,"denominator":100,"year":2024,"semester":1}`)

	res := rc.Reconcile(raw)

	assert.Equal(t, "Sede Sur", res.SiteName)
	assert.Equal(t, "Satisfacción", res.IndicatorName)
	assert.Equal(t, "SAT", res.IndicatorCode)
	assert.Equal(t, 75.0, res.Target)
	assert.Equal(t, "S1 2024", res.PeriodLabel)
	assert.InDelta(t, 0.7, res.CalculatedValue, 1e-9)
	assert.False(t, res.Compliant)
}

func TestReconcilerPrefersRecordOverLookup(t *testing.T) {
	rc := NewReconciler([]Site{{ID: 4, Name: "Lookup"}}, nil)

	res := rc.Reconcile(RawRecord{"headquarters": 4, "headquarterName": "From record"})

	assert.Equal(t, "From record", res.SiteName)
}

func TestParseReferenceEntries(t *testing.T) {
	ind := ParseIndicator(decodeRaw(t, `{"id":"5","name":"Accidentalidad","code":"ACC","measurementFrequency":"mensual","target":"2.5"}`))
	assert.Equal(t, int64(5), ind.ID)
	assert.Equal(t, FrequencyMonthly, ind.MeasurementFrequency)
	assert.Equal(t, 2.5, ind.Target)

	site := ParseSite(RawRecord{"id": 2, "name": " Central "})
	assert.Equal(t, Site{ID: 2, Name: "Central"}, site)
}
