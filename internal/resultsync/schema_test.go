package resultsync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPayload() map[string]any {
	return map[string]any{
		"headquarters": 2,
		"indicator":    7,
		"year":         2024,
		"month":        3,
		"numerator":    "17",
		"denominator":  20,
	}
}

func TestPayloadValidatorAcceptsValidPayload(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	require.NoError(t, v.Validate(validPayload()))

	payload := validPayload()
	payload["month"] = nil
	payload["quarter"] = 2
	payload["semester"] = nil
	payload["calculatedValue"] = 0.85
	assert.NoError(t, v.Validate(payload), "null period fields must be treated as absent")
}

func TestPayloadValidatorReportsMissingFields(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	err = v.Validate(map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	for _, field := range []string{"headquarters", "indicator", "year", "numerator", "denominator"} {
		assert.Equal(t, []string{"is required"}, verr.Fields[field], field)
	}
}

func TestPayloadValidatorRejectsZeroDenominator(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	for _, zero := range []any{0, "0"} {
		payload := validPayload()
		payload["denominator"] = zero
		err := v.Validate(payload)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "denominator %v", zero)
		assert.Contains(t, verr.Fields["denominator"], "must not be zero")
	}
}

func TestPayloadValidatorRejectsConflictingPeriods(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	payload := validPayload()
	payload["quarter"] = 1
	err = v.Validate(payload)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"only one of month, quarter or semester may be set"}, verr.Fields["period"])
}

func TestPayloadValidatorRejectsOutOfRangeValues(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	cases := map[string]any{
		"month":        13,
		"year":         1800,
		"numerator":    "abc",
		"headquarters": 0,
	}
	for field, value := range cases {
		payload := validPayload()
		payload[field] = value
		err := v.Validate(payload)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "field %s", field)
		assert.NotEmpty(t, verr.Fields[field], "field %s: %v", field, verr.Fields)
	}
}

func TestPayloadValidatorAcceptsNumericStringPeriods(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)

	payload := validPayload()
	payload["year"] = "2024"
	payload["month"] = "03"
	assert.NoError(t, v.Validate(payload))

	payload = validPayload()
	payload["month"] = nil
	payload["semester"] = "2"
	assert.NoError(t, v.Validate(payload))

	for field, value := range map[string]any{"year": "24", "month": "13", "quarter": "5", "semester": "two"} {
		payload := validPayload()
		if field != "month" {
			payload["month"] = nil
		}
		payload[field] = value
		err := v.Validate(payload)
		var verr *ValidationError
		require.True(t, errors.As(err, &verr), "field %s", field)
		assert.NotEmpty(t, verr.Fields[field], "field %s: %v", field, verr.Fields)
	}
}

func TestPayloadValidatorRejectsNilPayload(t *testing.T) {
	v, err := NewPayloadValidator()
	require.NoError(t, err)
	assert.ErrorIs(t, v.Validate(nil), ErrValidation)

	var nilValidator *PayloadValidator
	assert.NoError(t, nilValidator.Validate(nil))
}
