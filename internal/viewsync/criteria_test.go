package viewsync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/indicators/internal/analytics"
)

func TestParseCriteria(t *testing.T) {
	cf, err := ParseCriteria([]byte("siteId: 2\nindicatorId: 7\nmeasurementUnit: \"%\"\nfrequency: mensual\nyear: 2024\nworstLimit: 10\n"))
	require.NoError(t, err)
	assert.Equal(t, analytics.Criteria{
		SiteID:          2,
		IndicatorID:     7,
		MeasurementUnit: "%",
		Frequency:       analytics.FrequencyMonthly,
		Year:            2024,
	}, cf.Criteria)
	assert.Equal(t, 10, cf.WorstLimit)
}

func TestParseCriteriaEmptyAndInvalid(t *testing.T) {
	cf, err := ParseCriteria(nil)
	require.NoError(t, err)
	assert.True(t, cf.IsEmpty())

	_, err = ParseCriteria([]byte("site: 2\n"))
	assert.Error(t, err, "unknown keys must be rejected")

	_, err = ParseCriteria([]byte("worstLimit: -1\n"))
	assert.Error(t, err)

	_, err = ParseCriteria([]byte("year: [\n"))
	assert.Error(t, err)

	_, err = ParseCriteria([]byte("frequency: weekly\n"))
	assert.Error(t, err, "unknown frequency tags must be rejected")
}

func TestLoadCriteriaMissingFile(t *testing.T) {
	cf, err := LoadCriteria(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cf.IsEmpty())

	cf, err = LoadCriteria("")
	require.NoError(t, err)
	assert.True(t, cf.IsEmpty())

	path := filepath.Join(t.TempDir(), "criteria.yaml")
	require.NoError(t, os.WriteFile(path, []byte("year: 2023\n"), 0o644))
	cf, err = LoadCriteria(path)
	require.NoError(t, err)
	assert.Equal(t, 2023, cf.Year)
}
