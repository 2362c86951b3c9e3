package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/indicators/internal/analytics"
)

func sampleSet() *analytics.ResultSet {
	return &analytics.ResultSet{
		Results: []analytics.NormalizedResult{
			{ID: 1, SiteID: 2, SiteName: "Sede Norte", IndicatorID: 7, IndicatorName: "Rotación", CalculatedValue: 85, Target: 90, ComplianceRatio: 94.44},
			{ID: 2, SiteID: 3, SiteName: "Sede Sur", IndicatorID: 7, IndicatorName: "Rotación", CalculatedValue: 95, Target: 90, Compliant: true, ComplianceRatio: 105.56},
		},
		FetchedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Source:    "detailed",
	}
}

func TestBuildBackendFromDSNEmpty(t *testing.T) {
	backend, err := BuildBackendFromDSN("  ")
	require.NoError(t, err)
	assert.Nil(t, backend)
}

func TestMemoryBackendRoundTripIsolatesCopies(t *testing.T) {
	backend, err := BuildBackendFromDSN("memory://")
	require.NoError(t, err)
	require.NotNil(t, backend)

	loaded, err := backend.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty backend must load nil")

	set := sampleSet()
	require.NoError(t, backend.Save(set))
	set.Results[0].SiteName = "mutated"

	loaded, err = backend.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "Sede Norte", loaded.Results[0].SiteName)
	assert.Equal(t, 2, loaded.Len())
	assert.True(t, loaded.FetchedAt.Equal(set.FetchedAt))
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	backend, err := BuildBackendFromDSN("file://" + path)
	require.NoError(t, err)

	loaded, err := backend.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing file must load nil")

	require.NoError(t, backend.Save(sampleSet()))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	loaded, err = backend.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, sampleSet().Results, loaded.Results)
	assert.Equal(t, "detailed", loaded.Source)
}

func TestFileBackendBarePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	backend, err := BuildBackendFromDSN(path)
	require.NoError(t, err)
	fb, ok := backend.(*FileBackend)
	require.True(t, ok)
	assert.Equal(t, path, fb.Path)
}

func TestFileBackendRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := NewFileBackend(path).Load()
	assert.Error(t, err)
}

func TestBuildBackendFromDSNSchemes(t *testing.T) {
	backend, err := BuildBackendFromDSN("postgres://localhost/indicators?sslmode=disable")
	require.NoError(t, err)
	assert.IsType(t, &PostgresBackend{}, backend)

	_, err = BuildBackendFromDSN("mysql://localhost/indicators")
	assert.True(t, errors.Is(err, ErrNotImplemented), "got %v", err)

	_, err = BuildBackendFromDSN("redis://localhost")
	assert.Error(t, err)

	_, err = BuildBackendFromDSN("file://")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterFactoryTakesPrecedence(t *testing.T) {
	custom := NewMemoryBackend()
	RegisterFactory("SnapTestCustom", func(dsn string) (Backend, error) {
		return custom, nil
	})
	backend, err := BuildBackendFromDSN("snaptestcustom://anything")
	require.NoError(t, err)
	assert.Same(t, custom, backend)

	RegisterFactory("", func(dsn string) (Backend, error) { return nil, nil })
	RegisterFactory("nilfactory", nil)
	_, ok := lookupFactory("nilfactory")
	assert.False(t, ok)
}
