package viewsync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworkforce/indicators/internal/analytics"
)

type fakeSource struct {
	current   *analytics.ResultSet
	next      *analytics.ResultSet
	err       error
	refreshes int
}

func (f *fakeSource) Refresh(ctx context.Context) (*analytics.ResultSet, error) {
	f.refreshes++
	if f.err != nil {
		return nil, f.err
	}
	if f.next != nil {
		f.current, f.next = f.next, nil
	}
	return f.current, nil
}

func (f *fakeSource) Current() *analytics.ResultSet {
	return f.current
}

func result(id, siteID int64, siteName string, value float64, month int) analytics.NormalizedResult {
	r := analytics.NormalizedResult{
		ID:                   id,
		SiteID:               siteID,
		SiteName:             siteName,
		IndicatorID:          7,
		IndicatorName:        "Rotación",
		MeasurementFrequency: analytics.FrequencyMonthly,
		CalculatedValue:      value,
		Target:               90,
		Year:                 2024,
		Month:                month,
	}
	p := analytics.NormalizePeriod(r.Year, r.Month, 0, 0, r.MeasurementFrequency)
	r.PeriodLabel, r.PeriodKey = p.Label, p.Key
	r.Compliant = analytics.Evaluate(r)
	r.ComplianceRatio = analytics.Ratio(r)
	return r
}

func sampleSet(secondValue float64) *analytics.ResultSet {
	return &analytics.ResultSet{
		Results: []analytics.NormalizedResult{
			result(1, 1, "Sede Norte", 85, 1),
			result(2, 2, "Sede Sur", secondValue, 2),
		},
		FetchedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		Source:    "detailed",
	}
}

func allViewFiles() []string {
	files := []string{FileResults, FileSummary, FileBySite, FileByIndicator, FileWorst, FileTimeSeries}
	sort.Strings(files)
	return files
}

func sorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	return out
}

func TestRenderBeforeFirstFetchIsNoop(t *testing.T) {
	dir := t.TempDir()
	mirror, err := NewMirror(&fakeSource{}, MirrorOptions{LocalRoot: dir})
	require.NoError(t, err)

	written, err := mirror.Render()
	require.NoError(t, err)
	assert.Empty(t, written)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSyncOnceWritesBundleAndSkipsUnchangedFiles(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{next: sampleSet(95)}
	mirror, err := NewMirror(source, MirrorOptions{LocalRoot: dir})
	require.NoError(t, err)

	written, err := mirror.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, allViewFiles(), sorted(written))

	data, err := os.ReadFile(filepath.Join(dir, FileSummary))
	require.NoError(t, err)
	var summary analytics.SummaryCounters
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, analytics.SummaryCounters{Total: 2, Compliant: 1, NonCompliant: 1, AvgCompliance: 50}, summary)

	written, err = mirror.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, written, "unchanged views must not be rewritten")
	assert.Equal(t, 2, source.refreshes)

	// The second result stays compliant, so counters and breakdowns hold.
	source.next = sampleSet(96)
	written, err = mirror.SyncOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sorted([]string{FileResults, FileWorst, FileTimeSeries}), sorted(written))
}

func TestSyncOnceRefreshFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{err: errors.New("upstream down")}
	mirror, err := NewMirror(source, MirrorOptions{LocalRoot: dir})
	require.NoError(t, err)

	_, err = mirror.SyncOnce(context.Background())
	assert.Error(t, err)
	_, statErr := os.Stat(filepath.Join(dir, FileResults))
	assert.True(t, os.IsNotExist(statErr))
}

func TestSetCriteriaRerendersWithoutRefetch(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{next: sampleSet(95)}
	mirror, err := NewMirror(source, MirrorOptions{LocalRoot: dir})
	require.NoError(t, err)
	_, err = mirror.SyncOnce(context.Background())
	require.NoError(t, err)

	criteria := CriteriaFile{Criteria: analytics.Criteria{SiteID: 2}}
	written, err := mirror.SetCriteria(criteria)
	require.NoError(t, err)
	assert.Equal(t, allViewFiles(), sorted(written))
	assert.Equal(t, 1, source.refreshes)
	assert.Equal(t, criteria, mirror.Criteria())

	data, err := os.ReadFile(filepath.Join(dir, FileResults))
	require.NoError(t, err)
	var results []analytics.NormalizedResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "Sede Sur", results[0].SiteName)
}

func TestRenderRestoresDeletedFilesAndSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	source := &fakeSource{next: sampleSet(95)}
	mirror, err := NewMirror(source, MirrorOptions{LocalRoot: dir})
	require.NoError(t, err)
	_, err = mirror.SyncOnce(context.Background())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, FileWorst)))
	written, err := mirror.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{FileWorst}, written)

	restarted, err := NewMirror(source, MirrorOptions{LocalRoot: dir})
	require.NoError(t, err)
	written, err = restarted.Render()
	require.NoError(t, err)
	assert.Empty(t, written, "persisted hashes must carry over a restart")

	_, err = os.Stat(filepath.Join(dir, defaultStateFile))
	assert.NoError(t, err)
}

func TestNewMirrorValidatesOptions(t *testing.T) {
	_, err := NewMirror(nil, MirrorOptions{LocalRoot: t.TempDir()})
	assert.Error(t, err)
	_, err = NewMirror(&fakeSource{}, MirrorOptions{})
	assert.Error(t, err)
}
