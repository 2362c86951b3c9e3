package viewsync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/indicators/internal/analytics"
)

const (
	FileResults     = "results.json"
	FileSummary     = "summary.json"
	FileBySite      = "by-site.json"
	FileByIndicator = "by-indicator.json"
	FileWorst       = "worst.json"
	FileTimeSeries  = "timeseries.json"

	defaultStateFile = ".indicator-watch-state.json"
)

type Logger interface {
	Printf(format string, args ...any)
}

// Source is satisfied by *resultsync.Coordinator.
type Source interface {
	Refresh(ctx context.Context) (*analytics.ResultSet, error)
	Current() *analytics.ResultSet
}

type MirrorOptions struct {
	LocalRoot string
	StateFile string
	Criteria  CriteriaFile
	Logger    Logger
}

// Mirror renders the view bundle for one set of criteria into a local
// directory. Files whose content did not change are left untouched so
// downstream watchers only see real updates.
type Mirror struct {
	source    Source
	localRoot string
	stateFile string
	logger    Logger

	mu       sync.Mutex
	criteria CriteriaFile
	state    mirrorState
	loaded   bool
}

type mirrorState struct {
	Files     map[string]string  `json:"files"`
	FetchedAt time.Time          `json:"fetchedAt,omitempty"`
	Criteria  analytics.Criteria `json:"criteria"`
}

func NewMirror(source Source, opts MirrorOptions) (*Mirror, error) {
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	localRootRaw := strings.TrimSpace(opts.LocalRoot)
	if localRootRaw == "" {
		return nil, fmt.Errorf("local root is required")
	}
	localRoot := filepath.Clean(localRootRaw)
	stateFile := strings.TrimSpace(opts.StateFile)
	if stateFile == "" {
		stateFile = filepath.Join(localRoot, defaultStateFile)
	}
	if err := os.MkdirAll(localRoot, 0o755); err != nil {
		return nil, err
	}
	return &Mirror{
		source:    source,
		localRoot: localRoot,
		stateFile: stateFile,
		logger:    opts.Logger,
		criteria:  opts.Criteria,
		state:     mirrorState{Files: map[string]string{}},
	}, nil
}

// SyncOnce refetches and renders.
func (m *Mirror) SyncOnce(ctx context.Context) ([]string, error) {
	if _, err := m.source.Refresh(ctx); err != nil {
		return nil, err
	}
	return m.Render()
}

// SetCriteria swaps the criteria and re-renders the current set without
// refetching.
func (m *Mirror) SetCriteria(criteria CriteriaFile) ([]string, error) {
	m.mu.Lock()
	m.criteria = criteria
	m.mu.Unlock()
	return m.Render()
}

func (m *Mirror) Criteria() CriteriaFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.criteria
}

// Render writes the bundle for the current set and returns the names of the
// files it actually rewrote. It is a no-op before the first fetch.
func (m *Mirror) Render() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.loadState(); err != nil {
		return nil, err
	}
	set := m.source.Current()
	if set == nil {
		return nil, nil
	}
	d := analytics.BuildDashboard(set, m.criteria.Criteria, m.criteria.WorstLimit)
	views := []struct {
		name string
		data any
	}{
		{FileResults, d.Results},
		{FileSummary, d.Summary},
		{FileBySite, d.BySite},
		{FileByIndicator, d.ByIndicator},
		{FileWorst, d.Worst},
		{FileTimeSeries, d.TimeSeries},
	}

	var written []string
	for _, view := range views {
		data, err := json.MarshalIndent(view.data, "", "  ")
		if err != nil {
			return written, fmt.Errorf("encode %s: %w", view.name, err)
		}
		data = append(data, '\n')
		changed, err := m.writeIfChanged(view.name, data)
		if err != nil {
			return written, err
		}
		if changed {
			written = append(written, view.name)
		}
	}
	m.state.FetchedAt = set.FetchedAt
	m.state.Criteria = m.criteria.Criteria
	if err := m.saveState(); err != nil {
		return written, err
	}
	if len(written) > 0 {
		m.logf("mirrored %d view file(s) for %d result(s): %s", len(written), len(d.Results), strings.Join(written, ", "))
	}
	return written, nil
}

func (m *Mirror) writeIfChanged(name string, data []byte) (bool, error) {
	path := filepath.Join(m.localRoot, name)
	hash := hashBytes(data)
	if m.state.Files[name] == hash {
		if _, err := os.Stat(path); err == nil {
			return false, nil
		}
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", name, err)
	}
	m.state.Files[name] = hash
	return true, nil
}

func (m *Mirror) loadState() error {
	if m.loaded {
		return nil
	}
	m.loaded = true
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	var state mirrorState
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt state file only costs one full rewrite.
		m.logf("ignoring unreadable mirror state %s: %v", m.stateFile, err)
		return nil
	}
	if state.Files == nil {
		state.Files = map[string]string{}
	}
	m.state = state
	return nil
}

func (m *Mirror) saveState() error {
	data, err := json.Marshal(m.state)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(m.stateFile, data, 0o644)
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger == nil {
		return
	}
	m.logger.Printf(format, args...)
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmpFile.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(mode); err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}
