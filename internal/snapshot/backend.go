package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/agentworkforce/indicators/internal/analytics"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotImplemented = errors.New("not implemented")
)

// Backend persists the last good result set so a restarted service can serve
// views before the first upstream fetch completes. Load returns nil, nil when
// nothing has been saved yet.
type Backend interface {
	Load() (*analytics.ResultSet, error)
	Save(set *analytics.ResultSet) error
}

type MemoryBackend struct {
	mu  sync.Mutex
	set *analytics.ResultSet
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) Load() (*analytics.ResultSet, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.set == nil {
		return nil, nil
	}
	return cloneSet(b.set)
}

func (b *MemoryBackend) Save(set *analytics.ResultSet) error {
	if b == nil || set == nil {
		return nil
	}
	clone, err := cloneSet(set)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set = clone
	return nil
}

func cloneSet(set *analytics.ResultSet) (*analytics.ResultSet, error) {
	data, err := json.Marshal(set)
	if err != nil {
		return nil, err
	}
	var clone analytics.ResultSet
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

type FileBackend struct {
	Path string
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: strings.TrimSpace(path)}
}

func (b *FileBackend) Load() (*analytics.ResultSet, error) {
	if b == nil || b.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var set analytics.ResultSet
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", b.Path, err)
	}
	return &set, nil
}

func (b *FileBackend) Save(set *analytics.ResultSet) error {
	if b == nil || b.Path == "" || set == nil {
		return nil
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

// BuildBackendFromDSN picks a backend by URL scheme. An empty DSN means no
// persistence and returns nil, nil.
func BuildBackendFromDSN(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := normalizeScheme(parsed.Scheme)
	if factory, ok := lookupFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, err := dsnPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewFileBackend(path), nil
	case "memory", "mem", "inmem":
		return NewMemoryBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresBackend(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: snapshot backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported snapshot backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if strings.TrimSpace(parsed.Scheme) == "" {
		return strings.TrimSpace(raw), nil
	}
	path := strings.TrimSpace(parsed.Path)
	if path == "" {
		path = strings.TrimSpace(parsed.Opaque)
	}
	if path == "" {
		path = strings.TrimSpace(parsed.Host)
	}
	if path == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
