package viewsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatchCriteriaReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "criteria.yaml")
	if err := os.WriteFile(path, []byte("year: 2023\n"), 0o644); err != nil {
		t.Fatalf("write criteria: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan CriteriaFile, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchCriteria(ctx, path, nil, func(cf CriteriaFile) {
			changes <- cf
		})
	}()

	// The watch is registered asynchronously, so keep touching the file until
	// a reload comes through.
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case cf := <-changes:
			if cf.Year != 2024 || cf.SiteID != 3 {
				t.Fatalf("unexpected criteria after reload: %+v", cf)
			}
			cancel()
			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("watcher returned error: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("watcher did not stop after cancel")
			}
			return
		case <-ticker.C:
			if err := os.WriteFile(path, []byte("year: 2024\nsiteId: 3\n"), 0o644); err != nil {
				t.Fatalf("rewrite criteria: %v", err)
			}
		case <-deadline:
			t.Fatalf("timed out waiting for criteria reload")
		}
	}
}

func TestWatchCriteriaIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "criteria.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	changes := make(chan CriteriaFile, 8)
	go func() {
		_ = WatchCriteria(ctx, path, nil, func(cf CriteriaFile) { changes <- cf })
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("year: 1\n"), 0o644); err != nil {
		t.Fatalf("write other file: %v", err)
	}
	select {
	case cf := <-changes:
		t.Fatalf("unexpected reload for unrelated file: %+v", cf)
	case <-ctx.Done():
	}
}

func TestWatchCriteriaMissingDirectory(t *testing.T) {
	err := WatchCriteria(context.Background(), filepath.Join(t.TempDir(), "missing", "criteria.yaml"), nil, func(CriteriaFile) {})
	if err == nil {
		t.Fatalf("expected error when the criteria directory does not exist")
	}
}
